// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/recorder/pkg/commons"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-state"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	require.NoError(t, err)
	store, err := NewStore(logger, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	return store
}

func newDescriptor(ownerPID int) *SessionDescriptor {
	return &SessionDescriptor{
		SessionID: uuid.New().String(),
		Channel:   "standup",
		OutputDir: "/tmp/recordings/20260830-101500",
		Format:    "mp3",
		Bitrate:   128,
		OwnerPID:  ownerPID,
		StartedAt: time.Now(),
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sd := newDescriptor(os.Getpid())
	require.NoError(t, store.Save(ctx, sd))

	got, err := store.Get(ctx, sd.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sd.SessionID, got.SessionID)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, "standup", got.Channel)
	assert.Equal(t, os.Getpid(), got.OwnerPID)
	assert.False(t, got.CreatedDate.IsZero())
}

func TestGetUnknownSession(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), uuid.New().String())
	assert.Error(t, err)
}

func TestDuplicateSessionIDRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sd := newDescriptor(os.Getpid())
	require.NoError(t, store.Save(ctx, sd))

	dup := newDescriptor(os.Getpid())
	dup.SessionID = sd.SessionID
	assert.Error(t, store.Save(ctx, dup))
}

func TestActiveListsOnlyUnfinishedSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	running := newDescriptor(os.Getpid())
	finished := newDescriptor(os.Getpid())
	require.NoError(t, store.Save(ctx, running))
	require.NoError(t, store.Save(ctx, finished))
	require.NoError(t, store.Complete(ctx, finished.SessionID))

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, running.SessionID, active[0].SessionID)
}

func TestMarkStoppingWinsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sd := newDescriptor(os.Getpid())
	require.NoError(t, store.Save(ctx, sd))

	require.NoError(t, store.MarkStopping(ctx, sd.SessionID))
	assert.Error(t, store.MarkStopping(ctx, sd.SessionID), "second stopper must lose")

	got, err := store.Get(ctx, sd.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopping, got.Status)

	// Still in Active: the owner has not finished teardown yet.
	active, err := store.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCompleteThenDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sd := newDescriptor(os.Getpid())
	require.NoError(t, store.Save(ctx, sd))
	require.NoError(t, store.Complete(ctx, sd.SessionID))

	got, err := store.Get(ctx, sd.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)

	require.NoError(t, store.Delete(ctx, sd.SessionID))
	_, err = store.Get(ctx, sd.SessionID)
	assert.Error(t, err)
}

func TestReapOrphans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alive := newDescriptor(os.Getpid())
	// Pid beyond the default pid_max: guaranteed not to be a live process.
	dead := newDescriptor(1 << 30)
	require.NoError(t, store.Save(ctx, alive))
	require.NoError(t, store.Save(ctx, dead))

	reaped, err := store.ReapOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, dead.SessionID, reaped[0].SessionID)

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, alive.SessionID, active[0].SessionID)
}
