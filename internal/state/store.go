// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_state

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/rapidaai/recorder/pkg/commons"
	"github.com/rapidaai/recorder/pkg/utils"
)

// Store provides operations to save and retrieve session descriptors from
// sqlite.
//
// Descriptors outlive the commands that create them: `start` writes the row
// and records its own pid, while `stop` and `status` run in separate
// processes and resolve the session through this store. The row is never
// deleted during the session lifecycle; it only transitions through statuses:
// active → stopping → stopped.
type Store interface {
	// Save stores a new descriptor with status "active".
	Save(ctx context.Context, sd *SessionDescriptor) error

	// Get retrieves a descriptor by session id regardless of status.
	Get(ctx context.Context, sessionID string) (*SessionDescriptor, error)

	// Active returns the descriptors currently in status "active" or
	// "stopping". Enforcing the concurrent-recording bound and resolving
	// the target of a cross-process stop both go through this.
	Active(ctx context.Context) ([]*SessionDescriptor, error)

	// MarkStopping atomically transitions a descriptor from "active" to
	// "stopping". Only one concurrent stopper can win; later callers get an
	// error because the row is no longer in a stoppable status.
	MarkStopping(ctx context.Context, sessionID string) error

	// Complete marks a descriptor "stopped". Called by the owner once every
	// track is finalized and the output files are in their final state.
	Complete(ctx context.Context, sessionID string) error

	// Delete removes a descriptor row. Intended for cleanup only, after the
	// session is stopped and its outputs handled.
	Delete(ctx context.Context, sessionID string) error

	// ReapOrphans marks "stopped" every non-stopped descriptor whose
	// recorded owner pid is no longer alive, and returns the reaped rows.
	// A crashed recorder leaves such rows behind; without reaping they would
	// block new recordings forever.
	ReapOrphans(ctx context.Context) ([]*SessionDescriptor, error)
}

type sqliteStore struct {
	db     *gorm.DB
	logger commons.Logger
}

// NewStore opens (creating if needed) the sqlite database at path and
// migrates the descriptor table.
func NewStore(logger commons.Logger, path string) (Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SessionDescriptor{}); err != nil {
		return nil, fmt.Errorf("failed to migrate state db %s: %w", path, err)
	}
	return &sqliteStore{db: db, logger: logger}, nil
}

func (s *sqliteStore) Save(ctx context.Context, sd *SessionDescriptor) error {
	if sd.Status == "" {
		sd.Status = StatusActive
	}
	if err := s.db.WithContext(ctx).Create(sd).Error; err != nil {
		return fmt.Errorf("failed to save session descriptor %s: %w", sd.SessionID, err)
	}
	s.logger.Infof("saved session descriptor: sessionId=%s, channel=%s, pid=%d",
		sd.SessionID, sd.Channel, sd.OwnerPID)
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, sessionID string) (*SessionDescriptor, error) {
	var sd SessionDescriptor
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sd).Error; err != nil {
		return nil, fmt.Errorf("session descriptor not found: %s: %w", sessionID, err)
	}
	return &sd, nil
}

func (s *sqliteStore) Active(ctx context.Context) ([]*SessionDescriptor, error) {
	var rows []*SessionDescriptor
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{StatusActive, StatusStopping}).
		Order("started_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active session descriptors: %w", err)
	}
	return rows, nil
}

// MarkStopping uses an atomic UPDATE ... WHERE status = 'active' so only one
// concurrent stop command wins.
func (s *sqliteStore) MarkStopping(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Model(&SessionDescriptor{}).
		Where("session_id = ? AND status = ?", sessionID, StatusActive).
		Updates(map[string]interface{}{
			"status":       StatusStopping,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark session %s stopping: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session %s not found or not active", sessionID)
	}
	s.logger.Debugf("marked session descriptor stopping: sessionId=%s", sessionID)
	return nil
}

func (s *sqliteStore) Complete(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Model(&SessionDescriptor{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":       StatusStopped,
			"updated_date": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete session descriptor %s: %w", sessionID, result.Error)
	}
	s.logger.Debugf("completed session descriptor: sessionId=%s", sessionID)
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&SessionDescriptor{}).Error; err != nil {
		return fmt.Errorf("failed to delete session descriptor %s: %w", sessionID, err)
	}
	s.logger.Debugf("deleted session descriptor: sessionId=%s", sessionID)
	return nil
}

func (s *sqliteStore) ReapOrphans(ctx context.Context) ([]*SessionDescriptor, error) {
	active, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	var reaped []*SessionDescriptor
	for _, sd := range active {
		if utils.IsProcessAlive(sd.OwnerPID) {
			continue
		}
		if err := s.Complete(ctx, sd.SessionID); err != nil {
			return reaped, err
		}
		s.logger.Warnf("reaped orphaned session %s: owner pid %d is gone", sd.SessionID, sd.OwnerPID)
		reaped = append(reaped, sd)
	}
	return reaped, nil
}
