// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
	internal_encoder "github.com/rapidaai/recorder/internal/encoder"
	"github.com/rapidaai/recorder/pkg/commons"
)

// quietCfg: hour-long frames keep the silence ticker quiet so emitted bytes
// come only from injections.
var quietCfg = internal_audio.Config{SampleRate: 48000, Channels: 2, FrameDuration: time.Hour}

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-session"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryPipeline struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	ended  bool
	killed bool
	hang   bool
	exited chan struct{}
	once   sync.Once
}

func newMemoryPipeline(hang bool) *memoryPipeline {
	return &memoryPipeline{hang: hang, exited: make(chan struct{})}
}

func (p *memoryPipeline) Start(ctx context.Context) error { return nil }

func (p *memoryPipeline) WriteChunk(chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Write(chunk)
	return nil
}

func (p *memoryPipeline) End() error {
	p.mu.Lock()
	p.ended = true
	hang := p.hang
	p.mu.Unlock()
	if !hang {
		p.once.Do(func() { close(p.exited) })
	}
	return nil
}

func (p *memoryPipeline) ForceStop() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.exited) })
	return nil
}

func (p *memoryPipeline) Wait(ctx context.Context) error {
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fixture struct {
	session   *Session
	clock     *manualClock
	mu        sync.Mutex
	pipelines map[string]*memoryPipeline
	hang      bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &manualClock{now: time.Now()},
		pipelines: make(map[string]*memoryPipeline),
	}
	f.session = New(newTestLogger(t), Options{
		Channel:        "standup",
		OutputDir:      t.TempDir(),
		Audio:          quietCfg,
		Format:         internal_encoder.FormatMP3,
		Bitrate:        128,
		MinSilenceGap:  100 * time.Millisecond,
		TrackStopGrace: 200 * time.Millisecond,
		FlushGrace:     200 * time.Millisecond,
		Clock:          f.clock.Now,
		NewPipeline: func(outputPath string) internal_encoder.Pipeline {
			f.mu.Lock()
			defer f.mu.Unlock()
			p := newMemoryPipeline(f.hang)
			f.pipelines[outputPath] = p
			return p
		},
	})
	return f
}

func TestTracksAlignToSharedClock(t *testing.T) {
	f := newFixture(t)

	f.session.HandleJoin("1", "alice", f.clock.Now())
	f.clock.Advance(8 * time.Second)
	f.session.HandleJoin("2", "bob", f.clock.Now())

	f.clock.Advance(4 * time.Second)
	if err := f.session.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	expected := quietCfg.DurationToBytes(12 * time.Second)
	for _, track := range f.session.Tracks() {
		if got := track.EmittedBytes(); got != expected {
			t.Errorf("track %s: expected %d bytes, got %d", track.ParticipantID(), expected, got)
		}
	}
}

func TestGetOrCreateTrackReturnsSameManager(t *testing.T) {
	f := newFixture(t)
	a := f.session.GetOrCreateTrack("7", "carol")
	b := f.session.GetOrCreateTrack("7", "carol-renamed")
	if a != b {
		t.Error("expected one manager per participant id")
	}
}

func TestCollidingNamesGetDistinctPaths(t *testing.T) {
	f := newFixture(t)
	a := f.session.GetOrCreateTrack("1", "émilie!")
	b := f.session.GetOrCreateTrack("2", "émilie!")
	if a.OutputPath() == b.OutputPath() {
		t.Errorf("colliding sanitized names must diverge, both got %s", a.OutputPath())
	}
	for _, track := range []string{a.OutputPath(), b.OutputPath()} {
		if !strings.HasSuffix(track, ".mp3") {
			t.Errorf("unexpected output path %s", track)
		}
	}
}

func TestLeaveForUnknownParticipantIgnored(t *testing.T) {
	f := newFixture(t)
	f.session.HandleLeave("999", f.clock.Now())
	if tracks := f.session.Tracks(); len(tracks) != 0 {
		t.Errorf("leave must not create tracks, registry has %d", len(tracks))
	}
}

func TestStopAllIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.session.HandleJoin("1", "alice", f.clock.Now())

	first := f.session.StopAll(context.Background())
	f.clock.Advance(time.Minute)
	second := f.session.StopAll(context.Background())

	if first != second {
		t.Errorf("repeated StopAll must return the first outcome: %v then %v", first, second)
	}
	// No track may grow after the stop instant.
	expected := quietCfg.DurationToBytes(0)
	if got := f.session.Tracks()[0].EmittedBytes(); got != expected {
		t.Errorf("track grew after stop: %d bytes", got)
	}
}

func TestEventsAfterStopAreDropped(t *testing.T) {
	f := newFixture(t)
	f.session.HandleJoin("1", "alice", f.clock.Now())
	if err := f.session.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.session.HandleJoin("2", "late", f.clock.Now())
	if tracks := f.session.Tracks(); len(tracks) != 1 {
		t.Errorf("post-stop join must be dropped, registry has %d tracks", len(tracks))
	}
}

func TestStopAllBoundedWithHungEncoder(t *testing.T) {
	f := newFixture(t)
	f.hang = true
	f.session.HandleJoin("1", "alice", f.clock.Now())

	done := make(chan error, 1)
	go func() { done <- f.session.StopAll(context.Background()) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("StopAll did not return within the grace bounds")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for path, p := range f.pipelines {
		p.mu.Lock()
		killed := p.killed
		p.mu.Unlock()
		if !killed {
			t.Errorf("hung encoder for %s was not force-stopped", path)
		}
	}
}

func TestAudioFilesListsOnlyStartedTracks(t *testing.T) {
	f := newFixture(t)
	f.session.HandleJoin("1", "alice", f.clock.Now())
	f.session.GetOrCreateTrack("2", "idle") // registered, never active

	files := f.session.AudioFiles()
	if len(files) != 1 {
		t.Fatalf("expected 1 audio file, got %d", len(files))
	}
	if !strings.Contains(files[0], "user_1_alice") {
		t.Errorf("unexpected audio file %s", files[0])
	}
}

func TestSweepRemovesOnlyExpiredSessionDirs(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, time.Now().Add(-10*24*time.Hour).Format("20060102-150405"))
	fresh := filepath.Join(root, time.Now().Format("20060102-150405"))
	unrelated := filepath.Join(root, "keepsake")
	for _, dir := range []string{old, fresh, unrelated} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	SweepOldRecordings(newTestLogger(t), root, 7*24*time.Hour)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expired session dir must be removed")
	}
	for _, dir := range []string{fresh, unrelated} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%s must survive the sweep: %v", dir, err)
		}
	}
}
