// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
	internal_encoder "github.com/rapidaai/recorder/internal/encoder"
	internal_track "github.com/rapidaai/recorder/internal/track"
	internal_type "github.com/rapidaai/recorder/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
	"github.com/rapidaai/recorder/pkg/utils"
)

// Options configures one recording session. NewPipeline overrides the
// encoder factory; when nil each track spawns an ffmpeg subprocess.
type Options struct {
	Channel        string
	OutputDir      string
	Audio          internal_audio.Config
	Format         internal_encoder.Format
	Bitrate        int
	MinSilenceGap  time.Duration
	TrackStopGrace time.Duration
	FlushGrace     time.Duration
	Clock          func() time.Time
	NewPipeline    func(outputPath string) internal_encoder.Pipeline
}

// Session is the root object of one recording: it owns the shared clock
// origin every track aligns to and the registry of per-participant tracks.
// The registry mutex covers lookup and creation only; each track serializes
// its own lifecycle, so event handling for different participants never
// contends.
type Session struct {
	logger commons.Logger
	id     uuid.UUID
	start  time.Time
	opts   Options

	mu       sync.Mutex
	tracks   map[string]*internal_track.Manager
	reserved map[string]struct{}
	stopped  bool
	stopOnce sync.Once
	stopErr  error
}

func New(logger commons.Logger, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Session{
		logger:   logger,
		id:       uuid.New(),
		opts:     opts,
		tracks:   make(map[string]*internal_track.Manager),
		reserved: make(map[string]struct{}),
	}
	s.start = opts.Clock()
	if opts.NewPipeline == nil {
		s.opts.NewPipeline = func(outputPath string) internal_encoder.Pipeline {
			return internal_encoder.NewFFmpegPipeline(logger, opts.Audio, outputPath, opts.Format, opts.Bitrate)
		}
	}
	logger.Infof("session %s: recording channel %q into %s", s.id, opts.Channel, opts.OutputDir)
	return s
}

func (s *Session) ID() uuid.UUID        { return s.id }
func (s *Session) StartTime() time.Time { return s.start }
func (s *Session) OutputDir() string    { return s.opts.OutputDir }
func (s *Session) Channel() string      { return s.opts.Channel }

// GetOrCreateTrack returns the participant's track, creating it bound to the
// session clock on first sight. Distinct participants always get distinct
// output paths even when their sanitized display names collide.
func (s *Session) GetOrCreateTrack(participantID, displayName string) *internal_track.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateTrackLocked(participantID, displayName)
}

func (s *Session) getOrCreateTrackLocked(participantID, displayName string) *internal_track.Manager {
	if track, ok := s.tracks[participantID]; ok {
		return track
	}

	base := fmt.Sprintf("user_%s_%s", participantID, utils.SanitizeFilename(displayName))
	outputPath := utils.UniquePath(s.opts.OutputDir, base, s.opts.Format.Extension(), s.reserved)
	s.reserved[outputPath] = struct{}{}

	track := internal_track.NewManager(s.logger, internal_track.Options{
		ParticipantID: participantID,
		DisplayName:   displayName,
		OutputPath:    outputPath,
		SessionStart:  s.start,
		Audio:         s.opts.Audio,
		Format:        s.opts.Format,
		Bitrate:       s.opts.Bitrate,
		MinSilenceGap: s.opts.MinSilenceGap,
		StopGrace:     s.opts.TrackStopGrace,
		Clock:         s.opts.Clock,
		NewPipeline: func() internal_encoder.Pipeline {
			return s.opts.NewPipeline(outputPath)
		},
	})
	s.tracks[participantID] = track
	s.logger.Debugf("session %s: track registered for participant %s", s.id, participantID)
	return track
}

// HandleJoin routes a membership-join event to the participant's track.
func (s *Session) HandleJoin(participantID, displayName string, t time.Time) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	track := s.getOrCreateTrackLocked(participantID, displayName)
	s.mu.Unlock()
	track.OnJoin(t)
}

// HandleLeave routes a membership-leave event. A leave for a participant the
// session has never seen carries nothing to record and is dropped.
func (s *Session) HandleLeave(participantID string, t time.Time) {
	s.mu.Lock()
	track, ok := s.tracks[participantID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debugf("session %s: leave for unknown participant %s ignored", s.id, participantID)
		return
	}
	track.OnLeave(t)
}

// HandleActivityStart attaches a participant's live PCM stream, creating the
// track first when voice activity precedes any membership event.
func (s *Session) HandleActivityStart(participantID, displayName string, stream internal_type.LiveStream) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	track := s.getOrCreateTrackLocked(participantID, displayName)
	s.mu.Unlock()
	track.OnLiveAudioStart(stream)
}

// HandleActivityEnd detaches a participant's live PCM stream.
func (s *Session) HandleActivityEnd(participantID string) {
	s.mu.Lock()
	track, ok := s.tracks[participantID]
	s.mu.Unlock()
	if !ok {
		return
	}
	track.OnLiveAudioEnd()
}

// Tracks returns a snapshot of the registered track managers.
func (s *Session) Tracks() []*internal_track.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*internal_track.Manager, 0, len(s.tracks))
	for _, track := range s.tracks {
		out = append(out, track)
	}
	return out
}

// StopAll finalizes every track concurrently. Each track gets the per-track
// stop grace for its encoder to drain; the whole teardown is bounded by the
// stop grace plus the global flush grace, after which remaining encoders are
// abandoned to their ForceStop paths. Idempotent: later calls return the
// first outcome.
func (s *Session) StopAll(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		tracks := make([]*internal_track.Manager, 0, len(s.tracks))
		for _, track := range s.tracks {
			tracks = append(tracks, track)
		}
		s.mu.Unlock()

		s.logger.Infof("session %s: stopping %d track(s)", s.id, len(tracks))
		g := new(errgroup.Group)
		for _, track := range tracks {
			track := track
			g.Go(func() error {
				trackCtx, cancel := context.WithTimeout(ctx, s.opts.TrackStopGrace)
				defer cancel()
				return track.Finalize(trackCtx)
			})
		}

		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			s.stopErr = err
		case <-time.After(s.opts.TrackStopGrace + s.opts.FlushGrace):
			s.stopErr = fmt.Errorf("session %s: teardown exceeded flush grace", s.id)
		}
		elapsed := s.opts.Clock().Sub(s.start).Round(time.Second)
		s.logger.Infof("session %s: stopped after %v", s.id, elapsed)
	})
	return s.stopErr
}

// AudioFiles lists the output paths of every track that actually recorded.
func (s *Session) AudioFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tracks))
	for _, track := range s.tracks {
		if track.Started() {
			out = append(out, track.OutputPath())
		}
	}
	return out
}

// DirNameForStart names a session output directory from its start instant.
func DirNameForStart(t time.Time) string {
	return t.Format("20060102-150405")
}

// OutputDirFor composes the output directory for a session starting now.
func OutputDirFor(recordingsPath string, start time.Time) string {
	return filepath.Join(recordingsPath, DirNameForStart(start))
}
