// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_app

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/rapidaai/recorder/config"
	internal_audio "github.com/rapidaai/recorder/internal/audio"
	internal_control "github.com/rapidaai/recorder/internal/control"
	internal_encoder "github.com/rapidaai/recorder/internal/encoder"
	internal_session "github.com/rapidaai/recorder/internal/session"
	internal_state "github.com/rapidaai/recorder/internal/state"
	internal_upload "github.com/rapidaai/recorder/internal/upload"
	"github.com/rapidaai/recorder/pkg/commons"
	"github.com/rapidaai/recorder/pkg/utils"
)

// Transport is the upstream voice source: whatever delivers membership
// events and decoded per-participant PCM. It is an external collaborator —
// this module records what a transport feeds into the session and nothing
// more. Run must block until the transport disconnects or ctx is cancelled;
// a non-nil return tears the whole session down gracefully.
type Transport interface {
	Run(ctx context.Context, session *internal_session.Session) error
}

// Recorder wires the recording engine to its control plane: descriptor
// store, stop side channel, retention sweeps and the optional post-stop
// upload.
type Recorder struct {
	logger    commons.Logger
	cfg       *config.AppConfig
	store     internal_state.Store
	transport Transport
}

func NewRecorder(logger commons.Logger, cfg *config.AppConfig, store internal_state.Store, transport Transport) *Recorder {
	return &Recorder{logger: logger, cfg: cfg, store: store, transport: transport}
}

// Start runs one recording session to completion: it enforces the
// concurrent-session bound, persists the descriptor, watches the stop side
// channel and blocks until ctx is cancelled, the stop marker appears or the
// transport fails. Teardown always runs before return so encoders flush.
func (r *Recorder) Start(ctx context.Context, channel string) error {
	if err := internal_encoder.CheckFFmpeg(); err != nil {
		return err
	}
	if _, err := r.store.ReapOrphans(ctx); err != nil {
		r.logger.Warnf("orphan reaping failed: %v", err)
	}
	active, err := r.store.Active(ctx)
	if err != nil {
		return err
	}
	if len(active) >= r.cfg.MaxConcurrentRecordings {
		return fmt.Errorf("recording already in progress (session %s), refusing a second start", active[0].SessionID)
	}

	internal_session.SweepOldRecordings(r.logger, r.cfg.RecordingsPath, r.cfg.Retention())

	format, err := internal_encoder.ParseFormat(r.cfg.Format)
	if err != nil {
		return err
	}
	audioConfigSanity(r.logger, r.cfg.AudioConfig())

	start := time.Now()
	outputDir := internal_session.OutputDirFor(r.cfg.RecordingsPath, start)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	session := internal_session.New(r.logger, internal_session.Options{
		Channel:        channel,
		OutputDir:      outputDir,
		Audio:          r.cfg.AudioConfig(),
		Format:         format,
		Bitrate:        r.cfg.Bitrate,
		MinSilenceGap:  r.cfg.MinSilenceGap(),
		TrackStopGrace: r.cfg.TrackStopGrace(),
		FlushGrace:     r.cfg.FlushGrace(),
	})

	descriptor := &internal_state.SessionDescriptor{
		SessionID: session.ID().String(),
		Channel:   channel,
		OutputDir: outputDir,
		Format:    string(format),
		Bitrate:   r.cfg.Bitrate,
		OwnerPID:  os.Getpid(),
		StartedAt: session.StartTime(),
	}
	if err := r.store.Save(ctx, descriptor); err != nil {
		return err
	}

	watcher, err := internal_control.NewStopWatcher(r.logger, outputDir, r.cfg.StopPollInterval())
	if err != nil {
		return err
	}
	defer watcher.Close()

	transportErr := make(chan error, 1)
	if r.transport != nil {
		go func() { transportErr <- r.transport.Run(ctx, session) }()
	} else {
		r.logger.Warnf("no voice transport attached: tracks are created only by transport events")
	}

	retention := time.NewTicker(24 * time.Hour)
	defer retention.Stop()

	running := true
	for running {
		select {
		case <-ctx.Done():
			r.logger.Infof("session %s: shutdown signal received", session.ID())
			running = false
		case <-watcher.C():
			r.logger.Infof("session %s: stop requested via marker", session.ID())
			running = false
		case err := <-transportErr:
			if err != nil {
				r.logger.Errorf("session %s: transport failed, tearing down: %v", session.ID(), err)
			} else {
				r.logger.Infof("session %s: transport finished", session.ID())
			}
			running = false
		case <-retention.C:
			internal_session.SweepOldRecordings(r.logger, r.cfg.RecordingsPath, r.cfg.Retention())
		}
	}

	// Teardown runs on a fresh context: the trigger may be the cancelled ctx
	// itself, and encoders still deserve their grace windows.
	stopCtx, cancel := context.WithTimeout(context.Background(), r.cfg.TrackStopGrace()+r.cfg.FlushGrace())
	defer cancel()
	if err := r.store.MarkStopping(stopCtx, descriptor.SessionID); err != nil {
		r.logger.Debugf("descriptor already past active: %v", err)
	}
	stopErr := session.StopAll(stopCtx)
	if err := r.store.Complete(stopCtx, descriptor.SessionID); err != nil {
		r.logger.Errorf("failed to mark session %s stopped: %v", descriptor.SessionID, err)
	}
	if stopErr != nil {
		return stopErr
	}

	r.maybeUpload(session)
	return nil
}

func (r *Recorder) maybeUpload(session *internal_session.Session) {
	if !r.cfg.EnableDriveUpload {
		return
	}
	files := session.AudioFiles()
	if len(files) == 0 {
		r.logger.Infof("session %s: nothing recorded, skipping upload", session.ID())
		return
	}
	ctx := context.Background()
	uploader, err := internal_upload.NewDriveUploader(ctx, r.logger, r.cfg.DriveCredentialsPath, r.cfg.DriveFolderID)
	if err != nil {
		r.logger.Errorf("session %s: drive uploader unavailable: %v", session.ID(), err)
		return
	}
	folderID, err := uploader.UploadSession(ctx, session.ID().String(), files)
	if err != nil {
		r.logger.Errorf("session %s: drive upload failed: %v", session.ID(), err)
		return
	}
	r.logger.Infof("session %s: uploaded %d file(s) to drive folder %s", session.ID(), len(files), folderID)
}

// Stop requests termination of an in-progress session owned by another
// process: it drops the stop marker into the session directory, waits
// bounded for the owner to report "stopped", and falls back to killing the
// recorded pid when the owner does not react.
func (r *Recorder) Stop(ctx context.Context, sessionID string) error {
	descriptor, err := r.resolve(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := internal_control.WriteStopMarker(descriptor.OutputDir); err != nil {
		return err
	}
	if err := r.store.MarkStopping(ctx, descriptor.SessionID); err != nil {
		r.logger.Debugf("descriptor already past active: %v", err)
	}
	r.logger.Infof("stop requested for session %s (pid %d)", descriptor.SessionID, descriptor.OwnerPID)

	deadline := time.Now().Add(r.cfg.TrackStopGrace() + r.cfg.FlushGrace() + r.cfg.StopPollInterval())
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.StopPollInterval()):
		}
		current, err := r.store.Get(ctx, descriptor.SessionID)
		if err != nil {
			return err
		}
		if current.Status == internal_state.StatusStopped {
			r.logger.Infof("session %s stopped", descriptor.SessionID)
			return nil
		}
		if !utils.IsProcessAlive(descriptor.OwnerPID) {
			r.logger.Warnf("session %s: owner pid %d exited without completing, marking stopped", descriptor.SessionID, descriptor.OwnerPID)
			return r.store.Complete(ctx, descriptor.SessionID)
		}
	}

	r.logger.Warnf("session %s: owner pid %d did not stop in time, killing it", descriptor.SessionID, descriptor.OwnerPID)
	if err := syscall.Kill(descriptor.OwnerPID, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill recorder pid %d: %w", descriptor.OwnerPID, err)
	}
	return r.store.Complete(ctx, descriptor.SessionID)
}

// Status returns the active session descriptors, reaping orphans first so a
// crashed recorder never shows as running.
func (r *Recorder) Status(ctx context.Context) ([]*internal_state.SessionDescriptor, error) {
	if _, err := r.store.ReapOrphans(ctx); err != nil {
		r.logger.Warnf("orphan reaping failed: %v", err)
	}
	return r.store.Active(ctx)
}

// resolve picks the target descriptor: an explicit session id, or the single
// active session when the id is empty.
func (r *Recorder) resolve(ctx context.Context, sessionID string) (*internal_state.SessionDescriptor, error) {
	if sessionID != "" {
		return r.store.Get(ctx, sessionID)
	}
	active, err := r.store.Active(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("no recording in progress")
	}
	return active[0], nil
}

// audioConfigSanity logs a warning for layouts far outside what voice
// transports deliver; recording proceeds regardless.
func audioConfigSanity(logger commons.Logger, cfg internal_audio.Config) {
	if cfg.SampleRate < 8000 || cfg.SampleRate > 192000 {
		logger.Warnf("unusual sample rate %d", cfg.SampleRate)
	}
	if cfg.Channels == 0 || cfg.Channels > 8 {
		logger.Warnf("unusual channel count %d", cfg.Channels)
	}
}
