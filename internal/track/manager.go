// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_track

import (
	"context"
	"sync"
	"time"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
	internal_encoder "github.com/rapidaai/recorder/internal/encoder"
	internal_mixer "github.com/rapidaai/recorder/internal/mixer"
	internal_type "github.com/rapidaai/recorder/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// PresenceKind tags one entry of a track's presence-transition log.
type PresenceKind string

const (
	PresenceJoin  PresenceKind = "join"
	PresenceLeave PresenceKind = "leave"
)

// PresenceEvent is one append-only entry of a track's presence log.
type PresenceEvent struct {
	Kind      PresenceKind
	Timestamp time.Time
}

// Options configures one track manager. NewPipeline is the factory for the
// track's encoder process; tests substitute an in-memory pipeline.
type Options struct {
	ParticipantID string
	DisplayName   string
	OutputPath    string
	SessionStart  time.Time
	Audio         internal_audio.Config
	Format        internal_encoder.Format
	Bitrate       int
	MinSilenceGap time.Duration
	StopGrace     time.Duration
	Clock         func() time.Time
	NewPipeline   func() internal_encoder.Pipeline
}

// Manager owns one participant's full recording lifecycle: presence
// bookkeeping, silence-gap computation, live-audio attachment and the
// coordination of its mixer and encoder pipeline.
//
// All methods are serialized by one mutex, which fixes the total order of
// join and live-audio triggers per track: whichever arrives first is fully
// processed first, and because every silence computation is a shortfall
// against the shared session clock, processing both never double-injects.
type Manager struct {
	logger commons.Logger
	opts   Options

	mu           sync.Mutex
	present      bool
	events       []PresenceEvent
	started      bool // latched on first activity
	failed       bool // encoder spawn failed; track records nothing
	finalized    bool
	liveAttached bool
	pipeline     internal_encoder.Pipeline
	mixer        *internal_mixer.Mixer
}

func NewManager(logger commons.Logger, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{logger: logger, opts: opts}
}

func (m *Manager) ParticipantID() string { return m.opts.ParticipantID }
func (m *Manager) OutputPath() string    { return m.opts.OutputPath }

// Started reports whether recording has begun for this track.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Present reports the current presence sub-state.
func (m *Manager) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}

// Events returns a copy of the presence-transition log.
func (m *Manager) Events() []PresenceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PresenceEvent(nil), m.events...)
}

// EmittedBytes exposes the mixer's byte count for alignment checks.
func (m *Manager) EmittedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mixer == nil {
		return 0
	}
	return m.mixer.EmittedBytes()
}

// OnJoin marks the participant present and, on the first activity of the
// track, initializes recording: the gap between the session start and the
// join instant is injected as silence so the track begins aligned with the
// session clock no matter when the participant actually arrived.
// Repeated joins without an intervening leave are idempotent.
func (m *Manager) OnJoin(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return
	}
	if m.present {
		m.logger.Debugf("track %s: duplicate join ignored", m.opts.ParticipantID)
		return
	}
	m.present = true
	m.events = append(m.events, PresenceEvent{Kind: PresenceJoin, Timestamp: t})
	m.ensureStartedLocked()
}

// OnLeave marks the participant absent and detaches any live audio. The
// encoder keeps running: the track continues via mixer silence. A leave
// without a prior join carries no usable gap information and is dropped.
func (m *Manager) OnLeave(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return
	}
	if !m.present && len(m.events) == 0 {
		m.logger.Debugf("track %s: leave without prior join ignored", m.opts.ParticipantID)
		return
	}
	if m.present {
		m.present = false
		m.events = append(m.events, PresenceEvent{Kind: PresenceLeave, Timestamp: t})
	}
	m.detachLiveLocked()
}

// OnLiveAudioStart attaches a live PCM stream. If recording has not started
// yet (voice activity with no prior join event) it is initialized first.
// Any silence the timer-driven source did not cover — the absence gap —
// is backfilled before the live stream attaches, provided it exceeds the
// minimum threshold.
func (m *Manager) OnLiveAudioStart(stream internal_type.LiveStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return
	}
	m.ensureStartedLocked()
	if m.failed {
		return
	}

	if !m.present {
		if leave, ok := m.lastLeaveLocked(); ok {
			m.logger.Infof("track %s: live audio after %v of absence",
				m.opts.ParticipantID, m.opts.Clock().Sub(leave.Timestamp).Round(time.Millisecond))
		}
	}
	if m.liveAttached {
		m.mixer.DetachLive()
		m.liveAttached = false
	}
	m.topUpSilenceLocked(m.opts.MinSilenceGap)

	if err := m.mixer.SwitchToLive(stream); err != nil {
		m.logger.Errorf("track %s: unable to attach live stream: %v", m.opts.ParticipantID, err)
		return
	}
	m.liveAttached = true
}

// OnLiveAudioEnd detaches the live stream; the mixer reverts to silence.
func (m *Manager) OnLiveAudioEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return
	}
	m.detachLiveLocked()
}

// Finalize stops live attachment, tops the track up with silence to the
// current instant so all tracks of the session come out the same length,
// releases the mixer and shuts the encoder down: graceful input close, a
// bounded wait, then force-kill. The output file is inspected afterwards;
// findings are advisory.
func (m *Manager) Finalize(ctx context.Context) error {
	m.mu.Lock()
	if m.finalized {
		m.mu.Unlock()
		return nil
	}
	m.finalized = true

	if !m.started || m.failed {
		m.mu.Unlock()
		return nil
	}

	m.detachLiveLocked()
	m.topUpSilenceLocked(0)
	m.mixer.Close()
	pipeline := m.pipeline
	elapsed := m.opts.Clock().Sub(m.opts.SessionStart)
	m.mu.Unlock()

	if err := pipeline.End(); err != nil {
		m.logger.Warnf("track %s: closing encoder input: %v", m.opts.ParticipantID, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.opts.StopGrace)
	defer cancel()
	if err := pipeline.Wait(waitCtx); err != nil {
		m.logger.Warnf("track %s: encoder did not exit within grace window, force-stopping: %v",
			m.opts.ParticipantID, err)
		if killErr := pipeline.ForceStop(); killErr != nil {
			m.logger.Errorf("track %s: force-stop failed: %v", m.opts.ParticipantID, killErr)
		}
	}

	m.validate(elapsed)
	return nil
}

func (m *Manager) validate(elapsed time.Duration) {
	v, err := internal_encoder.Validate(m.opts.OutputPath, m.opts.Format, m.opts.Bitrate, m.opts.Audio, elapsed)
	if err != nil {
		m.logger.Warnf("track %s: output validation unavailable: %v", m.opts.ParticipantID, err)
		return
	}
	for _, finding := range v.Suspicious {
		m.logger.Warnf("track %s: suspicious output: %s", m.opts.ParticipantID, finding)
	}
	if len(v.Suspicious) == 0 {
		m.logger.Infof("track %s: finalized %s (%d bytes, ~%v)",
			m.opts.ParticipantID, m.opts.OutputPath, v.Size, v.ImpliedDuration.Round(time.Second))
	}
}

// ensureStartedLocked latches the recording-started flag, spawns the encoder
// and creates the mixer, then injects the startup offset. An encoder that
// cannot be spawned is fatal to this track only.
func (m *Manager) ensureStartedLocked() {
	if m.started || m.failed {
		return
	}
	m.started = true

	pipeline := m.opts.NewPipeline()
	if err := pipeline.Start(context.Background()); err != nil {
		m.failed = true
		m.logger.Errorf("track %s: encoder spawn failed, this track will not record: %v",
			m.opts.ParticipantID, err)
		return
	}
	m.pipeline = pipeline
	m.mixer = internal_mixer.New(m.logger, m.opts.Audio, pipeline)
	m.logger.Infof("track %s (%s): recording to %s",
		m.opts.ParticipantID, m.opts.DisplayName, m.opts.OutputPath)

	// Startup offset: any positive gap since the session clock origin.
	m.topUpSilenceLocked(0)
}

// topUpSilenceLocked injects the shortfall between the wall-clock target
// (now − sessionStart) and the bytes already emitted. Computing the gap from
// the emitted count rather than from raw event timestamps makes injections
// race-free: once topped up, a second computation sees no shortfall.
func (m *Manager) topUpSilenceLocked(threshold time.Duration) {
	if m.mixer == nil {
		return
	}
	target := m.opts.Audio.DurationToBytes(m.opts.Clock().Sub(m.opts.SessionStart))
	short := target - m.mixer.EmittedBytes()
	if short <= 0 {
		return
	}
	gap := m.opts.Audio.BytesToDuration(short)
	if gap < threshold {
		return
	}
	if err := m.mixer.InjectSilence(gap); err != nil {
		m.logger.Warnf("track %s: silence injection of %v failed: %v", m.opts.ParticipantID, gap, err)
		return
	}
	m.logger.Debugf("track %s: injected %v of silence", m.opts.ParticipantID, gap.Round(time.Millisecond))
}

func (m *Manager) detachLiveLocked() {
	if !m.liveAttached {
		return
	}
	m.mixer.DetachLive()
	m.liveAttached = false
}

func (m *Manager) lastLeaveLocked() (PresenceEvent, bool) {
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Kind == PresenceLeave {
			return m.events[i], true
		}
	}
	return PresenceEvent{}, false
}
