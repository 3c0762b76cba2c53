// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_mixer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
	internal_type "github.com/rapidaai/recorder/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// State of the single-track switchboard.
type State int32

const (
	StateSilence State = iota
	StateLive
)

func (s State) String() string {
	if s == StateLive {
		return "live"
	}
	return "silence"
}

// Mixer is a single-track audio switchboard emitting one gapless PCM byte
// stream into its sink. Exactly one source is active at any instant: a
// timer-driven SilenceSource while no live audio is attached, the live
// stream otherwise.
//
// Transition table:
//
//	Silence --SwitchToLive-->            Live
//	Live    --stream end/error-->        Silence (auto-revert, fresh SilenceSource)
//	Live    --DetachLive-->              Silence (fresh SilenceSource)
//	any     --Close-->                   closed (terminal)
//
// The mixer counts every byte it emits. Silence injections are computed by
// the track manager as the shortfall between the wall-clock target and this
// count, which is what makes the output duration track elapsed time exactly
// regardless of how silence and live segments interleave.
type Mixer struct {
	logger commons.Logger
	cfg    internal_audio.Config
	sink   internal_type.ChunkWriter

	mu        sync.Mutex
	state     State
	silence   *internal_audio.SilenceSource
	silenceWg sync.WaitGroup
	liveGen   uint64
	closed    bool

	emitted  atomic.Int64
	sinkDown atomic.Bool
}

// New creates a mixer in the Silence state with its silence pump running.
func New(logger commons.Logger, cfg internal_audio.Config, sink internal_type.ChunkWriter) *Mixer {
	m := &Mixer{
		logger: logger,
		cfg:    cfg,
		sink:   sink,
	}
	m.mu.Lock()
	m.startSilenceLocked()
	m.mu.Unlock()
	return m
}

// EmittedBytes is the total PCM byte count written so far.
func (m *Mixer) EmittedBytes() int64 {
	return m.emitted.Load()
}

// Emitted is EmittedBytes converted to decoded play time.
func (m *Mixer) Emitted() time.Duration {
	return m.cfg.BytesToDuration(m.emitted.Load())
}

// State reports the currently active source.
func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SwitchToLive transitions Silence → Live. The running SilenceSource is
// closed and its already-queued frames are flushed before the first live
// frame, so the handoff is lossless. When the live stream ends or errors the
// mixer reverts to silence on its own; a live-stream fault never reaches the
// sink consumer.
func (m *Mixer) SwitchToLive(stream internal_type.LiveStream) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("mixer is closed")
	}
	if m.state == StateLive {
		// Replace the current live source: detach, then fall through.
		m.liveGen++
	}
	m.stopSilenceLocked()
	m.state = StateLive
	m.liveGen++
	gen := m.liveGen
	m.mu.Unlock()

	go m.runLive(gen, stream)
	return nil
}

// DetachLive transitions Live → Silence, dropping any frames the detached
// stream may still deliver. No-op in the Silence state.
func (m *Mixer) DetachLive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateLive {
		return
	}
	m.liveGen++
	m.state = StateSilence
	m.startSilenceLocked()
}

// InjectSilence synchronously writes exactly d worth of zero-filled PCM,
// chunked at one second apiece to bound peak memory. Valid only while no
// live source is attached; injected bytes count toward EmittedBytes like any
// other write.
func (m *Mixer) InjectSilence(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mixer is closed")
	}
	if m.state != StateSilence {
		return fmt.Errorf("cannot inject silence in %s state", m.state)
	}

	remaining := m.cfg.DurationToBytes(d)
	chunk := make([]byte, m.cfg.BytesPerSecond())
	for remaining > 0 {
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		m.writeLocked(chunk[:n])
		remaining -= n
	}
	return nil
}

// Close ends the output stream: stops the silence source, waits for its pump
// to drain, and fences off any still-attached live pump so no byte can be
// written afterwards. It never blocks on the upstream live stream, which may
// hang indefinitely. Idempotent.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.liveGen++
	m.stopSilenceLocked()
}

// startSilenceLocked opens a fresh SilenceSource and starts its pump.
func (m *Mixer) startSilenceLocked() {
	src := internal_audio.OpenSilenceSource(m.cfg)
	m.silence = src
	m.silenceWg.Add(1)
	go func() {
		defer m.silenceWg.Done()
		for frame := range src.Frames() {
			if !m.write(frame) {
				return
			}
		}
	}()
}

// stopSilenceLocked closes the current silence source and waits for its pump
// to flush whatever frames were already queued, preserving write order
// across the handoff.
func (m *Mixer) stopSilenceLocked() {
	if m.silence == nil {
		return
	}
	m.silence.Close()
	m.silence = nil
	m.mu.Unlock()
	m.silenceWg.Wait()
	m.mu.Lock()
}

func (m *Mixer) runLive(gen uint64, stream internal_type.LiveStream) {
	for frame := range stream.Frames() {
		if !m.writeLive(gen, frame) {
			return
		}
	}
	if err := stream.Err(); err != nil {
		m.logger.Warnf("live stream ended with error, reverting to silence: %v", err)
	}

	// Auto-recovery: Live → Silence, unless something newer already took over.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateLive || gen != m.liveGen {
		return
	}
	m.state = StateSilence
	m.startSilenceLocked()
}

// write emits one chunk from the silence pump.
func (m *Mixer) write(p []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.writeLocked(p)
	return true
}

// writeLive emits one chunk from a live pump, rejecting stale generations so
// a detached stream can never interleave into the stream after a revert.
func (m *Mixer) writeLive(gen uint64, p []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateLive || gen != m.liveGen {
		return false
	}
	m.writeLocked(p)
	return true
}

func (m *Mixer) writeLocked(p []byte) {
	if len(p) == 0 {
		return
	}
	if err := m.sink.WriteChunk(p); err != nil {
		if m.sinkDown.CompareAndSwap(false, true) {
			m.logger.Errorf("mixer sink write failed, track output is degraded: %v", err)
		}
	}
	// Count even failed writes: the timeline position must keep tracking the
	// wall clock or every later shortfall computation would re-inject the gap.
	m.emitted.Add(int64(len(p)))
}
