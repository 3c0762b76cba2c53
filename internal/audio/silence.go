// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"sync"
	"time"
)

// silenceChannelSize bounds the number of in-flight silence frames between
// the ticker and the consumer. A slow consumer drops ticks instead of
// blocking the producer; the mixer's shortfall accounting backfills anything
// dropped, so pacing never depends on downstream readiness.
const silenceChannelSize = 32

// SilenceSource produces an infinite, constant-rate stream of zero-filled
// PCM frames on its own wall-clock cadence. Emission is timer driven, not
// consumer pulled: one frame of FrameDuration silence per tick.
//
// The same pre-allocated zero buffer backs every frame. Consumers must treat
// delivered frames as read-only.
type SilenceSource struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	zero      []byte
}

// OpenSilenceSource starts the ticker and begins producing immediately.
func OpenSilenceSource(cfg Config) *SilenceSource {
	s := &SilenceSource{
		frames: make(chan []byte, silenceChannelSize),
		done:   make(chan struct{}),
		zero:   make([]byte, cfg.FrameBytes()),
	}
	go s.run(cfg.FrameDuration)
	return s
}

// Frames returns the frame channel. It is closed after Close, once any
// already-queued frames have been delivered.
func (s *SilenceSource) Frames() <-chan []byte {
	return s.frames
}

// Close stops the ticker and releases the producer. Idempotent.
func (s *SilenceSource) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *SilenceSource) run(frameDuration time.Duration) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	defer close(s.frames)

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			select {
			case s.frames <- s.zero:
			case <-s.done:
				return
			default:
				// Consumer lagging; drop the tick rather than block.
			}
		}
	}
}
