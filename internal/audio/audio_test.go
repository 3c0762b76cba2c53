// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"testing"
	"time"
)

func TestDurationToBytesFrameAligned(t *testing.T) {
	cfg := RAPIDA_INTERNAL_AUDIO_CONFIG // 48kHz, stereo → 192000 B/s, 4 B frames

	tests := []struct {
		name     string
		d        time.Duration
		expected int64
	}{
		{"zero", 0, 0},
		{"negative", -time.Second, 0},
		{"one second", time.Second, 192000},
		{"20ms frame", 20 * time.Millisecond, 3840},
		{"aligns down to sample frame", 10*time.Millisecond + 7*time.Microsecond, 1920},
		{"one hour", time.Hour, 691200000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.DurationToBytes(tt.d)
			if got != tt.expected {
				t.Errorf("expected %d bytes, got %d", tt.expected, got)
			}
			if got%int64(AudioBytesPerSample*int(cfg.Channels)) != 0 {
				t.Errorf("byte count %d not frame aligned", got)
			}
		})
	}
}

func TestBytesToDurationRoundTrip(t *testing.T) {
	cfg := RAPIDA_INTERNAL_AUDIO_CONFIG
	for _, d := range []time.Duration{time.Second, 5 * time.Second, 90 * time.Minute} {
		back := cfg.BytesToDuration(cfg.DurationToBytes(d))
		if diff := (back - d).Abs(); diff > time.Millisecond {
			t.Errorf("round trip of %v drifted by %v", d, diff)
		}
	}
}

func TestSilenceSourceEmitsZeroFrames(t *testing.T) {
	cfg := Config{SampleRate: 48000, Channels: 2, FrameDuration: 5 * time.Millisecond}
	src := OpenSilenceSource(cfg)
	defer src.Close()

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case frame := <-src.Frames():
			if len(frame) != int(cfg.FrameBytes()) {
				t.Fatalf("frame %d: expected %d bytes, got %d", i, cfg.FrameBytes(), len(frame))
			}
			for _, b := range frame {
				if b != 0 {
					t.Fatal("silence frame contains non-zero byte")
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for silence frames")
		}
	}
}

func TestSilenceSourceCloseIsIdempotent(t *testing.T) {
	src := OpenSilenceSource(Config{SampleRate: 48000, Channels: 2, FrameDuration: 5 * time.Millisecond})
	src.Close()
	src.Close()

	// The frame channel must eventually close after Close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame channel did not close")
		}
	}
}
