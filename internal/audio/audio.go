// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import "time"

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
)

// Config describes the fixed PCM layout of one recording session. Every
// track of a session shares one Config; mixing sample rates within a session
// is not supported.
type Config struct {
	SampleRate    uint32
	Channels      uint16
	FrameDuration time.Duration
}

// RAPIDA_INTERNAL_AUDIO_CONFIG is the default layout voice transports
// deliver: 48kHz stereo 16-bit PCM in 20ms frames.
var RAPIDA_INTERNAL_AUDIO_CONFIG = Config{
	SampleRate:    48000,
	Channels:      2,
	FrameDuration: 20 * time.Millisecond,
}

// BytesPerSecond is the raw PCM data rate.
func (c Config) BytesPerSecond() int {
	return int(c.SampleRate) * int(c.Channels) * AudioBytesPerSample
}

// FrameBytes is the size of one frame of FrameDuration worth of PCM.
func (c Config) FrameBytes() int {
	return int(c.DurationToBytes(c.FrameDuration))
}

// DurationToBytes converts a wall-clock duration to a frame-aligned byte
// count. Alignment to the sample frame (all channels of one sample instant)
// keeps every boundary on a valid interleaved position.
func (c Config) DurationToBytes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	raw := int64(d.Seconds() * float64(c.BytesPerSecond()))
	frameSize := int64(AudioBytesPerSample) * int64(c.Channels)
	return (raw / frameSize) * frameSize
}

// BytesToDuration converts a PCM byte count back to decoded play time.
func (c Config) BytesToDuration(n int64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(c.BytesPerSecond()) * float64(time.Second))
}
