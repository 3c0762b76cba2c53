// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_encoder

import (
	"context"
	"fmt"
	"os"
	"time"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
)

// Format selects the output container/codec.
type Format string

const (
	FormatMP3 Format = "mp3" // lossy, bitrate applies
	FormatWAV Format = "wav" // lossless PCM
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMP3:
		return FormatMP3, nil
	case FormatWAV:
		return FormatWAV, nil
	}
	return "", fmt.Errorf("unsupported audio format %q", s)
}

func (f Format) Extension() string {
	return "." + string(f)
}

// Pipeline is the capability interface over one external encoding process
// bound to one track's PCM stream. Keeping the process behind this interface
// makes the concrete encoder swappable in tests without spawning a binary.
//
// Call order: Start, any number of WriteChunk, End (graceful input close,
// lets buffered data flush), Wait; ForceStop at any point after Start to
// guarantee termination in finite time.
type Pipeline interface {
	Start(ctx context.Context) error
	WriteChunk(p []byte) error
	End() error
	ForceStop() error
	Wait(ctx context.Context) error
}

// Validation is the advisory result of inspecting a finished output file.
// Findings are reported, never fatal.
type Validation struct {
	Size            int64
	ImpliedDuration time.Duration
	Suspicious      []string
}

// Validate inspects a finished file's size and flags the two symptoms of a
// broken track: a near-empty file (participant produced no data at all) and
// a file implying far more audio than the session's elapsed wall-clock time
// (symptom of a synchronization bug).
func Validate(path string, format Format, bitrateKbps int, cfg internal_audio.Config, elapsed time.Duration) (Validation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Validation{}, fmt.Errorf("unable to inspect output file %s: %w", path, err)
	}

	v := Validation{Size: info.Size()}
	switch format {
	case FormatWAV:
		payload := v.Size - 44 // RIFF header
		if payload < 0 {
			payload = 0
		}
		v.ImpliedDuration = cfg.BytesToDuration(payload)
	default:
		// Lossy estimate from the configured constant bitrate.
		if bitrateKbps > 0 {
			seconds := float64(v.Size*8) / float64(bitrateKbps*1000)
			v.ImpliedDuration = time.Duration(seconds * float64(time.Second))
		}
	}

	if v.ImpliedDuration < time.Second {
		v.Suspicious = append(v.Suspicious,
			fmt.Sprintf("file implies near-zero duration (%v, %d bytes)", v.ImpliedDuration, v.Size))
	}
	limit := time.Duration(float64(elapsed)*1.25) + 10*time.Second
	if elapsed > 0 && v.ImpliedDuration > limit {
		v.Suspicious = append(v.Suspicious,
			fmt.Sprintf("file implies %v of audio, grossly exceeding the %v session elapsed time", v.ImpliedDuration, elapsed))
	}
	return v, nil
}
