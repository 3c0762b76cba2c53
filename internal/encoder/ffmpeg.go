// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_encoder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
	"github.com/rapidaai/recorder/pkg/commons"
)

// CheckFFmpeg verifies the encoder binary is reachable. Called once at
// session start; a missing binary is fatal to the session, not just a track.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

// ffmpegPipeline drives one ffmpeg process transcoding raw interleaved
// little-endian PCM from stdin into the configured container.
type ffmpegPipeline struct {
	logger     commons.Logger
	cfg        internal_audio.Config
	outputPath string
	format     Format
	bitrate    int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *os.File
	exited  chan struct{}
	exitErr error

	endOnce  sync.Once
	killOnce sync.Once
}

// NewFFmpegPipeline builds an unstarted pipeline for one output file.
func NewFFmpegPipeline(logger commons.Logger, cfg internal_audio.Config, outputPath string, format Format, bitrateKbps int) Pipeline {
	return &ffmpegPipeline{
		logger:     logger,
		cfg:        cfg,
		outputPath: outputPath,
		format:     format,
		bitrate:    bitrateKbps,
		exited:     make(chan struct{}),
	}
}

func (p *ffmpegPipeline) args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.FormatUint(uint64(p.cfg.SampleRate), 10),
		"-ac", strconv.FormatUint(uint64(p.cfg.Channels), 10),
		"-i", "pipe:0",
	}
	switch p.format {
	case FormatWAV:
		args = append(args, "-codec:a", "pcm_s16le")
	default:
		args = append(args, "-codec:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", p.bitrate))
	}
	return append(args, "-y", p.outputPath)
}

func (p *ffmpegPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("encoder already started for %s", p.outputPath)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", p.args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("unable to open encoder stdin: %w", err)
	}

	// Diagnostics go to a side log next to the output file.
	if logFile, err := os.Create(p.outputPath + ".ffmpeg.log"); err == nil {
		cmd.Stderr = logFile
		p.stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if p.stderr != nil {
			p.stderr.Close()
		}
		return fmt.Errorf("unable to spawn encoder for %s: %w", p.outputPath, err)
	}

	p.cmd = cmd
	p.stdin = stdin

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		if p.stderr != nil {
			p.stderr.Close()
		}
		p.mu.Unlock()
		close(p.exited)
	}()

	p.logger.Debugf("encoder started: %s", p.outputPath)
	return nil
}

// WriteChunk feeds one PCM chunk to the encoder.
func (p *ffmpegPipeline) WriteChunk(chunk []byte) error {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("encoder not running for %s", p.outputPath)
	}
	if _, err := stdin.Write(chunk); err != nil {
		return fmt.Errorf("encoder write failed for %s: %w", p.outputPath, err)
	}
	return nil
}

// End closes the encoder's input so it can flush buffered data and exit on
// its own. Idempotent.
func (p *ffmpegPipeline) End() error {
	var err error
	p.endOnce.Do(func() {
		p.mu.Lock()
		stdin := p.stdin
		p.mu.Unlock()
		if stdin != nil {
			err = stdin.Close()
		}
	})
	return err
}

// ForceStop kills the process outright. Used only after the graceful window
// has elapsed; a killed encoder may leave a truncated file behind.
func (p *ffmpegPipeline) ForceStop() error {
	p.End()
	var err error
	p.killOnce.Do(func() {
		p.mu.Lock()
		cmd := p.cmd
		p.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			err = cmd.Process.Kill()
		}
	})
	return err
}

// Wait blocks until the process exits or ctx expires.
func (p *ffmpegPipeline) Wait(ctx context.Context) error {
	select {
	case <-p.exited:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
