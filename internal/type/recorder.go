// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "sync"

// ChunkWriter accepts ordered PCM chunks. The track mixer is the single
// writer of any given ChunkWriter; the encoder pipeline is its single reader.
type ChunkWriter interface {
	WriteChunk(p []byte) error
}

// LiveStream delivers one participant's decoded PCM frames for one burst of
// voice activity. Frames is closed when the burst ends; Err reports whether
// it ended abnormally and may only be consulted after Frames is closed.
type LiveStream interface {
	Frames() <-chan []byte
	Err() error
}

// PCMStream is the channel-backed LiveStream handed to the recorder by the
// upstream voice transport. The transport pushes decoded frames; the owning
// mixer drains them.
type PCMStream struct {
	mu     sync.Mutex
	frames chan []byte
	err    error
	closed bool
}

func NewPCMStream(buffer int) *PCMStream {
	return &PCMStream{frames: make(chan []byte, buffer)}
}

func (s *PCMStream) Frames() <-chan []byte { return s.frames }

func (s *PCMStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push delivers one decoded frame. Returns false once the stream is closed
// or when the consumer cannot keep up and the frame was dropped.
func (s *PCMStream) Push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// Close ends the stream normally. Idempotent.
func (s *PCMStream) Close() {
	s.CloseWithError(nil)
}

// CloseWithError ends the stream recording err as its terminal state.
func (s *PCMStream) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}
