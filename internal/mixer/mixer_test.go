// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_mixer

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
	internal_type "github.com/rapidaai/recorder/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// quietCfg uses an hour-long silence frame so the ticker never fires during
// a test; every emitted byte then comes from injections or live frames.
var quietCfg = internal_audio.Config{SampleRate: 48000, Channels: 2, FrameDuration: time.Hour}

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-mixer"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

type memorySink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	failed bool
}

func (s *memorySink) WriteChunk(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("sink down")
	}
	s.buf.Write(p)
	return nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func (s *memorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestInjectSilenceWritesExactByteCount(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	if err := m.InjectSilence(2500 * time.Millisecond); err != nil {
		t.Fatalf("InjectSilence: %v", err)
	}

	expected := quietCfg.DurationToBytes(2500 * time.Millisecond)
	if got := m.EmittedBytes(); got != expected {
		t.Errorf("emitted %d bytes, expected %d", got, expected)
	}
	if got := int64(sink.Len()); got != expected {
		t.Errorf("sink received %d bytes, expected %d", got, expected)
	}
	for _, b := range sink.Bytes() {
		if b != 0 {
			t.Fatal("injected silence contains non-zero byte")
		}
	}
}

func TestInjectSilenceNegativeAndZeroAreNoops(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	if err := m.InjectSilence(0); err != nil {
		t.Fatal(err)
	}
	if err := m.InjectSilence(-time.Second); err != nil {
		t.Fatal(err)
	}
	if m.EmittedBytes() != 0 {
		t.Error("no bytes should have been emitted")
	}
}

func TestInjectSilenceRejectedWhileLive(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	stream := internal_type.NewPCMStream(4)
	defer stream.Close()
	if err := m.SwitchToLive(stream); err != nil {
		t.Fatal(err)
	}
	if err := m.InjectSilence(time.Second); err == nil {
		t.Error("expected error injecting silence in live state")
	}
}

func TestLiveFramesFlowInOrder(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	stream := internal_type.NewPCMStream(8)
	if err := m.SwitchToLive(stream); err != nil {
		t.Fatal(err)
	}

	var expected []byte
	for i := 1; i <= 5; i++ {
		frame := bytes.Repeat([]byte{byte(i)}, 8)
		expected = append(expected, frame...)
		if !stream.Push(frame) {
			t.Fatalf("push %d rejected", i)
		}
	}
	stream.Close()

	waitFor(t, 2*time.Second, func() bool { return sink.Len() == len(expected) })
	if !bytes.Equal(sink.Bytes(), expected) {
		t.Error("live frames were reordered or corrupted")
	}
}

func TestAutoRevertToSilenceOnStreamEnd(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	stream := internal_type.NewPCMStream(4)
	if err := m.SwitchToLive(stream); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateLive {
		t.Fatal("expected live state")
	}

	stream.Close()
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateSilence })
}

func TestLiveStreamErrorDoesNotReachSink(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	stream := internal_type.NewPCMStream(4)
	if err := m.SwitchToLive(stream); err != nil {
		t.Fatal(err)
	}
	stream.Push(bytes.Repeat([]byte{0x7f}, 8))
	stream.CloseWithError(errors.New("transport reset"))

	// The mixer must recover to silence and keep accepting injections.
	waitFor(t, 2*time.Second, func() bool { return m.State() == StateSilence })
	if err := m.InjectSilence(100 * time.Millisecond); err != nil {
		t.Fatalf("mixer unusable after live error: %v", err)
	}
}

func TestDetachLiveDropsStaleFrames(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	stream := internal_type.NewPCMStream(8)
	if err := m.SwitchToLive(stream); err != nil {
		t.Fatal(err)
	}
	stream.Push(bytes.Repeat([]byte{0x01}, 8))
	waitFor(t, 2*time.Second, func() bool { return sink.Len() == 8 })

	m.DetachLive()
	if m.State() != StateSilence {
		t.Fatal("expected silence after detach")
	}

	// Frames still arriving on the detached stream must be discarded.
	stream.Push(bytes.Repeat([]byte{0x02}, 8))
	stream.Close()
	time.Sleep(20 * time.Millisecond)
	if sink.Len() != 8 {
		t.Errorf("stale live frame leaked into output: %d bytes", sink.Len())
	}
}

func TestSilenceSourceCoversWallClock(t *testing.T) {
	cfg := internal_audio.Config{SampleRate: 48000, Channels: 2, FrameDuration: 5 * time.Millisecond}
	sink := &memorySink{}
	m := New(newTestLogger(t), cfg, sink)
	defer m.Close()

	// After ~100ms of silence-state running, emitted duration must roughly
	// track the elapsed wall clock.
	time.Sleep(100 * time.Millisecond)
	emitted := m.Emitted()
	if emitted < 50*time.Millisecond || emitted > 250*time.Millisecond {
		t.Errorf("emitted %v after ~100ms of silence", emitted)
	}
}

func TestSinkFailureIsSwallowedAndCounted(t *testing.T) {
	sink := &memorySink{failed: true}
	m := New(newTestLogger(t), quietCfg, sink)
	defer m.Close()

	if err := m.InjectSilence(time.Second); err != nil {
		t.Fatalf("sink failure must not surface from InjectSilence: %v", err)
	}
	if m.EmittedBytes() != quietCfg.DurationToBytes(time.Second) {
		t.Error("failed writes must still advance the timeline position")
	}
}

func TestCloseIsIdempotentAndStopsOutput(t *testing.T) {
	sink := &memorySink{}
	m := New(newTestLogger(t), quietCfg, sink)

	m.Close()
	m.Close()

	if err := m.InjectSilence(time.Second); err == nil {
		t.Error("expected error injecting into closed mixer")
	}
	stream := internal_type.NewPCMStream(1)
	defer stream.Close()
	if err := m.SwitchToLive(stream); err == nil {
		t.Error("expected error switching closed mixer to live")
	}
}
