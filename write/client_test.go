// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package write

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
)

// memEncoder appends every encoded frame to an in-memory slice, for tests.
type memEncoder struct {
	mu        sync.Mutex
	frames    []float32
	finished  bool
	discarded bool
	restarts  int
}

func (e *memEncoder) Encode(_ context.Context, block *pcm.Block[float32]) (codec.WriteStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, block.Channels[0][:block.FramesWritten]...)
	return codec.WriteStatus{}, nil
}

func (e *memEncoder) FinishFile(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = true
	return nil
}

func (e *memEncoder) DiscardFile(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discarded = true
	e.frames = nil
	return nil
}

func (e *memEncoder) DiscardAndRestart(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restarts++
	e.frames = nil
	return nil
}

func (e *memEncoder) Close() error { return nil }

func (e *memEncoder) snapshot() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float32, len(e.frames))
	copy(out, e.frames)
	return out
}

func newTestWriteClient(t *testing.T, opts Options) (*Client[float32], *memEncoder) {
	t.Helper()
	enc := &memEncoder{}
	client, err := New[float32](context.Background(), enc, 1, opts, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, enc
}

func TestWriteFlushesFullBlocks(t *testing.T) {
	opts := Options{BlockSize: 8, NumWriteAheadBlocks: 2, PollInterval: time.Millisecond}
	c, enc := newTestWriteClient(t, opts)

	samples := make([]float32, 20)
	for i := range samples {
		samples[i] = float32(i)
	}
	// Write() rejects any single call longer than BlockSize, so feed the 20
	// frames across chunks no larger than B=8.
	total := 0
	for _, chunkLen := range []int{8, 8, 4} {
		chunk := [][]float32{samples[total : total+chunkLen]}
		n, err := c.Write(chunk)
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if n != chunkLen {
			t.Fatalf("expected %d frames written, got %d", chunkLen, n)
		}
		total += chunkLen
	}
	if total != 20 {
		t.Fatalf("expected 20 frames written, got %d", total)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(enc.snapshot()) < 16 {
		if time.Now().After(deadline) {
			t.Fatalf("encoder never received the two full blocks")
		}
		c.poll()
		time.Sleep(time.Millisecond)
	}
	got := enc.snapshot()
	for i := 0; i < 16; i++ {
		if got[i] != float32(i) {
			t.Fatalf("frame %d: expected %v got %v", i, float32(i), got[i])
		}
	}
}

func TestFinishFileFlushesPartialBlock(t *testing.T) {
	opts := Options{BlockSize: 8, NumWriteAheadBlocks: 2, PollInterval: time.Millisecond}
	c, enc := newTestWriteClient(t, opts)

	buf := [][]float32{{1, 2, 3}}
	if _, err := c.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.FinishFile(); err != nil {
		t.Fatalf("FinishFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		done, _ := c.FinishComplete()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("FinishFile never completed")
		}
		time.Sleep(time.Millisecond)
	}
	if got := enc.snapshot(); len(got) != 3 {
		t.Fatalf("expected 3 partial frames flushed, got %d", len(got))
	}
}

func TestDiscardAndRestartBumpsRestartCount(t *testing.T) {
	opts := Options{BlockSize: 4, NumWriteAheadBlocks: 2, PollInterval: time.Millisecond}
	c, _ := newTestWriteClient(t, opts)

	buf := [][]float32{{1, 2, 3, 4}}
	if _, err := c.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.DiscardAndRestart(); err != nil {
		t.Fatalf("DiscardAndRestart: %v", err)
	}
	if c.restartCount != 1 {
		t.Fatalf("expected restart count 1, got %d", c.restartCount)
	}
}

func TestWriteInvalidBufferShape(t *testing.T) {
	opts := Options{BlockSize: 8, NumWriteAheadBlocks: 2, PollInterval: time.Millisecond}
	c, _ := newTestWriteClient(t, opts)

	if _, err := c.Write([][]float32{{1}, {2}}); err != ErrInvalidBuffer {
		t.Fatalf("expected ErrInvalidBuffer, got %v", err)
	}
}
