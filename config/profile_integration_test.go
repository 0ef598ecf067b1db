// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"context"
	"testing"
	"time"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/read"
	"github.com/nishisan-dev/pcmstream/write"
)

// zeroDecoder hands back silence for every frame, enough to exercise
// Profile.ReadOptions() feeding read.New without a real codec.
type zeroDecoder struct {
	numFrames uint64
	pos       uint64
}

func (d *zeroDecoder) Seek(_ context.Context, frame uint64) error {
	if frame > d.numFrames {
		frame = d.numFrames
	}
	d.pos = frame
	return nil
}

func (d *zeroDecoder) Decode(_ context.Context, block *pcm.Block[float32]) error {
	block.Clear()
	n := 0
	for n < block.BlockSize() && d.pos < d.numFrames {
		d.pos++
		n++
	}
	block.FramesWritten = n
	return nil
}

func (d *zeroDecoder) CurrentFrame() uint64 { return d.pos }
func (d *zeroDecoder) Close() error         { return nil }

type discardEncoder struct{}

func (discardEncoder) Encode(_ context.Context, _ *pcm.Block[float32]) (codec.WriteStatus, error) {
	return codec.WriteStatus{}, nil
}
func (discardEncoder) FinishFile(_ context.Context) error        { return nil }
func (discardEncoder) DiscardFile(_ context.Context) error       { return nil }
func (discardEncoder) DiscardAndRestart(_ context.Context) error { return nil }
func (discardEncoder) Close() error                              { return nil }

// TestProfileWiresReadAndWriteOptions confirms a loaded Profile's
// ReadOptions/WriteOptions produce valid read.Options/write.Options that
// read.New and write.New accept directly, with no manual translation.
func TestProfileWiresReadAndWriteOptions(t *testing.T) {
	path := writeProfile(t, `
stream:
  name: studio-a
read:
  block_size: 512
  num_cache_blocks: 2
  num_caches: 2
  num_lookahead_blocks: 2
  poll_interval: 1ms
write:
  block_size: 512
  num_write_ahead_blocks: 2
  poll_interval: 1ms
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dec := &zeroDecoder{numFrames: 2048}
	info := codec.FileInfo{NumFrames: 2048, NumChannels: 1, SampleRate: 44100}
	rc, err := read.New[float32](context.Background(), dec, info, p.ReadOptions(), nil)
	if err != nil {
		t.Fatalf("read.New with profile options: %v", err)
	}
	defer rc.Close()

	wc, err := write.New[float32](context.Background(), discardEncoder{}, 1, p.WriteOptions(), nil)
	if err != nil {
		t.Fatalf("write.New with profile options: %v", err)
	}
	defer wc.Close()

	deadline := time.Now().Add(2 * time.Second)
	buf := make([]float32, 64)
	bufs := [][]float32{buf}
	for {
		n, err := rc.Read(bufs)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("read client never produced frames using profile-derived options")
		}
		time.Sleep(time.Millisecond)
	}

	if !wc.IsReady() {
		t.Fatalf("write client not ready using profile-derived options")
	}
}
