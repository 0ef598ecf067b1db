// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package zcodec

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nishisan-dev/pcmstream/pcm"
)

// memArchiver records every PutFile call instead of reaching a real bucket.
type memArchiver struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (a *memArchiver) PutFile(_ context.Context, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.puts == nil {
		a.puts = make(map[string][]byte)
	}
	a.puts[key] = data
	return nil
}

func (a *memArchiver) get(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.puts[key]
	return b, ok
}

func TestEncoderFinishFileArchivesViaArchiver(t *testing.T) {
	dir := t.TempDir()
	enc, err := NewFloat32Encoder(dir, "take1", CompressionZstd, 2)
	if err != nil {
		t.Fatalf("NewFloat32Encoder: %v", err)
	}

	arch := &memArchiver{}
	enc.SetArchiver(arch, "recordings/")

	block := pcm.NewBlock[float32](2, 4)
	block.Channels[0][0], block.Channels[1][0] = 1, -1
	block.Channels[0][1], block.Channels[1][1] = 2, -2
	block.FramesWritten = 2
	if _, err := enc.Encode(context.Background(), block); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := enc.FinishFile(context.Background()); err != nil {
		t.Fatalf("FinishFile: %v", err)
	}

	finalPath := filepath.Join(dir, "take1.pcmz")
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("expected committed file at %s: %v", finalPath, err)
	}

	data, ok := arch.get("recordings/take1.pcmz")
	if !ok {
		t.Fatalf("FinishFile never handed the committed file to the archiver")
	}
	onDisk, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("reading committed file: %v", err)
	}
	if string(data) != string(onDisk) {
		t.Fatalf("archived bytes do not match the committed file on disk")
	}

	dec, err := OpenFloat32(finalPath)
	if err != nil {
		t.Fatalf("OpenFloat32: %v", err)
	}
	defer dec.Close()
	out := pcm.NewBlock[float32](2, 4)
	if err := dec.Decode(context.Background(), out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.FramesWritten != 2 || out.Channels[0][0] != 1 || out.Channels[1][1] != -2 {
		t.Fatalf("decoded frames do not round-trip: %+v", out)
	}
}

func TestThrottledEncoderWritesAreReadable(t *testing.T) {
	dir := t.TempDir()
	enc, err := NewFloat32EncoderThrottled(dir, "take2", CompressionGzip, 1, context.Background(), 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("NewFloat32EncoderThrottled: %v", err)
	}

	block := pcm.NewBlock[float32](1, 4)
	block.Channels[0][0] = 9
	block.FramesWritten = 1
	if _, err := enc.Encode(context.Background(), block); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := enc.FinishFile(context.Background()); err != nil {
		t.Fatalf("FinishFile: %v", err)
	}

	dec, err := OpenFloat32(filepath.Join(dir, "take2.pcmz"))
	if err != nil {
		t.Fatalf("OpenFloat32: %v", err)
	}
	defer dec.Close()
	out := pcm.NewBlock[float32](1, 4)
	if err := dec.Decode(context.Background(), out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.FramesWritten != 1 || out.Channels[0][0] != 9 {
		t.Fatalf("throttled encoder output did not round-trip: %+v", out)
	}
}

func TestDiscardAndRestartPreservesArchiverAndThrottle(t *testing.T) {
	dir := t.TempDir()
	enc, err := NewFloat32EncoderThrottled(dir, "take3", CompressionGzip, 1, context.Background(), 1<<20, 1<<20)
	if err != nil {
		t.Fatalf("NewFloat32EncoderThrottled: %v", err)
	}
	arch := &memArchiver{}
	enc.SetArchiver(arch, "recordings/")

	block := pcm.NewBlock[float32](1, 4)
	block.Channels[0][0] = 1
	block.FramesWritten = 1
	if _, err := enc.Encode(context.Background(), block); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := enc.DiscardAndRestart(context.Background()); err != nil {
		t.Fatalf("DiscardAndRestart: %v", err)
	}
	if enc.archiver != arch || enc.archiveKeyPfx != "recordings/" {
		t.Fatalf("DiscardAndRestart lost the archiver configuration")
	}
	if enc.throttleBps != 1<<20 {
		t.Fatalf("DiscardAndRestart lost the throttle configuration")
	}

	if err := enc.FinishFile(context.Background()); err != nil {
		t.Fatalf("FinishFile after restart: %v", err)
	}
	if _, ok := arch.get("recordings/take3.pcmz"); !ok {
		t.Fatalf("archiver was not invoked after DiscardAndRestart")
	}
}
