// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wavcodec

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/read"
	"github.com/nishisan-dev/pcmstream/write"
)

// writeRampFixture writes a mono float32 WAV file of numFrames frames where
// sample i is float32(i), for use as a deterministic read-side fixture.
func writeRampFixture(t *testing.T, dir string, numFrames int) string {
	t.Helper()
	enc, err := NewFloat32Encoder(dir, "ramp", 1, 44100, 0)
	if err != nil {
		t.Fatalf("NewFloat32Encoder: %v", err)
	}
	const chunk = 256
	block := pcm.NewBlock[float32](1, chunk)
	for base := 0; base < numFrames; base += chunk {
		n := chunk
		if base+n > numFrames {
			n = numFrames - base
		}
		block.Clear()
		for i := 0; i < n; i++ {
			block.Channels[0][i] = float32(base + i)
		}
		block.FramesWritten = n
		if _, err := enc.Encode(context.Background(), block); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	if err := enc.FinishFile(context.Background()); err != nil {
		t.Fatalf("FinishFile: %v", err)
	}
	return filepath.Join(dir, "ramp.wav")
}

func waitReadReady(t *testing.T, c *read.Client[float32]) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.IsReady() {
		if time.Now().After(deadline) {
			t.Fatalf("read client never became ready")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestReadSequentialThenSeekAgainstWavFixture exercises spec.md's §8
// scenarios 1-3 shape: two sequential reads followed by a NoCache seek, all
// against a file produced by this package's own encoder rather than an
// external binary asset.
func TestReadSequentialThenSeekAgainstWavFixture(t *testing.T) {
	dir := t.TempDir()
	const numFrames = 2000
	path := writeRampFixture(t, dir, numFrames)

	dec, err := OpenFloat32(path)
	if err != nil {
		t.Fatalf("OpenFloat32: %v", err)
	}
	info := dec.Info()
	if info.NumFrames != numFrames {
		t.Fatalf("expected %d frames in fixture, got %d", numFrames, info.NumFrames)
	}

	opts := read.Options{BlockSize: 16, NumCacheBlocks: 2, NumLookAheadBlocks: 4, NumCaches: 1, PollInterval: time.Millisecond}
	client, err := read.New[float32](context.Background(), dec, info, opts, nil)
	if err != nil {
		t.Fatalf("read.New: %v", err)
	}
	defer client.Close()
	waitReadReady(t, client)

	// Scenario 1: first 10 samples equal frames [0, 10).
	buf := [][]float32{make([]float32, 10)}
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 frames, got %d", n)
	}
	for i, v := range buf[0] {
		if v != float32(i) {
			t.Fatalf("scenario 1 frame %d: expected %v got %v", i, float32(i), v)
		}
	}

	// Scenario 2: next 10 samples equal frames [10, 20).
	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 frames, got %d", n)
	}
	for i, v := range buf[0] {
		want := float32(10 + i)
		if v != want {
			t.Fatalf("scenario 2 frame %d: expected %v got %v", i, want, v)
		}
	}

	// Scenario 3: seek(numFrames-1-16, NoCache), block_until_ready, read(10)
	// returns the samples starting at that frame.
	target := uint64(numFrames - 1 - 16)
	if err := client.Seek(target, read.SeekNoCache); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := client.BlockUntilReady(); err != nil {
		t.Fatalf("BlockUntilReady: %v", err)
	}
	n, err = client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 frames after seek, got %d", n)
	}
	for i, v := range buf[0] {
		want := float32(target) + float32(i)
		if v != want {
			t.Fatalf("scenario 3 frame %d: expected %v got %v", i, want, v)
		}
	}
}

// TestWriteRoundTripChunkedBelowBlockSize exercises spec.md's §8 scenario 6
// shape (chunked writes followed by finish-and-close round-tripping exactly)
// with every chunk length kept at or below BlockSize, honoring the write
// client's L <= B validation.
func TestWriteRoundTripChunkedBelowBlockSize(t *testing.T) {
	dir := t.TempDir()
	const blockSize = 16
	const numBlocks = 20

	enc, err := NewFloat32Encoder(dir, "written", 1, 44100, 0)
	if err != nil {
		t.Fatalf("NewFloat32Encoder: %v", err)
	}
	opts := write.Options{BlockSize: blockSize, NumWriteAheadBlocks: 4, PollInterval: time.Millisecond}
	client, err := write.New[float32](context.Background(), enc, 1, opts, nil)
	if err != nil {
		t.Fatalf("write.New: %v", err)
	}
	defer client.Close()

	total := blockSize * numBlocks
	samples := make([]float32, total)
	for i := range samples {
		samples[i] = float32(i)
	}

	chunkSizes := []int{blockSize / 2, blockSize, blockSize - 3, blockSize}
	pos := 0
	ci := 0
	for pos < total {
		size := chunkSizes[ci%len(chunkSizes)]
		ci++
		if pos+size > total {
			size = total - pos
		}
		chunkEnd := pos + size
		for pos < chunkEnd {
			n, err := client.Write([][]float32{samples[pos:chunkEnd]})
			pos += n
			if err == write.ErrNoBlockAvailable {
				if berr := client.BlockUntilReady(); berr != nil {
					t.Fatalf("BlockUntilReady: %v", berr)
				}
				continue
			}
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
		}
	}

	if err := client.FinishFile(); err != nil {
		t.Fatalf("FinishFile: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		done, _ := client.FinishComplete()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("FinishFile never completed")
		}
		time.Sleep(time.Millisecond)
	}

	dec, err := OpenFloat32(filepath.Join(dir, "written.wav"))
	if err != nil {
		t.Fatalf("OpenFloat32: %v", err)
	}
	defer dec.Close()
	info := dec.Info()
	if info.NumFrames != uint64(total) {
		t.Fatalf("expected %d frames written, got %d", total, info.NumFrames)
	}

	readBack := make([]float32, 0, total)
	block := pcm.NewBlock[float32](1, blockSize)
	for {
		if err := dec.Decode(context.Background(), block); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if block.FramesWritten == 0 {
			break
		}
		readBack = append(readBack, block.Channels[0][:block.FramesWritten]...)
	}
	if len(readBack) != total {
		t.Fatalf("expected %d decoded frames, got %d", total, len(readBack))
	}
	for i, v := range readBack {
		if v != samples[i] {
			t.Fatalf("frame %d: expected %v got %v", i, samples[i], v)
		}
	}
}
