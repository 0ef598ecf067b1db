// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package zcodec

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/throttle"
)

// encoderBase streams raw interleaved PCM bytes through a compression
// writer into a temp file, patches the fixed-size header once the final
// frame count is known, then renames to the final path. Per-file size
// limits are not supported for compressed output: the ratio depends on
// content, so byte-budget rollover would need to decompress-and-recount on
// every write, which defeats streaming compression.
type encoderBase struct {
	dir         string
	baseName    string
	compression Compression
	sampleWidth int
	numChannels int

	f         *os.File
	tmpPath   string
	finalPath string
	zw        io.WriteCloser
	numFrames uint64

	throttleCtx   context.Context
	throttleBps   int64
	throttleBurst int64

	archiver      codec.Archiver
	archiveKeyPfx string
}

func newEncoderBase(dir, baseName string, compression Compression, sampleWidth, numChannels int, throttleCtx context.Context, bytesPerSec, burstBytes int64) (*encoderBase, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("zcodec: creating output directory: %w", err)
	}
	final := filepath.Join(dir, baseName+".pcmz")
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("zcodec: creating temp file: %w", err)
	}

	var hdr [headerSize]byte
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("zcodec: writing placeholder header: %w", err)
	}

	var dest io.Writer = f
	if bytesPerSec > 0 {
		dest = throttle.NewWriter(throttleCtx, f, bytesPerSec, burstBytes)
	}

	var zw io.WriteCloser
	switch compression {
	case CompressionGzip:
		zw = pgzip.NewWriter(dest)
	case CompressionZstd:
		enc, err := zstd.NewWriter(dest)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zcodec: creating zstd writer: %w", err)
		}
		zw = enc
	default:
		f.Close()
		return nil, fmt.Errorf("zcodec: unknown compression %v", compression)
	}

	return &encoderBase{
		dir: dir, baseName: baseName, compression: compression,
		sampleWidth: sampleWidth, numChannels: numChannels,
		f: f, tmpPath: tmp, finalPath: final, zw: zw,
		throttleCtx: throttleCtx, throttleBps: bytesPerSec, throttleBurst: burstBytes,
	}, nil
}

// SetArchiver registers a remote archival target: once a file is committed
// (FinishFile), it is handed to a.PutFile under keyPrefix+baseName+".pcmz".
func (b *encoderBase) SetArchiver(a codec.Archiver, keyPrefix string) {
	b.archiver = a
	b.archiveKeyPfx = keyPrefix
}

func (b *encoderBase) writeFrames(raw []byte, frames int) error {
	if _, err := b.zw.Write(raw); err != nil {
		return fmt.Errorf("zcodec: writing compressed frames: %w", err)
	}
	b.numFrames += uint64(frames)
	return nil
}

func (b *encoderBase) patchHeader() error {
	var hdr [headerSize]byte
	copy(hdr[0:4], magic[:])
	hdr[4] = byte(b.compression)
	hdr[5] = byte(b.sampleWidth)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(b.numChannels))
	binary.LittleEndian.PutUint64(hdr[8:16], b.numFrames)
	if _, err := b.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("zcodec: patching header: %w", err)
	}
	return nil
}

func (b *encoderBase) commit(ctx context.Context) error {
	if err := b.zw.Close(); err != nil {
		return fmt.Errorf("zcodec: closing compression writer: %w", err)
	}
	if err := b.patchHeader(); err != nil {
		return err
	}
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("zcodec: closing temp file: %w", err)
	}
	if err := os.Rename(b.tmpPath, b.finalPath); err != nil {
		return fmt.Errorf("zcodec: renaming temp to final: %w", err)
	}
	if b.archiver != nil {
		key := b.archiveKeyPfx + filepath.Base(b.finalPath)
		if err := b.archiver.PutFile(ctx, key, b.finalPath); err != nil {
			return fmt.Errorf("zcodec: archiving %s: %w", b.finalPath, err)
		}
	}
	return nil
}

func (b *encoderBase) discard() error {
	b.zw.Close()
	b.f.Close()
	return os.Remove(b.tmpPath)
}

// Float32Encoder implements codec.Encoder[float32] over a compressed
// container.
type Float32Encoder struct{ *encoderBase }

// NewFloat32Encoder creates a compressed encoder writing dir/baseName.pcmz.
func NewFloat32Encoder(dir, baseName string, compression Compression, numChannels int) (*Float32Encoder, error) {
	b, err := newEncoderBase(dir, baseName, compression, 4, numChannels, context.Background(), 0, 0)
	if err != nil {
		return nil, err
	}
	return &Float32Encoder{b}, nil
}

// NewFloat32EncoderThrottled creates a compressed encoder whose compression
// writer is rate-limited to bytesPerSec (with burstBytes of headroom) before
// it ever reaches disk. ctx bounds the throttle's wait calls; canceling it
// aborts any write blocked on the rate limiter.
func NewFloat32EncoderThrottled(dir, baseName string, compression Compression, numChannels int, ctx context.Context, bytesPerSec, burstBytes int64) (*Float32Encoder, error) {
	b, err := newEncoderBase(dir, baseName, compression, 4, numChannels, ctx, bytesPerSec, burstBytes)
	if err != nil {
		return nil, err
	}
	return &Float32Encoder{b}, nil
}

func (e *Float32Encoder) Encode(_ context.Context, block *pcm.Block[float32]) (codec.WriteStatus, error) {
	n := block.FramesWritten
	raw := make([]byte, n*e.numChannels*4)
	for i := 0; i < n; i++ {
		for ch := 0; ch < e.numChannels; ch++ {
			off := (i*e.numChannels + ch) * 4
			binary.LittleEndian.PutUint32(raw[off:off+4], math.Float32bits(block.Channels[ch][i]))
		}
	}
	if err := e.writeFrames(raw, n); err != nil {
		return codec.WriteStatus{}, err
	}
	return codec.WriteStatus{NumFiles: 1}, nil
}

func (e *Float32Encoder) FinishFile(ctx context.Context) error { return e.commit(ctx) }
func (e *Float32Encoder) DiscardFile(_ context.Context) error  { return e.discard() }
func (e *Float32Encoder) DiscardAndRestart(ctx context.Context) error {
	if err := e.discard(); err != nil {
		return err
	}
	archiver, archiveKeyPfx := e.archiver, e.archiveKeyPfx
	b, err := newEncoderBase(e.dir, e.baseName, e.compression, e.sampleWidth, e.numChannels, e.throttleCtx, e.throttleBps, e.throttleBurst)
	if err != nil {
		return err
	}
	b.archiver, b.archiveKeyPfx = archiver, archiveKeyPfx
	e.encoderBase = b
	return nil
}
func (e *Float32Encoder) Close() error { return nil }
