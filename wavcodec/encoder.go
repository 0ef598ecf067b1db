// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wavcodec

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/throttle"
)

// encoderBase holds the atomic-write state shared by both concrete
// sample-type encoders: write to a .tmp file, patch the header sizes, then
// rename to the final name, so a file only appears under its final name once
// it is complete.
type encoderBase struct {
	dir         string
	baseName    string // without extension
	format      Format
	numChannels int
	sampleRate  uint32
	maxBytes    uint64 // 0 means unbounded

	f         *os.File
	writer    io.Writer
	tmpPath   string
	finalPath string
	dataBytes uint64
	fileIndex int

	throttleCtx   context.Context
	throttleBps   int64
	throttleBurst int64

	archiver      codec.Archiver
	archiveKeyPfx string
}

func newEncoderBase(dir, baseName string, format Format, numChannels int, sampleRate uint32, maxBytes uint64, throttleCtx context.Context, bytesPerSec, burstBytes int64) (*encoderBase, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("wavcodec: creating output directory: %w", err)
	}
	b := &encoderBase{
		dir: dir, baseName: baseName, format: format, numChannels: numChannels, sampleRate: sampleRate, maxBytes: maxBytes,
		throttleCtx: throttleCtx, throttleBps: bytesPerSec, throttleBurst: burstBytes,
	}
	if err := b.openNewFile(); err != nil {
		return nil, err
	}
	return b, nil
}

// SetArchiver registers a remote archival target: once a file is committed
// (FinishFile or size-rollover), it is handed to a.PutFile under
// keyPrefix+filename.
func (b *encoderBase) SetArchiver(a codec.Archiver, keyPrefix string) {
	b.archiver = a
	b.archiveKeyPfx = keyPrefix
}

func (b *encoderBase) suffixedName() string {
	if b.fileIndex == 0 {
		return b.baseName + ".wav"
	}
	return fmt.Sprintf("%s_%03d.wav", b.baseName, b.fileIndex)
}

func (b *encoderBase) openNewFile() error {
	final := filepath.Join(b.dir, b.suffixedName())
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("wavcodec: creating temp file: %w", err)
	}
	if err := writePlaceholderHeader(f, b.format, b.numChannels, b.sampleRate); err != nil {
		f.Close()
		return err
	}
	var w io.Writer = f
	if b.throttleBps > 0 {
		w = throttle.NewWriter(b.throttleCtx, f, b.throttleBps, b.throttleBurst)
	}
	b.f = f
	b.writer = w
	b.tmpPath = tmp
	b.finalPath = final
	b.dataBytes = 0
	return nil
}

func writePlaceholderHeader(f *os.File, format Format, numChannels int, sampleRate uint32) error {
	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], audioFormatTag(format))
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(numChannels))
	binary.LittleEndian.PutUint32(hdr[24:28], sampleRate)
	byteRate := sampleRate * uint32(numChannels) * uint32(bytesPerSample(format))
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(numChannels*bytesPerSample(format)))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample(format))
	copy(hdr[36:40], "data")
	_, err := f.Write(hdr[:])
	if err != nil {
		return fmt.Errorf("wavcodec: writing header: %w", err)
	}
	return nil
}

func (b *encoderBase) patchHeader() error {
	dataSize := b.dataBytes
	riffSize := uint32(36 + dataSize)
	var sizes [4]byte
	binary.LittleEndian.PutUint32(sizes[:], riffSize)
	if _, err := b.f.WriteAt(sizes[:], 4); err != nil {
		return fmt.Errorf("wavcodec: patching riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(sizes[:], uint32(dataSize))
	if _, err := b.f.WriteAt(sizes[:], 40); err != nil {
		return fmt.Errorf("wavcodec: patching data size: %w", err)
	}
	return nil
}

func (b *encoderBase) commit(ctx context.Context) error {
	if err := b.patchHeader(); err != nil {
		return err
	}
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("wavcodec: closing temp file: %w", err)
	}
	if err := os.Rename(b.tmpPath, b.finalPath); err != nil {
		return fmt.Errorf("wavcodec: renaming temp to final: %w", err)
	}
	if b.archiver != nil {
		key := b.archiveKeyPfx + filepath.Base(b.finalPath)
		if err := b.archiver.PutFile(ctx, key, b.finalPath); err != nil {
			return fmt.Errorf("wavcodec: archiving %s: %w", b.finalPath, err)
		}
	}
	return nil
}

func (b *encoderBase) discard() error {
	b.f.Close()
	if err := os.Remove(b.tmpPath); err != nil && !strings.Contains(err.Error(), "no such file") {
		return fmt.Errorf("wavcodec: removing temp file: %w", err)
	}
	return nil
}

// writeFrames writes raw interleaved bytes, rolling over to a new file if
// maxBytes would be exceeded. It reports whether a rollover happened.
func (b *encoderBase) writeFrames(ctx context.Context, raw []byte) (bool, error) {
	rolled := false
	if b.maxBytes > 0 && b.dataBytes+uint64(len(raw)) > b.maxBytes {
		if err := b.commit(ctx); err != nil {
			return false, err
		}
		b.fileIndex++
		if err := b.openNewFile(); err != nil {
			return false, err
		}
		rolled = true
	}
	if _, err := b.writer.Write(raw); err != nil {
		return false, fmt.Errorf("wavcodec: writing frames: %w", err)
	}
	b.dataBytes += uint64(len(raw))
	return rolled, nil
}

// Int16Encoder implements codec.Encoder[int16], writing 16-bit PCM WAV files.
type Int16Encoder struct{ *encoderBase }

// NewInt16Encoder creates an encoder writing to dir/baseName(.wav|_NNN.wav).
// maxBytes of 0 means the output file size is unbounded.
func NewInt16Encoder(dir, baseName string, numChannels int, sampleRate uint32, maxBytes uint64) (*Int16Encoder, error) {
	b, err := newEncoderBase(dir, baseName, FormatInt16, numChannels, sampleRate, maxBytes, context.Background(), 0, 0)
	if err != nil {
		return nil, err
	}
	return &Int16Encoder{b}, nil
}

// NewInt16EncoderThrottled creates an Int16Encoder whose disk writes are
// rate-limited to bytesPerSec (with burstBytes of headroom). ctx bounds the
// throttle's wait calls.
func NewInt16EncoderThrottled(dir, baseName string, numChannels int, sampleRate uint32, maxBytes uint64, ctx context.Context, bytesPerSec, burstBytes int64) (*Int16Encoder, error) {
	b, err := newEncoderBase(dir, baseName, FormatInt16, numChannels, sampleRate, maxBytes, ctx, bytesPerSec, burstBytes)
	if err != nil {
		return nil, err
	}
	return &Int16Encoder{b}, nil
}

func (e *Int16Encoder) Encode(ctx context.Context, block *pcm.Block[int16]) (codec.WriteStatus, error) {
	n := block.FramesWritten
	raw := make([]byte, n*e.numChannels*2)
	for i := 0; i < n; i++ {
		for ch := 0; ch < e.numChannels; ch++ {
			off := (i*e.numChannels + ch) * 2
			binary.LittleEndian.PutUint16(raw[off:off+2], uint16(block.Channels[ch][i]))
		}
	}
	rolled, err := e.writeFrames(ctx, raw)
	if err != nil {
		return codec.WriteStatus{}, err
	}
	return codec.WriteStatus{ReachedMaxSize: rolled, NumFiles: e.fileIndex + 1}, nil
}

func (e *Int16Encoder) FinishFile(ctx context.Context) error { return e.commit(ctx) }

func (e *Int16Encoder) DiscardFile(_ context.Context) error { return e.discard() }

func (e *Int16Encoder) DiscardAndRestart(_ context.Context) error {
	if err := e.discard(); err != nil {
		return err
	}
	return e.openNewFile()
}

func (e *Int16Encoder) Close() error { return nil }

// Float32Encoder implements codec.Encoder[float32], writing 32-bit IEEE float WAV files.
type Float32Encoder struct{ *encoderBase }

// NewFloat32Encoder creates an encoder writing to dir/baseName(.wav|_NNN.wav).
func NewFloat32Encoder(dir, baseName string, numChannels int, sampleRate uint32, maxBytes uint64) (*Float32Encoder, error) {
	b, err := newEncoderBase(dir, baseName, FormatFloat32, numChannels, sampleRate, maxBytes, context.Background(), 0, 0)
	if err != nil {
		return nil, err
	}
	return &Float32Encoder{b}, nil
}

// NewFloat32EncoderThrottled creates a Float32Encoder whose disk writes are
// rate-limited to bytesPerSec (with burstBytes of headroom). ctx bounds the
// throttle's wait calls.
func NewFloat32EncoderThrottled(dir, baseName string, numChannels int, sampleRate uint32, maxBytes uint64, ctx context.Context, bytesPerSec, burstBytes int64) (*Float32Encoder, error) {
	b, err := newEncoderBase(dir, baseName, FormatFloat32, numChannels, sampleRate, maxBytes, ctx, bytesPerSec, burstBytes)
	if err != nil {
		return nil, err
	}
	return &Float32Encoder{b}, nil
}

func (e *Float32Encoder) Encode(ctx context.Context, block *pcm.Block[float32]) (codec.WriteStatus, error) {
	n := block.FramesWritten
	raw := make([]byte, n*e.numChannels*4)
	for i := 0; i < n; i++ {
		for ch := 0; ch < e.numChannels; ch++ {
			off := (i*e.numChannels + ch) * 4
			binary.LittleEndian.PutUint32(raw[off:off+4], math.Float32bits(block.Channels[ch][i]))
		}
	}
	rolled, err := e.writeFrames(ctx, raw)
	if err != nil {
		return codec.WriteStatus{}, err
	}
	return codec.WriteStatus{ReachedMaxSize: rolled, NumFiles: e.fileIndex + 1}, nil
}

func (e *Float32Encoder) FinishFile(ctx context.Context) error { return e.commit(ctx) }

func (e *Float32Encoder) DiscardFile(_ context.Context) error { return e.discard() }

func (e *Float32Encoder) DiscardAndRestart(_ context.Context) error {
	if err := e.discard(); err != nil {
		return err
	}
	return e.openNewFile()
}

func (e *Float32Encoder) Close() error { return nil }
