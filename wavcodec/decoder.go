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

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/throttle"
)

// OpenInfo is the result of probing a WAV file's header, independent of the
// sample type the caller eventually decodes into.
type OpenInfo struct {
	Format      Format
	NumChannels int
	SampleRate  uint32
	NumFrames   uint64
}

// Probe reads the RIFF/fmt/data headers of path without decoding any audio,
// returning enough information to choose the right Decoder type.
func Probe(path string) (OpenInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return OpenInfo{}, fmt.Errorf("wavcodec: opening %s: %w", path, err)
	}
	defer f.Close()
	return readHeader(f)
}

func readHeader(f *os.File) (OpenInfo, error) {
	var hdr [44]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return OpenInfo{}, fmt.Errorf("wavcodec: reading header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return OpenInfo{}, fmt.Errorf("wavcodec: not a RIFF/WAVE file")
	}
	if string(hdr[12:16]) != "fmt " {
		return OpenInfo{}, fmt.Errorf("wavcodec: missing fmt chunk")
	}

	audioFormat := binary.LittleEndian.Uint16(hdr[20:22])
	numChannels := binary.LittleEndian.Uint16(hdr[22:24])
	sampleRate := binary.LittleEndian.Uint32(hdr[24:28])
	bits := binary.LittleEndian.Uint16(hdr[34:36])

	var format Format
	switch {
	case audioFormat == wavFormatPCM && bits == 16:
		format = FormatInt16
	case audioFormat == wavFormatIEEEFloat && bits == 32:
		format = FormatFloat32
	default:
		return OpenInfo{}, fmt.Errorf("wavcodec: unsupported format tag=%d bits=%d", audioFormat, bits)
	}

	if string(hdr[36:40]) != "data" {
		return OpenInfo{}, fmt.Errorf("wavcodec: missing data chunk")
	}
	dataSize := binary.LittleEndian.Uint32(hdr[40:44])
	frameSize := int(numChannels) * bytesPerSample(format)
	numFrames := uint64(0)
	if frameSize > 0 {
		numFrames = uint64(dataSize) / uint64(frameSize)
	}

	return OpenInfo{
		Format:      format,
		NumChannels: int(numChannels),
		SampleRate:  sampleRate,
		NumFrames:   numFrames,
	}, nil
}

// decoderBase holds the file handle and geometry shared by both concrete
// sample-type decoders.
type decoderBase struct {
	f            *os.File
	reader       io.Reader
	info         OpenInfo
	frameSize    int
	currentFrame uint64
}

func openBase(path string, want Format) (*decoderBase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavcodec: opening %s: %w", path, err)
	}
	info, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Format != want {
		f.Close()
		return nil, fmt.Errorf("wavcodec: %s is %s, not %s", path, info.Format, want)
	}
	return &decoderBase{f: f, reader: f, info: info, frameSize: info.NumChannels * bytesPerSample(info.Format)}, nil
}

// SetThrottle rate-limits subsequent reads to bytesPerSec, with burstBytes of
// headroom. ctx bounds the throttle's wait calls; canceling it aborts any
// read blocked on the rate limiter. A following seek does not reset the
// throttle's budget.
func (d *decoderBase) SetThrottle(ctx context.Context, bytesPerSec, burstBytes int64) {
	d.reader = throttle.NewReader(ctx, d.f, bytesPerSec, burstBytes)
}

func (d *decoderBase) seek(frame uint64) error {
	if frame > d.info.NumFrames {
		frame = d.info.NumFrames
	}
	off := int64(wavDataOffset) + int64(frame)*int64(d.frameSize)
	if _, err := d.f.Seek(off, 0); err != nil {
		return fmt.Errorf("wavcodec: seeking: %w", err)
	}
	d.currentFrame = frame
	return nil
}

func (d *decoderBase) readRaw(maxFrames int) ([]byte, int, error) {
	remaining := d.info.NumFrames - d.currentFrame
	n := maxFrames
	if uint64(n) > remaining {
		n = int(remaining)
	}
	if n <= 0 {
		return nil, 0, nil
	}
	buf := make([]byte, n*d.frameSize)
	if _, err := io.ReadFull(d.reader, buf); err != nil {
		return nil, 0, fmt.Errorf("wavcodec: reading frames: %w", err)
	}
	d.currentFrame += uint64(n)
	return buf, n, nil
}

// Int16Decoder implements codec.Decoder[int16] for 16-bit PCM WAV files.
type Int16Decoder struct{ *decoderBase }

// OpenInt16 opens path as a 16-bit PCM WAV file for decoding.
func OpenInt16(path string) (*Int16Decoder, error) {
	b, err := openBase(path, FormatInt16)
	if err != nil {
		return nil, err
	}
	return &Int16Decoder{b}, nil
}

// OpenInt16Throttled opens path like OpenInt16, with reads rate-limited to
// bytesPerSec (see decoderBase.SetThrottle).
func OpenInt16Throttled(path string, ctx context.Context, bytesPerSec, burstBytes int64) (*Int16Decoder, error) {
	b, err := openBase(path, FormatInt16)
	if err != nil {
		return nil, err
	}
	b.SetThrottle(ctx, bytesPerSec, burstBytes)
	return &Int16Decoder{b}, nil
}

func (d *Int16Decoder) Info() codec.FileInfo {
	return codec.FileInfo{NumFrames: d.info.NumFrames, NumChannels: d.info.NumChannels, SampleRate: d.info.SampleRate}
}

func (d *Int16Decoder) Seek(_ context.Context, frame uint64) error { return d.seek(frame) }

func (d *Int16Decoder) CurrentFrame() uint64 { return d.currentFrame }

func (d *Int16Decoder) Close() error { return d.f.Close() }

func (d *Int16Decoder) Decode(_ context.Context, block *pcm.Block[int16]) error {
	block.Clear()
	raw, n, err := d.readRaw(block.BlockSize())
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < d.info.NumChannels; ch++ {
			off := (i*d.info.NumChannels + ch) * 2
			block.Channels[ch][i] = int16(binary.LittleEndian.Uint16(raw[off : off+2]))
		}
	}
	block.FramesWritten = n
	return nil
}

// Float32Decoder implements codec.Decoder[float32] for 32-bit IEEE float WAV files.
type Float32Decoder struct{ *decoderBase }

// OpenFloat32 opens path as a 32-bit IEEE float WAV file for decoding.
func OpenFloat32(path string) (*Float32Decoder, error) {
	b, err := openBase(path, FormatFloat32)
	if err != nil {
		return nil, err
	}
	return &Float32Decoder{b}, nil
}

// OpenFloat32Throttled opens path like OpenFloat32, with reads rate-limited
// to bytesPerSec (see decoderBase.SetThrottle).
func OpenFloat32Throttled(path string, ctx context.Context, bytesPerSec, burstBytes int64) (*Float32Decoder, error) {
	b, err := openBase(path, FormatFloat32)
	if err != nil {
		return nil, err
	}
	b.SetThrottle(ctx, bytesPerSec, burstBytes)
	return &Float32Decoder{b}, nil
}

func (d *Float32Decoder) Info() codec.FileInfo {
	return codec.FileInfo{NumFrames: d.info.NumFrames, NumChannels: d.info.NumChannels, SampleRate: d.info.SampleRate}
}

func (d *Float32Decoder) Seek(_ context.Context, frame uint64) error { return d.seek(frame) }

func (d *Float32Decoder) CurrentFrame() uint64 { return d.currentFrame }

func (d *Float32Decoder) Close() error { return d.f.Close() }

func (d *Float32Decoder) Decode(_ context.Context, block *pcm.Block[float32]) error {
	block.Clear()
	raw, n, err := d.readRaw(block.BlockSize())
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < d.info.NumChannels; ch++ {
			off := (i*d.info.NumChannels + ch) * 4
			bits := binary.LittleEndian.Uint32(raw[off : off+4])
			block.Channels[ch][i] = math.Float32frombits(bits)
		}
	}
	block.FramesWritten = n
	return nil
}
