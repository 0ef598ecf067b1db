// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package zcodec

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
)

// header describes a zcodec container, read once at Open time.
type header struct {
	Compression Compression
	SampleWidth int
	NumChannels int
	NumFrames   uint64
}

func readHeader(path string) (header, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return header{}, nil, fmt.Errorf("zcodec: reading %s: %w", path, err)
	}
	if len(raw) < headerSize || !bytes.Equal(raw[0:4], magic[:]) {
		return header{}, nil, fmt.Errorf("zcodec: not a zcodec container")
	}
	h := header{
		Compression: Compression(raw[4]),
		SampleWidth: int(raw[5]),
		NumChannels: int(binary.LittleEndian.Uint16(raw[6:8])),
		NumFrames:   binary.LittleEndian.Uint64(raw[8:16]),
	}
	return h, raw[headerSize:], nil
}

func decompressAll(h header, compressed []byte) ([]byte, error) {
	var zr io.ReadCloser
	var err error
	switch h.Compression {
	case CompressionGzip:
		zr, err = pgzip.NewReader(bytes.NewReader(compressed))
	case CompressionZstd:
		dec, derr := zstd.NewReader(bytes.NewReader(compressed))
		err = derr
		if derr == nil {
			zr = dec.IOReadCloser()
		}
	default:
		return nil, fmt.Errorf("zcodec: unknown compression %d", h.Compression)
	}
	if err != nil {
		return nil, fmt.Errorf("zcodec: opening decompressor: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("zcodec: decompressing: %w", err)
	}
	return out, nil
}

// Float32Decoder implements codec.Decoder[float32] over a compressed
// container. The whole stream is decompressed into memory at Open time;
// this trades memory for simplicity and is intended for archival files
// short enough to fit comfortably in RAM, not unbounded live captures.
type Float32Decoder struct {
	info  header
	data  []byte // decompressed interleaved float32 frames
	frame uint64
}

// OpenFloat32 opens path as a zcodec float32 container.
func OpenFloat32(path string) (*Float32Decoder, error) {
	h, compressed, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	if h.SampleWidth != 4 {
		return nil, fmt.Errorf("zcodec: %s is sample width %d, not float32", path, h.SampleWidth)
	}
	data, err := decompressAll(h, compressed)
	if err != nil {
		return nil, err
	}
	return &Float32Decoder{info: h, data: data}, nil
}

func (d *Float32Decoder) Info() codec.FileInfo {
	return codec.FileInfo{NumFrames: d.info.NumFrames, NumChannels: d.info.NumChannels}
}

func (d *Float32Decoder) Seek(_ context.Context, frame uint64) error {
	if frame > d.info.NumFrames {
		frame = d.info.NumFrames
	}
	d.frame = frame
	return nil
}

func (d *Float32Decoder) CurrentFrame() uint64 { return d.frame }

func (d *Float32Decoder) Close() error { d.data = nil; return nil }

func (d *Float32Decoder) Decode(_ context.Context, block *pcm.Block[float32]) error {
	block.Clear()
	remaining := d.info.NumFrames - d.frame
	n := block.BlockSize()
	if uint64(n) > remaining {
		n = int(remaining)
	}
	frameSize := d.info.NumChannels * 4
	base := int(d.frame) * frameSize
	for i := 0; i < n; i++ {
		for ch := 0; ch < d.info.NumChannels; ch++ {
			off := base + (i*d.info.NumChannels+ch)*4
			bits := binary.LittleEndian.Uint32(d.data[off : off+4])
			block.Channels[ch][i] = math.Float32frombits(bits)
		}
	}
	d.frame += uint64(n)
	block.FramesWritten = n
	return nil
}
