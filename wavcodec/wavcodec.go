// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wavcodec implements codec.Decoder and codec.Encoder for
// uncompressed PCM WAV files, for the float32 and int16 sample types.
package wavcodec

import "fmt"

// Format identifies the WAV sample encoding.
type Format int

const (
	FormatInt16 Format = iota
	FormatFloat32
)

const (
	riffHeaderSize = 12 // "RIFF" + size + "WAVE"
	fmtChunkSize   = 24 // "fmt " + size + 16 bytes of fields
	dataChunkHeaderSize = 8 // "data" + size
	wavDataOffset  = riffHeaderSize + fmtChunkSize + dataChunkHeaderSize
)

const (
	wavFormatPCM        uint16 = 1
	wavFormatIEEEFloat  uint16 = 3
)

func bytesPerSample(f Format) int {
	switch f {
	case FormatInt16:
		return 2
	case FormatFloat32:
		return 4
	default:
		return 0
	}
}

func audioFormatTag(f Format) uint16 {
	if f == FormatFloat32 {
		return wavFormatIEEEFloat
	}
	return wavFormatPCM
}

func bitsPerSample(f Format) uint16 {
	return uint16(bytesPerSample(f) * 8)
}

func (f Format) String() string {
	switch f {
	case FormatInt16:
		return "int16"
	case FormatFloat32:
		return "float32"
	default:
		return fmt.Sprintf("wavcodec.Format(%d)", int(f))
	}
}
