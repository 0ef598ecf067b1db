// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package zcodec implements a compressed PCM container on top of wavcodec's
// interleaved-frame wire format, for streams where storage cost outweighs
// decode latency (archival recordings, long-form captures). Two compression
// backends are supported: gzip via klauspost/pgzip (parallel, for encode
// throughput on multicore hosts) and zstd via klauspost/compress, which
// typically gives a better ratio at similar CPU cost.
package zcodec

import "fmt"

// Compression selects the backend used for a stream's frame data.
type Compression int

const (
	CompressionGzip Compression = iota
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("zcodec.Compression(%d)", int(c))
	}
}

// magic identifies a zcodec container file, followed by one byte for the
// Compression backend, one byte for the sample width (2 or 4), two bytes
// for channel count and eight bytes for the frame count, all little-endian.
var magic = [4]byte{'P', 'C', 'M', 'Z'}

const headerSize = 4 + 1 + 1 + 2 + 8
