// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package read implements the read pipeline: a realtime ReadClient paired
// with a blocking ReadServer, linked by the spsc message rings.
package read

import "time"

// DefaultBlockSize, DefaultNumCacheBlocks and DefaultNumLookAheadBlocks mirror
// the constants a concrete Decoder is expected to expose (codec.FileInfo does
// not carry them; callers pick stream-level defaults here instead).
const (
	DefaultBlockSize          = 16384
	DefaultNumCacheBlocks     = 2
	DefaultNumLookAheadBlocks = 2
	DefaultPollInterval       = time.Millisecond
)

// Options configures a read stream. Zero-valued fields are replaced by their
// defaults in WithDefaults.
type Options struct {
	BlockSize            int           // B
	NumCacheBlocks        int           // K
	NumCaches             int           // M, user-visible caches (excludes the 2 temps)
	NumLookAheadBlocks    int           // L
	ServerMsgChannelSize  int           // override; 0 -> 4*(K+L) + 4*M + 8
	PollInterval          time.Duration // server idle-sleep interval
	AdditionalOpts        any           // decoder-specific
}

// WithDefaults returns a copy of o with zero fields replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.NumCacheBlocks <= 0 {
		o.NumCacheBlocks = DefaultNumCacheBlocks
	}
	if o.NumCaches <= 0 {
		o.NumCaches = 1
	}
	if o.NumLookAheadBlocks <= 0 {
		o.NumLookAheadBlocks = DefaultNumLookAheadBlocks
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ServerMsgChannelSize <= 0 {
		o.ServerMsgChannelSize = 4*(o.NumCacheBlocks+o.NumLookAheadBlocks) + 4*o.NumCaches + 8
	}
	return o
}

// RingLen returns N = K + L, the prefetch ring length.
func (o Options) RingLen() int {
	return o.NumCacheBlocks + o.NumLookAheadBlocks
}

// relocationTempIndex and seekTempIndex return the reserved plane slots, M
// and M+1 respectively.
func (o Options) relocationTempIndex() int { return o.NumCaches }
func (o Options) seekTempIndex() int       { return o.NumCaches + 1 }

// planeLen returns M+2, the total number of cache plane slots.
func (o Options) planeLen() int { return o.NumCaches + 2 }
