// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package codec defines the narrow capability interfaces the read and write
// servers use to talk to a concrete file format: Decoder and Encoder. The
// formats themselves (wavcodec, zcodec) are separate packages; codec only
// names the contract between the core engine and whichever one is plugged
// in, per the external-collaborator boundary in the specification.
package codec

import (
	"context"

	"github.com/nishisan-dev/pcmstream/pcm"
)

// FileInfo describes a file as reported by Decoder.Open or Encoder.Open.
type FileInfo struct {
	NumFrames   uint64 // exact total frame count; required for Decoder.Open
	NumChannels int
	SampleRate  uint32 // 0 if not applicable/unknown
	Params      any    // format-specific parameters (bit depth, codec params, ...)
}

// Decoder reads PCM frames from a file, block at a time, for sample type T.
// Implementations are used exclusively from the read server's blocking
// thread; none of these calls are required to be allocation- or
// syscall-free.
type Decoder[T pcm.Sample] interface {
	// Seek moves the read position to frame. Positions past end-of-file
	// clamp to end-of-file without error.
	Seek(ctx context.Context, frame uint64) error

	// Decode fills block from the current read position. When end-of-file
	// falls within the block, Decode fills as much as exists and leaves the
	// read position at end-of-file; a subsequent Decode at end-of-file is a
	// no-op that fills nothing.
	Decode(ctx context.Context, block *pcm.Block[T]) error

	// CurrentFrame returns the decoder's current read position.
	CurrentFrame() uint64

	// Close releases any resources (file handles, remote connections).
	Close() error
}

// WriteStatus is the result of Encoder.Encode.
type WriteStatus struct {
	// ReachedMaxSize is set when the codec has a per-file size ceiling and
	// this Encode call rolled over to a new file. NumFiles is the new total
	// file count (the new file is named with a "_NNN" suffix, zero-padded to
	// 3 digits, starting at "_001" for the second file).
	ReachedMaxSize bool
	NumFiles       int
}

// Archiver hands a committed local file off to remote storage. Implemented
// by s3store.Store; encoders that hold one call it from FinishFile, after
// the file has been renamed into place, never mid-write.
type Archiver interface {
	PutFile(ctx context.Context, key, localPath string) error
}

// Encoder writes PCM frames to a file, block at a time, for sample type T.
// Implementations are used exclusively from the write server's blocking
// thread.
type Encoder[T pcm.Sample] interface {
	// Encode persists block (up to block.FramesWritten frames per channel).
	Encode(ctx context.Context, block *pcm.Block[T]) (WriteStatus, error)

	// FinishFile closes out the current file normally (writes final
	// headers/trailers as the format requires).
	FinishFile(ctx context.Context) error

	// DiscardFile abandons the current file, removing any partial output.
	DiscardFile(ctx context.Context) error

	// DiscardAndRestart abandons the current file and prepares to accept a
	// fresh sequence of blocks for the same destination, starting over.
	DiscardAndRestart(ctx context.Context) error

	// Close releases any resources.
	Close() error
}
