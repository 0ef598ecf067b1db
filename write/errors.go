// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package write

import (
	"errors"
	"fmt"
)

// Transient, reportable errors: safe to retry. ErrIOServerChannelFull leaves
// stream state unchanged; ErrNoBlockAvailable can follow a partial write,
// whose frames stay written (Write reports how many).
var (
	ErrIOServerChannelFull = errors.New("write: io server message channel full")
	ErrNoBlockAvailable    = errors.New("write: no free block available, server is behind")
)

// Validation errors: programmer error, stream remains fully usable.
var (
	ErrInvalidBuffer = errors.New("write: invalid buffer")
	ErrFileFinished  = errors.New("write: file already finished")
)

// Fatal error causes, wrapped by FatalError.
var (
	ErrStreamClosed = errors.New("write: io server exited")
	ErrEncoderFailed = errors.New("write: encoder error")
)

// BufferTooLongError is returned by Write when a single call's buffer length
// exceeds the stream's block size (L > B): a write can span at most one
// block boundary's worth of frames per call.
type BufferTooLongError struct {
	BufferLen int
	BlockSize int
}

func (e *BufferTooLongError) Error() string {
	return fmt.Sprintf("write: buffer length %d exceeds block size %d", e.BufferLen, e.BlockSize)
}

// FatalError is latched onto the client the first time the server reports an
// encoder failure or exits unexpectedly; every subsequent client call fails
// with the same FatalError until the stream is dropped.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("write: fatal: %v", e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}
