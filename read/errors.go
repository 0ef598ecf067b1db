// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package read

import (
	"errors"
	"fmt"
)

// Transient, reportable errors: safe to retry, leave stream state unchanged.
var (
	ErrEndOfFile          = errors.New("read: end of file")
	ErrIOServerChannelFull = errors.New("read: io server message channel full")
)

// Validation errors: programmer error, stream remains fully usable.
var (
	ErrInvalidBuffer = errors.New("read: invalid buffer")
)

// Fatal error causes, wrapped by FatalError.
var (
	ErrStreamClosed  = errors.New("read: io server exited")
	ErrDecoderFailed = errors.New("read: decoder error")
)

// CacheIndexOutOfRangeError is returned by Cache/CanMoveCache for an index
// outside [0, NumCaches).
type CacheIndexOutOfRangeError struct {
	Index     int
	NumCaches int
}

func (e *CacheIndexOutOfRangeError) Error() string {
	return fmt.Sprintf("read: cache index %d out of range [0,%d)", e.Index, e.NumCaches)
}

// FatalError is latched onto the client the first time the server reports a
// decoder failure or exits unexpectedly; every subsequent client call fails
// with the same FatalError until the stream is dropped.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("read: fatal: %v", e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}
