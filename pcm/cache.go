// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pcm

// Cache is a contiguous array of exactly K consecutive blocks representing a
// cached window [WantedStartFrame, WantedStartFrame + K·B) in the source
// file. A Cache is "empty" when Blocks is nil (never filled, or disposed).
type Cache[T Sample] struct {
	Blocks           []*Block[T]
	WantedStartFrame uint64
}

// NewEmptyCache returns a disposed cache ready to be filled.
func NewEmptyCache[T Sample]() *Cache[T] {
	return &Cache[T]{}
}

// Populated reports whether the cache currently holds decoded data.
func (c *Cache[T]) Populated() bool {
	return c != nil && c.Blocks != nil
}

// NumCacheBlocks returns K, the number of blocks the cache spans.
func (c *Cache[T]) NumCacheBlocks() int {
	return len(c.Blocks)
}

// Dispose empties the cache, dropping its block references. Callers that
// still need the contained blocks must take them before calling Dispose.
func (c *Cache[T]) Dispose() {
	c.Blocks = nil
	c.WantedStartFrame = 0
}

// CoversFrame reports whether absolute frame f falls within this cache's
// window, given block size B.
func (c *Cache[T]) CoversFrame(f uint64, blockSize int) bool {
	if !c.Populated() {
		return false
	}
	span := uint64(len(c.Blocks) * blockSize)
	return f >= c.WantedStartFrame && f < c.WantedStartFrame+span
}
