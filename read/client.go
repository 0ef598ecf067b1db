// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package read

import (
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/observ"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/spsc"
)

// SeekMode controls how Seek resolves its target frame against the cache
// plane before falling back to a blocking round-trip with the server.
type SeekMode int

const (
	// SeekAuto searches the user-visible caches (not the two reserved temp
	// slots) for one already covering the target frame before asking the
	// server to reposition the prefetch ring.
	SeekAuto SeekMode = iota
	// SeekTryOne checks only the single best-effort "seek temp" cache slot.
	SeekTryOne
	// SeekTryOneThenAuto tries the seek temp slot, then falls back to SeekAuto.
	SeekTryOneThenAuto
	// SeekNoCache skips the cache plane entirely and always asks the server.
	SeekNoCache
)

// ringEntry is one slot of the N = K+L prefetch ring. It holds either an
// owned Block or a reference into the cache plane, never both.
type ringEntry[T pcm.Sample] struct {
	Block            *pcm.Block[T]
	CacheIndex       int // -1 when Block is the source
	WantedStartFrame uint64
	pendingBlock     bool // a ReadIntoBlock request for this slot is in flight
}

func (e *ringEntry[T]) referencesCache() bool { return e.CacheIndex >= 0 }

// Client is the realtime-safe side of a read stream. Every exported method
// is wait-free: no locks, no allocation, no syscalls, no blocking.
type Client[T pcm.Sample] struct {
	opts Options
	info codec.FileInfo

	cToS    *spsc.Ring[cMsg[T]]
	sToC    *spsc.Ring[sMsg[T]]
	closeTx *spsc.CloseSignal[closePayload[T]]

	ring []ringEntry[T]
	head int // ring index the playhead currently reads from

	plane         []*pcm.Cache[T]
	planeInFlight []bool
	planeWanted   []uint64 // last StartFrame requested for this slot, for stale-response rejection

	playhead     uint64
	frameInBlock int
	underflowed  bool
	fatalErr     error
	closed       bool

	logger *slog.Logger
}

// closePayload is the ownership-transfer payload handed to the io server at
// teardown, so the realtime thread never performs the large deallocation of
// the ring and cache plane itself.
type closePayload[T pcm.Sample] struct {
	ring  []ringEntry[T]
	plane []*pcm.Cache[T]
}

func newClient[T pcm.Sample](opts Options, info codec.FileInfo, cToS *spsc.Ring[cMsg[T]], sToC *spsc.Ring[sMsg[T]], closeTx *spsc.CloseSignal[closePayload[T]], logger *slog.Logger) *Client[T] {
	n := opts.RingLen()
	ring := make([]ringEntry[T], n)
	for i := range ring {
		ring[i].CacheIndex = -1
	}
	plane := make([]*pcm.Cache[T], opts.planeLen())
	for i := range plane {
		plane[i] = pcm.NewEmptyCache[T]()
	}
	return &Client[T]{
		opts:          opts,
		info:          info,
		cToS:          cToS,
		sToC:          sToC,
		closeTx:       closeTx,
		ring:          ring,
		plane:         plane,
		planeInFlight: make([]bool, opts.planeLen()),
		planeWanted:   make([]uint64, opts.planeLen()),
		logger:        logger,
	}
}

// Info returns the decoder-reported file metadata.
func (c *Client[T]) Info() codec.FileInfo { return c.info }

// BlockSize returns B.
func (c *Client[T]) BlockSize() int { return c.opts.BlockSize }

// NumCaches returns M, the number of user-visible cache slots.
func (c *Client[T]) NumCaches() int { return c.opts.NumCaches }

// Playhead returns the current absolute read position.
func (c *Client[T]) Playhead() uint64 { return c.playhead }

// Stats reports the ring and cache plane occupancy, for observ.Reporter.
func (c *Client[T]) Stats() observ.StreamStats {
	filled := 0
	for i := range c.ring {
		if c.ring[i].Block != nil || c.ring[i].referencesCache() {
			filled++
		}
	}
	populated := 0
	for i := range c.plane {
		if c.plane[i].Populated() {
			populated++
		}
	}
	return observ.StreamStats{
		RingLen:        len(c.ring),
		RingFilled:     filled,
		PlaneLen:       len(c.plane),
		PlanePopulated: populated,
		Underflowed:    c.underflowed,
	}
}

// IsReady reports whether the ring has enough prefetched data to service a
// Read call without underflowing right now.
func (c *Client[T]) IsReady() bool {
	c.poll()
	_, ok := c.resolveSourceBlock(&c.ring[c.head])
	return ok
}

// BlockUntilReady spins polling the server channel until the current ring
// entry is populated or a fatal error latches. Callers on a realtime thread
// must not use this; it exists for offline/non-realtime priming only.
func (c *Client[T]) BlockUntilReady() error {
	for !c.IsReady() {
		if c.fatalErr != nil {
			return c.fatalErr
		}
	}
	return c.fatalErr
}

// CanMoveCache reports whether cache slot index can be repopulated without
// the server needing to relocate it out from under an in-flight ring
// reference first. It is a hint only: Cache is always safe to call
// regardless of this return value.
func (c *Client[T]) CanMoveCache(index int) (bool, error) {
	if index < 0 || index >= c.opts.NumCaches {
		return false, &CacheIndexOutOfRangeError{Index: index, NumCaches: c.opts.NumCaches}
	}
	if c.fatalErr != nil {
		return false, c.fatalErr
	}
	for i := range c.ring {
		if c.ring[i].CacheIndex == index {
			return false, nil
		}
	}
	return true, nil
}

// Cache requests that cache slot index be populated with the K blocks
// starting at startFrame. If the slot already holds exactly that window the
// call is a no-op (strict equality, per the resolved Open Question). If any
// ring entry currently references the slot, its content is relocated to the
// reserved relocation-temp slot first and in-flight ring entries are
// redirected to it, so CanMoveCache(index) reports true immediately after
// this call returns even though the repopulation is still pending on the
// server.
func (c *Client[T]) Cache(index int, startFrame uint64) error {
	if index < 0 || index >= c.opts.NumCaches {
		return &CacheIndexOutOfRangeError{Index: index, NumCaches: c.opts.NumCaches}
	}
	if c.fatalErr != nil {
		return c.fatalErr
	}

	if c.plane[index].Populated() && c.plane[index].WantedStartFrame == startFrame {
		return nil
	}

	// Fail before mutating anything if the server couldn't possibly keep up:
	// the worst case below is one Cache message plus one DisposeCache-style
	// relocation, over N ring entries' worth of in-flight traffic.
	if c.cToS.Free() < 2+c.opts.RingLen() {
		return ErrIOServerChannelFull
	}

	referenced := false
	for i := range c.ring {
		if c.ring[i].CacheIndex == index {
			referenced = true
			break
		}
	}

	var oldContents *pcm.Cache[T]
	if referenced {
		relocIdx := c.opts.relocationTempIndex()
		if c.plane[relocIdx].Populated() {
			// The relocation temp is already serving an earlier redirect.
			// Its old content is dropped; any ring entry still pointing at
			// it reads silence until the slot it really wants refills.
			c.plane[relocIdx].Dispose()
			for i := range c.ring {
				if c.ring[i].CacheIndex == relocIdx {
					c.ring[i].CacheIndex = -1
				}
			}
		}
		c.plane[relocIdx] = c.plane[index]
		for i := range c.ring {
			if c.ring[i].CacheIndex == index {
				c.ring[i].CacheIndex = relocIdx
			}
		}
		c.plane[index] = pcm.NewEmptyCache[T]()
	} else {
		// Nothing references the slot's current contents: hand them to the
		// server to reuse instead of letting them go to waste.
		oldContents = c.plane[index]
		c.plane[index] = pcm.NewEmptyCache[T]()
	}

	c.planeWanted[index] = startFrame
	c.planeInFlight[index] = true
	sent := c.cToS.TryPush(cMsg[T]{
		Kind:       cMsgCache,
		CacheIndex: index,
		StartFrame: startFrame,
		Cache:      oldContents,
	})
	if !sent {
		c.planeInFlight[index] = false
		return ErrIOServerChannelFull
	}
	return nil
}

// DisposeCache empties cache slot index immediately on the client side and
// hands its old contents to the server for reuse. A Cache request for the
// slot that is still in flight is not cancelled: its result is installed in
// the slot when it arrives.
func (c *Client[T]) DisposeCache(index int) error {
	if index < 0 || index >= c.opts.NumCaches {
		return &CacheIndexOutOfRangeError{Index: index, NumCaches: c.opts.NumCaches}
	}
	if c.fatalErr != nil {
		return c.fatalErr
	}
	for i := range c.ring {
		if c.ring[i].CacheIndex == index {
			c.ring[i].CacheIndex = -1
		}
	}
	old := c.plane[index]
	c.plane[index] = pcm.NewEmptyCache[T]()
	c.planeInFlight[index] = false
	c.cToS.TryPush(cMsg[T]{Kind: cMsgDisposeCache, CacheIndex: index, Cache: old})
	return nil
}

// Seek repositions the playhead. Depending on mode it first searches the
// cache plane for a window already covering frame; on a hit the ring is
// rebuilt from cached data with no server round trip. On a miss it asks the
// server to reposition the prefetch ring and the next several Read calls
// will underflow until the server catches up.
func (c *Client[T]) Seek(frame uint64, mode SeekMode) error {
	if c.fatalErr != nil {
		return c.fatalErr
	}
	c.poll()

	n := c.opts.RingLen()
	if c.cToS.Free() < 3+n {
		return ErrIOServerChannelFull
	}

	if mode != SeekNoCache {
		if mode == SeekTryOne || mode == SeekTryOneThenAuto {
			if idx := c.opts.seekTempIndex(); c.plane[idx].CoversFrame(frame, c.opts.BlockSize) {
				c.adoptFromCache(idx, frame)
				return nil
			}
			// Miss on the temp slot: SeekTryOne falls through to the
			// server-seek path below, SeekTryOneThenAuto tries the full
			// plane first.
		}
		if mode == SeekAuto || mode == SeekTryOneThenAuto {
			for i := 0; i < c.opts.NumCaches; i++ {
				if c.plane[i].CoversFrame(frame, c.opts.BlockSize) {
					c.adoptFromCache(i, frame)
					return nil
				}
			}
		}
	}

	// Miss: designate the seek temp cache to cover frame, request its fill,
	// and point every ring entry at it until the fill response arrives.
	seekIdx := c.opts.seekTempIndex()
	c.plane[seekIdx].Dispose()
	for i := range c.ring {
		c.ring[i].Block = nil
		c.ring[i].CacheIndex = seekIdx
		c.ring[i].WantedStartFrame = frame
		c.ring[i].pendingBlock = false
	}
	c.head = 0
	c.frameInBlock = 0
	c.playhead = frame
	c.underflowed = true

	c.planeWanted[seekIdx] = frame
	c.planeInFlight[seekIdx] = true
	if !c.cToS.TryPush(cMsg[T]{Kind: cMsgCache, CacheIndex: seekIdx, StartFrame: frame}) {
		c.planeInFlight[seekIdx] = false
		return ErrIOServerChannelFull
	}
	if !c.cToS.TryPush(cMsg[T]{Kind: cMsgSeekTo, SeekFrame: frame + uint64(n)*uint64(c.opts.BlockSize)}) {
		return ErrIOServerChannelFull
	}
	return nil
}

// adoptFromCache rebuilds the ring head entry to reference plane slot idx,
// used after a cache-hit Seek.
func (c *Client[T]) adoptFromCache(idx int, frame uint64) {
	c.ring[0].Block = nil
	c.ring[0].CacheIndex = idx
	c.ring[0].WantedStartFrame = c.plane[idx].WantedStartFrame
	c.head = 0
	c.playhead = frame
	c.frameInBlock = int(frame-c.plane[idx].WantedStartFrame) % c.opts.BlockSize
	c.underflowed = false
	for i := 1; i < len(c.ring); i++ {
		c.ring[i].Block = nil
		c.ring[i].CacheIndex = -1
	}
}

// Read fills buf (one slice per channel, equal length) with the next frames
// starting at the playhead, advancing it. It returns the number of frames
// actually written; fewer than requested means either end-of-file (err ==
// ErrEndOfFile) or the prefetch ring has not caught up yet (err == nil,
// remaining frames are silence).
func (c *Client[T]) Read(buf [][]T) (int, error) {
	if c.fatalErr != nil {
		return 0, c.fatalErr
	}
	if len(buf) != c.info.NumChannels {
		return 0, ErrInvalidBuffer
	}
	want := 0
	if len(buf) > 0 {
		want = len(buf[0])
		for _, ch := range buf {
			if len(ch) != want {
				return 0, ErrInvalidBuffer
			}
		}
	}

	c.poll()

	written := 0
	for written < want {
		entry := &c.ring[c.head]
		block, ok := c.resolveSourceBlock(entry)
		if !ok {
			// Not ready: emit silence for the remainder of this call.
			for _, ch := range buf {
				for f := written; f < want; f++ {
					ch[f] = 0
				}
			}
			c.playhead += uint64(want - written)
			return written, nil
		}

		avail := block.FramesWritten - c.frameInBlock
		if avail <= 0 {
			if c.info.NumFrames != 0 && c.playhead >= c.info.NumFrames {
				return written, ErrEndOfFile
			}
			c.advanceRing()
			continue
		}
		n := want - written
		if n > avail {
			n = avail
		}
		for ch := 0; ch < c.info.NumChannels; ch++ {
			copy(buf[ch][written:written+n], block.Channels[ch][c.frameInBlock:c.frameInBlock+n])
		}
		written += n
		c.frameInBlock += n
		c.playhead += uint64(n)
		if c.frameInBlock >= c.opts.BlockSize {
			c.advanceRing()
		}
	}
	return written, nil
}

// resolveSourceBlock returns the Block currently backing the ring head,
// whether owned directly or via a cache-plane reference, and whether it is
// populated enough to read from.
func (c *Client[T]) resolveSourceBlock(e *ringEntry[T]) (*pcm.Block[T], bool) {
	if e.Block != nil {
		return e.Block, true
	}
	if e.referencesCache() {
		cache := c.plane[e.CacheIndex]
		if !cache.Populated() {
			return nil, false
		}
		within := int(c.playhead-cache.WantedStartFrame) / c.opts.BlockSize
		if within < 0 || within >= len(cache.Blocks) {
			return nil, false
		}
		return cache.Blocks[within], true
	}
	return nil, false
}

// advanceRing retires the exhausted head entry, asks the server to recycle
// or refill it, and moves the playhead to the next ring slot.
func (c *Client[T]) advanceRing() {
	e := &c.ring[c.head]
	c.frameInBlock = 0

	if !e.pendingBlock {
		takenOld := e.Block
		e.Block = nil
		e.CacheIndex = -1

		farStart := c.playhead + uint64(len(c.ring)-1)*uint64(c.opts.BlockSize)
		e.pendingBlock = true
		e.WantedStartFrame = farStart
		// A single ReadIntoBlock carries both the new request and the
		// slot's old block (for the server to recycle), instead of two
		// separate C->S messages.
		msg := cMsg[T]{Kind: cMsgReadIntoBlock, BlockIndex: c.head, Block: takenOld, StartFrame: farStart}
		if !c.cToS.TryPush(msg) {
			e.pendingBlock = false
			if takenOld != nil {
				// Best effort: the combined request didn't fit, but the old
				// block should still make it back to the server's pool.
				c.cToS.TryPush(cMsg[T]{Kind: cMsgDisposeBlock, BlockIndex: c.head, Block: takenOld})
			}
		}
	} else {
		e.CacheIndex = -1
	}
	c.head = (c.head + 1) % len(c.ring)
}

// poll drains every pending server->client message without blocking.
func (c *Client[T]) poll() {
	for {
		msg, ok := c.sToC.TryPop()
		if !ok {
			return
		}
		switch msg.Kind {
		case sMsgReadIntoBlockRes:
			if msg.BlockIndex >= 0 && msg.BlockIndex < len(c.ring) {
				e := &c.ring[msg.BlockIndex]
				if e.WantedStartFrame == msg.WantedStartFrame {
					e.Block = msg.Block
					e.CacheIndex = -1
				}
				e.pendingBlock = false
			}
		case sMsgCacheRes:
			idx := msg.CacheIndex
			if idx >= 0 && idx < len(c.plane) {
				c.planeInFlight[idx] = false
				if c.planeWanted[idx] == msg.WantedStartFrame {
					c.plane[idx] = msg.Cache
				}
			}
		case sMsgFatalError:
			c.fatalErr = &FatalError{Cause: msg.Err}
		}
	}
}

// Close hands ring and cache plane ownership to the io server via the
// one-shot close signal, so this thread performs no deallocation.
func (c *Client[T]) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeTx.TrySend(closePayload[T]{ring: c.ring, plane: c.plane})
	c.ring = nil
	c.plane = nil
	return nil
}

func (c *Client[T]) String() string {
	return fmt.Sprintf("read.Client{playhead=%d, head=%d}", c.playhead, c.head)
}
