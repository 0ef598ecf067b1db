// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package write

import (
	"log/slog"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/observ"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/spsc"
)

// closePayload is the ownership-transfer payload handed to the io server at
// teardown, so the realtime thread never performs the large deallocation of
// the block pool itself.
type closePayload[T pcm.Sample] struct {
	current *pcm.Block[T]
	next    *pcm.Block[T]
	pool    []*pcm.Block[T]
}

// Client is the realtime-safe side of a write stream. Every exported method
// is wait-free: no locks, no allocation (once the pool is primed), no
// syscalls, no blocking, except where explicitly noted (the Finish*/Discard*
// teardown calls, which are not realtime operations).
type Client[T pcm.Sample] struct {
	opts        Options
	numChannels int

	cToS    *spsc.Ring[cMsg[T]]
	sToC    *spsc.Ring[sMsg[T]]
	closeTx *spsc.CloseSignal[closePayload[T]]

	current *pcm.Block[T]
	next    *pcm.Block[T]
	pool    []*pcm.Block[T]

	restartCount uint64
	lastStatus   codec.WriteStatus
	finished     bool
	fatalErr     error
	closed       bool

	logger *slog.Logger
}

func newClient[T pcm.Sample](opts Options, numChannels int, cToS *spsc.Ring[cMsg[T]], sToC *spsc.Ring[sMsg[T]], closeTx *spsc.CloseSignal[closePayload[T]], logger *slog.Logger) *Client[T] {
	c := &Client[T]{
		opts:        opts,
		numChannels: numChannels,
		cToS:        cToS,
		sToC:        sToC,
		closeTx:     closeTx,
		logger:      logger,
	}
	c.current = pcm.NewBlock[T](numChannels, opts.BlockSize)
	c.next = pcm.NewBlock[T](numChannels, opts.BlockSize)
	for i := 0; i < opts.NumWriteAheadBlocks; i++ {
		c.pool = append(c.pool, pcm.NewBlock[T](numChannels, opts.BlockSize))
	}
	return c
}

// IsReady reports whether the client currently has both a current and a
// next block to accept frames into and at least one free slot in the
// server channel. It turns false when the free pool has been exhausted by a
// server that has fallen behind, or when the server channel is full.
func (c *Client[T]) IsReady() bool {
	c.poll()
	return c.current != nil && c.next != nil && c.cToS.Free() > 0
}

// BlockUntilReady spins polling the server channel until a block becomes
// available or a fatal error latches. Callers on a realtime thread must not
// use this; it exists for offline/non-realtime priming only.
func (c *Client[T]) BlockUntilReady() error {
	for !c.IsReady() {
		if c.fatalErr != nil {
			return c.fatalErr
		}
	}
	return c.fatalErr
}

// Write appends frames from buf (one slice per channel, equal length) to the
// stream. It returns the number of frames actually written; fewer than
// requested means the free block pool ran dry (err == ErrNoBlockAvailable)
// and the caller should retry the remainder once IsReady reports true again.
func (c *Client[T]) Write(buf [][]T) (int, error) {
	if c.fatalErr != nil {
		return 0, c.fatalErr
	}
	if c.finished {
		return 0, ErrFileFinished
	}
	if len(buf) != c.numChannels {
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
	if want > c.opts.BlockSize {
		return 0, &BufferTooLongError{BufferLen: want, BlockSize: c.opts.BlockSize}
	}

	c.poll()

	// A call of at most B frames fills and sends at most one block.
	if c.cToS.Free() < 1 {
		return 0, ErrIOServerChannelFull
	}

	written := 0
	for written < want {
		if c.current == nil {
			return written, ErrNoBlockAvailable
		}
		free := c.opts.BlockSize - c.current.FramesWritten
		n := want - written
		if n > free {
			n = free
		}
		for ch := 0; ch < c.numChannels; ch++ {
			copy(c.current.Channels[ch][c.current.FramesWritten:c.current.FramesWritten+n], buf[ch][written:written+n])
		}
		c.current.FramesWritten += n
		written += n

		if c.current.FramesWritten >= c.opts.BlockSize {
			c.flushCurrent()
		}
	}
	return written, nil
}

// flushCurrent sends the full current block to the server and rotates in
// the next block, per the current -> next -> free-pool recycling order.
func (c *Client[T]) flushCurrent() {
	full := c.current
	c.cToS.TryPush(cMsg[T]{Kind: cMsgWriteBlock, Block: full, RestartCount: c.restartCount})

	c.current = c.next
	if n := len(c.pool); n > 0 {
		c.next = c.pool[n-1]
		c.pool = c.pool[:n-1]
	} else {
		c.next = nil
	}
}

// FinishFile asks the server to close out the current output file normally,
// flushing any partially filled block first. This is not a realtime
// operation.
func (c *Client[T]) FinishFile() error {
	if c.fatalErr != nil {
		return c.fatalErr
	}
	if c.finished {
		return ErrFileFinished
	}
	// Room for the partial block and the FinishFile message.
	if c.cToS.Free() < 2 {
		return ErrIOServerChannelFull
	}
	c.flushPartial()
	if !c.cToS.TryPush(cMsg[T]{Kind: cMsgFinishFile, RestartCount: c.restartCount}) {
		return ErrIOServerChannelFull
	}
	c.finished = true
	return nil
}

// DiscardFile asks the server to abandon the current output file, deleting
// any partial data already written.
func (c *Client[T]) DiscardFile() error {
	if c.fatalErr != nil {
		return c.fatalErr
	}
	if c.finished {
		return ErrFileFinished
	}
	if !c.cToS.TryPush(cMsg[T]{Kind: cMsgDiscardFile, RestartCount: c.restartCount}) {
		return ErrIOServerChannelFull
	}
	c.finished = true
	return nil
}

// DiscardAndRestart abandons the current output file and prepares to accept
// a fresh sequence of blocks for the same destination, starting over. Blocks
// already queued for the server under the old restart generation reach it
// before the restart request, so they end up in the discarded file and never
// in the restarted one.
func (c *Client[T]) DiscardAndRestart() error {
	if c.fatalErr != nil {
		return c.fatalErr
	}
	if c.finished {
		return ErrFileFinished
	}
	c.restartCount++
	if !c.cToS.TryPush(cMsg[T]{Kind: cMsgDiscardAndRestart, RestartCount: c.restartCount}) {
		c.restartCount--
		return ErrIOServerChannelFull
	}
	if c.current == nil {
		c.current = pcm.NewBlock[T](c.numChannels, c.opts.BlockSize)
	} else {
		c.current.Clear()
	}
	if c.next == nil {
		c.next = pcm.NewBlock[T](c.numChannels, c.opts.BlockSize)
	} else {
		c.next.Clear()
	}
	c.finished = false
	return nil
}

func (c *Client[T]) flushPartial() {
	if c.current != nil && c.current.FramesWritten > 0 {
		c.cToS.TryPush(cMsg[T]{Kind: cMsgWriteBlock, Block: c.current, RestartCount: c.restartCount})
		c.current = nil
	}
}

// FinishComplete reports whether the server has confirmed completion of the
// most recent FinishFile/DiscardFile/DiscardAndRestart request.
func (c *Client[T]) FinishComplete() (bool, codec.WriteStatus) {
	c.poll()
	return c.finished && c.fatalErr == nil, c.lastStatus
}

// Stats reports the free block pool occupancy, for observ.Reporter.
func (c *Client[T]) Stats() observ.StreamStats {
	free := len(c.pool)
	if c.next != nil {
		free++
	}
	if c.current != nil {
		free++
	}
	return observ.StreamStats{PoolFree: free}
}

func (c *Client[T]) poll() {
	for {
		msg, ok := c.sToC.TryPop()
		if !ok {
			return
		}
		switch msg.Kind {
		case sMsgBlockFree:
			msg.Block.Clear()
			if c.current == nil {
				c.current = msg.Block
			} else if c.next == nil {
				c.next = msg.Block
			} else {
				c.pool = append(c.pool, msg.Block)
			}
		case sMsgWriteStatus:
			c.lastStatus = msg.Status
		case sMsgFinishComplete:
			c.lastStatus = msg.Status
		case sMsgFatalError:
			c.fatalErr = &FatalError{Cause: msg.Err}
		}
	}
}

// Close hands the block pool to the io server via the one-shot close
// signal, so this thread performs no deallocation.
func (c *Client[T]) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeTx.TrySend(closePayload[T]{current: c.current, next: c.next, pool: c.pool})
	c.current, c.next, c.pool = nil, nil, nil
	return nil
}
