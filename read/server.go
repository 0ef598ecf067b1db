// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package read

import (
	"context"
	"log/slog"
	"time"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/spsc"
)

// Server is the blocking-I/O side of a read stream. It owns the Decoder and
// runs on its own goroutine, servicing requests from the paired Client over
// the spsc rings until told to close.
type Server[T pcm.Sample] struct {
	opts    Options
	decoder codec.Decoder[T]

	cToS    *spsc.Ring[cMsg[T]]
	sToC    *spsc.Ring[sMsg[T]]
	closeRx *spsc.CloseSignal[closePayload[T]]

	blockPool []*pcm.Block[T]
	cachePool []*pcm.Cache[T]
	numCh     int

	logger *slog.Logger
}

func newServer[T pcm.Sample](opts Options, decoder codec.Decoder[T], numChannels int, cToS *spsc.Ring[cMsg[T]], sToC *spsc.Ring[sMsg[T]], closeRx *spsc.CloseSignal[closePayload[T]], logger *slog.Logger) *Server[T] {
	return &Server[T]{
		opts:    opts,
		decoder: decoder,
		cToS:    cToS,
		sToC:    sToC,
		closeRx: closeRx,
		numCh:   numChannels,
		logger:  logger,
	}
}

// Run services client requests until ctx is cancelled or the client sends
// its close signal. It is intended to be run on a dedicated goroutine; every
// call it makes into decoder may block or allocate.
func (s *Server[T]) Run(ctx context.Context) {
	defer func() {
		if err := s.decoder.Close(); err != nil {
			s.logger.Warn("decoder close failed", "error", err)
		}
	}()

	for {
		if _, ok := s.closeRx.TryRecv(); ok {
			s.blockPool = nil
			s.cachePool = nil
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		serviced := s.drainOne(ctx)
		if !serviced {
			time.Sleep(s.opts.PollInterval)
		}
	}
}

// drainOne services at most one pending client->server message and reports
// whether it did any work, so the caller can decide whether to sleep.
func (s *Server[T]) drainOne(ctx context.Context) bool {
	msg, ok := s.cToS.TryPop()
	if !ok {
		return false
	}

	switch msg.Kind {
	case cMsgReadIntoBlock:
		s.serviceReadIntoBlock(ctx, msg)
	case cMsgDisposeBlock:
		s.recycle(msg.Block)
	case cMsgSeekTo:
		if err := s.decoder.Seek(ctx, msg.SeekFrame); err != nil {
			s.sendFatal(err)
		}
	case cMsgCache:
		s.serviceCache(ctx, msg)
	case cMsgDisposeCache:
		s.recycleCache(msg.Cache)
	}
	return true
}

func (s *Server[T]) serviceReadIntoBlock(ctx context.Context, msg cMsg[T]) {
	block := msg.Block
	if block != nil {
		block.Clear()
	} else {
		block = s.acquire()
	}
	if err := s.decoder.Seek(ctx, msg.StartFrame); err != nil {
		s.sendFatal(err)
		return
	}
	if err := s.decoder.Decode(ctx, block); err != nil {
		s.sendFatal(err)
		return
	}
	s.sendBlocking(sMsg[T]{
		Kind:             sMsgReadIntoBlockRes,
		BlockIndex:       msg.BlockIndex,
		Block:            block,
		WantedStartFrame: msg.StartFrame,
	})
}

func (s *Server[T]) serviceCache(ctx context.Context, msg cMsg[T]) {
	k := s.opts.NumCacheBlocks
	frame := msg.StartFrame
	if err := s.decoder.Seek(ctx, frame); err != nil {
		s.sendFatal(err)
		return
	}
	blocks := s.obtainCacheBlocks(msg.Cache, k)
	for i := 0; i < k; i++ {
		if err := s.decoder.Decode(ctx, blocks[i]); err != nil {
			s.sendFatal(err)
			return
		}
	}
	cache := &pcm.Cache[T]{Blocks: blocks, WantedStartFrame: frame}
	s.sendBlocking(sMsg[T]{
		Kind:             sMsgCacheRes,
		CacheIndex:       msg.CacheIndex,
		Cache:            cache,
		WantedStartFrame: frame,
	})
}

// obtainCacheBlocks returns a k-block backing slice for a Cache request:
// reusing provided (the slot's prior contents, handed back because nothing
// still references it) when its size matches, else a same-sized cache from
// the free pool, else fresh allocation.
func (s *Server[T]) obtainCacheBlocks(provided *pcm.Cache[T], k int) []*pcm.Block[T] {
	if provided.Populated() && len(provided.Blocks) == k {
		for _, b := range provided.Blocks {
			b.Clear()
		}
		return provided.Blocks
	}
	s.recycleCache(provided)

	if n := len(s.cachePool); n > 0 {
		c := s.cachePool[n-1]
		if len(c.Blocks) == k {
			s.cachePool = s.cachePool[:n-1]
			for _, b := range c.Blocks {
				b.Clear()
			}
			return c.Blocks
		}
	}

	blocks := make([]*pcm.Block[T], k)
	for i := range blocks {
		blocks[i] = pcm.NewBlock[T](s.numCh, s.opts.BlockSize)
	}
	return blocks
}

// recycleCache returns c's blocks to the free pool, if c holds any.
func (s *Server[T]) recycleCache(c *pcm.Cache[T]) {
	if !c.Populated() {
		return
	}
	s.cachePool = append(s.cachePool, &pcm.Cache[T]{Blocks: c.Blocks})
}

// sendBlocking pushes msg to the client, retrying (with close-signal polling
// so the server can still exit promptly) while the channel is full.
func (s *Server[T]) sendBlocking(msg sMsg[T]) {
	for !s.sToC.TryPush(msg) {
		if _, ok := s.closeRx.TryRecv(); ok {
			return
		}
		time.Sleep(s.opts.PollInterval)
	}
}

func (s *Server[T]) sendFatal(cause error) {
	s.sendBlocking(sMsg[T]{Kind: sMsgFatalError, Err: cause})
}

// acquire returns a recycled block if the pool has one, else allocates.
func (s *Server[T]) acquire() *pcm.Block[T] {
	if n := len(s.blockPool); n > 0 {
		b := s.blockPool[n-1]
		s.blockPool = s.blockPool[:n-1]
		b.Clear()
		return b
	}
	return pcm.NewBlock[T](s.numCh, s.opts.BlockSize)
}

func (s *Server[T]) recycle(b *pcm.Block[T]) {
	if b == nil {
		return
	}
	s.blockPool = append(s.blockPool, b)
}
