// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package write

import (
	"context"
	"log/slog"
	"time"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/spsc"
)

// Server is the blocking-I/O side of a write stream. It owns the Encoder and
// runs on its own goroutine, servicing requests from the paired Client over
// the spsc rings until told to close.
type Server[T pcm.Sample] struct {
	opts    Options
	encoder codec.Encoder[T]

	cToS    *spsc.Ring[cMsg[T]]
	sToC    *spsc.Ring[sMsg[T]]
	closeRx *spsc.CloseSignal[closePayload[T]]

	restartCount uint64
	finished     bool
	fatal        bool

	logger *slog.Logger
}

func newServer[T pcm.Sample](opts Options, encoder codec.Encoder[T], cToS *spsc.Ring[cMsg[T]], sToC *spsc.Ring[sMsg[T]], closeRx *spsc.CloseSignal[closePayload[T]], logger *slog.Logger) *Server[T] {
	return &Server[T]{
		opts:    opts,
		encoder: encoder,
		cToS:    cToS,
		sToC:    sToC,
		closeRx: closeRx,
		logger:  logger,
	}
}

// Run services client requests until ctx is cancelled or the client sends
// its close signal. On exit it finishes the current file if the client
// never explicitly finished or discarded it and no fatal error occurred, so
// a dropped stream still yields a playable file.
func (s *Server[T]) Run(ctx context.Context) {
	defer s.shutdown(ctx)

	for {
		if _, ok := s.closeRx.TryRecv(); ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.drainOne(ctx) {
			time.Sleep(s.opts.PollInterval)
		}
	}
}

func (s *Server[T]) shutdown(ctx context.Context) {
	if !s.finished && !s.fatal {
		if err := s.encoder.FinishFile(ctx); err != nil {
			s.logger.Warn("finish on shutdown failed", "error", err)
		}
	}
	if err := s.encoder.Close(); err != nil {
		s.logger.Warn("encoder close failed", "error", err)
	}
}

func (s *Server[T]) drainOne(ctx context.Context) bool {
	msg, ok := s.cToS.TryPop()
	if !ok {
		return false
	}

	switch msg.Kind {
	case cMsgWriteBlock:
		if msg.RestartCount < s.restartCount {
			// Superseded by a DiscardAndRestart: drop without encoding, but
			// the block still owes the client a free-slot back or the pool
			// would shrink on every discarded generation.
			s.sendBlocking(sMsg[T]{Kind: sMsgBlockFree, Block: msg.Block})
			return true
		}
		status, err := s.encoder.Encode(ctx, msg.Block)
		if err != nil {
			s.sendFatal(err)
			return true
		}
		s.sendBlocking(sMsg[T]{Kind: sMsgWriteStatus, Status: status})
		s.sendBlocking(sMsg[T]{Kind: sMsgBlockFree, Block: msg.Block})
	case cMsgFinishFile:
		if err := s.encoder.FinishFile(ctx); err != nil {
			s.sendFatal(err)
			return true
		}
		s.finished = true
		s.sendBlocking(sMsg[T]{Kind: sMsgFinishComplete})
	case cMsgDiscardFile:
		if err := s.encoder.DiscardFile(ctx); err != nil {
			s.sendFatal(err)
			return true
		}
		s.finished = true
		s.sendBlocking(sMsg[T]{Kind: sMsgFinishComplete})
	case cMsgDiscardAndRestart:
		if err := s.encoder.DiscardAndRestart(ctx); err != nil {
			s.sendFatal(err)
			return true
		}
		s.restartCount = msg.RestartCount
		s.finished = false
		s.sendBlocking(sMsg[T]{Kind: sMsgFinishComplete})
	}
	return true
}

func (s *Server[T]) sendBlocking(msg sMsg[T]) {
	for !s.sToC.TryPush(msg) {
		if _, ok := s.closeRx.TryRecv(); ok {
			return
		}
		time.Sleep(s.opts.PollInterval)
	}
}

func (s *Server[T]) sendFatal(cause error) {
	s.fatal = true
	s.sendBlocking(sMsg[T]{Kind: sMsgFatalError, Err: cause})
}
