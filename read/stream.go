// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package read

import (
	"context"
	"log/slog"

	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
	"github.com/nishisan-dev/pcmstream/spsc"
)

// New wires a Client/Server pair over a fresh set of spsc rings and starts
// the server on its own goroutine. decoder is handed to the server
// exclusively; callers must not touch it again after calling New.
func New[T pcm.Sample](ctx context.Context, decoder codec.Decoder[T], info codec.FileInfo, opts Options, logger *slog.Logger) (*Client[T], error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	cToS := spsc.NewRing[cMsg[T]](opts.ServerMsgChannelSize)
	sToC := spsc.NewRing[sMsg[T]](opts.ServerMsgChannelSize)
	closeSig := spsc.NewCloseSignal[closePayload[T]]()

	client := newClient[T](opts, info, cToS, sToC, closeSig, logger.With("component", "read.Client"))
	server := newServer[T](opts, decoder, info.NumChannels, cToS, sToC, closeSig, logger.With("component", "read.Server"))

	go server.Run(ctx)

	for i := range client.ring {
		client.ring[i].pendingBlock = true
		client.ring[i].WantedStartFrame = uint64(i) * uint64(opts.BlockSize)
		cToS.TryPush(cMsg[T]{Kind: cMsgReadIntoBlock, BlockIndex: i, StartFrame: client.ring[i].WantedStartFrame})
	}

	return client, nil
}
