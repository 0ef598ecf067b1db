// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package read

import "github.com/nishisan-dev/pcmstream/pcm"

// cMsgKind discriminates the client->server message union.
type cMsgKind int

const (
	cMsgReadIntoBlock cMsgKind = iota
	cMsgDisposeBlock
	cMsgSeekTo
	cMsgCache
	cMsgDisposeCache
)

// cMsg is every message the client can send the server. Only the fields
// relevant to Kind are populated.
type cMsg[T pcm.Sample] struct {
	Kind cMsgKind

	// ReadIntoBlock / DisposeBlock
	BlockIndex int
	Block      *pcm.Block[T]
	StartFrame uint64

	// SeekTo
	SeekFrame uint64

	// Cache / DisposeCache
	CacheIndex int
	Cache      *pcm.Cache[T]
}

// sMsgKind discriminates the server->client message union.
type sMsgKind int

const (
	sMsgReadIntoBlockRes sMsgKind = iota
	sMsgCacheRes
	sMsgFatalError
)

// sMsg is every message the server can send the client.
type sMsg[T pcm.Sample] struct {
	Kind sMsgKind

	BlockIndex       int
	Block            *pcm.Block[T]
	CacheIndex       int
	Cache            *pcm.Cache[T]
	WantedStartFrame uint64

	Err error
}
