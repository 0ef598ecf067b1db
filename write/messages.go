// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package write

import (
	"github.com/nishisan-dev/pcmstream/codec"
	"github.com/nishisan-dev/pcmstream/pcm"
)

// cMsgKind discriminates the client->server message union.
type cMsgKind int

const (
	cMsgWriteBlock cMsgKind = iota
	cMsgFinishFile
	cMsgDiscardFile
	cMsgDiscardAndRestart
)

// cMsg is every message the client can send the server. RestartCount tags
// WriteBlock so the server can silently drop blocks superseded by a
// DiscardAndRestart that the client issued after queueing them.
type cMsg[T pcm.Sample] struct {
	Kind         cMsgKind
	Block        *pcm.Block[T]
	RestartCount uint64
}

// sMsgKind discriminates the server->client message union.
type sMsgKind int

const (
	sMsgBlockFree sMsgKind = iota
	sMsgWriteStatus
	sMsgFinishComplete
	sMsgFatalError
)

// sMsg is every message the server can send the client.
type sMsg[T pcm.Sample] struct {
	Kind   sMsgKind
	Block  *pcm.Block[T]
	Status codec.WriteStatus
	Err    error
}
