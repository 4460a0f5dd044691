// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package matchmaker

import (
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

type commandKind int

const (
	commandEnqueue commandKind = iota
	commandDequeue
)

// command is one mailbox message. Every queue mutation requested by a session
// travels through the mailbox so the matchmaker goroutine applies them one at
// a time, interleaved with ticks.
type command struct {
	kind     commandKind
	playerID string          // player the command acts on
	mode     models.GameMode // target mode queue
	metadata string          // raw metadata blob, enqueue only
	scope    *envelope.Scope // caller scope, carries cancellation and trace id
	reply    chan commandResult
}

// commandResult carries the store outcome back to the waiting caller. The
// reply channel is buffered so the matchmaker never blocks on a caller that
// already gave up.
type commandResult struct {
	enqueuedAtMs int64                 // stamped enqueue time, enqueue only
	dequeue      models.DequeueOutcome // dequeue only
	err          error
}
