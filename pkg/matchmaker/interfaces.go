// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package matchmaker runs the match formation loop of the realtime-matchmaker
// system. One Matchmaker instance serializes every queue command and every
// mode tick through a single goroutine, so per-instance bookkeeping needs no
// locks; cluster-wide queue state stays in the shared store.
package matchmaker

import (
	"context"

	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

/*
Matchmaker is the command surface the session layer talks to. Enqueue and
Dequeue post into the matchmaker mailbox and wait for the store outcome, so
callers observe queue transitions in the order the matchmaker applied them.

Run drives the mailbox and the per-mode tick timers until the context ends.
Matches formed by a tick are handed to the dedicated server allocator and
announced on the event bus; a group whose allocation fails is returned to its
queue with the original enqueue timestamps intact.
*/
type Matchmaker interface {
	// Enqueue admits the player into the mode queue and returns the stamped
	// enqueue time. A player queued elsewhere is moved, never duplicated.
	Enqueue(rootScope *envelope.Scope, playerID string, mode models.GameMode, metadata string) (int64, error)

	// Dequeue removes the player from the mode queue. Removing an absent
	// player reports NotPresent without error.
	Dequeue(rootScope *envelope.Scope, playerID string, mode models.GameMode) (models.DequeueOutcome, error)

	// Run processes commands and ticks until ctx ends, then waits for
	// in-flight dispatches to settle.
	Run(ctx context.Context) error
}
