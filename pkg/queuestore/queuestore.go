// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package queuestore holds the queue primitives shared by every matchmaker
// instance. Each mutating operation is one server-side script, so concurrent
// instances never observe a half-applied queue transition.
package queuestore

import (
	"context"

	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

type QueueStore interface {
	// Enqueue admits a player into the mode queue at nowMs. A player queued in
	// any other mode is moved, never duplicated.
	Enqueue(rootScope *envelope.Scope, mode models.GameMode, playerID string, metadata string, nowMs int64) (models.EnqueueOutcome, error)

	// Dequeue removes the player from the mode queue. Removing an absent
	// player reports NotPresent without error.
	Dequeue(rootScope *envelope.Scope, mode models.GameMode, playerID string) (models.DequeueOutcome, error)

	// TryMatchPop pops one full group when the widened skill window around the
	// oldest waiter closes over enough entries. A short queue or an unfillable
	// window leaves the queue untouched and returns no entries.
	TryMatchPop(rootScope *envelope.Scope, mode models.GameMode, settings models.ModeSettings, nowMs int64) ([]models.QueueEntry, error)

	// QueueLen reports the current depth of the mode queue.
	QueueLen(rootScope *envelope.Scope, mode models.GameMode) (int64, error)

	// Reset drops all matchmaking state. Admin test runs only.
	Reset(rootScope *envelope.Scope) error

	// SetRunToken stores the current test-run token for metric correlation.
	SetRunToken(rootScope *envelope.Scope, runID string) error

	// Ping probes store liveness. The reconnect controller drives this.
	Ping(ctx context.Context) error
}
