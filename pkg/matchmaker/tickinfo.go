// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package matchmaker

import (
	"time"
)

// TickInfo stores the bookkeeping of one mode tick
type TickInfo struct {
	Timestamp      time.Time `json:"timestamp"`
	GameMode       string    `json:"gameMode"`
	TickID         int64     `json:"tickID"`
	MatchesFormed  int       `json:"matchesFormed"`
	PlayersMatched int       `json:"playersMatched"`
	QueueDepth     int64     `json:"queueDepth"`
	ElapsedMs      int64     `json:"elapsedMs"`

	// NonemptyHint is the locally observed queue state when the tick started.
	// It never decides whether the tick pops, entries can arrive through any
	// instance between observations, so pop attempts always ask the store.
	NonemptyHint bool `json:"nonemptyHint"`
}
