// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package testsetup

import (
	"sync"
	"time"

	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

// StubAllocator hands out synthetic session slots. Setting an error makes
// every Reserve fail with it until the error is cleared again.
type StubAllocator struct {
	mu         sync.Mutex
	err        error
	reserved   []models.Match
	released   []string
	heartbeats []models.ServerRecord
}

func NewStubAllocator() *StubAllocator {
	return &StubAllocator{}
}

func (a *StubAllocator) SetErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *StubAllocator) Reserve(_ *envelope.Scope, match models.Match) (models.SessionSlot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.reserved = append(a.reserved, match)
	if a.err != nil {
		return models.SessionSlot{}, a.err
	}

	return models.SessionSlot{
		SessionID: "session-" + match.MatchID,
		ServerURL: "http://ds.test:7777",
		CreatedAt: time.Now().UTC(),
		PlayerIDs: match.PlayerIDs(),
	}, nil
}

func (a *StubAllocator) Release(_ *envelope.Scope, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, sessionID)
	return nil
}

func (a *StubAllocator) Heartbeat(_ *envelope.Scope, record models.ServerRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heartbeats = append(a.heartbeats, record)
	return nil
}

func (a *StubAllocator) Servers(_ *envelope.Scope) ([]models.ServerRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	servers := make([]models.ServerRecord, len(a.heartbeats))
	copy(servers, a.heartbeats)
	return servers, nil
}

// Reserved returns a snapshot of the matches handed to Reserve so far.
func (a *StubAllocator) Reserved() []models.Match {
	a.mu.Lock()
	defer a.mu.Unlock()

	matches := make([]models.Match, len(a.reserved))
	copy(matches, a.reserved)
	return matches
}
