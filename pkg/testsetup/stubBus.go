// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package testsetup

import (
	"context"
	"sync"

	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

// StubBus is an in-process event bus for tests. Published events are both
// recorded and forwarded to subscribers.
type StubBus struct {
	mu        sync.Mutex
	published []models.MatchEvent

	events    chan models.MatchEvent
	closeOnce sync.Once
}

func NewStubBus() *StubBus {
	return &StubBus{events: make(chan models.MatchEvent, 64)}
}

func (b *StubBus) Publish(_ context.Context, event models.MatchEvent) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	b.mu.Unlock()

	select {
	case b.events <- event:
	default:
	}
	return nil
}

func (b *StubBus) Subscribe(_ context.Context) (<-chan models.MatchEvent, error) {
	return b.events, nil
}

func (b *StubBus) Close() error {
	b.closeOnce.Do(func() { close(b.events) })
	return nil
}

func (b *StubBus) Type() string {
	return "stub"
}

// Published returns a snapshot of everything published so far.
func (b *StubBus) Published() []models.MatchEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := make([]models.MatchEvent, len(b.published))
	copy(events, b.published)
	return events
}
