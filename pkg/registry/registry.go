// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package registry tracks which players have a live session on this
// instance. Cluster peers publish match events for everyone; the registry
// delivers the ones owned here and drops the rest on the floor.
package registry

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/eventbus"
	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

// SessionHandle is the registry's view of a live session.
type SessionHandle interface {
	// Deliver hands a message to the session outbound path, best effort.
	Deliver(msg models.ServerMessage) bool

	// Kick closes the session with a closing frame carrying reason.
	Kick(reason string)
}

// SubscriptionRegistry holds at most one handle per player on this instance.
type SubscriptionRegistry struct {
	bus eventbus.Bus
	mm  metrics.MatchmakingMetrics

	mu      sync.RWMutex
	handles map[string]SessionHandle
}

func NewSubscriptionRegistry(bus eventbus.Bus, mm metrics.MatchmakingMetrics) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		bus:     bus,
		mm:      mm,
		handles: make(map[string]SessionHandle),
	}
}

// Register installs the handle for a player. A prior handle for the same
// player is kicked: one session owns a player id at a time on one instance.
func (r *SubscriptionRegistry) Register(playerID string, handle SessionHandle) {
	r.mu.Lock()
	prior, hadPrior := r.handles[playerID]
	r.handles[playerID] = handle
	count := len(r.handles)
	r.mu.Unlock()

	r.mm.SetActiveSessions(count)

	if hadPrior && prior != handle {
		logrus.WithField("playerID", playerID).Info("replacing existing session for player")
		prior.Kick(constants.CloseReasonReplaced)
	}
}

// Deregister removes the handle if it still owns the player slot. A session
// that was already replaced does not remove its successor.
func (r *SubscriptionRegistry) Deregister(playerID string, handle SessionHandle) {
	r.mu.Lock()
	if current, ok := r.handles[playerID]; ok && current == handle {
		delete(r.handles, playerID)
	}
	count := len(r.handles)
	r.mu.Unlock()

	r.mm.SetActiveSessions(count)
}

// Deliver routes a message to the player's session on this instance.
// Absent players report false, there is no retry.
func (r *SubscriptionRegistry) Deliver(playerID string, msg models.ServerMessage) bool {
	r.mu.RLock()
	handle, ok := r.handles[playerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return handle.Deliver(msg)
}

// Len reports how many players hold a session here.
func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// KickAll closes every registered session with the given reason. Used on
// shutdown so clients learn the close is deliberate.
func (r *SubscriptionRegistry) KickAll(reason string) {
	r.mu.RLock()
	handles := make([]SessionHandle, 0, len(r.handles))
	for _, handle := range r.handles {
		handles = append(handles, handle)
	}
	r.mu.RUnlock()

	for _, handle := range handles {
		handle.Kick(reason)
	}
}

// Run consumes the cross-instance event stream until ctx ends. Events for
// players without a local session are dropped silently; a reconnecting
// client resyncs on its own.
func (r *SubscriptionRegistry) Run(ctx context.Context) error {
	events, err := r.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	logrus.WithField("bus", r.bus.Type()).Info("subscription registry consuming match events")

	for event := range events {
		if r.Deliver(event.PlayerID, event.Message) {
			r.mm.AddDeliveredEvent(constants.DeliveryResultDelivered)
		} else {
			r.mm.AddDeliveredEvent(constants.DeliveryResultDropped)
		}
	}

	return nil
}
