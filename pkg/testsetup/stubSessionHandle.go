// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package testsetup

import (
	"sync"

	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

// StubSessionHandle records deliveries and kicks for registry tests.
type StubSessionHandle struct {
	mu        sync.Mutex
	delivered []models.ServerMessage
	kicked    []string

	// RejectDeliveries makes Deliver report false, as a full session would.
	RejectDeliveries bool
}

func NewStubSessionHandle() *StubSessionHandle {
	return &StubSessionHandle{}
}

func (h *StubSessionHandle) Deliver(msg models.ServerMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.RejectDeliveries {
		return false
	}
	h.delivered = append(h.delivered, msg)
	return true
}

func (h *StubSessionHandle) Kick(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kicked = append(h.kicked, reason)
}

func (h *StubSessionHandle) Delivered() []models.ServerMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := make([]models.ServerMessage, len(h.delivered))
	copy(msgs, h.delivered)
	return msgs
}

func (h *StubSessionHandle) Kicked() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	reasons := make([]string, len(h.kicked))
	copy(reasons, h.kicked)
	return reasons
}
