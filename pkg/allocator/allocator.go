// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package allocator reserves seats on dedicated game servers. The pool lives
// in the shared store and is fed by server heartbeats; reservation is a
// single scripted store call followed by the server's own session callback.
package allocator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
)

// releaseTimeout bounds the capacity compensation write after a failed
// session callback.
const releaseTimeout = 2 * time.Second

type Allocator interface {
	// Reserve finds a live server with capacity and asks it to host the
	// match. Failure returns an AllocError; the caller re-enqueues the group.
	Reserve(rootScope *envelope.Scope, match models.Match) (models.SessionSlot, error)

	// Release returns the session's capacity unit and drops its record.
	Release(rootScope *envelope.Scope, sessionID string) error

	// Heartbeat upserts a dedicated server record with its reported capacity.
	Heartbeat(rootScope *envelope.Scope, record models.ServerRecord) error

	// Servers lists the current pool, stale entries included.
	Servers(rootScope *envelope.Scope) ([]models.ServerRecord, error)
}

type sessionCallbackRequest struct {
	MatchID string   `json:"match_id"`
	Players []string `json:"players"`
}

type sessionCallbackResponse struct {
	ServerAddress string `json:"server_address"`
	SessionID     string `json:"session_id"`
}

// DedicatedServerAllocator implements Allocator against the shared store.
type DedicatedServerAllocator struct {
	client       redis.UniversalClient
	httpClient   *http.Client
	heartbeatTTL time.Duration
	sweepEvery   time.Duration
}

var _ Allocator = (*DedicatedServerAllocator)(nil)

func NewDedicatedServerAllocator(client redis.UniversalClient, cfg *config.Config) *DedicatedServerAllocator {
	return &DedicatedServerAllocator{
		client:       client,
		httpClient:   &http.Client{},
		heartbeatTTL: cfg.DSHeartbeatTTL(),
		sweepEvery:   cfg.DSSweepInterval(),
	}
}

func (a *DedicatedServerAllocator) Reserve(rootScope *envelope.Scope, match models.Match) (models.SessionSlot, error) {
	scope := rootScope.NewChildScope("DedicatedServerAllocator.Reserve")
	defer scope.Finish()
	scope.SetAttributes(envelope.MatchIDTag, match.MatchID)
	scope.SetAttributes(envelope.GameModeTag, match.GameMode.String())

	nowMs := time.Now().UnixMilli()
	url, err := reserveScript.Run(scope.Ctx, a.client, []string{constants.PoolKey}, nowMs, a.heartbeatTTL.Milliseconds()).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.SessionSlot{}, models.NewAllocError(constants.AllocReasonNoCapacity, models.ErrNoCapacity)
		}
		return models.SessionSlot{}, models.NewAllocError(constants.AllocReasonStoreFailed, models.ClassifyStoreError(err))
	}

	slot, err := a.requestSession(scope, url, match)
	if err != nil {
		a.releaseCapacity(scope, url)
		return models.SessionSlot{}, err
	}

	record, marshalErr := json.Marshal(slot)
	if marshalErr == nil {
		marshalErr = a.client.Set(scope.Ctx, models.SessionKey(slot.SessionID), record, 0).Err()
	}
	if marshalErr != nil {
		// The slot is live on the server regardless; capacity self-corrects
		// on the server's next heartbeat.
		scope.Log.WithField("sessionID", slot.SessionID).Warnf("session record not stored: %s", marshalErr)
	}

	scope.SetAttributes(envelope.SessionIDTag, slot.SessionID)
	scope.Log.WithField("sessionID", slot.SessionID).
		WithField("serverURL", slot.ServerURL).
		WithField("players", len(slot.PlayerIDs)).
		Info("reserved dedicated server slot")

	return slot, nil
}

// requestSession asks the chosen server to open a session for the match.
func (a *DedicatedServerAllocator) requestSession(scope *envelope.Scope, url string, match models.Match) (models.SessionSlot, error) {
	payload, err := json.Marshal(sessionCallbackRequest{
		MatchID: match.MatchID,
		Players: match.PlayerIDs(),
	})
	if err != nil {
		return models.SessionSlot{}, models.NewAllocError(constants.AllocReasonCallbackFailed, err)
	}

	req, err := http.NewRequestWithContext(scope.Ctx, http.MethodPost, url+"/session", bytes.NewReader(payload))
	if err != nil {
		return models.SessionSlot{}, models.NewAllocError(constants.AllocReasonCallbackFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		reason := constants.AllocReasonCallbackFailed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = constants.AllocReasonCallbackTimeout
		}
		return models.SessionSlot{}, models.NewAllocError(reason, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.SessionSlot{}, models.NewAllocError(constants.AllocReasonCallbackFailed,
			fmt.Errorf("server %s answered %d", url, resp.StatusCode))
	}

	var callback sessionCallbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&callback); err != nil {
		return models.SessionSlot{}, models.NewAllocError(constants.AllocReasonCallbackFailed, err)
	}
	if callback.SessionID == "" {
		return models.SessionSlot{}, models.NewAllocError(constants.AllocReasonCallbackFailed,
			fmt.Errorf("server %s returned an empty session id", url))
	}

	serverURL := callback.ServerAddress
	if serverURL == "" {
		serverURL = url
	}

	return models.SessionSlot{
		SessionID: callback.SessionID,
		ServerURL: serverURL,
		CreatedAt: time.Now().UTC(),
		PlayerIDs: match.PlayerIDs(),
	}, nil
}

// releaseCapacity compensates a reservation whose callback failed. The
// allocation deadline may already be spent, so the write runs on its own
// scope and budget.
func (a *DedicatedServerAllocator) releaseCapacity(parent *envelope.Scope, url string) {
	scope := envelope.NewRootScope(context.Background(), "DedicatedServerAllocator.ReleaseCapacity", parent.TraceID)
	defer scope.Finish()

	ctx, cancel := context.WithTimeout(scope.Ctx, releaseTimeout)
	defer cancel()

	err := releaseScript.Run(ctx, a.client, []string{constants.PoolKey, models.SessionKey("")}, url).Err()
	if err != nil {
		scope.Log.WithField("serverURL", url).Warnf("capacity not restored: %s", err)
	}
}

func (a *DedicatedServerAllocator) Release(rootScope *envelope.Scope, sessionID string) error {
	scope := rootScope.NewChildScope("DedicatedServerAllocator.Release")
	defer scope.Finish()
	scope.SetAttributes(envelope.SessionIDTag, sessionID)

	released, err := releaseScript.Run(scope.Ctx, a.client, []string{constants.PoolKey, models.SessionKey(sessionID)}, "").Int()
	if err != nil {
		return models.ClassifyStoreError(err)
	}
	if released == 0 {
		scope.Log.WithField("sessionID", sessionID).Info("release of unknown session ignored")
	}
	return nil
}

func (a *DedicatedServerAllocator) Heartbeat(rootScope *envelope.Scope, record models.ServerRecord) error {
	scope := rootScope.NewChildScope("DedicatedServerAllocator.Heartbeat")
	defer scope.Finish()

	if err := record.Validate(); err != nil {
		return err
	}
	record.LastSeenMs = time.Now().UnixMilli()

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := a.client.HSet(scope.Ctx, constants.PoolKey, record.URL, payload).Err(); err != nil {
		return models.ClassifyStoreError(err)
	}
	return nil
}

func (a *DedicatedServerAllocator) Servers(rootScope *envelope.Scope) ([]models.ServerRecord, error) {
	scope := rootScope.NewChildScope("DedicatedServerAllocator.Servers")
	defer scope.Finish()

	raw, err := a.client.HGetAll(scope.Ctx, constants.PoolKey).Result()
	if err != nil {
		return nil, models.ClassifyStoreError(err)
	}

	servers := make([]models.ServerRecord, 0, len(raw))
	for url, value := range raw {
		var record models.ServerRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			scope.Log.WithField("serverURL", url).Warnf("skipping undecodable server record: %s", err)
			continue
		}
		servers = append(servers, record)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].URL < servers[j].URL })

	return servers, nil
}

// RunSweeper purges stale servers on a fixed period until ctx ends. Sweeping
// is idempotent, any number of instances may run it concurrently.
func (a *DedicatedServerAllocator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(a.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *DedicatedServerAllocator) sweep(ctx context.Context) {
	scope := envelope.NewRootScope(ctx, "DedicatedServerAllocator.Sweep", "")
	defer scope.Finish()

	purged, err := sweepScript.Run(scope.Ctx, a.client, []string{constants.PoolKey},
		time.Now().UnixMilli(), a.heartbeatTTL.Milliseconds()).Int()
	if err != nil {
		scope.Log.Warnf("pool sweep failed: %s", err)
		return
	}
	if purged > 0 {
		scope.Log.WithField("purged", purged).Info("purged stale dedicated servers")
	}
}
