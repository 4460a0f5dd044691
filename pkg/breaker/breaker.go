// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package breaker guards the queue store. While the store is unreachable
// every queue operation fails fast instead of piling up on dead connections,
// and a single reconnect loop owns the probing schedule.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/queuestore"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	default:
		return "open"
	}
}

const probeTimeout = 2 * time.Second

// StoreBreaker decorates a QueueStore with three-state failure handling.
// Consecutive transient failures trip it open; the reconnect loop probes the
// store and closes it again. After the attempt budget is spent the breaker
// reports on Fatalities and stays open.
type StoreBreaker struct {
	inner queuestore.QueueStore
	mm    metrics.MatchmakingMetrics

	failureThreshold int
	baseDelay        time.Duration
	capDelay         time.Duration
	maxAttempts      int

	mu       sync.Mutex
	state    State
	failures int

	tripCh  chan struct{}
	fatalCh chan error
}

var _ queuestore.QueueStore = (*StoreBreaker)(nil)

func NewStoreBreaker(inner queuestore.QueueStore, cfg *config.Config, mm metrics.MatchmakingMetrics) *StoreBreaker {
	return &StoreBreaker{
		inner:            inner,
		mm:               mm,
		failureThreshold: cfg.BreakerFailureThreshold,
		baseDelay:        cfg.ReconnectBase(),
		capDelay:         cfg.ReconnectCap(),
		maxAttempts:      cfg.ReconnectMaxAttempts,
		state:            StateClosed,
		tripCh:           make(chan struct{}, 1),
		fatalCh:          make(chan error, 1),
	}
}

// Fatalities reports store loss after the reconnect budget is spent. The
// supervisor decides what to do with the process.
func (b *StoreBreaker) Fatalities() <-chan error {
	return b.fatalCh
}

// State reports the current breaker state.
func (b *StoreBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *StoreBreaker) setState(next State) {
	b.mu.Lock()
	b.state = next
	if next == StateClosed {
		b.failures = 0
	}
	b.mu.Unlock()
	b.mm.SetBreakerState(int(next))
}

func (b *StoreBreaker) allow() bool {
	return b.State() == StateClosed
}

// observe counts consecutive transient failures and trips the breaker at the
// threshold. Fatal store failures are not connectivity and do not count.
func (b *StoreBreaker) observe(err error) {
	if err != nil && !models.IsTransientStoreFailure(err) {
		return
	}

	b.mu.Lock()
	if err == nil {
		b.failures = 0
		b.mu.Unlock()
		return
	}

	b.failures++
	tripped := b.state == StateClosed && b.failures >= b.failureThreshold
	if tripped {
		b.state = StateOpen
	}
	b.mu.Unlock()

	if tripped {
		b.mm.SetBreakerState(int(StateOpen))
		select {
		case b.tripCh <- struct{}{}:
		default:
		}
	}
}

// Run processes trip events serially. One reconnect cycle runs at a time.
func (b *StoreBreaker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.tripCh:
			b.reconnect(ctx)
		}
	}
}

func (b *StoreBreaker) reconnect(ctx context.Context) {
	scope := envelope.NewRootScope(ctx, "StoreBreaker.Reconnect", "")
	defer scope.Finish()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.baseDelay
	bo.MaxInterval = b.capDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		delay := bo.NextBackOff()
		scope.Log.WithField("attempt", attempt).WithField("delay", delay.String()).Info("waiting before store probe")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		b.setState(StateHalfOpen)
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := b.inner.Ping(probeCtx)
		cancel()

		if err == nil {
			b.mm.AddStoreReconnect(constants.ReconnectResultSuccess)
			b.setState(StateClosed)
			scope.Log.WithField("attempt", attempt).Info("store probe succeeded, breaker closed")
			return
		}

		b.mm.AddStoreReconnect(constants.ReconnectResultFailure)
		b.setState(StateOpen)
		scope.Log.WithField("attempt", attempt).Warnf("store probe failed: %s", err)
	}

	scope.Log.Error("store reconnect attempts exhausted")
	select {
	case b.fatalCh <- fmt.Errorf("store unreachable after %d reconnect attempts", b.maxAttempts):
	default:
	}
}

func (b *StoreBreaker) Enqueue(rootScope *envelope.Scope, mode models.GameMode, playerID string, metadata string, nowMs int64) (models.EnqueueOutcome, error) {
	if !b.allow() {
		return "", models.ErrStoreUnavailable
	}
	outcome, err := b.inner.Enqueue(rootScope, mode, playerID, metadata, nowMs)
	b.observe(err)
	return outcome, err
}

func (b *StoreBreaker) Dequeue(rootScope *envelope.Scope, mode models.GameMode, playerID string) (models.DequeueOutcome, error) {
	if !b.allow() {
		return "", models.ErrStoreUnavailable
	}
	outcome, err := b.inner.Dequeue(rootScope, mode, playerID)
	b.observe(err)
	return outcome, err
}

func (b *StoreBreaker) TryMatchPop(rootScope *envelope.Scope, mode models.GameMode, settings models.ModeSettings, nowMs int64) ([]models.QueueEntry, error) {
	if !b.allow() {
		return nil, models.ErrStoreUnavailable
	}
	entries, err := b.inner.TryMatchPop(rootScope, mode, settings, nowMs)
	b.observe(err)
	return entries, err
}

func (b *StoreBreaker) QueueLen(rootScope *envelope.Scope, mode models.GameMode) (int64, error) {
	if !b.allow() {
		return 0, models.ErrStoreUnavailable
	}
	depth, err := b.inner.QueueLen(rootScope, mode)
	b.observe(err)
	return depth, err
}

func (b *StoreBreaker) Reset(rootScope *envelope.Scope) error {
	if !b.allow() {
		return models.ErrStoreUnavailable
	}
	err := b.inner.Reset(rootScope)
	b.observe(err)
	return err
}

func (b *StoreBreaker) SetRunToken(rootScope *envelope.Scope, runID string) error {
	if !b.allow() {
		return models.ErrStoreUnavailable
	}
	err := b.inner.SetRunToken(rootScope, runID)
	b.observe(err)
	return err
}

// Ping always reaches the store, the reconnect loop depends on it.
func (b *StoreBreaker) Ping(ctx context.Context) error {
	return b.inner.Ping(ctx)
}
