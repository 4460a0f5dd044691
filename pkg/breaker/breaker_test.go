// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/queuestore"
	"github.com/AccelByte/realtime-matchmaker/pkg/testsetup"

	. "github.com/onsi/gomega"
)

// flakyStore fails every queue operation with the configured error.
type flakyStore struct {
	mu      sync.Mutex
	err     error
	pingErr error
	calls   int
}

var _ queuestore.QueueStore = (*flakyStore)(nil)

func (s *flakyStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *flakyStore) failPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

func (s *flakyStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *flakyStore) touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *flakyStore) Enqueue(_ *envelope.Scope, _ models.GameMode, _ string, _ string, _ int64) (models.EnqueueOutcome, error) {
	if err := s.touch(); err != nil {
		return "", err
	}
	return models.EnqueueOutcomeAdded, nil
}

func (s *flakyStore) Dequeue(_ *envelope.Scope, _ models.GameMode, _ string) (models.DequeueOutcome, error) {
	if err := s.touch(); err != nil {
		return "", err
	}
	return models.DequeueOutcomeRemoved, nil
}

func (s *flakyStore) TryMatchPop(_ *envelope.Scope, _ models.GameMode, _ models.ModeSettings, _ int64) ([]models.QueueEntry, error) {
	if err := s.touch(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *flakyStore) QueueLen(_ *envelope.Scope, _ models.GameMode) (int64, error) {
	if err := s.touch(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *flakyStore) Reset(_ *envelope.Scope) error {
	return s.touch()
}

func (s *flakyStore) SetRunToken(_ *envelope.Scope, _ string) error {
	return s.touch()
}

func (s *flakyStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func breakerConfig(threshold, maxAttempts int) *config.Config {
	return &config.Config{
		BreakerFailureThreshold: threshold,
		ReconnectBaseMs:         1,
		ReconnectCapSecond:      1,
		ReconnectMaxAttempts:    maxAttempts,
	}
}

func waitForState(b *StoreBreaker, want State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.State() == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return b.State() == want
}

func TestStoreBreaker_StaysClosedOnSuccess(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	inner := &flakyStore{}
	b := NewStoreBreaker(inner, breakerConfig(3, 5), testsetup.NewMetrics())

	for i := 0; i < 10; i++ {
		_, err := b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
		g.Expect(err).To(BeNil())
	}

	g.Expect(b.State()).To(Equal(StateClosed))
}

func TestStoreBreaker_TripsAfterConsecutiveTransientFailures(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	inner := &flakyStore{}
	inner.fail(models.NewTransientStoreFailure(errors.New("connection refused")))
	b := NewStoreBreaker(inner, breakerConfig(3, 5), testsetup.NewMetrics())

	for i := 0; i < 2; i++ {
		_, err := b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
		g.Expect(models.IsTransientStoreFailure(err)).To(BeTrue())
	}
	g.Expect(b.State()).To(Equal(StateClosed))

	_, err := b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	g.Expect(models.IsTransientStoreFailure(err)).To(BeTrue())
	g.Expect(b.State()).To(Equal(StateOpen))

	// Open breaker fails fast without touching the store.
	callsBefore := inner.callCount()
	_, err = b.Dequeue(g.TestScope, models.GameModeCasual1v1, "p1")
	g.Expect(errors.Is(err, models.ErrStoreUnavailable)).To(BeTrue())
	g.Expect(inner.callCount()).To(Equal(callsBefore))
}

func TestStoreBreaker_SuccessResetsFailureStreak(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	inner := &flakyStore{}
	b := NewStoreBreaker(inner, breakerConfig(3, 5), testsetup.NewMetrics())
	transient := models.NewTransientStoreFailure(errors.New("timeout"))

	inner.fail(transient)
	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)

	inner.fail(nil)
	_, err := b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	g.Expect(err).To(BeNil())

	inner.fail(transient)
	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	g.Expect(b.State()).To(Equal(StateClosed))

	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	g.Expect(b.State()).To(Equal(StateOpen))
}

func TestStoreBreaker_FatalFailuresDoNotTrip(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	inner := &flakyStore{}
	inner.fail(models.NewFatalStoreFailure(errors.New("WRONGTYPE Operation against a key")))
	b := NewStoreBreaker(inner, breakerConfig(1, 5), testsetup.NewMetrics())

	for i := 0; i < 5; i++ {
		_, err := b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
		g.Expect(err).ToNot(BeNil())
		g.Expect(models.IsTransientStoreFailure(err)).To(BeFalse())
	}

	g.Expect(b.State()).To(Equal(StateClosed))
}

func TestStoreBreaker_ReconnectClosesAfterProbeSucceeds(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	inner := &flakyStore{}
	b := NewStoreBreaker(inner, breakerConfig(1, 10), testsetup.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	inner.fail(models.NewTransientStoreFailure(errors.New("connection reset")))
	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	g.Expect(b.State()).To(Equal(StateOpen))

	// Ping was never failing, so the first probe closes the breaker again.
	inner.fail(nil)

	g.Expect(waitForState(b, StateClosed, 3*time.Second)).To(BeTrue())

	_, err := b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	g.Expect(err).To(BeNil())
}

func TestStoreBreaker_ReportsFatalityWhenAttemptsExhausted(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	inner := &flakyStore{}
	inner.failPing(errors.New("still down"))
	b := NewStoreBreaker(inner, breakerConfig(1, 2), testsetup.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	inner.fail(models.NewTransientStoreFailure(errors.New("connection reset")))
	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)

	select {
	case err := <-b.Fatalities():
		g.Expect(err.Error()).To(Equal("store unreachable after 2 reconnect attempts"))
	case <-time.After(3 * time.Second):
		t.Fatal("no fatality reported after the attempt budget")
	}

	g.Expect(b.State()).To(Equal(StateOpen))
}

func TestStoreBreaker_PingBypassesOpenState(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	inner := &flakyStore{}
	inner.fail(models.NewTransientStoreFailure(errors.New("connection reset")))
	b := NewStoreBreaker(inner, breakerConfig(1, 5), testsetup.NewMetrics())

	_, _ = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", "{}", 1000)
	g.Expect(b.State()).To(Equal(StateOpen))

	g.Expect(b.Ping(context.Background())).To(BeNil())
}

func TestStoreBreaker_TripAndRecoverAgainstStore(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	mr, client := testsetup.NewRedis(t)
	b := NewStoreBreaker(queuestore.NewRedisQueueStore(client), breakerConfig(1, 10), testsetup.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	outcome, err := b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", `{"skill":100}`, 1000)
	g.Expect(err).To(BeNil())
	g.Expect(outcome).To(Equal(models.EnqueueOutcomeAdded))

	mr.SetError("connection lost")
	_, err = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p2", `{"skill":100}`, 2000)
	g.Expect(models.IsTransientStoreFailure(err)).To(BeTrue())
	g.Expect(b.State()).To(Equal(StateOpen))

	mr.SetError("")

	g.Expect(waitForState(b, StateClosed, 3*time.Second)).To(BeTrue())

	outcome, err = b.Enqueue(g.TestScope, models.GameModeCasual1v1, "p2", `{"skill":100}`, 3000)
	g.Expect(err).To(BeNil())
	g.Expect(outcome).To(Equal(models.EnqueueOutcomeAdded))
}
