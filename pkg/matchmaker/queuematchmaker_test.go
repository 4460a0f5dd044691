// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AccelByte/realtime-matchmaker/pkg/allocator"
	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/eventbus"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/queuestore"
	"github.com/AccelByte/realtime-matchmaker/pkg/testsetup"

	"github.com/davecgh/go-spew/spew"
	. "github.com/onsi/gomega"
)

func fastModes() map[models.GameMode]models.ModeSettings {
	return map[models.GameMode]models.ModeSettings{
		models.GameModeCasual1v1: {GroupSize: 2, WindowWidth: 200, MaxQueueWaitMs: 10000, TickPeriodMs: 20, MaxPopsPerTick: 4},
	}
}

func idleModes() map[models.GameMode]models.ModeSettings {
	return map[models.GameMode]models.ModeSettings{
		models.GameModeCasual1v1: {GroupSize: 2, WindowWidth: 200, MaxQueueWaitMs: 10000, TickPeriodMs: 60000, MaxPopsPerTick: 4},
	}
}

func startMatchmaker(t *testing.T, store queuestore.QueueStore, alloc allocator.Allocator, bus eventbus.Bus, modes map[models.GameMode]models.ModeSettings) *QueueMatchmaker {
	t.Helper()

	cfg := &config.Config{SkillMax: 5000, DispatchAckTimeoutSecond: 2}
	m := NewQueueMatchmaker(store, alloc, bus, testsetup.NewMetrics(), modes, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return m
}

func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestQueueMatchmaker_EnqueueAddsToStore(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	mr, client := testsetup.NewRedis(t)
	store := queuestore.NewRedisQueueStore(client)
	m := startMatchmaker(t, store, testsetup.NewStubAllocator(), testsetup.NewStubBus(), idleModes())

	enqueuedAtMs, err := m.Enqueue(g.TestScope, "p1", models.GameModeCasual1v1, `{"skill":1200}`)

	g.Expect(err).To(BeNil())
	g.Expect(enqueuedAtMs > 0).To(BeTrue())

	owner, err := mr.Get("mm:owner:p1")
	g.Expect(err).To(BeNil())
	g.Expect(owner).To(Equal("casual1v1"))

	score, err := mr.ZScore("mm:q:casual1v1", "p1")
	g.Expect(err).To(BeNil())
	g.Expect(score).To(Equal(float64(enqueuedAtMs)))
}

func TestQueueMatchmaker_EnqueueRejectsUnknownMode(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	_, client := testsetup.NewRedis(t)
	m := startMatchmaker(t, queuestore.NewRedisQueueStore(client), testsetup.NewStubAllocator(), testsetup.NewStubBus(), idleModes())

	_, err := m.Enqueue(g.TestScope, "p1", models.GameMode("nope"), `{"skill":1200}`)

	g.Expect(errors.Is(err, models.ErrUnknownMode)).To(BeTrue())
}

func TestQueueMatchmaker_EnqueueRejectsInvalidMetadata(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	mr, client := testsetup.NewRedis(t)
	m := startMatchmaker(t, queuestore.NewRedisQueueStore(client), testsetup.NewStubAllocator(), testsetup.NewStubBus(), idleModes())

	_, err := m.Enqueue(g.TestScope, "p1", models.GameModeCasual1v1, `{"skill":999999}`)

	var validationErr *models.ValidationError
	g.Expect(errors.As(err, &validationErr)).To(BeTrue())
	g.Expect(validationErr.Reason).To(Equal(constants.RejectReasonSkillOutOfRange))
	g.Expect(mr.Exists("mm:owner:p1")).To(BeFalse())
}

func TestQueueMatchmaker_DequeueOutcomes(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	_, client := testsetup.NewRedis(t)
	m := startMatchmaker(t, queuestore.NewRedisQueueStore(client), testsetup.NewStubAllocator(), testsetup.NewStubBus(), idleModes())

	_, err := m.Enqueue(g.TestScope, "p1", models.GameModeCasual1v1, `{"skill":1200}`)
	g.Expect(err).To(BeNil())

	outcome, err := m.Dequeue(g.TestScope, "p1", models.GameModeCasual1v1)
	g.Expect(err).To(BeNil())
	g.Expect(outcome).To(Equal(models.DequeueOutcomeRemoved))

	outcome, err = m.Dequeue(g.TestScope, "p1", models.GameModeCasual1v1)
	g.Expect(err).To(BeNil())
	g.Expect(outcome).To(Equal(models.DequeueOutcomeNotPresent))

	_, err = m.Dequeue(g.TestScope, "p1", models.GameMode("nope"))
	g.Expect(errors.Is(err, models.ErrUnknownMode)).To(BeTrue())
}

func TestQueueMatchmaker_TickFormsMatchAndAnnounces(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	_, client := testsetup.NewRedis(t)
	store := queuestore.NewRedisQueueStore(client)
	alloc := testsetup.NewStubAllocator()
	bus := testsetup.NewStubBus()
	m := startMatchmaker(t, store, alloc, bus, fastModes())

	_, err := m.Enqueue(g.TestScope, "p1", models.GameModeCasual1v1, `{"skill":1200}`)
	g.Expect(err).To(BeNil())
	_, err = m.Enqueue(g.TestScope, "p2", models.GameModeCasual1v1, `{"skill":1250}`)
	g.Expect(err).To(BeNil())

	g.Expect(waitUntil(3*time.Second, func() bool { return len(bus.Published()) == 2 })).To(BeTrue())

	reserved := alloc.Reserved()
	g.Expect(reserved).To(HaveLen(1))
	g.Expect(reserved[0].PlayerIDs()).To(Equal([]string{"p1", "p2"}))

	events := bus.Published()
	g.Expect(events[0].PlayerID).To(Equal("p1"))
	g.Expect(events[0].Message.Type).To(Equal(constants.FrameTypeMatchFound))
	g.Expect(events[0].Message.MatchID).To(Equal(reserved[0].MatchID))
	g.Expect(events[0].Message.Peers).To(Equal([]string{"p2"}))
	g.Expect(events[1].PlayerID).To(Equal("p2"))
	g.Expect(events[1].Message.Peers).To(Equal([]string{"p1"}))

	depth, err := store.QueueLen(g.TestScope, models.GameModeCasual1v1)
	g.Expect(err).To(BeNil())
	g.Expect(depth).To(Equal(int64(0)))
}

func TestQueueMatchmaker_FailedAllocationRequeuesWithOriginalTimestamps(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	mr, client := testsetup.NewRedis(t)
	store := queuestore.NewRedisQueueStore(client)
	alloc := testsetup.NewStubAllocator()
	alloc.SetErr(models.NewAllocError(constants.AllocReasonNoCapacity, models.ErrNoCapacity))
	bus := testsetup.NewStubBus()
	m := startMatchmaker(t, store, alloc, bus, fastModes())

	ts1, err := m.Enqueue(g.TestScope, "p1", models.GameModeCasual1v1, `{"skill":1200}`)
	g.Expect(err).To(BeNil())
	ts2, err := m.Enqueue(g.TestScope, "p2", models.GameModeCasual1v1, `{"skill":1250}`)
	g.Expect(err).To(BeNil())

	// A dispatch fails and the group lands back in the queue with its
	// original enqueue times.
	requeued := waitUntil(3*time.Second, func() bool {
		if len(alloc.Reserved()) == 0 {
			return false
		}
		score1, err1 := mr.ZScore("mm:q:casual1v1", "p1")
		score2, err2 := mr.ZScore("mm:q:casual1v1", "p2")
		return err1 == nil && err2 == nil && score1 == float64(ts1) && score2 == float64(ts2)
	})
	if !requeued {
		fmt.Println("reservations:")
		spew.Dump(alloc.Reserved())
		t.Fatal("group did not return to the queue with its enqueue times")
	}
	g.Expect(bus.Published()).To(BeEmpty())

	// Capacity returns and the same group goes out, oldest first.
	alloc.SetErr(nil)

	g.Expect(waitUntil(3*time.Second, func() bool { return len(bus.Published()) == 2 })).To(BeTrue())
	events := bus.Published()
	g.Expect(events[0].PlayerID).To(Equal("p1"))
	g.Expect(events[1].PlayerID).To(Equal("p2"))
}

func TestQueueMatchmaker_TickBoundsPopsPerTick(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	_, client := testsetup.NewRedis(t)
	store := queuestore.NewRedisQueueStore(client)
	alloc := testsetup.NewStubAllocator()
	bus := testsetup.NewStubBus()
	modes := map[models.GameMode]models.ModeSettings{
		models.GameModeCasual1v1: {GroupSize: 1, WindowWidth: 200, MaxQueueWaitMs: 10000, TickPeriodMs: 30, MaxPopsPerTick: 2},
	}
	m := startMatchmaker(t, store, alloc, bus, modes)

	players := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, playerID := range players {
		_, err := m.Enqueue(g.TestScope, playerID, models.GameModeCasual1v1, `{"skill":1200}`)
		g.Expect(err).To(BeNil())
	}

	maxFormedInOneTick := 0
	drained := waitUntil(5*time.Second, func() bool {
		if info, ok := m.LastTicks()[models.GameModeCasual1v1]; ok && info.MatchesFormed > maxFormedInOneTick {
			maxFormedInOneTick = info.MatchesFormed
		}
		return len(bus.Published()) == len(players)
	})

	if !drained {
		fmt.Println("announced:")
		spew.Dump(bus.Published())
		t.Fatal("queue did not drain")
	}
	g.Expect(maxFormedInOneTick <= 2).To(BeTrue())

	depth, err := store.QueueLen(g.TestScope, models.GameModeCasual1v1)
	g.Expect(err).To(BeNil())
	g.Expect(depth).To(Equal(int64(0)))
}

func TestQueueMatchmaker_LastTicksReportQueueState(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	_, client := testsetup.NewRedis(t)
	m := startMatchmaker(t, queuestore.NewRedisQueueStore(client), testsetup.NewStubAllocator(), testsetup.NewStubBus(), fastModes())

	_, err := m.Enqueue(g.TestScope, "p1", models.GameModeCasual1v1, `{"skill":1200}`)
	g.Expect(err).To(BeNil())

	g.Expect(waitUntil(3*time.Second, func() bool {
		info, ok := m.LastTicks()[models.GameModeCasual1v1]
		return ok && info.TickID > 0 && info.QueueDepth == 1
	})).To(BeTrue())

	info := m.LastTicks()[models.GameModeCasual1v1]
	g.Expect(info.GameMode).To(Equal("casual1v1"))
	g.Expect(info.MatchesFormed).To(Equal(0))
	g.Expect(info.QueueDepth).To(Equal(int64(1)))
}

func TestQueueMatchmaker_CallerDeadlineBoundsTheWait(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	_, client := testsetup.NewRedis(t)
	cfg := &config.Config{SkillMax: 5000, DispatchAckTimeoutSecond: 2}
	// Never started, so the mailbox accepts the command and nothing answers.
	m := NewQueueMatchmaker(queuestore.NewRedisQueueStore(client), testsetup.NewStubAllocator(), testsetup.NewStubBus(), testsetup.NewMetrics(), idleModes(), cfg)

	scope, cancel := g.TestScope.WithTimeout("enqueue", 50*time.Millisecond)
	defer cancel()

	_, err := m.Enqueue(scope, "p1", models.GameModeCasual1v1, `{"skill":1200}`)

	g.Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
}

// slowAllocator reserves through the stub, then holds the dispatch for delay.
type slowAllocator struct {
	*testsetup.StubAllocator
	delay time.Duration
}

func (a *slowAllocator) Reserve(scope *envelope.Scope, match models.Match) (models.SessionSlot, error) {
	slot, err := a.StubAllocator.Reserve(scope, match)
	time.Sleep(a.delay)
	return slot, err
}

func TestQueueMatchmaker_ShutdownDrainsInFlightDispatches(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	_, client := testsetup.NewRedis(t)
	store := queuestore.NewRedisQueueStore(client)
	alloc := &slowAllocator{StubAllocator: testsetup.NewStubAllocator(), delay: 300 * time.Millisecond}
	bus := testsetup.NewStubBus()

	cfg := &config.Config{SkillMax: 5000, DispatchAckTimeoutSecond: 2}
	m := NewQueueMatchmaker(store, alloc, bus, testsetup.NewMetrics(), fastModes(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	_, err := m.Enqueue(g.TestScope, "p1", models.GameModeCasual1v1, `{"skill":1200}`)
	g.Expect(err).To(BeNil())
	_, err = m.Enqueue(g.TestScope, "p2", models.GameModeCasual1v1, `{"skill":1250}`)
	g.Expect(err).To(BeNil())

	g.Expect(waitUntil(3*time.Second, func() bool { return len(alloc.Reserved()) == 1 })).To(BeTrue())

	// Stop while the dispatch is still inside the allocator hold.
	cancel()

	select {
	case err := <-done:
		g.Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop")
	}

	// The in-flight match was announced before Run returned.
	g.Expect(bus.Published()).To(HaveLen(2))
}
