// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package matchmaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/allocator"
	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/eventbus"
	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/queuestore"
)

const commandMailboxSize = 256

// QueueMatchmaker implements Matchmaker over the shared queue store. All
// mailbox commands and ticks run on the Run goroutine; dispatches of formed
// matches run on their own goroutines because server allocation can take up
// to the dispatch ack timeout and must not stall the mailbox.
type QueueMatchmaker struct {
	store              queuestore.QueueStore
	alloc              allocator.Allocator
	bus                eventbus.Bus
	mm                 metrics.MatchmakingMetrics
	modes              map[models.GameMode]models.ModeSettings
	skillMax           float64
	dispatchAckTimeout time.Duration

	commands chan command
	ticks    chan models.GameMode

	// nonempty mirrors the queue state this instance last observed per mode.
	// It feeds tick bookkeeping only. Pop attempts always ask the store,
	// entries can arrive through any instance between observations.
	nonempty map[models.GameMode]bool
	tickSeq  int64

	tickMu   sync.Mutex
	lastTick map[models.GameMode]TickInfo

	dispatches sync.WaitGroup
}

var _ Matchmaker = (*QueueMatchmaker)(nil)

func NewQueueMatchmaker(
	store queuestore.QueueStore,
	alloc allocator.Allocator,
	bus eventbus.Bus,
	mm metrics.MatchmakingMetrics,
	modes map[models.GameMode]models.ModeSettings,
	cfg *config.Config,
) *QueueMatchmaker {
	return &QueueMatchmaker{
		store:              store,
		alloc:              alloc,
		bus:                bus,
		mm:                 mm,
		modes:              modes,
		skillMax:           cfg.SkillMax,
		dispatchAckTimeout: cfg.DispatchAckTimeout(),
		commands:           make(chan command, commandMailboxSize),
		ticks:              make(chan models.GameMode, len(modes)*2),
		nonempty:           make(map[models.GameMode]bool, len(modes)),
		lastTick:           make(map[models.GameMode]TickInfo, len(modes)),
	}
}

// Enqueue implements Matchmaker.
func (m *QueueMatchmaker) Enqueue(rootScope *envelope.Scope, playerID string, mode models.GameMode, metadata string) (int64, error) {
	scope := rootScope.NewChildScope("QueueMatchmaker.Enqueue")
	defer scope.Finish()
	scope.SetAttributes(envelope.PlayerIDTag, playerID)
	scope.SetAttributes(envelope.GameModeTag, mode.String())

	res, err := m.post(scope, command{
		kind:     commandEnqueue,
		playerID: playerID,
		mode:     mode,
		metadata: metadata,
	})
	if err != nil {
		return 0, err
	}

	return res.enqueuedAtMs, res.err
}

// Dequeue implements Matchmaker.
func (m *QueueMatchmaker) Dequeue(rootScope *envelope.Scope, playerID string, mode models.GameMode) (models.DequeueOutcome, error) {
	scope := rootScope.NewChildScope("QueueMatchmaker.Dequeue")
	defer scope.Finish()
	scope.SetAttributes(envelope.PlayerIDTag, playerID)
	scope.SetAttributes(envelope.GameModeTag, mode.String())

	res, err := m.post(scope, command{
		kind:     commandDequeue,
		playerID: playerID,
		mode:     mode,
	})
	if err != nil {
		return models.DequeueOutcomeNotPresent, err
	}

	return res.dequeue, res.err
}

// post places a command into the mailbox and waits for its result. The caller
// scope bounds both the hand-off and the wait.
func (m *QueueMatchmaker) post(scope *envelope.Scope, cmd command) (commandResult, error) {
	cmd.scope = scope
	cmd.reply = make(chan commandResult, 1)

	select {
	case m.commands <- cmd:
	case <-scope.Ctx.Done():
		return commandResult{}, scope.Ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-scope.Ctx.Done():
		return commandResult{}, scope.Ctx.Err()
	}
}

// LastTicks returns a copy of the most recent tick bookkeeping per mode.
func (m *QueueMatchmaker) LastTicks() map[models.GameMode]TickInfo {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	ticks := make(map[models.GameMode]TickInfo, len(m.lastTick))
	for mode, info := range m.lastTick {
		ticks[mode] = info
	}

	return ticks
}

// Run implements Matchmaker.
func (m *QueueMatchmaker) Run(ctx context.Context) error {
	for mode, settings := range m.modes {
		go m.runModeTicker(ctx, mode, settings.TickPeriod())
	}

	logrus.WithField("modes", len(m.modes)).Info("matchmaker started")

	for {
		select {
		case <-ctx.Done():
			m.dispatches.Wait()
			return ctx.Err()
		case cmd := <-m.commands:
			m.handleCommand(cmd)
		case mode := <-m.ticks:
			m.handleTick(ctx, mode)
		}
	}
}

// runModeTicker posts one tick per period into the tick channel. A full
// channel means the matchmaker is behind; the tick is dropped and the next
// period retries.
func (m *QueueMatchmaker) runModeTicker(ctx context.Context, mode models.GameMode, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case m.ticks <- mode:
			default:
			}
		}
	}
}

func (m *QueueMatchmaker) handleCommand(cmd command) {
	switch cmd.kind {
	case commandEnqueue:
		cmd.reply <- m.handleEnqueue(cmd)
	case commandDequeue:
		cmd.reply <- m.handleDequeue(cmd)
	}
}

func (m *QueueMatchmaker) handleEnqueue(cmd command) commandResult {
	if _, ok := m.modes[cmd.mode]; !ok {
		m.mm.AddEnqueueOutcome(cmd.mode.String(), string(models.EnqueueOutcomeRejected))
		return commandResult{err: models.ErrUnknownMode}
	}

	meta, err := models.ParseEntryMetadata(cmd.metadata, m.skillMax)
	if err != nil {
		m.mm.AddEnqueueOutcome(cmd.mode.String(), string(models.EnqueueOutcomeRejected))
		return commandResult{err: err}
	}

	nowMs := time.Now().UnixMilli()
	outcome, err := m.store.Enqueue(cmd.scope, cmd.mode, cmd.playerID, meta.Encode(), nowMs)
	if err != nil {
		return commandResult{err: err}
	}

	m.nonempty[cmd.mode] = true
	m.mm.AddEnqueueOutcome(cmd.mode.String(), string(outcome))

	return commandResult{enqueuedAtMs: nowMs}
}

func (m *QueueMatchmaker) handleDequeue(cmd command) commandResult {
	if _, ok := m.modes[cmd.mode]; !ok {
		return commandResult{err: models.ErrUnknownMode}
	}

	outcome, err := m.store.Dequeue(cmd.scope, cmd.mode, cmd.playerID)
	if err != nil {
		return commandResult{err: err}
	}

	return commandResult{dequeue: outcome}
}

// handleTick drains up to MaxPopsPerTick full groups from the mode queue and
// hands each to its own dispatch goroutine.
func (m *QueueMatchmaker) handleTick(ctx context.Context, mode models.GameMode) {
	settings, ok := m.modes[mode]
	if !ok {
		return
	}

	scope := envelope.NewRootScope(ctx, "QueueMatchmaker.Tick", "")
	defer scope.Finish()
	scope.SetAttributes(envelope.GameModeTag, mode.String())

	m.tickSeq++
	info := TickInfo{
		Timestamp:    time.Now().UTC(),
		GameMode:     mode.String(),
		TickID:       m.tickSeq,
		NonemptyHint: m.nonempty[mode],
	}
	start := time.Now()

	for pops := 0; pops < settings.MaxPopsPerTick; pops++ {
		entries, err := m.store.TryMatchPop(scope, mode, settings, time.Now().UnixMilli())
		if err != nil {
			if errors.Is(err, models.ErrStoreUnavailable) {
				scope.Log.WithField("gameMode", mode).Debug("store unavailable, tick skipped")
			} else {
				scope.Log.WithField("gameMode", mode).Error("match pop failed: ", err)
			}
			break
		}
		if len(entries) == 0 {
			break
		}

		match := models.NewMatch(mode, entries)
		info.MatchesFormed++
		info.PlayersMatched += len(entries)

		m.dispatches.Add(1)
		go m.dispatch(scope.TraceID, match)
	}

	elapsed := time.Since(start)
	info.ElapsedMs = elapsed.Milliseconds()
	m.mm.AddTickElapsedTimeMs(mode.String(), elapsed)

	if depth, err := m.store.QueueLen(scope, mode); err == nil {
		info.QueueDepth = depth
		m.nonempty[mode] = depth > 0
		m.mm.SetQueueDepth(mode.String(), int(depth))
	}

	m.tickMu.Lock()
	m.lastTick[mode] = info
	m.tickMu.Unlock()

	if info.MatchesFormed > 0 {
		scope.Log.WithFields(logrus.Fields{
			"gameMode":  info.GameMode,
			"tickID":    info.TickID,
			"matches":   info.MatchesFormed,
			"players":   info.PlayersMatched,
			"elapsedMs": info.ElapsedMs,
		}).Info("tick formed matches")
	}
}

// dispatch reserves a server slot for one formed match and announces the
// result on the event bus. It runs detached from the tick that formed the
// match; the popped entries are exclusively owned here until they are either
// announced or returned to the queue.
func (m *QueueMatchmaker) dispatch(traceID string, match models.Match) {
	defer m.dispatches.Done()

	rootScope := envelope.NewRootScope(context.Background(), "QueueMatchmaker.Dispatch", traceID)
	defer rootScope.Finish()
	rootScope.SetAttributes(envelope.GameModeTag, match.GameMode.String())
	rootScope.SetAttributes(envelope.MatchIDTag, match.MatchID)

	allocScope, cancel := rootScope.WithTimeout("QueueMatchmaker.Dispatch.Allocate", m.dispatchAckTimeout)
	defer cancel()
	defer allocScope.Finish()

	slot, err := m.alloc.Reserve(allocScope, match)
	if err != nil {
		m.requeue(rootScope, match, err)
		return
	}

	m.announce(rootScope, match, slot)
}

// requeue returns a match group to its queue after a failed allocation. The
// original enqueue timestamps are kept, so the group keeps its place and its
// widened windows.
func (m *QueueMatchmaker) requeue(scope *envelope.Scope, match models.Match, cause error) {
	reason := constants.AllocReasonStoreFailed
	var allocErr *models.AllocError
	if errors.As(cause, &allocErr) {
		reason = allocErr.Reason
	}
	m.mm.AddAllocationFailure(match.GameMode.String(), reason)

	scope.Log.WithFields(logrus.Fields{
		"gameMode": match.GameMode,
		"matchID":  match.MatchID,
		"reason":   reason,
	}).Warn("server allocation failed, returning group to queue: ", cause)

	for _, entry := range match.Entries {
		_, err := m.store.Enqueue(scope, match.GameMode, entry.PlayerID, entry.Metadata, entry.EnqueuedAtMs)
		if err != nil {
			scope.Log.WithFields(logrus.Fields{
				"gameMode": match.GameMode,
				"playerID": entry.PlayerID,
			}).Error("re-enqueue after allocation failure failed: ", err)
		}
	}
}

// announce publishes one match event per member, in pop order, so every
// instance delivers match_found frames ordered by original enqueue time.
func (m *QueueMatchmaker) announce(scope *envelope.Scope, match models.Match, slot models.SessionSlot) {
	_, spread := match.SkillStats()
	m.mm.AddMatchFormed(match.GameMode.String(), spread)

	nowMs := time.Now().UnixMilli()
	for _, entry := range match.Entries {
		event := models.MatchEvent{
			PlayerID: entry.PlayerID,
			Message:  models.NewMatchFoundMessage(match.MatchID, slot, entry.PlayerID),
		}
		if err := m.bus.Publish(scope.Ctx, event); err != nil {
			scope.Log.WithFields(logrus.Fields{
				"matchID":  match.MatchID,
				"playerID": entry.PlayerID,
			}).Error("publish match event failed: ", err)
			continue
		}
		m.mm.AddTimeToMatchMs(match.GameMode.String(), time.Duration(nowMs-entry.EnqueuedAtMs)*time.Millisecond)
	}

	scope.Log.WithFields(logrus.Fields{
		"gameMode":  match.GameMode,
		"matchID":   match.MatchID,
		"sessionID": slot.SessionID,
		"players":   len(match.Entries),
	}).Info("match dispatched")
}
