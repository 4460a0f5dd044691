// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusMetrics struct {
	enqueueOutcomes     prometheus.CounterVec
	queueDepth          prometheus.GaugeVec
	matchesFormed       prometheus.CounterVec
	matchSkillSpread    prometheus.HistogramVec
	tickElapsedTime     prometheus.HistogramVec
	timeToMatch         prometheus.HistogramVec
	allocationFailures  prometheus.CounterVec
	deliveredEvents     prometheus.CounterVec
	breakerState        prometheus.Gauge
	storeReconnects     prometheus.CounterVec
	activeSessions      prometheus.Gauge
	sessionCloseReasons prometheus.CounterVec
}

func setupPrometheusMetrics(registry *prometheus.Registry) prometheusMetrics {
	factory := promauto.With(registry)

	enqueueOutcomes := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_rtmm_enqueue_outcomes",
			Help: "A counter of enqueue outcomes per game mode",
		}, []string{"mode", "outcome"})

	queueDepth := factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ab_rtmm_queue_depth",
			Help: "A gauge of queued players per game mode",
		}, []string{"mode"})

	matchesFormed := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_rtmm_matches_formed",
			Help: "A counter of matches formed per game mode",
		}, []string{"mode"})

	//nolint:promlinter
	matchSkillSpread := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ab_rtmm_match_skill_spread",
			Help:    "A histogram of skill standard deviation inside formed matches",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"mode"})

	//nolint:promlinter
	tickElapsedTime := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ab_rtmm_tick_elapsed_time_ms",
			Help:    "A histogram of match formation tick elapsed time in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"mode"})

	//nolint:promlinter
	timeToMatch := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ab_rtmm_time_to_match_ms",
			Help:    "A histogram of queue wait until match formation in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12),
		}, []string{"mode"})

	allocationFailures := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_rtmm_allocation_failures",
			Help: "A counter of dedicated server allocation failures per reason",
		}, []string{"mode", "reason"})

	deliveredEvents := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_rtmm_delivered_events",
			Help: "A counter of match event delivery results on this instance",
		}, []string{"result"})

	breakerState := factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "ab_rtmm_breaker_state",
			Help: "Queue store breaker state, 0 closed 1 half open 2 open",
		})

	storeReconnects := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_rtmm_store_reconnects",
			Help: "A counter of queue store reconnect probe results",
		}, []string{"result"})

	activeSessions := factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "ab_rtmm_active_sessions",
			Help: "A gauge of live client sessions on this instance",
		})

	sessionCloseReasons := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_rtmm_session_closes",
			Help: "A counter of session close reasons on this instance",
		}, []string{"reason"})

	return prometheusMetrics{
		enqueueOutcomes:     *enqueueOutcomes,
		queueDepth:          *queueDepth,
		matchesFormed:       *matchesFormed,
		matchSkillSpread:    *matchSkillSpread,
		tickElapsedTime:     *tickElapsedTime,
		timeToMatch:         *timeToMatch,
		allocationFailures:  *allocationFailures,
		deliveredEvents:     *deliveredEvents,
		breakerState:        breakerState,
		storeReconnects:     *storeReconnects,
		activeSessions:      activeSessions,
		sessionCloseReasons: *sessionCloseReasons,
	}
}

func (metrics prometheusMetrics) AddEnqueueOutcome(mode string, outcome string) {
	metrics.enqueueOutcomes.With(prometheus.Labels{"mode": mode, "outcome": outcome}).Add(float64(1))
}

func (metrics prometheusMetrics) SetQueueDepth(mode string, depth int) {
	metrics.queueDepth.With(prometheus.Labels{"mode": mode}).Set(float64(depth))
}

func (metrics prometheusMetrics) AddMatchFormed(mode string, skillSpread float64) {
	metrics.matchesFormed.With(prometheus.Labels{"mode": mode}).Add(float64(1))
	metrics.matchSkillSpread.With(prometheus.Labels{"mode": mode}).Observe(skillSpread)
}

func (metrics prometheusMetrics) AddTickElapsedTimeMs(mode string, elapsedTime time.Duration) {
	metrics.tickElapsedTime.With(prometheus.Labels{"mode": mode}).Observe(float64(elapsedTime.Milliseconds()))
}

func (metrics prometheusMetrics) AddTimeToMatchMs(mode string, waited time.Duration) {
	metrics.timeToMatch.With(prometheus.Labels{"mode": mode}).Observe(float64(waited.Milliseconds()))
}

func (metrics prometheusMetrics) AddAllocationFailure(mode string, reason string) {
	metrics.allocationFailures.With(prometheus.Labels{"mode": mode, "reason": reason}).Add(float64(1))
}

func (metrics prometheusMetrics) AddDeliveredEvent(result string) {
	metrics.deliveredEvents.With(prometheus.Labels{"result": result}).Add(float64(1))
}

func (metrics prometheusMetrics) SetBreakerState(state int) {
	metrics.breakerState.Set(float64(state))
}

func (metrics prometheusMetrics) AddStoreReconnect(result string) {
	metrics.storeReconnects.With(prometheus.Labels{"result": result}).Add(float64(1))
}

func (metrics prometheusMetrics) SetActiveSessions(count int) {
	metrics.activeSessions.Set(float64(count))
}

func (metrics prometheusMetrics) AddSessionClose(reason string) {
	metrics.sessionCloseReasons.With(prometheus.Labels{"reason": reason}).Add(float64(1))
}
