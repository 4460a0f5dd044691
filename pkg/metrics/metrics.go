// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type MatchmakingMetrics interface {
	AddEnqueueOutcome(mode string, outcome string)
	SetQueueDepth(mode string, depth int)
	AddMatchFormed(mode string, skillSpread float64)
	AddTickElapsedTimeMs(mode string, elapsedTime time.Duration)
	AddTimeToMatchMs(mode string, waited time.Duration)
	AddAllocationFailure(mode string, reason string)
	AddDeliveredEvent(result string)
	SetBreakerState(state int)
	AddStoreReconnect(result string)
	SetActiveSessions(count int)
	AddSessionClose(reason string)
}

func NewMetrics(registry *prometheus.Registry) MatchmakingMetrics {
	return setupPrometheusMetrics(registry)
}
