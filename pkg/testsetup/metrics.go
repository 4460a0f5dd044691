package testsetup

import (
	"time"

	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
)

type stubMetricsCollection struct{}

func (s stubMetricsCollection) AddEnqueueOutcome(mode string, outcome string) {
}

func (s stubMetricsCollection) SetQueueDepth(mode string, depth int) {
}

func (s stubMetricsCollection) AddMatchFormed(mode string, skillSpread float64) {
}

func (s stubMetricsCollection) AddTickElapsedTimeMs(mode string, elapsedTime time.Duration) {
}

func (s stubMetricsCollection) AddTimeToMatchMs(mode string, waited time.Duration) {
}

func (s stubMetricsCollection) AddAllocationFailure(mode string, reason string) {
}

func (s stubMetricsCollection) AddDeliveredEvent(result string) {
}

func (s stubMetricsCollection) SetBreakerState(state int) {
}

func (s stubMetricsCollection) AddStoreReconnect(result string) {
}

func (s stubMetricsCollection) SetActiveSessions(count int) {
}

func (s stubMetricsCollection) AddSessionClose(reason string) {
}

func NewMetrics() metrics.MatchmakingMetrics {
	return stubMetricsCollection{}
}
