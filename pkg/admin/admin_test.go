// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AccelByte/realtime-matchmaker/pkg/allocator"
	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/matchmaker"
	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/queuestore"
	"github.com/AccelByte/realtime-matchmaker/pkg/testsetup"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-openapi/swag"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
)

type adminHarness struct {
	server *Server
	mr     *miniredis.Miniredis
	store  *queuestore.RedisQueueStore
	alloc  *allocator.DedicatedServerAllocator
	mm     metrics.MatchmakingMetrics
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()

	mr, client := testsetup.NewRedis(t)

	cfg := &config.Config{
		SkillMax:                 5000,
		DispatchAckTimeoutSecond: 2,
		DSHeartbeatTTLSecond:     15,
		DSSweepIntervalSecond:    10,
	}
	modes := map[models.GameMode]models.ModeSettings{
		models.GameModeCasual1v1: {GroupSize: 2, WindowWidth: 200, MaxQueueWaitMs: 10000, TickPeriodMs: 1000, MaxPopsPerTick: 16},
		models.GameModeRanked1v1: {GroupSize: 2, WindowWidth: 50, MaxQueueWaitMs: 15000, TickPeriodMs: 1000, MaxPopsPerTick: 16},
	}

	store := queuestore.NewRedisQueueStore(client)
	alloc := allocator.NewDedicatedServerAllocator(client, cfg)
	mmaker := matchmaker.NewQueueMatchmaker(store, alloc, testsetup.NewStubBus(), testsetup.NewMetrics(), modes, cfg)

	registry := prometheus.NewRegistry()
	mm := metrics.NewMetrics(registry)

	return &adminHarness{
		server: NewServer(cfg, store, alloc, mmaker, modes, registry),
		mr:     mr,
		store:  store,
		alloc:  alloc,
		mm:     mm,
	}
}

// do routes one request through the admin mux.
func (h *adminHarness) do(method string, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.server.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestReset_WipesQueuesAndStampsRunToken(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	nowMs := time.Now().UnixMilli()
	_, err := h.store.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", `{"skill":1200}`, nowMs)
	g.Expect(err).To(BeNil())
	g.Expect(h.alloc.Heartbeat(g.TestScope, models.ServerRecord{URL: "http://ds1:7777", Capacity: 4})).To(BeNil())

	rec := h.do(http.MethodGet, "/admin/test/reset?run_id=run-7", nil)
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	var resp resetResponse
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(BeNil())
	g.Expect(resp.Status).To(Equal("ok"))
	g.Expect(resp.RunID).To(Equal("run-7"))
	g.Expect(resp.Ts > 0).To(BeTrue())

	runID, err := h.mr.Get("mm:run")
	g.Expect(err).To(BeNil())
	g.Expect(runID).To(Equal("run-7"))

	// Queue state is gone, the server pool is not.
	g.Expect(h.mr.Exists("mm:q:casual1v1")).To(BeFalse())
	g.Expect(h.mr.Exists("mm:owner:p1")).To(BeFalse())
	g.Expect(h.mr.Exists("ds:pool")).To(BeTrue())
}

func TestReset_RequiresGetAndRunID(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	rec := h.do(http.MethodPost, "/admin/test/reset?run_id=run-7", nil)
	g.Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))

	rec = h.do(http.MethodGet, "/admin/test/reset", nil)
	g.Expect(rec.Code).To(Equal(http.StatusBadRequest))
}

func TestReset_ReportsStoreOutage(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	h.mr.SetError("connection refused")

	rec := h.do(http.MethodGet, "/admin/test/reset?run_id=run-7", nil)
	g.Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
}

func TestQueues_ReportsDepthPerMode(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	nowMs := time.Now().UnixMilli()
	_, err := h.store.Enqueue(g.TestScope, models.GameModeCasual1v1, "p1", `{"skill":1200}`, nowMs)
	g.Expect(err).To(BeNil())
	_, err = h.store.Enqueue(g.TestScope, models.GameModeCasual1v1, "p2", `{"skill":1300}`, nowMs)
	g.Expect(err).To(BeNil())

	rec := h.do(http.MethodGet, "/admin/queues", nil)
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	var resp queuesResponse
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(BeNil())
	g.Expect(resp.Queues).To(HaveLen(2))

	// Sorted by mode name, never ticked yet.
	g.Expect(resp.Queues[0].Mode).To(Equal("casual1v1"))
	g.Expect(resp.Queues[0].Depth).To(Equal(int64(2)))
	g.Expect(resp.Queues[0].Settings.GroupSize).To(Equal(2))
	g.Expect(resp.Queues[0].LastTick == nil).To(BeTrue())
	g.Expect(resp.Queues[1].Mode).To(Equal("ranked1v1"))
	g.Expect(resp.Queues[1].Depth).To(Equal(int64(0)))
}

func TestDSHeartbeat_RegistersServer(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	body, err := json.Marshal(heartbeatRequest{URL: "http://ds1:7777", Capacity: swag.Int(4)})
	g.Expect(err).To(BeNil())

	rec := h.do(http.MethodPost, "/admin/ds/heartbeat", strings.NewReader(string(body)))
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	rec = h.do(http.MethodGet, "/admin/servers", nil)
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	var resp serversResponse
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(BeNil())
	g.Expect(resp.Servers).To(HaveLen(1))
	g.Expect(resp.Servers[0].URL).To(Equal("http://ds1:7777"))
	g.Expect(resp.Servers[0].Capacity).To(Equal(4))
	g.Expect(resp.Servers[0].LastSeenMs > 0).To(BeTrue())
}

func TestDSHeartbeat_RejectsInvalidRequests(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	rec := h.do(http.MethodGet, "/admin/ds/heartbeat", nil)
	g.Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))

	rec = h.do(http.MethodPost, "/admin/ds/heartbeat", strings.NewReader("{not json"))
	g.Expect(rec.Code).To(Equal(http.StatusBadRequest))

	rec = h.do(http.MethodPost, "/admin/ds/heartbeat", strings.NewReader(`{"url":"http://ds1:7777"}`))
	g.Expect(rec.Code).To(Equal(http.StatusBadRequest))

	rec = h.do(http.MethodPost, "/admin/ds/heartbeat", strings.NewReader(`{"url":"","capacity":1}`))
	g.Expect(rec.Code).To(Equal(http.StatusBadRequest))

	rec = h.do(http.MethodPost, "/admin/ds/heartbeat", strings.NewReader(`{"url":"http://ds1:7777","capacity":-1}`))
	g.Expect(rec.Code).To(Equal(http.StatusBadRequest))
}

func TestServers_ListsWholePool(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	g.Expect(h.alloc.Heartbeat(g.TestScope, models.ServerRecord{URL: "http://ds1:7777", Capacity: 4})).To(BeNil())
	g.Expect(h.alloc.Heartbeat(g.TestScope, models.ServerRecord{URL: "http://ds2:7777", Capacity: 2})).To(BeNil())

	rec := h.do(http.MethodGet, "/admin/servers", nil)
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	var resp serversResponse
	g.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(BeNil())

	urls := make([]string, 0, len(resp.Servers))
	for _, server := range resp.Servers {
		urls = append(urls, server.URL)
	}
	g.Expect(urls).To(ConsistOf("http://ds1:7777", "http://ds2:7777"))
}

func TestMetrics_ServesRegisteredCollectors(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	h := newAdminHarness(t)

	h.mm.AddSessionClose("disconnect")

	rec := h.do(http.MethodGet, "/metrics", nil)
	g.Expect(rec.Code).To(Equal(http.StatusOK))

	body := rec.Body.String()
	g.Expect(strings.Contains(body, "ab_rtmm_breaker_state")).To(BeTrue())
	g.Expect(strings.Contains(body, `ab_rtmm_session_closes{reason="disconnect"} 1`)).To(BeTrue())
}
