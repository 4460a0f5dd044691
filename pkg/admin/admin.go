// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package admin exposes the operational HTTP surface: test-run reset, queue
// introspection, dedicated server registration and metrics exposition. It
// listens on its own address, separate from the client sessions.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/allocator"
	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/matchmaker"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/queuestore"
)

const shutdownGracePeriod = 5 * time.Second

// Server is the admin and metrics listener.
type Server struct {
	cfg    *config.Config
	store  queuestore.QueueStore
	alloc  allocator.Allocator
	mmaker *matchmaker.QueueMatchmaker
	modes  map[models.GameMode]models.ModeSettings

	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	store queuestore.QueueStore,
	alloc allocator.Allocator,
	mmaker *matchmaker.QueueMatchmaker,
	modes map[models.GameMode]models.ModeSettings,
	registry *prometheus.Registry,
) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		alloc:  alloc,
		mmaker: mmaker,
		modes:  modes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/test/reset", s.handleReset)
	mux.HandleFunc("/admin/queues", s.handleQueues)
	mux.HandleFunc("/admin/ds/heartbeat", s.handleDSHeartbeat)
	mux.HandleFunc("/admin/servers", s.handleServers)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.httpServer = &http.Server{Addr: cfg.AdminAddr, Handler: mux}

	return s
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Warn("admin listener shutdown: ", err)
		}
	}()

	logrus.WithField("addr", s.cfg.AdminAddr).Info("admin listener started")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type resetResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Ts     int64  `json:"ts"`
}

// handleReset wipes the matchmaking keys and stamps the new test-run token,
// so a load client starts every run against a clean cluster.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	scope := envelope.NewRootScope(r.Context(), "AdminServer.Reset", "")
	defer scope.Finish()

	if err := s.store.Reset(scope); err != nil {
		scope.Log.Error("test reset failed: ", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.store.SetRunToken(scope, runID); err != nil {
		scope.Log.Error("run token write failed: ", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	scope.Log.WithField("runID", runID).Info("test run reset")

	writeJSON(w, http.StatusOK, resetResponse{
		Status: "ok",
		RunID:  runID,
		Ts:     time.Now().UnixMilli(),
	})
}

type queueStatus struct {
	Mode     string               `json:"mode"`
	Depth    int64                `json:"depth"`
	Settings models.ModeSettings  `json:"settings"`
	LastTick *matchmaker.TickInfo `json:"last_tick,omitempty"`
}

type queuesResponse struct {
	Queues []queueStatus `json:"queues"`
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scope := envelope.NewRootScope(r.Context(), "AdminServer.Queues", "")
	defer scope.Finish()

	ticks := s.mmaker.LastTicks()

	resp := queuesResponse{Queues: make([]queueStatus, 0, len(s.modes))}
	for mode, settings := range s.modes {
		depth, err := s.store.QueueLen(scope, mode)
		if err != nil {
			scope.Log.Error("queue depth read failed: ", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}

		status := queueStatus{Mode: mode.String(), Depth: depth, Settings: settings}
		if tick, ok := ticks[mode]; ok {
			status.LastTick = &tick
		}
		resp.Queues = append(resp.Queues, status)
	}

	sort.Slice(resp.Queues, func(i, j int) bool { return resp.Queues[i].Mode < resp.Queues[j].Mode })

	writeJSON(w, http.StatusOK, resp)
}

type heartbeatRequest struct {
	URL      string `json:"url"`
	Capacity *int   `json:"capacity"`
}

// handleDSHeartbeat registers or refreshes a dedicated server. Capacity is
// the number of sessions the server can still take; zero keeps it in the
// pool without receiving matches.
func (s *Server) handleDSHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if req.Capacity == nil {
		http.Error(w, "capacity is required", http.StatusBadRequest)
		return
	}

	scope := envelope.NewRootScope(r.Context(), "AdminServer.DSHeartbeat", "")
	defer scope.Finish()

	record := models.ServerRecord{URL: req.URL, Capacity: *req.Capacity}
	if err := s.alloc.Heartbeat(scope, record); err != nil {
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) || errors.Is(err, models.ErrServerURLEmpty) || errors.Is(err, models.ErrServerCapacityNegative) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		scope.Log.Error("server heartbeat failed: ", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type serversResponse struct {
	Servers []models.ServerRecord `json:"servers"`
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scope := envelope.NewRootScope(r.Context(), "AdminServer.Servers", "")
	defer scope.Finish()

	servers, err := s.alloc.Servers(scope)
	if err != nil {
		scope.Log.Error("server pool read failed: ", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, serversResponse{Servers: servers})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warn("admin response write failed: ", err)
	}
}
