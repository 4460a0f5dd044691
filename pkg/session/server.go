// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package session terminates client connections. A connection authenticates
// with its first frame, registers with the subscription registry and then
// exchanges queue commands and match announcements until it closes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/auth"
	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/matchmaker"
	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/registry"
)

const shutdownGracePeriod = 10 * time.Second

// Server accepts websocket sessions.
type Server struct {
	cfg         *config.Config
	authService auth.AuthService
	matchmaker  matchmaker.Matchmaker
	reg         *registry.SubscriptionRegistry
	mm          metrics.MatchmakingMetrics

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	authService auth.AuthService,
	mmaker matchmaker.Matchmaker,
	reg *registry.SubscriptionRegistry,
	mm metrics.MatchmakingMetrics,
) *Server {
	s := &Server{
		cfg:         cfg,
		authService: authService,
		matchmaker:  mmaker,
		reg:         reg,
		mm:          mm,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	s.httpServer = &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	return s
}

// Run serves until ctx ends, then kicks the remaining sessions so clients
// see a deliberate shutdown instead of a dropped connection.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		s.reg.KickAll(constants.CloseReasonShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.Warn("session listener shutdown: ", err)
		}
	}()

	logrus.WithField("addr", s.cfg.ListenAddr).Info("session listener started")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Debug("websocket upgrade failed: ", err)
		return
	}

	playerID, ok := s.authenticate(conn)
	if !ok {
		return
	}

	session := newWebsocketSession(conn, playerID, s.matchmaker, s.reg, s.mm, s.cfg.HeartbeatTimeout())

	// queue auth_ok before registering so no routed event can precede it,
	// then register before the pumps start so no event is lost either
	session.Deliver(models.NewAuthOKMessage(playerID))
	s.reg.Register(playerID, session)
	session.start()

	logrus.WithField("playerID", playerID).Info("session established")
}

// authenticate runs the first-frame handshake. Anything other than a valid
// auth frame inside the auth timeout refuses the connection.
func (s *Server) authenticate(conn *websocket.Conn) (string, bool) {
	rootScope := envelope.NewRootScope(context.Background(), "SessionServer.Authenticate", "")
	defer rootScope.Finish()

	conn.SetReadLimit(int64(s.cfg.MaxFrameBytes))
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout()))

	_, payload, err := conn.ReadMessage()
	if err != nil {
		s.refuse(conn, rootScope)
		return "", false
	}

	var frame models.ClientFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type != constants.FrameTypeAuth {
		s.refuse(conn, rootScope)
		return "", false
	}

	scope, cancel := rootScope.WithTimeout("SessionServer.Authenticate.Verify", s.cfg.AuthTimeout())
	defer cancel()
	defer scope.Finish()

	playerID, err := s.authService.Authenticate(scope.Ctx, frame.Token)
	if err != nil {
		if !errors.Is(err, models.ErrAuthFailed) {
			scope.Log.Error("token verification failed: ", err)
		}
		s.refuse(conn, rootScope)
		return "", false
	}

	_ = conn.SetWriteDeadline(time.Now().Add(constants.DefaultWriteWait))
	return playerID, true
}

func (s *Server) refuse(conn *websocket.Conn, scope *envelope.Scope) {
	_ = conn.SetWriteDeadline(time.Now().Add(constants.DefaultWriteWait))
	_ = conn.WriteJSON(models.NewClosingMessage(constants.CloseReasonAuth))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, constants.CloseReasonAuth),
		time.Now().Add(constants.DefaultWriteWait))
	_ = conn.Close()

	s.mm.AddSessionClose(constants.CloseReasonAuth)
	scope.Log.Info("connection refused before authentication")
}
