// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/envelope"
	"github.com/AccelByte/realtime-matchmaker/pkg/matchmaker"
	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/registry"
)

const outboundBufferSize = 16

// closeDequeueTimeout bounds the implicit dequeue writes after a session
// closes. The session context is already cancelled by then, and the
// matchmaker may be stopping too.
const closeDequeueTimeout = 5 * time.Second

// WebsocketSession is one authenticated client connection. The read pump is
// the session actor: it applies client frames one at a time. The write pump
// is the only writer on the connection; everything outbound goes through the
// outbound channel.
type WebsocketSession struct {
	conn       *websocket.Conn
	mm         metrics.MatchmakingMetrics
	matchmaker matchmaker.Matchmaker
	reg        *registry.SubscriptionRegistry

	playerID         string
	heartbeatTimeout time.Duration
	writeWait        time.Duration
	log              *logrus.Entry

	// ctx ends when the session closes, cancelling in-flight queue commands.
	ctx    context.Context
	cancel context.CancelFunc

	outbound   chan models.ServerMessage
	closed     chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once

	// joined tracks the modes this session enqueued, for the implicit
	// dequeue on close. The store owns membership truth.
	mu     sync.Mutex
	joined map[models.GameMode]struct{}
}

var _ registry.SessionHandle = (*WebsocketSession)(nil)

func newWebsocketSession(
	conn *websocket.Conn,
	playerID string,
	mmaker matchmaker.Matchmaker,
	reg *registry.SubscriptionRegistry,
	mm metrics.MatchmakingMetrics,
	heartbeatTimeout time.Duration,
) *WebsocketSession {
	ctx, cancel := context.WithCancel(context.Background())

	return &WebsocketSession{
		conn:             conn,
		mm:               mm,
		matchmaker:       mmaker,
		reg:              reg,
		playerID:         playerID,
		heartbeatTimeout: heartbeatTimeout,
		writeWait:        constants.DefaultWriteWait,
		log:              logrus.WithField("playerID", playerID),
		ctx:              ctx,
		cancel:           cancel,
		outbound:         make(chan models.ServerMessage, outboundBufferSize),
		closed:           make(chan struct{}),
		writerDone:       make(chan struct{}),
		joined:           make(map[models.GameMode]struct{}),
	}
}

// start launches the pumps. The caller must have registered the session and
// written nothing to the connection since the auth handshake.
func (s *WebsocketSession) start() {
	go s.writePump()
	go s.readPump()
}

// Deliver implements registry.SessionHandle. A closed session or a full
// outbound buffer drops the message.
func (s *WebsocketSession) Deliver(msg models.ServerMessage) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.outbound <- msg:
		return true
	default:
		s.log.WithField("type", msg.Type).Warn("outbound buffer full, dropping frame")
		return false
	}
}

// Kick implements registry.SessionHandle.
func (s *WebsocketSession) Kick(reason string) {
	s.close(reason)
}

func (s *WebsocketSession) readPump() {
	reason := constants.CloseReasonDisconnect

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.heartbeatTimeout))

		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				reason = constants.CloseReasonTimeout
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("session read failed: ", err)
			}
			break
		}

		var frame models.ClientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.reply(models.NewErrorMessage(constants.ErrorCodeValidation, "malformed frame"))
			continue
		}

		s.handleFrame(frame)
	}

	s.close(reason)
}

func (s *WebsocketSession) handleFrame(frame models.ClientFrame) {
	switch frame.Type {
	case constants.FrameTypePing:
		s.reply(models.NewPongMessage())
	case constants.FrameTypeEnqueue:
		s.handleEnqueue(frame)
	case constants.FrameTypeDequeue:
		s.handleDequeue(frame)
	case constants.FrameTypeAuth:
		s.reply(models.NewErrorMessage(constants.ErrorCodeValidation, "session already authenticated"))
	default:
		s.reply(models.NewErrorMessage(constants.ErrorCodeValidation, "unsupported frame type"))
	}
}

func (s *WebsocketSession) handleEnqueue(frame models.ClientFrame) {
	scope := envelope.NewRootScope(s.ctx, "WebsocketSession.Enqueue", "")
	defer scope.Finish()
	scope.SetAttributes(envelope.PlayerIDTag, s.playerID)

	enqueuedAtMs, err := s.matchmaker.Enqueue(scope, s.playerID, frame.Mode, string(frame.Metadata))
	if err != nil {
		s.replyError(scope, err)
		return
	}

	s.mu.Lock()
	s.joined[frame.Mode] = struct{}{}
	s.mu.Unlock()

	s.reply(models.NewQueuedMessage(frame.Mode, enqueuedAtMs))
}

func (s *WebsocketSession) handleDequeue(frame models.ClientFrame) {
	scope := envelope.NewRootScope(s.ctx, "WebsocketSession.Dequeue", "")
	defer scope.Finish()
	scope.SetAttributes(envelope.PlayerIDTag, s.playerID)

	if _, err := s.matchmaker.Dequeue(scope, s.playerID, frame.Mode); err != nil {
		s.replyError(scope, err)
		return
	}

	s.mu.Lock()
	delete(s.joined, frame.Mode)
	s.mu.Unlock()
}

// replyError maps an error onto the wire. Internal causes stay in the logs.
func (s *WebsocketSession) replyError(scope *envelope.Scope, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	code := models.ClientErrorCode(err)
	message := err.Error()
	if code == constants.ErrorCodeInternal {
		scope.Log.Error("session command failed: ", err)
		message = "internal error"
	}
	s.reply(models.NewErrorMessage(code, message))
}

func (s *WebsocketSession) reply(msg models.ServerMessage) {
	s.Deliver(msg)
}

func (s *WebsocketSession) writePump() {
	defer close(s.writerDone)

	for {
		select {
		case msg := <-s.outbound:
			if !s.writeMessage(msg) {
				return
			}
		case <-s.closed:
			// flush what is already queued, then say goodbye
			for {
				select {
				case msg := <-s.outbound:
					if !s.writeMessage(msg) {
						return
					}
				default:
					_ = s.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(s.writeWait))
					return
				}
			}
		}
	}
}

func (s *WebsocketSession) writeMessage(msg models.ServerMessage) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.Debug("session write failed: ", err)
		return false
	}
	return true
}

// close tears the session down once. Queue entries are kept on replacement
// and shutdown; the player is either still here on a new connection or
// expected right back.
func (s *WebsocketSession) close(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()

		if reason != constants.CloseReasonDisconnect {
			s.Deliver(models.NewClosingMessage(reason))
		}
		close(s.closed)

		select {
		case <-s.writerDone:
		case <-time.After(s.writeWait):
		}
		_ = s.conn.Close()

		s.reg.Deregister(s.playerID, s)

		if reason != constants.CloseReasonReplaced && reason != constants.CloseReasonShutdown {
			s.dequeueJoined()
		}

		s.mm.AddSessionClose(reason)
		s.log.WithField("reason", reason).Info("session closed")
	})
}

// dequeueJoined removes the player from every mode this session enqueued.
func (s *WebsocketSession) dequeueJoined() {
	s.mu.Lock()
	modes := make([]models.GameMode, 0, len(s.joined))
	for mode := range s.joined {
		modes = append(modes, mode)
	}
	s.mu.Unlock()

	if len(modes) == 0 {
		return
	}

	rootScope := envelope.NewRootScope(context.Background(), "WebsocketSession.Close", "")
	defer rootScope.Finish()
	rootScope.SetAttributes(envelope.PlayerIDTag, s.playerID)

	scope, cancel := rootScope.WithTimeout("WebsocketSession.Close.Dequeue", closeDequeueTimeout)
	defer cancel()
	defer scope.Finish()

	for _, mode := range modes {
		if _, err := s.matchmaker.Dequeue(scope, s.playerID, mode); err != nil {
			scope.Log.WithFields(logrus.Fields{
				"playerID": s.playerID,
				"gameMode": mode,
			}).Error("dequeue on close failed: ", err)
		}
	}
}
