// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"encoding/json"

	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
)

// ClientFrame is one inbound JSON frame on a session connection.
type ClientFrame struct {
	Type     string          `json:"type"`
	Token    string          `json:"token,omitempty"`
	Mode     GameMode        `json:"mode,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ServerMessage is one outbound JSON frame on a session connection. Field use
// depends on Type; unused fields stay empty on the wire.
type ServerMessage struct {
	Type         string   `json:"type"`
	PlayerID     string   `json:"player_id,omitempty"`
	Code         string   `json:"code,omitempty"`
	Message      string   `json:"message,omitempty"`
	Mode         GameMode `json:"mode,omitempty"`
	EnqueuedAtMs int64    `json:"enqueued_at_ms,omitempty"`
	MatchID      string   `json:"match_id,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	ServerURL    string   `json:"server_url,omitempty"`
	Peers        []string `json:"peers,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

func NewAuthOKMessage(playerID string) ServerMessage {
	return ServerMessage{Type: constants.FrameTypeAuthOK, PlayerID: playerID}
}

func NewErrorMessage(code, message string) ServerMessage {
	return ServerMessage{Type: constants.FrameTypeError, Code: code, Message: message}
}

func NewQueuedMessage(mode GameMode, enqueuedAtMs int64) ServerMessage {
	return ServerMessage{Type: constants.FrameTypeQueued, Mode: mode, EnqueuedAtMs: enqueuedAtMs}
}

// NewMatchFoundMessage addresses one member of a formed match. Peers carries
// the other members only.
func NewMatchFoundMessage(matchID string, slot SessionSlot, playerID string) ServerMessage {
	peers := make([]string, 0, len(slot.PlayerIDs))
	for _, id := range slot.PlayerIDs {
		if id != playerID {
			peers = append(peers, id)
		}
	}

	return ServerMessage{
		Type:      constants.FrameTypeMatchFound,
		MatchID:   matchID,
		SessionID: slot.SessionID,
		ServerURL: slot.ServerURL,
		Peers:     peers,
	}
}

func NewClosingMessage(reason string) ServerMessage {
	return ServerMessage{Type: constants.FrameTypeClosing, Reason: reason}
}

func NewPongMessage() ServerMessage {
	return ServerMessage{Type: constants.FrameTypePong}
}
