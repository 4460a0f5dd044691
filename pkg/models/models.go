// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AccelByte/realtime-matchmaker/pkg/constants"

	"github.com/elliotchance/pie/v2"
	"github.com/mitchellh/copystructure"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// pool reusable object to reduce garbage collection that can affect performance
var pool = NewPool()

// GameMode identifies one matchmaking queue.
type GameMode string

const (
	GameModeCasual1v1 GameMode = "casual1v1"
	GameModeRanked1v1 GameMode = "ranked1v1"
	GameModeCoop2v2   GameMode = "coop2v2"
)

func (m GameMode) String() string {
	return string(m)
}

// QueueKey returns the store key of this mode's queue.
func (m GameMode) QueueKey() string {
	return fmt.Sprintf(constants.QueueKeyFormat, m)
}

// MetaKey returns the store key of a queued player's metadata blob.
func (m GameMode) MetaKey(playerID string) string {
	return fmt.Sprintf(constants.MetaKeyFormat, m, playerID)
}

// OwnerKey returns the store key mapping a player to the single mode they are queued in.
func OwnerKey(playerID string) string {
	return fmt.Sprintf(constants.OwnerKeyFormat, playerID)
}

// SessionKey returns the store key of an allocated session record.
func SessionKey(sessionID string) string {
	return fmt.Sprintf(constants.SessionKeyFormat, sessionID)
}

// ModeSettings carries the match formation parameters of one game mode.
type ModeSettings struct {
	// GroupSize is the exact number of players popped into one match.
	GroupSize int `json:"group_size"`

	// WindowWidth is the base skill window in skill units.
	WindowWidth float64 `json:"window_width"`

	// MaxQueueWaitMs is how long the anchor waits before each widening step.
	MaxQueueWaitMs int64 `json:"max_queue_wait_ms"`

	// TickPeriodMs is the match formation tick period for this mode.
	TickPeriodMs int64 `json:"tick_period_ms"`

	// MaxPopsPerTick bounds how many groups one tick may form.
	MaxPopsPerTick int `json:"max_pops_per_tick"`
}

func (s *ModeSettings) Validate() error {
	if s.GroupSize < 1 {
		return ErrSettingsGroupSize
	}
	if s.WindowWidth < 0 {
		return ErrSettingsWindowWidth
	}
	if s.MaxQueueWaitMs <= 0 {
		return ErrSettingsMaxQueueWait
	}
	if s.TickPeriodMs <= 0 {
		return ErrSettingsTickPeriod
	}
	if s.MaxPopsPerTick < 1 {
		return ErrSettingsMaxPops
	}
	return nil
}

func (s ModeSettings) Copy() ModeSettings {
	copied, err := copystructure.Copy(s)
	if err != nil {
		logrus.Warn("failed copy modeSettings:", err)
	}
	copySettings, _ := copied.(ModeSettings)
	return copySettings
}

// TickPeriod returns the tick period as a duration.
func (s ModeSettings) TickPeriod() time.Duration {
	return time.Duration(s.TickPeriodMs) * time.Millisecond
}

// WindowAt computes the widened skill window for an anchor enqueued at
// anchorMs when the clock reads nowMs. The window never narrows while the
// anchor keeps waiting.
func (s ModeSettings) WindowAt(anchorMs, nowMs int64) float64 {
	waitedMs := nowMs - anchorMs
	if waitedMs < 0 {
		waitedMs = 0
	}
	steps := waitedMs / s.MaxQueueWaitMs
	return s.WindowWidth * float64(1+steps)
}

// DefaultModeSettings returns the compiled-in settings for the supported modes.
func DefaultModeSettings() map[GameMode]ModeSettings {
	return map[GameMode]ModeSettings{
		GameModeCasual1v1: {GroupSize: 2, WindowWidth: 200, MaxQueueWaitMs: 10000, TickPeriodMs: 1000, MaxPopsPerTick: 16},
		GameModeRanked1v1: {GroupSize: 2, WindowWidth: 50, MaxQueueWaitMs: 15000, TickPeriodMs: 1000, MaxPopsPerTick: 16},
		GameModeCoop2v2:   {GroupSize: 4, WindowWidth: 150, MaxQueueWaitMs: 20000, TickPeriodMs: 2000, MaxPopsPerTick: 8},
	}
}

// ParseModeSettings overlays the compiled defaults with a JSON override of the
// form {"mode":{...}}. Overridden modes must carry a complete settings object;
// unknown mode names define new queues.
func ParseModeSettings(override string) (map[GameMode]ModeSettings, error) {
	modes := DefaultModeSettings()
	if override == "" {
		return modes, nil
	}

	parsed := map[GameMode]ModeSettings{}
	if err := json.Unmarshal([]byte(override), &parsed); err != nil {
		return nil, fmt.Errorf("parse mode settings override: %w", err)
	}
	for mode, settings := range parsed {
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("mode %s: %w", mode, err)
		}
		modes[mode] = settings
	}

	return modes, nil
}

// EntryMetadata is the validated form of the opaque metadata blob carried by a
// queue entry.
type EntryMetadata struct {
	Skill   float64 `json:"skill"`
	Region  string  `json:"region,omitempty"`
	PartyID string  `json:"party,omitempty"`
}

// ParseEntryMetadata validates a raw metadata blob against the accepted shape.
// Skill bounds are checked here, never assumed.
func ParseEntryMetadata(raw string, maxSkill float64) (EntryMetadata, error) {
	var meta EntryMetadata
	if len(raw) > constants.MetadataMaxBytes {
		return meta, NewValidationError("metadata", constants.RejectReasonMetadataTooLarge)
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return meta, NewValidationError("metadata", constants.RejectReasonMetadataInvalid)
	}
	if meta.Skill < 0 || meta.Skill > maxSkill {
		return meta, NewValidationError("skill", constants.RejectReasonSkillOutOfRange)
	}

	return meta, nil
}

// Encode renders the metadata back to its stored blob form.
func (m EntryMetadata) Encode() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// QueueEntry is one queued player as stored in a mode queue.
type QueueEntry struct {
	PlayerID     string `json:"player_id"`
	EnqueuedAtMs int64  `json:"enqueued_at_ms"`
	Metadata     string `json:"metadata"`
}

// Meta parses the entry's metadata blob. Entries admitted by the enqueue path
// always parse.
func (e QueueEntry) Meta() EntryMetadata {
	var meta EntryMetadata
	if err := json.Unmarshal([]byte(e.Metadata), &meta); err != nil {
		logrus.WithField("playerID", e.PlayerID).Warn("queue entry metadata does not parse: ", err)
	}
	return meta
}

// Skill returns the skill scalar carried by the entry metadata.
func (e QueueEntry) Skill() float64 {
	return e.Meta().Skill
}

// Match is a formed group ready for dedicated server allocation.
type Match struct {
	MatchID  string       `json:"match_id"`
	GameMode GameMode     `json:"game_mode"`
	Entries  []QueueEntry `json:"entries"`
	FormedAt time.Time    `json:"formed_at"`
}

// NewMatch stamps a fresh match identity over a popped group.
func NewMatch(mode GameMode, entries []QueueEntry) Match {
	return Match{
		MatchID:  ulid.Make().String(),
		GameMode: mode,
		Entries:  entries,
		FormedAt: time.Now().UTC(),
	}
}

func (m Match) Copy() Match {
	copied, err := copystructure.Copy(m)
	if err != nil {
		logrus.Warn("failed copy match:", err)
	}
	copyMatch, _ := copied.(Match)
	return copyMatch
}

// PlayerIDs returns the match members in pop order.
func (m Match) PlayerIDs() []string {
	return pie.Map(m.Entries, func(e QueueEntry) string { return e.PlayerID })
}

// SkillStats returns mean and standard deviation of the member skills.
func (m Match) SkillStats() (mean, stddev float64) {
	if len(m.Entries) == 0 {
		return 0, 0
	}

	skills := pool.Skills.Get()
	defer pool.Skills.Put(skills)
	skills = skills[:0]
	for _, e := range m.Entries {
		skills = append(skills, e.Skill())
	}

	mean = stat.Mean(skills, nil)
	if len(skills) > 1 {
		stddev = stat.StdDev(skills, nil)
	}

	return mean, stddev
}

// SessionSlot is an allocated seat group on a dedicated server.
type SessionSlot struct {
	SessionID string    `json:"session_id"`
	ServerURL string    `json:"server_url"`
	CreatedAt time.Time `json:"created_at"`
	PlayerIDs []string  `json:"player_ids"`
}

// ServerRecord is one dedicated server as registered in the pool.
type ServerRecord struct {
	URL        string `json:"url"`
	Capacity   int    `json:"capacity"`
	LastSeenMs int64  `json:"last_seen_ms"`
}

func (r *ServerRecord) Validate() error {
	if r.URL == "" {
		return ErrServerURLEmpty
	}
	if r.Capacity < 0 {
		return ErrServerCapacityNegative
	}
	return nil
}

// Alive reports whether the record heartbeat is within ttlMs of nowMs.
func (r ServerRecord) Alive(nowMs, ttlMs int64) bool {
	return nowMs-r.LastSeenMs <= ttlMs
}

// MatchEvent is the cross-instance fan-out unit: one server message addressed
// to one player, delivered by whichever instance holds their session.
type MatchEvent struct {
	PlayerID string        `json:"player_id"`
	Message  ServerMessage `json:"message"`
}

// EnqueueOutcome reports what the enqueue script did.
type EnqueueOutcome string

const (
	EnqueueOutcomeAdded    EnqueueOutcome = "added"
	EnqueueOutcomeReplaced EnqueueOutcome = "replaced"
	EnqueueOutcomeRejected EnqueueOutcome = "rejected"
)

// DequeueOutcome reports what the dequeue script did.
type DequeueOutcome string

const (
	DequeueOutcomeRemoved    DequeueOutcome = "removed"
	DequeueOutcomeNotPresent DequeueOutcome = "not_present"
)
