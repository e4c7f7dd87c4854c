// Package engine holds the conflict-resolution state machine: tension
// updates, conclusion draws, action menus and KALKI rubric scoring. Nothing
// here performs I/O; LLM output arrives as text and is parsed locally.
package engine

import (
	"fmt"
	"strings"
)

// SchemaVersion is stamped on persisted interaction records.
const SchemaVersion = "v1"

// Tension and stage defaults for a new scenario.
const (
	DefaultTension = 50
	MinTension     = 0
	MaxTension     = 100
)

// ConflictType identifies one of the historical scenarios.
type ConflictType string

const (
	ConflictIndiaPakistan      ConflictType = "india_pakistan"
	ConflictIsraeliPalestinian ConflictType = "israeli_palestinian"
	ConflictIndigenousRights   ConflictType = "indigenous_rights"
	ConflictNorthernIreland    ConflictType = "northern_ireland"
	ConflictRwanda             ConflictType = "rwanda"
)

var conflictContexts = map[ConflictType]string{
	ConflictIndiaPakistan:      "the 1947 India-Pakistan partition with tension over borders, refugees, and religious differences",
	ConflictIsraeliPalestinian: "the Israeli-Palestinian conflict with disputes over territory, security, and self-determination",
	ConflictIndigenousRights:   "Indigenous rights movements facing challenges of land rights, sovereignty, and cultural preservation",
	ConflictNorthernIreland:    "the Northern Ireland conflict (The Troubles) with tension between unionists and nationalists",
	ConflictRwanda:             "the ethnic tensions in Rwanda leading up to and following the 1994 genocide",
}

// Valid reports whether c is a known conflict type.
func (c ConflictType) Valid() bool {
	_, ok := conflictContexts[c]
	return ok
}

// Context returns the scenario description used in prompts.
func (c ConflictType) Context() string {
	if ctx, ok := conflictContexts[c]; ok {
		return ctx
	}
	return "a historical conflict"
}

// Role is the part the user plays in a scenario.
type Role string

const (
	RoleMediator   Role = "mediator"
	RoleDiplomat   Role = "diplomat"
	RoleCitizen    Role = "citizen"
	RoleActivist   Role = "activist"
	RolePolitician Role = "politician"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMediator, RoleDiplomat, RoleCitizen, RoleActivist, RolePolitician:
		return true
	}
	return false
}

// Faction is the side the user represents.
type Faction string

const (
	FactionSideA   Faction = "side_a"
	FactionSideB   Faction = "side_b"
	FactionNeutral Faction = "neutral"
)

func (f Faction) Valid() bool {
	switch f {
	case FactionSideA, FactionSideB, FactionNeutral:
		return true
	}
	return false
}

// Description returns the faction phrase used in prompts.
func (f Faction) Description() string {
	switch f {
	case FactionSideA:
		return "representing the first main party in the conflict"
	case FactionSideB:
		return "representing the second main party in the conflict"
	case FactionNeutral:
		return "as a neutral third party attempting to facilitate peace"
	}
	return ""
}

// ChatTurn is one user/AI exchange.
type ChatTurn struct {
	User string `json:"user"`
	AI   string `json:"ai"`
}

// Transcript renders turns as "User: ...\nAI: ...\n\n" blocks.
func Transcript(turns []ChatTurn) string {
	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "User: %s\nAI: %s\n\n", turn.User, turn.AI)
	}
	return b.String()
}

// ScenarioState is the per-session state of a conflict scenario.
type ScenarioState struct {
	SessionID    string       `json:"session_id"`
	UserID       string       `json:"user_id,omitempty"`
	ConflictType ConflictType `json:"conflict_type"`
	Role         Role         `json:"player_role"`
	Faction      Faction      `json:"player_faction"`
	Tension      int          `json:"tension_level"`
	Stage        int          `json:"current_stage"`
	ChatHistory  []ChatTurn   `json:"chat_history"`
	Concluded    bool         `json:"is_concluded"`
	Score        *RubricScore `json:"kalki_score,omitempty"`
}

// Advance returns the state after one turn. History is copied so the
// receiver is never mutated.
func (s ScenarioState) Advance(turn ChatTurn, tension int, concluded bool, score *RubricScore) ScenarioState {
	next := s
	next.ChatHistory = make([]ChatTurn, 0, len(s.ChatHistory)+1)
	next.ChatHistory = append(next.ChatHistory, s.ChatHistory...)
	next.ChatHistory = append(next.ChatHistory, turn)
	next.Tension = ClampTension(tension)
	if concluded {
		next.Stage = s.Stage + 1
		next.Concluded = true
		next.Score = score
	}
	return next
}

// ClampTension bounds t to [MinTension, MaxTension].
func ClampTension(t int) int {
	return max(MinTension, min(MaxTension, t))
}

// TurnResult is what one orchestrated conflict turn produces.
type TurnResult struct {
	Narrative string         `json:"response"`
	Tension   int            `json:"tension_level"`
	Stage     int            `json:"current_stage"`
	Actions   []string       `json:"available_actions"`
	Concluded bool           `json:"is_concluded"`
	Metadata  map[string]any `json:"metadata"`
	SessionID string         `json:"session_id"`
	Score     *RubricScore   `json:"kalki_score,omitempty"`
}
