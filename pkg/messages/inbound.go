package messages

import (
	"encoding/json"
	"errors"
)

// ErrMissingField is returned by payload validation when a required field
// is absent.
var ErrMissingField = errors.New("missing required field")

// InboundMessage is the generic wrapper for messages coming from the client.
// The "event" field tells us the action; "payload" is the data we parse
// further against the event's schema.
type InboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// StartGamePayload creates a fresh game session.
type StartGamePayload struct {
	GameID      string `json:"gameId"`
	PlayerWhite string `json:"playerWhite"`
	PlayerBlack string `json:"playerBlack"`
	GameTitle   string `json:"gameTitle"`
	TimeRule    string `json:"timeRule"`
	SecretName  string `json:"secretName"`
}

// Validate checks the schema requirements before any state is touched.
func (p StartGamePayload) Validate() error {
	if p.GameID == "" || p.PlayerWhite == "" || p.PlayerBlack == "" ||
		p.TimeRule == "" || p.SecretName == "" {
		return ErrMissingField
	}

	return nil
}

// RestoreGamePayload rebuilds a session from serialized move history. The
// replay proof comes in plain and encrypted form; the pair is single-use.
// Player identities are optional: a restore without them produces a session
// that cannot route tie/rematch requests.
type RestoreGamePayload struct {
	GameID         string `json:"gameId"`
	TimeRule       string `json:"timeRule"`
	History        string `json:"history"`
	TimeLeftWhite  int64  `json:"timeLeftWhite"`
	TimeLeftBlack  int64  `json:"timeLeftBlack"`
	CheckString    string `json:"checkString"`
	EncCheckString string `json:"encCheckString"`
	PlayerWhite    string `json:"playerWhite,omitempty"`
	PlayerBlack    string `json:"playerBlack,omitempty"`
}

// Validate checks the schema requirements before any state is touched.
func (p RestoreGamePayload) Validate() error {
	if p.GameID == "" || p.TimeRule == "" || p.History == "" ||
		p.CheckString == "" || p.EncCheckString == "" {
		return ErrMissingField
	}
	if p.TimeLeftWhite < 0 || p.TimeLeftBlack < 0 {
		return ErrMissingField
	}

	return nil
}

// GameRefPayload references an existing game (join/leave).
type GameRefPayload struct {
	GameID string `json:"gameId"`
}

// Validate checks the schema requirements before any state is touched.
func (p GameRefPayload) Validate() error {
	if p.GameID == "" {
		return ErrMissingField
	}

	return nil
}

// MovePayload plays a move by its index into the current legal-move list.
// Ack asks for a caller-only confirmation in addition to the broadcast.
type MovePayload struct {
	GameID     string `json:"gameId"`
	MoveIndex  int    `json:"moveIndex"`
	SecretName string `json:"secretName"`
	Ack        bool   `json:"ack,omitempty"`
}

// Validate checks the schema requirements before any state is touched.
func (p MovePayload) Validate() error {
	if p.GameID == "" || p.SecretName == "" {
		return ErrMissingField
	}

	return nil
}

// ActionPayload covers forfeit, tie, suggest tie and rematch.
type ActionPayload struct {
	GameID     string `json:"gameId"`
	SecretName string `json:"secretName"`
}

// Validate checks the schema requirements before any state is touched.
func (p ActionPayload) Validate() error {
	if p.GameID == "" || p.SecretName == "" {
		return ErrMissingField
	}

	return nil
}

// UniqueNamePayload subscribes a connection to a personal channel.
type UniqueNamePayload struct {
	UniqueName string `json:"uniqueName"`
}

// Validate checks the schema requirements before any state is touched.
func (p UniqueNamePayload) Validate() error {
	if p.UniqueName == "" {
		return ErrMissingField
	}

	return nil
}

// RoomPayload covers the invite-room events. Which fields are required
// depends on the event; the handlers check the ones they use.
type RoomPayload struct {
	RoomID     string `json:"roomId"`
	UniqueName string `json:"uniqueName,omitempty"`
	Name       string `json:"name,omitempty"`
	GameID     string `json:"gameId,omitempty"`
}

// Validate checks the schema requirements before any state is touched.
func (p RoomPayload) Validate() error {
	if p.RoomID == "" {
		return ErrMissingField
	}

	return nil
}
