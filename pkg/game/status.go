package game

import "github.com/beer-chess/game-server/internal/color"

// GameStatus is the lifecycle state of a session. Transitions only move
// forward: INITIALIZING -> FIRST_MOVE -> STARTED -> a terminal state.
type GameStatus string

// Lifecycle states.
const (
	StatusInitializing GameStatus = "INITIALIZING"
	StatusFirstMove    GameStatus = "FIRST_MOVE"
	StatusStarted      GameStatus = "STARTED"
	StatusWhiteWon     GameStatus = "WHITE_WON"
	StatusBlackWon     GameStatus = "BLACK_WON"
	StatusTie          GameStatus = "TIE"
)

// Terminal reports whether the status admits no further mutation.
func (s GameStatus) Terminal() bool {
	switch s {
	case StatusWhiteWon, StatusBlackWon, StatusTie:
		return true
	}

	return false
}

// wonBy returns the terminal status for a win by the given side.
func wonBy(c color.Color) GameStatus {
	if c == color.White {
		return StatusWhiteWon
	}

	return StatusBlackWon
}
