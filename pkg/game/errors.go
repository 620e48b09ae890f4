package game

import "errors"

// The full error taxonomy of the game protocol. Every inbound event is
// answered with exactly one of these (or a generic failure for anything
// unclassified); none of them ever mutates session state.
var (
	ErrSchema           = errors.New("invalid payload")
	ErrDuplicateSession = errors.New("game already exists")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("game not found")
	ErrIllegalMoveIndex = errors.New("illegal move index")
	ErrCorruptHistory   = errors.New("corrupt history")
	ErrTerminalGame     = errors.New("game ended")
	ErrIllegalPosition  = errors.New("illegal position")
)
