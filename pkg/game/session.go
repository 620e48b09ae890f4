package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/beer-chess/game-server/internal/color"
	"github.com/beer-chess/game-server/pkg/events"
	"github.com/beer-chess/game-server/pkg/messages"
	"github.com/beer-chess/game-server/pkg/rules"
)

// Params carries everything needed to build a session.
type Params struct {
	GameID      string
	Title       string
	PlayerWhite string
	PlayerBlack string
	Rule        TimeRule
	Wall        clockwork.Clock
	Publisher   *events.Publisher
	Logger      *zap.Logger
}

// Session is one two-player timed game. All mutation happens under mu;
// the watchdog re-enters through flagFall, which re-checks the terminal
// guard because a move may have been accepted while its timer was already
// queued.
type Session struct {
	ID          string
	Title       string
	PlayerWhite string
	PlayerBlack string
	Restored    bool

	mu         sync.Mutex
	board      *rules.Board
	clock      *Clock
	status     GameStatus
	position   rules.PositionStatus
	plies      int
	lastFrom   string
	lastTo     string
	terminalAt time.Time

	wall      clockwork.Clock
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewSession creates a fresh game at the starting position. The clock does
// not run until the second ply.
func NewSession(p Params) *Session {
	s := &Session{
		ID:          p.GameID,
		Title:       p.Title,
		PlayerWhite: p.PlayerWhite,
		PlayerBlack: p.PlayerBlack,
		board:       rules.NewBoard(),
		status:      StatusInitializing,
		position:    rules.StatusPlayable,
		wall:        p.Wall,
		publisher:   p.Publisher,
		logger:      p.Logger,
	}
	s.board.SetTags(p.Title, p.PlayerWhite, p.PlayerBlack)
	s.clock = NewClock(p.Rule, p.Rule.LimitMs, p.Rule.LimitMs, p.Wall, s.flagFall)

	return s
}

// RestoreSession rebuilds a session around a replayed board. Game and
// position status are re-derived from the board: a history ending in a
// terminal position restores directly into the matching terminal status,
// otherwise the clock resumes for the side to move.
func RestoreSession(p Params, board *rules.Board, whiteMs, blackMs int64) (*Session, error) {
	s := &Session{
		ID:          p.GameID,
		Title:       p.Title,
		PlayerWhite: p.PlayerWhite,
		PlayerBlack: p.PlayerBlack,
		Restored:    true,
		board:       board,
		wall:        p.Wall,
		publisher:   p.Publisher,
		logger:      p.Logger,
	}
	s.board.SetTags(p.Title, p.PlayerWhite, p.PlayerBlack)
	s.clock = NewClock(p.Rule, whiteMs, blackMs, p.Wall, s.flagFall)
	s.plies = board.PlyCount()
	s.lastFrom, s.lastTo = board.LastMove()
	s.position = board.Classify()

	switch s.position {
	case rules.StatusIllegal:
		return nil, fmt.Errorf("%w: restored position", ErrIllegalPosition)
	case rules.StatusCheckmate:
		s.setTerminalLocked(wonBy(board.Turn().Opp()))
	case rules.StatusStalemate, rules.StatusDead:
		s.setTerminalLocked(StatusTie)
	default:
		switch s.plies {
		case 0:
			s.status = StatusInitializing
		case 1:
			s.status = StatusFirstMove
		default:
			s.status = StatusStarted
			s.clock.Resume(board.Turn(), s.wall.Now())
		}
	}

	return s, nil
}

// Move applies the legal move at the given index and returns the game
// message to broadcast. Validation fully precedes mutation: a rejected move
// leaves position, ply count, clock and status untouched.
func (s *Session) Move(index int) (messages.GameMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return messages.GameMessage{}, ErrTerminalGame
	}

	mover := s.board.Turn()

	from, to, err := s.board.Apply(index)
	if err != nil {
		if errors.Is(err, rules.ErrMoveIndex) {
			return messages.GameMessage{}, fmt.Errorf("%w: %v", ErrIllegalMoveIndex, err)
		}
		return messages.GameMessage{}, err
	}

	now := s.wall.Now()
	s.plies++
	s.lastFrom = from
	s.lastTo = to

	switch {
	case s.plies == 1:
		s.status = StatusFirstMove
	case s.plies == 2:
		s.status = StatusStarted
		s.clock.Start(now)
	default:
		if s.status == StatusStarted {
			s.clock.SettleAndSwitch(mover, now)
		}
	}

	s.position = s.board.Classify()
	switch s.position {
	case rules.StatusCheckmate:
		s.setTerminalLocked(wonBy(mover))
	case rules.StatusStalemate, rules.StatusDead:
		s.setTerminalLocked(StatusTie)
	case rules.StatusIllegal:
		// Unreachable from a legal-move list; surfaced rather than
		// silently reported as playable.
		s.logger.Error("illegal position after accepted move",
			zap.String("game_id", s.ID), zap.String("fen", s.board.FEN()))
	}

	s.logger.Info("processed move",
		zap.String("game_id", s.ID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("new_turn", s.board.Turn().String()),
	)

	return s.messageLocked(now), nil
}

// Forfeit ends the game with the requester's opponent as winner. Allowed
// from any non-terminal status.
func (s *Session) Forfeit(identity string) (messages.GameMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return messages.GameMessage{}, ErrTerminalGame
	}

	var winner color.Color
	switch identity {
	case s.PlayerWhite:
		winner = color.Black
	case s.PlayerBlack:
		winner = color.White
	default:
		return messages.GameMessage{}, ErrUnauthorized
	}

	s.setTerminalLocked(wonBy(winner))
	s.logger.Info("game forfeited",
		zap.String("game_id", s.ID), zap.String("by", identity))

	return s.messageLocked(s.wall.Now()), nil
}

// Tie ends the game as agreed. Mutual agreement is the protocol layer's
// responsibility; the session only enforces the terminal guard.
func (s *Session) Tie() (messages.GameMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return messages.GameMessage{}, ErrTerminalGame
	}

	s.setTerminalLocked(StatusTie)

	return s.messageLocked(s.wall.Now()), nil
}

// ExpectedMover returns the participant whose turn it is.
func (s *Session) ExpectedMover() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.board.Turn() == color.White {
		return s.PlayerWhite
	}

	return s.PlayerBlack
}

// Opponent returns the other participant for a given identity.
func (s *Session) Opponent(identity string) string {
	switch identity {
	case s.PlayerWhite:
		return s.PlayerBlack
	case s.PlayerBlack:
		return s.PlayerWhite
	}

	return ""
}

// Status returns the current lifecycle status.
func (s *Session) Status() GameStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// TerminalSince reports when the session reached a terminal status.
func (s *Session) TerminalSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.Terminal() {
		return time.Time{}, false
	}

	return s.terminalAt, true
}

// Message builds the full game message for the current state.
func (s *Session) Message() messages.GameMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.messageLocked(s.wall.Now())
}

// Ack builds the compact caller-only move confirmation.
func (s *Session) Ack() messages.MoveAck {
	s.mu.Lock()
	defer s.mu.Unlock()

	whiteMs, blackMs := s.clock.Times(s.wall.Now())

	return messages.MoveAck{
		GameID:             s.ID,
		GameStatus:         string(s.status),
		Position:           s.board.FEN(),
		History:            s.board.PGN(),
		RemainingWhiteTime: whiteMs,
		RemainingBlackTime: blackMs,
	}
}

// Close stops the clock and cancels any pending watchdog. Used by the
// registry when evicting a finished session.
func (s *Session) Close() {
	s.clock.Stop()
}

// flagFall is the watchdog re-entry point. The terminal guard and the
// remaining-time re-check close the race between a move accepted just in
// time and a timer that had already fired.
func (s *Session) flagFall(side color.Color) {
	s.mu.Lock()

	if s.status != StatusStarted {
		s.mu.Unlock()
		return
	}

	now := s.wall.Now()
	if s.clock.Active() != side || s.clock.Remaining(side, now) > 0 {
		s.mu.Unlock()
		return
	}

	s.clock.Clamp(side)
	s.setTerminalLocked(wonBy(side.Opp()))
	msg := s.messageLocked(now)

	s.mu.Unlock()

	s.logger.Info("flag fell",
		zap.String("game_id", s.ID), zap.String("color", side.String()))

	s.publisher.Publish(events.Event{
		Type:    events.EventGameUpdate,
		Channel: s.ID,
		Payload: msg,
	})
}

func (s *Session) setTerminalLocked(status GameStatus) {
	s.status = status
	s.terminalAt = s.wall.Now()
	s.clock.Stop()
}

func (s *Session) messageLocked(now time.Time) messages.GameMessage {
	legal := s.board.LegalMoves()
	wire := make([]string, 0, len(legal))
	for _, m := range legal {
		wire = append(wire, m.Wire())
	}

	whiteMs, blackMs := s.clock.Times(now)

	return messages.GameMessage{
		LastMoveFrom:       s.lastFrom,
		LastMoveTo:         s.lastTo,
		GameStatus:         string(s.status),
		PositionStatus:     string(s.position),
		LegalMoves:         wire,
		Turn:               s.board.Turn().String(),
		MoveCount:          s.plies,
		Position:           s.board.FEN(),
		RemainingWhiteTime: whiteMs,
		RemainingBlackTime: blackMs,
		History:            s.board.PGN(),
		PlayerWhite:        s.PlayerWhite,
		PlayerBlack:        s.PlayerBlack,
	}
}
