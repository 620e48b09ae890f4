// Package rules wraps the chess rules library behind the small surface the
// game session needs: ordered legal-move lists, move application by index,
// position classification and portable move-text handling.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/corentings/chess/v2"

	"github.com/beer-chess/game-server/internal/color"
)

var (
	// ErrMoveIndex means the requested index is outside the current
	// legal-move list. The board is left untouched.
	ErrMoveIndex = errors.New("move index out of range")

	// ErrBadHistory means the supplied move-text could not be parsed.
	ErrBadHistory = errors.New("unparsable move history")
)

// PositionStatus classifies the board after a move.
type PositionStatus string

// Classification values, from strongest to weakest.
const (
	StatusCheckmate PositionStatus = "CHECKMATE"
	StatusStalemate PositionStatus = "STALEMATE"
	StatusDead      PositionStatus = "DEAD"
	StatusCheck     PositionStatus = "CHECK"
	StatusIllegal   PositionStatus = "ERROR"
	StatusPlayable  PositionStatus = "PLAYABLE"
)

// Move is one entry of the legal-move list.
type Move struct {
	UCI       string
	Promotion bool
	Index     int
}

// Wire renders the move in the list form clients consume:
// "<uci>[/Promotion]/<index>".
func (m Move) Wire() string {
	if m.Promotion {
		return fmt.Sprintf("%s/Promotion/%d", m.UCI, m.Index)
	}

	return fmt.Sprintf("%s/%d", m.UCI, m.Index)
}

// Board is a single game position with its move history.
type Board struct {
	game *chess.Game
}

// NewBoard returns a board at the standard starting position.
func NewBoard() *Board {
	return &Board{game: chess.NewGame()}
}

// FromFEN returns a board at an arbitrary position with no history.
func FromFEN(fen string) (*Board, error) {
	option, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHistory, err)
	}

	return &Board{game: chess.NewGame(option)}, nil
}

// Replay rebuilds a board from portable move-text. Bare movetext, the form
// game messages broadcast, is accepted as well as full PGN with tag pairs.
func Replay(history string) (*Board, error) {
	option, err := chess.PGN(strings.NewReader(normalizePGN(history)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHistory, err)
	}

	return &Board{game: chess.NewGame(option)}, nil
}

// normalizePGN turns bare movetext into a minimal parseable PGN document:
// the parser requires a tag-pair section and a result token.
func normalizePGN(history string) string {
	text := strings.TrimSpace(history)

	switch {
	case strings.HasSuffix(text, "*"),
		strings.HasSuffix(text, "1-0"),
		strings.HasSuffix(text, "0-1"),
		strings.HasSuffix(text, "1/2-1/2"):
	default:
		text += " *"
	}

	if !strings.HasPrefix(text, "[") {
		text = "[Event \"?\"]\n\n" + text
	}

	return text
}

// LegalMoves returns the ordered legal-move list for the current position.
// Indexes are only meaningful against this exact position; callers must
// recompute the list after every move.
func (b *Board) LegalMoves() []Move {
	pos := b.game.Position()
	valid := b.game.ValidMoves()

	moves := make([]Move, 0, len(valid))
	for i := range valid {
		moves = append(moves, Move{
			UCI:       chess.UCINotation{}.Encode(pos, &valid[i]),
			Promotion: valid[i].Promo() != chess.NoPieceType,
			Index:     i,
		})
	}

	return moves
}

// Apply plays the legal move at the given index and returns its origin and
// destination squares. An out-of-range index leaves the board untouched.
func (b *Board) Apply(index int) (from, to string, err error) {
	valid := b.game.ValidMoves()
	if index < 0 || index >= len(valid) {
		return "", "", fmt.Errorf("%w: %d of %d", ErrMoveIndex, index, len(valid))
	}

	move := valid[index]
	san := chess.AlgebraicNotation{}.Encode(b.game.Position(), &move)
	if err := b.game.PushMove(san, nil); err != nil {
		return "", "", fmt.Errorf("apply move: %w", err)
	}

	return move.S1().String(), move.S2().String(), nil
}

// LastMove returns the origin and destination squares of the most recent
// move, or empty strings for a board with no history.
func (b *Board) LastMove() (from, to string) {
	moves := b.game.Moves()
	if len(moves) == 0 {
		return "", ""
	}

	last := moves[len(moves)-1]

	return last.S1().String(), last.S2().String()
}

// Turn returns the side to move.
func (b *Board) Turn() color.Color {
	if b.game.Position().Turn() == chess.White {
		return color.White
	}

	return color.Black
}

// PlyCount returns the number of half-moves played.
func (b *Board) PlyCount() int {
	return len(b.game.Moves())
}

// FEN returns the current position as a FEN string.
func (b *Board) FEN() string {
	return b.game.FEN()
}

// SetTags records game metadata in the PGN tag-pair section. Exported
// history stays bare movetext; tags only appear in full PGN exports.
func (b *Board) SetTags(event, white, black string) {
	if event != "" {
		b.game.AddTagPair("Event", event)
	}
	if white != "" {
		b.game.AddTagPair("White", white)
	}
	if black != "" {
		b.game.AddTagPair("Black", black)
	}
}

// PGN returns the move history as bare movetext. The tag-pair section and
// the undecided-game result marker are stripped so the history clients see
// is stable across create, broadcast and restore.
func (b *Board) PGN() string {
	text := strings.TrimSpace(b.game.String())

	if idx := strings.LastIndex(text, "]"); idx >= 0 {
		text = strings.TrimSpace(text[idx+1:])
	}

	return strings.TrimSpace(strings.TrimSuffix(text, "*"))
}

// Classify grades the current position. The predicates are ordered by
// priority and the first match wins: checkmate, stalemate, dead position,
// check, illegal, playable.
func (b *Board) Classify() PositionStatus {
	pos := b.game.Position()

	switch {
	case pos.Status() == chess.Checkmate:
		return StatusCheckmate
	case pos.Status() == chess.Stalemate:
		return StatusStalemate
	case b.insufficientMaterial():
		return StatusDead
	case b.inCheck():
		return StatusCheck
	case !b.kingsValid():
		return StatusIllegal
	default:
		return StatusPlayable
	}
}

// inCheck reports whether the last played move gave check.
func (b *Board) inCheck() bool {
	moves := b.game.Moves()
	if len(moves) == 0 {
		return false
	}

	return moves[len(moves)-1].HasTag(chess.Check)
}

// insufficientMaterial reports the forced-draw material configurations:
// bare kings, or king plus a single minor piece against a bare king.
func (b *Board) insufficientMaterial() bool {
	var minors, others int

	for _, piece := range b.game.Position().Board().SquareMap() {
		switch piece.Type() {
		case chess.King:
		case chess.Bishop, chess.Knight:
			minors++
		default:
			others++
		}
	}

	return others == 0 && minors <= 1
}

// kingsValid reports whether each side has exactly one king.
func (b *Board) kingsValid() bool {
	var white, black int

	for _, piece := range b.game.Position().Board().SquareMap() {
		if piece == chess.WhiteKing {
			white++
		}
		if piece == chess.BlackKing {
			black++
		}
	}

	return white == 1 && black == 1
}
