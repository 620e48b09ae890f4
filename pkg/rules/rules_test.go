package rules_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beer-chess/game-server/pkg/rules"
)

func applyUCI(t *testing.T, b *rules.Board, uci string) {
	t.Helper()

	for _, m := range b.LegalMoves() {
		if m.UCI == uci {
			_, _, err := b.Apply(m.Index)
			require.NoError(t, err)
			return
		}
	}
	t.Fatalf("move %s not in legal-move list", uci)
}

func TestLegalMovesInitialPosition(t *testing.T) {
	b := rules.NewBoard()

	moves := b.LegalMoves()
	require.Len(t, moves, 20)

	for i, m := range moves {
		assert.Equal(t, i, m.Index)
		assert.False(t, m.Promotion)
		assert.Equal(t, fmt.Sprintf("%s/%d", m.UCI, i), m.Wire())
	}
}

func TestApplyOutOfRangeLeavesBoardUntouched(t *testing.T) {
	b := rules.NewBoard()
	fen := b.FEN()

	for _, idx := range []int{-1, 20, 9999} {
		_, _, err := b.Apply(idx)
		assert.ErrorIs(t, err, rules.ErrMoveIndex, "index %d", idx)
	}

	assert.Equal(t, fen, b.FEN())
	assert.Equal(t, 0, b.PlyCount())
}

func TestApplyReportsSquares(t *testing.T) {
	b := rules.NewBoard()

	var idx int
	for _, m := range b.LegalMoves() {
		if m.UCI == "e2e4" {
			idx = m.Index
		}
	}

	from, to, err := b.Apply(idx)
	require.NoError(t, err)
	assert.Equal(t, "e2", from)
	assert.Equal(t, "e4", to)
	assert.Equal(t, 1, b.PlyCount())

	from, to = b.LastMove()
	assert.Equal(t, "e2", from)
	assert.Equal(t, "e4", to)
}

func TestReplayRoundTrip(t *testing.T) {
	b := rules.NewBoard()
	for _, uci := range []string{"e2e4", "e7e5", "g1f3"} {
		applyUCI(t, b, uci)
	}

	restored, err := rules.Replay(b.PGN())
	require.NoError(t, err)

	assert.Equal(t, b.FEN(), restored.FEN())
	assert.Equal(t, 3, restored.PlyCount())
}

// Histories arrive both as the bare movetext game messages broadcast and as
// full PGN with a result token; all of them must replay.
func TestReplayAcceptsBareMovetext(t *testing.T) {
	for _, history := range []string{
		"1. e4 e5",
		"1. e4 e5 2. Nf3 *",
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		b, err := rules.Replay(history)
		require.NoError(t, err, "history %q", history)
		assert.NotZero(t, b.PlyCount(), "history %q", history)
	}
}

func TestReplayRejectsGarbage(t *testing.T) {
	_, err := rules.Replay("1. zz9 qq8 huh")
	assert.ErrorIs(t, err, rules.ErrBadHistory)
}

func TestPromotionFlag(t *testing.T) {
	b, err := rules.FromFEN("8/P7/8/8/8/8/k6K/8 w - - 0 1")
	require.NoError(t, err)

	var promotions int
	for _, m := range b.LegalMoves() {
		if m.Promotion {
			promotions++
			assert.Contains(t, m.Wire(), "/Promotion/")
		}
	}

	// a7 promotes to queen, rook, bishop or knight.
	assert.Equal(t, 4, promotions)
}

func TestApplyPromotion(t *testing.T) {
	b, err := rules.FromFEN("8/P7/8/8/8/8/k6K/8 w - - 0 1")
	require.NoError(t, err)

	var queen rules.Move
	for _, m := range b.LegalMoves() {
		if m.UCI == "a7a8q" {
			queen = m
		}
	}
	require.True(t, queen.Promotion)

	from, to, err := b.Apply(queen.Index)
	require.NoError(t, err)
	assert.Equal(t, "a7", from)
	assert.Equal(t, "a8", to)
	assert.True(t, strings.HasPrefix(b.FEN(), "Q7/"), "fen %q", b.FEN())
}

func TestClassifyPlayableAtStart(t *testing.T) {
	assert.Equal(t, rules.StatusPlayable, rules.NewBoard().Classify())
}

func TestClassifyCheck(t *testing.T) {
	b := rules.NewBoard()
	for _, uci := range []string{"e2e4", "f7f5", "d1h5"} {
		applyUCI(t, b, uci)
	}

	assert.Equal(t, rules.StatusCheck, b.Classify())
}

// Checkmate also satisfies the check predicate; the classification must
// report the stronger condition.
func TestClassifyCheckmateBeatsCheck(t *testing.T) {
	b := rules.NewBoard()
	for _, uci := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		applyUCI(t, b, uci)
	}

	assert.Equal(t, rules.StatusCheckmate, b.Classify())
}

func TestClassifyStalemate(t *testing.T) {
	b, err := rules.FromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	require.NoError(t, err)

	assert.Equal(t, rules.StatusStalemate, b.Classify())
}

func TestClassifyDeadPosition(t *testing.T) {
	for _, fen := range []string{
		"8/8/8/4k3/8/8/8/4K3 w - - 0 1",    // bare kings
		"8/8/8/4k3/8/8/8/4KB2 w - - 0 1",   // king and bishop vs king
		"8/8/8/4k3/8/8/8/4KN2 b - - 0 1",   // king and knight vs king
	} {
		b, err := rules.FromFEN(fen)
		require.NoError(t, err)
		assert.Equal(t, rules.StatusDead, b.Classify(), "fen %s", fen)
	}
}

func TestPGNIsParseableText(t *testing.T) {
	b := rules.NewBoard()
	applyUCI(t, b, "e2e4")

	pgn := b.PGN()
	assert.True(t, strings.Contains(pgn, "e4"), "pgn %q", pgn)
}

// Tag pairs carry game metadata in full PGN exports, but the history field
// on the wire stays bare movetext and must survive its own round trip.
func TestPGNStaysBareWithTags(t *testing.T) {
	b := rules.NewBoard()
	b.SetTags("casual blitz", "alice", "bob")
	applyUCI(t, b, "e2e4")
	applyUCI(t, b, "e7e5")

	pgn := b.PGN()
	assert.NotContains(t, pgn, "[", "pgn %q", pgn)
	assert.NotContains(t, pgn, "*", "pgn %q", pgn)
	assert.Contains(t, pgn, "e4")

	restored, err := rules.Replay(pgn)
	require.NoError(t, err)
	assert.Equal(t, b.FEN(), restored.FEN())
}
