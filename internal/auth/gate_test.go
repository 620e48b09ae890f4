package auth_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beer-chess/game-server/internal/auth"
)

func testGate(t *testing.T) *auth.Gate {
	t.Helper()

	gate, err := auth.NewGate(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	return gate
}

func TestGateRoundTrip(t *testing.T) {
	gate := testGate(t)

	token, err := gate.Seal("alice")
	require.NoError(t, err)

	identity, err := gate.Open(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestGateRejectsBadKeyLength(t *testing.T) {
	_, err := auth.NewGate([]byte("too short"))
	require.Error(t, err)
}

func TestGateRejectsTamperedToken(t *testing.T) {
	gate := testGate(t)

	token, err := gate.Seal("alice")
	require.NoError(t, err)

	// Flip a character of the base64 body.
	tampered := []byte(token)
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}

	_, err = gate.Open(string(tampered))
	assert.ErrorIs(t, err, auth.ErrProofRejected)
}

func TestGateRejectsMalformedToken(t *testing.T) {
	gate := testGate(t)

	for _, token := range []string{"", "!!!not base64!!!", "c2hvcnQ="} {
		_, err := gate.Open(token)
		assert.ErrorIs(t, err, auth.ErrProofRejected, "token %q", token)
	}
}

func TestGateRejectsForeignKey(t *testing.T) {
	gate := testGate(t)

	other, err := auth.NewGate(bytes.Repeat([]byte{0x17}, 32))
	require.NoError(t, err)

	token, err := other.Seal("alice")
	require.NoError(t, err)

	_, err = gate.Open(token)
	assert.ErrorIs(t, err, auth.ErrProofRejected)
}

func TestGateVerify(t *testing.T) {
	gate := testGate(t)

	token, err := gate.Seal("alice")
	require.NoError(t, err)

	identity, err := gate.Verify(token, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)

	_, err = gate.Verify(token, "bob", "carol")
	assert.ErrorIs(t, err, auth.ErrProofRejected)

	// An empty allowed identity never matches, even if the proof is empty.
	empty, err := gate.Seal("")
	require.NoError(t, err)
	_, err = gate.Verify(empty, "", "bob")
	assert.ErrorIs(t, err, auth.ErrProofRejected)
}
