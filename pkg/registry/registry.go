// Package registry owns the gameId to session mapping and the anti-replay
// set of consumed restore proofs.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/beer-chess/game-server/internal/auth"
	"github.com/beer-chess/game-server/pkg/events"
	"github.com/beer-chess/game-server/pkg/game"
	"github.com/beer-chess/game-server/pkg/rules"
)

// Options configures a registry.
type Options struct {
	Gate      *auth.Gate
	Publisher *events.Publisher
	Logger    *zap.Logger
	Wall      clockwork.Clock

	// EvictionGrace is how long a terminal session is kept before the
	// janitor removes it. ProofTTL is how long a consumed restore proof
	// stays in the anti-replay set.
	EvictionGrace time.Duration
	ProofTTL      time.Duration
}

// Registry is the single owned store for sessions and spent restore proofs.
// The hub's run loop serializes all calls; the mutex additionally covers the
// janitor goroutine.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session
	proofs   map[string]time.Time

	gate      *auth.Gate
	publisher *events.Publisher
	logger    *zap.Logger
	wall      clockwork.Clock

	grace    time.Duration
	proofTTL time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.EvictionGrace <= 0 {
		opts.EvictionGrace = time.Hour
	}
	if opts.ProofTTL <= 0 {
		opts.ProofTTL = 24 * time.Hour
	}

	return &Registry{
		sessions:  make(map[string]*game.Session),
		proofs:    make(map[string]time.Time),
		gate:      opts.Gate,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		wall:      opts.Wall,
		grace:     opts.EvictionGrace,
		proofTTL:  opts.ProofTTL,
		done:      make(chan struct{}),
	}
}

// CreateParams are the inputs of a fresh game.
type CreateParams struct {
	GameID      string
	PlayerWhite string
	PlayerBlack string
	Title       string
	TimeRule    string
	Proof       string
}

// Create registers a fresh session. The creator's proof must open to one of
// the two declared participants.
func (r *Registry) Create(p CreateParams) (*game.Session, error) {
	rule, err := game.ParseTimeRule(p.TimeRule)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[p.GameID]; exists {
		return nil, game.ErrDuplicateSession
	}

	if _, err := r.gate.Verify(p.Proof, p.PlayerWhite, p.PlayerBlack); err != nil {
		return nil, game.ErrUnauthorized
	}

	session := game.NewSession(game.Params{
		GameID:      p.GameID,
		Title:       p.Title,
		PlayerWhite: p.PlayerWhite,
		PlayerBlack: p.PlayerBlack,
		Rule:        rule,
		Wall:        r.wall,
		Publisher:   r.publisher,
		Logger:      r.logger,
	})

	r.sessions[p.GameID] = session
	r.logger.Info("created game session",
		zap.String("game_id", p.GameID),
		zap.String("time_rule", p.TimeRule))

	return session, nil
}

// RestoreParams are the inputs of a restore-from-history request.
type RestoreParams struct {
	GameID        string
	TimeRule      string
	History       string
	TimeLeftWhite int64
	TimeLeftBlack int64
	ProofPlain    string
	ProofEnc      string
	PlayerWhite   string
	PlayerBlack   string
}

// Restore rebuilds a session from serialized history. The replay proof is
// single-use: a consumed or invalid proof is Unauthorized and on success the
// proof joins the anti-replay set before the registry lock is released, so
// an identical request can never win twice.
func (r *Registry) Restore(p RestoreParams) (*game.Session, error) {
	rule, err := game.ParseTimeRule(p.TimeRule)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[p.GameID]; exists {
		return nil, game.ErrDuplicateSession
	}

	if _, used := r.proofs[p.ProofPlain]; used {
		return nil, fmt.Errorf("%w: replay proof already used", game.ErrUnauthorized)
	}

	identity, err := r.gate.Open(p.ProofEnc)
	if err != nil || identity != p.ProofPlain {
		return nil, game.ErrUnauthorized
	}

	board, err := rules.Replay(p.History)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrCorruptHistory, err)
	}

	session, err := game.RestoreSession(game.Params{
		GameID:      p.GameID,
		PlayerWhite: p.PlayerWhite,
		PlayerBlack: p.PlayerBlack,
		Rule:        rule,
		Wall:        r.wall,
		Publisher:   r.publisher,
		Logger:      r.logger,
	}, board, p.TimeLeftWhite, p.TimeLeftBlack)
	if err != nil {
		return nil, err
	}

	r.proofs[p.ProofPlain] = r.wall.Now()
	r.sessions[p.GameID] = session
	r.logger.Info("restored game session",
		zap.String("game_id", p.GameID),
		zap.Int("plies", board.PlyCount()))

	return session, nil
}

// Lookup returns the session for a game id.
func (r *Registry) Lookup(gameID string) (*game.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[gameID]
	if !ok {
		return nil, game.ErrNotFound
	}

	return session, nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// StartJanitor launches the eviction loop: finished sessions past the grace
// period and proofs past their TTL are removed on every tick.
func (r *Registry) StartJanitor(interval time.Duration) {
	ticker := r.wall.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.Chan():
				r.Sweep()
			}
		}
	}()
}

// Sweep runs one eviction pass.
func (r *Registry) Sweep() {
	now := r.wall.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, session := range r.sessions {
		at, terminal := session.TerminalSince()
		if terminal && now.Sub(at) >= r.grace {
			session.Close()
			delete(r.sessions, id)
			r.logger.Info("evicted finished game", zap.String("game_id", id))
		}
	}

	for proof, at := range r.proofs {
		if now.Sub(at) >= r.proofTTL {
			delete(r.proofs, proof)
		}
	}
}

// Stop halts the janitor.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}
