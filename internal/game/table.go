package game

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/internal/rules"
)

// Table is the session registry. It guards only the id→session map; each
// session serializes its own transitions. Table operations never run with a
// session lock held, so the lock order is always table before session.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	eng         rules.Engine
	timeControl int

	// Now is injectable for deterministic clock tests.
	Now func() time.Time
	// OnFinish, when set, receives a summary of every decided game. It is
	// invoked on its own goroutine and must not call back into the table.
	OnFinish func(Summary)
}

// NewTable creates a session registry with the per-side time budget in
// seconds.
func NewTable(eng rules.Engine, timeControl int) *Table {
	return &Table{
		sessions:    make(map[string]*Session),
		eng:         eng,
		timeControl: timeControl,
		Now:         time.Now,
	}
}

// Create starts a session for a promoted lobby: white is the former host.
func (t *Table) Create(id string, white, black *player.Client) *Session {
	s := &Session{
		ID:          id,
		eng:         t.eng,
		pos:         t.eng.NewPosition(),
		white:       white,
		black:       black,
		whiteName:   white.Name(),
		blackName:   black.Name(),
		whiteTime:   t.timeControl,
		blackTime:   t.timeControl,
		spectators:  make(map[string]*player.Client),
		active:      true,
		timeControl: t.timeControl,
		now:         t.Now,
		onFinish:    t.OnFinish,
	}
	s.startedAt = s.now()
	s.lastMoveAt = s.startedAt
	t.mu.Lock()
	t.sessions[id] = s
	t.mu.Unlock()
	return s
}

// Get is O(1); nil means unknown id.
func (t *Table) Get(id string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// SweepExpired removes Terminal sessions whose grace period has elapsed and
// returns their ids. Live sessions are never touched.
func (t *Table) SweepExpired(grace time.Duration) []string {
	cutoff := t.Now().Add(-grace)
	t.mu.Lock()
	var expired []*Session
	for id, s := range t.sessions {
		if endedAt, done := s.terminalSince(); done && endedAt.Before(cutoff) {
			delete(t.sessions, id)
			expired = append(expired, s)
		}
	}
	t.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		s.clearParticipants()
		ids = append(ids, s.ID)
		obslog.L().Info("game_removed", zap.String("game_id", s.ID))
	}
	return ids
}

// ActiveCount reports in-progress sessions for the status endpoint.
func (t *Table) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, s := range t.sessions {
		if s.Active() {
			n++
		}
	}
	return n
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
