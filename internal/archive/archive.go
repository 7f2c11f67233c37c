// Package archive persists finished games, best-effort: a Redis store keeps
// recent results readable for a day, and an optional Postgres repository
// records them durably with a generated PGN. Live game state is never
// persisted; a restart starts empty by design.
package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
)

// Record is the archived form of one finished game.
type Record struct {
	GameID      string    `json:"game_id"`
	White       string    `json:"white"`
	Black       string    `json:"black"`
	Result      string    `json:"result"`
	Winner      string    `json:"winner,omitempty"`
	FEN         string    `json:"fen"`
	MovesSAN    []string  `json:"moves_san"`
	TimeControl int       `json:"time_control"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Archiver fans a record out to whichever sinks are configured. Either
// field may be nil; failures are logged and never reach game flow.
type Archiver struct {
	Store *Store
	Repo  *Repository
}

func (a *Archiver) Save(ctx context.Context, rec *Record) {
	if a == nil || rec == nil {
		return
	}
	if a.Store != nil {
		if err := a.Store.Save(ctx, rec); err != nil {
			obslog.L().Error("archive_store_error",
				zap.String("game_id", rec.GameID), zap.Error(err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.SaveResult(ctx, rec); err != nil {
			obslog.L().Error("archive_repo_error",
				zap.String("game_id", rec.GameID), zap.Error(err))
		}
	}
}

func (a *Archiver) Close() {
	if a == nil {
		return
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Repo != nil {
		_ = a.Repo.Close()
	}
}
