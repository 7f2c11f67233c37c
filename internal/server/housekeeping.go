package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
)

// housekeeping runs the periodic sweeps: idle identities are disconnected
// and decided games past their grace period are removed. Disconnecting an
// idle client only closes its connection; the reader goroutine then runs the
// normal departure cascade.
func (s *Server) housekeeping() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.sweepIdle()
			s.games.SweepExpired(s.cfg.GameGracePeriod)
		}
	}
}

func (s *Server) sweepIdle() {
	cutoff := time.Now().Add(-s.cfg.InactivityTimeout)
	for _, c := range s.reg.All() {
		if c.LastActivity().After(cutoff) {
			continue
		}
		obslog.L().Info("idle_disconnect",
			zap.String("identity_id", c.ID),
			zap.String("name", c.Name()),
		)
		c.CloseConn()
	}
}
