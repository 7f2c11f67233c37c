// Package game owns the authoritative state of every chess match: position,
// per-side clocks, move history, spectators and terminal results. Each
// session is a single mutable unit guarded by its own lock for the duration
// of one state transition, so concurrent move attempts serialize and at most
// one is accepted.
package game

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/internal/rules"
	"github.com/kapu/chess-arena/pkg/wire"
)

var (
	ErrGameOver        = errors.New("game already decided")
	ErrNotAParticipant = errors.New("not a player in this game")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrAlreadyPresent  = errors.New("already in this game")
)

// Terminal result kinds produced by the session itself; the rules engine
// contributes the board-derived kinds (checkmate, stalemate, draws).
const (
	ResultResignation   = "resignation"
	ResultDisconnection = "disconnection"
	ResultTimeForfeit   = "time_forfeit"
)

// Result is the immutable outcome of a finished session. Winner is a color
// or empty for draws.
type Result struct {
	Kind   string
	Winner string
}

// Summary is the snapshot handed to the finish hook for archiving.
type Summary struct {
	GameID      string
	White       string
	Black       string
	Result      string
	Winner      string
	FEN         string
	MovesSAN    []string
	TimeControl int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Session is one chess match. White and black slots become nil when a
// player departs after the game is decided; names survive for late reads.
type Session struct {
	ID string

	mu         sync.Mutex
	eng        rules.Engine
	pos        *rules.Position
	white      *player.Client
	black      *player.Client
	whiteName  string
	blackName  string
	whiteTime  int
	blackTime  int
	lastMoveAt time.Time
	history    []string
	spectators map[string]*player.Client
	active     bool
	result     *Result
	startedAt  time.Time
	endedAt    time.Time

	timeControl int
	now         func() time.Time
	onFinish    func(Summary)
}

// ApplyMove validates and plays one move for c, charging c's clock with the
// wall time elapsed since the previous move. Validation precedes every
// mutation: an exhausted clock forfeits the game before the move is looked
// at, and an illegal move leaves position, clock and history untouched.
func (s *Session) ApplyMove(c *player.Client, uci string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrGameOver
	}
	color := s.colorOfLocked(c)
	if color == "" {
		return ErrNotAParticipant
	}
	turn := s.eng.Turn(s.pos)
	if color != turn {
		return ErrNotYourTurn
	}

	now := s.now()
	elapsed := int(now.Sub(s.lastMoveAt).Seconds())
	remaining := s.whiteTime
	if turn == "black" {
		remaining = s.blackTime
	}
	if remaining-elapsed <= 0 {
		if turn == "white" {
			s.whiteTime = 0
		} else {
			s.blackTime = 0
		}
		s.finishLocked(ResultTimeForfeit, opponentColor(turn))
		return nil
	}

	san, err := s.eng.Apply(s.pos, uci)
	if err != nil {
		return err
	}
	if turn == "white" {
		s.whiteTime = remaining - elapsed
	} else {
		s.blackTime = remaining - elapsed
	}
	s.lastMoveAt = now
	s.history = append(s.history, san)

	obslog.L().Info("game_move",
		zap.String("game_id", s.ID),
		zap.String("color", color),
		zap.String("san", san),
		zap.Int("ply", len(s.history)),
	)

	s.broadcastStateLocked()
	if out := s.eng.Terminal(s.pos); out.Kind != "" {
		s.finishLocked(out.Kind, out.Winner)
	}
	return nil
}

// Resign ends the game immediately with the opponent as winner.
func (s *Session) Resign(c *player.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrGameOver
	}
	color := s.colorOfLocked(c)
	if color == "" {
		return ErrNotAParticipant
	}
	s.finishLocked(ResultResignation, opponentColor(color))
	return nil
}

// Spectate adds c to the spectator set and delivers an immediate state view.
// Finished sessions stay readable until the grace sweep removes them.
func (s *Session) Spectate(c *player.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == s.white || c == s.black {
		return ErrAlreadyPresent
	}
	if _, ok := s.spectators[c.ID]; ok {
		return ErrAlreadyPresent
	}
	s.spectators[c.ID] = c
	c.EnterGame(s.ID)

	s.sendLocked(c, wire.Spectating{
		Tag:    wire.TagSpectating,
		GameID: s.ID,
		White:  s.whiteName,
		Black:  s.blackName,
	})
	s.sendLocked(c, s.viewLocked(false))
	notice := wire.NewSpectator{Tag: wire.TagNewSpectator, GameID: s.ID, Spectator: c.Name()}
	if s.white != nil {
		s.sendLocked(s.white, notice)
	}
	if s.black != nil {
		s.sendLocked(s.black, notice)
	}
	return nil
}

// HandleDeparture reconciles a vanished identity. A player leaving a live
// game loses it by disconnection; leaving a decided game only clears the
// slot so history stays readable. Spectators are simply dropped. Safe to
// call more than once for the same identity.
func (s *Session) HandleDeparture(c *player.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c {
	case s.white:
		if s.active {
			s.finishLocked(ResultDisconnection, "black")
		}
		s.white = nil
	case s.black:
		if s.active {
			s.finishLocked(ResultDisconnection, "white")
		}
		s.black = nil
	default:
		delete(s.spectators, c.ID)
	}
	c.LeaveGame()
}

// BroadcastState delivers the current per-recipient view to every
// participant. Used for the initial state right after the session starts.
func (s *Session) BroadcastState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastStateLocked()
}

// Active reports whether the game is still in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActivePlayer reports whether c holds a seat in a still-running game.
func (s *Session) ActivePlayer(c *player.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.colorOfLocked(c) != ""
}

// Result returns the terminal result, or nil while in progress.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Clocks returns the remaining seconds per side.
func (s *Session) Clocks() (white, black int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whiteTime, s.blackTime
}

// Participants snapshots players and spectators for chat fan-out.
func (s *Session) Participants() []*player.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}

func (s *Session) PlayerNames() (white, black string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whiteName, s.blackName
}

// terminalSince reports when the session entered Terminal, for the grace
// sweep. ok is false while the game is live.
func (s *Session) terminalSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return time.Time{}, false
	}
	return s.endedAt, true
}

// clearParticipants detaches everyone before the session is deleted.
func (s *Session) clearParticipants() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participantsLocked() {
		p.LeaveGame()
	}
	s.white, s.black = nil, nil
	s.spectators = map[string]*player.Client{}
}

func (s *Session) colorOfLocked(c *player.Client) string {
	switch {
	case s.white != nil && c == s.white:
		return "white"
	case s.black != nil && c == s.black:
		return "black"
	default:
		return ""
	}
}

func (s *Session) participantsLocked() []*player.Client {
	out := make([]*player.Client, 0, 2+len(s.spectators))
	if s.white != nil {
		out = append(out, s.white)
	}
	if s.black != nil {
		out = append(out, s.black)
	}
	for _, sp := range s.spectators {
		out = append(out, sp)
	}
	return out
}

// viewLocked builds the state snapshot; yourTurn is recipient-specific and
// filled in by the caller.
func (s *Session) viewLocked(yourTurn bool) wire.State {
	return wire.State{
		Tag:         wire.TagState,
		GameID:      s.ID,
		FEN:         s.eng.FEN(s.pos),
		Turn:        s.eng.Turn(s.pos),
		YourTurn:    yourTurn,
		InCheck:     s.eng.InCheck(s.pos),
		LegalMoves:  s.eng.Legal(s.pos),
		White:       s.whiteName,
		Black:       s.blackName,
		WhiteTime:   s.whiteTime,
		BlackTime:   s.blackTime,
		MoveHistory: append([]string(nil), s.history...),
	}
}

// broadcastStateLocked fans the view out under the session lock, so any two
// successive moves are observed in the same order by every recipient.
func (s *Session) broadcastStateLocked() {
	turn := s.eng.Turn(s.pos)
	base := s.viewLocked(false)
	for _, p := range s.participantsLocked() {
		v := base
		v.YourTurn = s.colorOfLocked(p) == turn
		s.sendLocked(p, v)
	}
}

// finishLocked moves the session to Terminal exactly once. Duplicate events
// (a timeout racing a disconnect, repeated departures) are no-ops, so no
// recipient ever sees a second game_over.
func (s *Session) finishLocked(kind, winner string) {
	if !s.active {
		return
	}
	s.active = false
	s.result = &Result{Kind: kind, Winner: winner}
	s.endedAt = s.now()

	obslog.L().Info("game_over",
		zap.String("game_id", s.ID),
		zap.String("result", kind),
		zap.String("winner", winner),
	)

	msg := wire.GameOver{Tag: wire.TagGameOver, GameID: s.ID, Result: kind, Winner: winner}
	for _, p := range s.participantsLocked() {
		s.sendLocked(p, msg)
		p.LeaveGame()
	}
	if s.onFinish != nil {
		go s.onFinish(s.summaryLocked())
	}
}

func (s *Session) summaryLocked() Summary {
	res := Result{}
	if s.result != nil {
		res = *s.result
	}
	return Summary{
		GameID:      s.ID,
		White:       s.whiteName,
		Black:       s.blackName,
		Result:      res.Kind,
		Winner:      res.Winner,
		FEN:         s.eng.FEN(s.pos),
		MovesSAN:    append([]string(nil), s.history...),
		TimeControl: s.timeControl,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
	}
}

// sendLocked writes best-effort. A dead peer is evicted by closing its
// connection; the broadcast itself continues.
func (s *Session) sendLocked(p *player.Client, v any) {
	if err := p.Send(v); err != nil {
		obslog.L().Warn("game_send_error",
			zap.String("game_id", s.ID),
			zap.String("player", p.Name()),
			zap.Error(err),
		)
		p.CloseConn()
	}
}

func opponentColor(color string) string {
	if color == "white" {
		return "black"
	}
	return "white"
}
