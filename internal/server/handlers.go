package server

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/chat"
	"github.com/kapu/chess-arena/internal/game"
	"github.com/kapu/chess-arena/internal/lobby"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/internal/rules"
	"github.com/kapu/chess-arena/pkg/wire"
)

// handleGameConn runs the read loop of one game-channel connection. Until
// the auth message arrives, any other traffic closes the connection; after
// that, protocol errors are reported and the connection stays open.
func (s *Server) handleGameConn(t transport) {
	c := s.reg.Register(t)
	obslog.L().Info("game_connected",
		zap.String("identity_id", c.ID),
		zap.String("remote", t.RemoteAddr()),
	)
	defer s.cleanupClient(c, t)

	for {
		line, err := t.ReadMessage()
		if err != nil {
			return
		}
		msg, derr := wire.DecodeClient(line)
		if derr != nil {
			reason := wire.ReasonMalformed
			if errors.Is(derr, wire.ErrUnknownTag) {
				reason = wire.ReasonUnknownTag
			}
			s.sendError(c, reason)
			if !c.Authenticated() {
				return
			}
			continue
		}
		c.Touch()

		if !c.Authenticated() {
			if msg.Tag != wire.TagAuth {
				s.sendError(c, wire.ReasonUnauthenticated)
				return
			}
			if err := s.reg.Authenticate(c, msg.Name); err != nil {
				s.sendError(c, wire.ReasonMissingName)
				return
			}
			_ = c.Send(wire.AuthAck{Tag: wire.TagAuthAck, IdentityID: c.ID})
			obslog.L().Info("authenticated",
				zap.String("identity_id", c.ID),
				zap.String("name", c.Name()),
			)
			continue
		}
		if msg.Tag == wire.TagAuth {
			// duplicate auth closes the connection, same as any other
			// auth violation
			s.sendError(c, wire.ReasonAlreadyAuthenticated)
			return
		}
		s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *player.Client, msg *wire.ClientMessage) {
	switch msg.Tag {
	case wire.TagCreateLobby:
		lobbyID, err := s.lobbies.Create(c)
		if err != nil {
			s.sendError(c, reasonFor(err))
			return
		}
		s.sendTo(c, wire.LobbyCreated{Tag: wire.TagLobbyCreated, LobbyID: lobbyID})
		obslog.L().Info("lobby_created",
			zap.String("lobby_id", lobbyID),
			zap.String("host", c.Name()),
		)

	case wire.TagListLobbies:
		s.sendTo(c, wire.LobbyList{Tag: wire.TagLobbyList, Lobbies: s.lobbies.List()})

	case wire.TagJoinLobby:
		res, err := s.lobbies.Join(c, msg.LobbyID)
		if err != nil {
			s.sendError(c, reasonFor(err))
			return
		}
		s.sendTo(c, wire.LobbyJoined{
			Tag:     wire.TagLobbyJoined,
			LobbyID: res.LobbyID,
			Host:    res.Host,
			Players: res.Players,
		})
		status := lobby.StatusWaiting
		if res.Full {
			status = lobby.StatusFull
		}
		joined := wire.LobbyMemberChanged{
			Tag:     wire.TagLobbyMemberChange,
			LobbyID: res.LobbyID,
			Event:   wire.EventPlayerJoined,
			Player:  c.Name(),
			Players: res.Players,
			Status:  status,
		}
		for _, seat := range res.Others {
			s.sendTo(seat, joined)
		}
		if res.Full {
			full := joined
			full.Event = wire.EventLobbyFull
			full.Player = ""
			for _, seat := range res.Seats {
				s.sendTo(seat, full)
			}
		}

	case wire.TagStartGame:
		gameID := uuid.NewString()
		white, black, err := s.lobbies.Start(c, msg.LobbyID, gameID)
		if err != nil {
			s.sendError(c, reasonFor(err))
			return
		}
		sess := s.games.Create(gameID, white, black)
		// a player disconnecting between Start and Create finds no session
		// to settle against; re-check registration now that it exists
		for _, p := range []*player.Client{white, black} {
			if s.reg.Lookup(p.ID) == nil {
				sess.HandleDeparture(p)
			}
		}
		started := wire.GameStarted{
			Tag:         wire.TagGameStarted,
			GameID:      gameID,
			White:       white.Name(),
			Black:       black.Name(),
			TimeControl: s.cfg.TimeControlSeconds,
		}
		s.sendTo(white, started)
		s.sendTo(black, started)
		sess.BroadcastState()
		s.announce(white, black, gameID)
		obslog.L().Info("game_started",
			zap.String("game_id", gameID),
			zap.String("white", white.Name()),
			zap.String("black", black.Name()),
		)

	case wire.TagMove:
		sess := s.games.Get(msg.GameID)
		if sess == nil {
			s.sendError(c, wire.ReasonGameNotFound)
			return
		}
		if err := sess.ApplyMove(c, msg.Move); err != nil {
			s.sendError(c, reasonFor(err))
		}

	case wire.TagResign:
		sess := s.games.Get(msg.GameID)
		if sess == nil {
			s.sendError(c, wire.ReasonGameNotFound)
			return
		}
		if err := sess.Resign(c); err != nil {
			s.sendError(c, reasonFor(err))
		}

	case wire.TagSpectate:
		sess := s.games.Get(msg.GameID)
		if sess == nil {
			s.sendError(c, wire.ReasonGameNotFound)
			return
		}
		// membership is exclusive: a seat in another live game blocks the
		// switch, anything else is left first
		if gid := c.GameID(); gid != "" && gid != msg.GameID {
			if cur := s.games.Get(gid); cur != nil {
				if cur.ActivePlayer(c) {
					s.sendError(c, wire.ReasonAlreadyInLobby)
					return
				}
				cur.HandleDeparture(c)
			}
		}
		s.leaveLobby(c)
		if err := sess.Spectate(c); err != nil {
			s.sendError(c, reasonFor(err))
		}
	}
}

// announce invites every authenticated identity that is not a player.
func (s *Server) announce(white, black *player.Client, gameID string) {
	msg := wire.GameAnnouncement{
		Tag:    wire.TagGameAnnouncement,
		GameID: gameID,
		White:  white.Name(),
		Black:  black.Name(),
	}
	for _, other := range s.reg.All() {
		if other == white || other == black || !other.Authenticated() {
			continue
		}
		s.sendTo(other, msg)
	}
}

// leaveLobby removes c from its lobby, if any, and notifies the remaining
// seats. A departing host closes the lobby.
func (s *Server) leaveLobby(c *player.Client) {
	if c.LobbyID() == "" {
		return
	}
	res := s.lobbies.Leave(c)
	if res == nil {
		return
	}
	if res.Closed {
		obslog.L().Info("lobby_closed",
			zap.String("lobby_id", res.LobbyID),
			zap.String("host", c.Name()),
		)
		for _, guest := range res.Notify {
			s.sendTo(guest, wire.LobbyClosed{Tag: wire.TagLobbyClosed, LobbyID: res.LobbyID})
		}
		return
	}
	s.sendTo(res.Host, wire.LobbyMemberChanged{
		Tag:     wire.TagLobbyMemberChange,
		LobbyID: res.LobbyID,
		Event:   wire.EventPlayerLeft,
		Player:  c.Name(),
		Players: res.Players,
		Status:  lobby.StatusWaiting,
	})
}

// cleanupClient runs once per identity, on the reader goroutine of the game
// connection, after the read loop returns for any reason.
func (s *Server) cleanupClient(c *player.Client, t transport) {
	_ = t.Close()
	if _, first := s.reg.Remove(c.ID); !first {
		return
	}
	if gameID := c.GameID(); gameID != "" {
		if sess := s.games.Get(gameID); sess != nil {
			sess.HandleDeparture(c)
		} else {
			c.LeaveGame()
		}
	}
	s.leaveLobby(c)
	c.CloseChat()
	obslog.L().Info("game_disconnected",
		zap.String("identity_id", c.ID),
		zap.String("name", c.Name()),
	)
}

// handleChatConn binds one chat connection to an identity and scope, then
// routes everything it says until it drops.
func (s *Server) handleChatConn(t transport) {
	line, err := t.ReadMessage()
	if err != nil {
		_ = t.Close()
		return
	}
	hello, derr := wire.DecodeChatHello(line)
	if derr != nil {
		s.sendErrorTo(t, wire.ReasonMalformed)
		_ = t.Close()
		return
	}
	c := s.reg.Lookup(hello.IdentityID)
	if c == nil || !c.Authenticated() {
		s.sendErrorTo(t, wire.ReasonUnauthenticated)
		_ = t.Close()
		return
	}
	bound := (hello.Scope == wire.ScopeGame && c.GameID() == hello.ScopeID) ||
		(hello.Scope == wire.ScopeLobby && c.LobbyID() == hello.ScopeID)
	if !bound {
		s.sendErrorTo(t, wire.ReasonNoActiveScope)
		_ = t.Close()
		return
	}
	c.LinkChat(t)
	_ = t.Send(wire.ChatConnected{Tag: wire.TagChatConnected})
	obslog.L().Info("chat_connected",
		zap.String("identity_id", c.ID),
		zap.String("scope", hello.Scope),
		zap.String("scope_id", hello.ScopeID),
	)
	defer func() {
		c.UnlinkChat(t)
		_ = t.Close()
	}()

	for {
		line, err := t.ReadMessage()
		if err != nil {
			return
		}
		msg, derr := wire.DecodeChatSend(line)
		if derr != nil {
			reason := wire.ReasonMalformed
			if errors.Is(derr, wire.ErrUnknownTag) {
				reason = wire.ReasonUnknownTag
			}
			s.sendErrorTo(t, reason)
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		c.Touch()
		if err := s.chat.Route(c, msg.Text); err != nil {
			s.sendErrorTo(t, reasonFor(err))
		}
	}
}

// reasonFor maps domain errors to stable wire reason codes.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, player.ErrMissingName):
		return wire.ReasonMissingName
	case errors.Is(err, lobby.ErrAlreadyInLobby):
		return wire.ReasonAlreadyInLobby
	case errors.Is(err, lobby.ErrLobbyNotFound):
		return wire.ReasonLobbyNotFound
	case errors.Is(err, lobby.ErrLobbyFull):
		return wire.ReasonLobbyFull
	case errors.Is(err, lobby.ErrNotHost):
		return wire.ReasonNotHost
	case errors.Is(err, lobby.ErrInsufficientPlayers):
		return wire.ReasonInsufficientPlayers
	case errors.Is(err, game.ErrGameOver):
		return wire.ReasonGameOver
	case errors.Is(err, game.ErrNotAParticipant):
		return wire.ReasonNotAParticipant
	case errors.Is(err, game.ErrNotYourTurn):
		return wire.ReasonNotYourTurn
	case errors.Is(err, game.ErrAlreadyPresent):
		return wire.ReasonAlreadyPresent
	case errors.Is(err, rules.ErrIllegalMove):
		return wire.ReasonIllegalMove
	case errors.Is(err, rules.ErrMalformedPromotion):
		return wire.ReasonMalformedPromotion
	case errors.Is(err, chat.ErrNoActiveScope):
		return wire.ReasonNoActiveScope
	default:
		return wire.ReasonMalformed
	}
}
