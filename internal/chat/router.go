// Package chat fans messages out to everyone sharing the sender's scope:
// the participants of their current game, or failing that the seats of
// their current lobby. Delivery rides the separately-linked chat
// connections and is best-effort throughout.
package chat

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/game"
	"github.com/kapu/chess-arena/internal/lobby"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/pkg/wire"
)

var ErrNoActiveScope = errors.New("no game or lobby to chat in")

type Router struct {
	lobbies *lobby.Manager
	games   *game.Table

	now func() time.Time
}

func NewRouter(lobbies *lobby.Manager, games *game.Table) *Router {
	return &Router{lobbies: lobbies, games: games, now: time.Now}
}

// Route delivers text from sender to every identity in the sender's current
// scope, resolved at send time (not from the chat link), with a
// server-assigned timestamp. Identities without a linked chat connection
// are skipped silently; a failed send evicts only that link.
func (r *Router) Route(sender *player.Client, text string) error {
	recipients, scope, scopeID := r.resolve(sender)
	if scope == "" {
		return ErrNoActiveScope
	}
	msg := wire.ChatMessage{
		Tag:       wire.TagChat,
		Sender:    sender.Name(),
		Text:      text,
		Timestamp: r.now().Unix(),
	}
	delivered := 0
	for _, c := range recipients {
		linked, err := c.SendChat(msg)
		if !linked {
			continue
		}
		if err != nil {
			obslog.L().Warn("chat_send_error",
				zap.String("scope", scope),
				zap.String("scope_id", scopeID),
				zap.String("recipient", c.Name()),
				zap.Error(err),
			)
			c.CloseChat()
			continue
		}
		delivered++
	}
	obslog.L().Debug("chat_routed",
		zap.String("scope", scope),
		zap.String("scope_id", scopeID),
		zap.String("sender", sender.Name()),
		zap.Int("delivered", delivered),
	)
	return nil
}

func (r *Router) resolve(sender *player.Client) ([]*player.Client, string, string) {
	if gameID := sender.GameID(); gameID != "" {
		if s := r.games.Get(gameID); s != nil {
			return s.Participants(), wire.ScopeGame, gameID
		}
	}
	if lobbyID := sender.LobbyID(); lobbyID != "" {
		if seats := r.lobbies.Members(lobbyID); seats != nil {
			return seats, wire.ScopeLobby, lobbyID
		}
	}
	return nil, "", ""
}
