// Package player owns the identity registry: one entry per live game-channel
// connection, with an optional weak link to a chat-channel connection.
package player

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingName = errors.New("display name required")
)

// Conn is the transport seen by the registry and by fan-out code. Send must
// be safe for concurrent use and bounded in time; Close may be called more
// than once.
type Conn interface {
	Send(v any) error
	Close() error
}

// Client is one registered identity. A client belongs to at most one lobby
// and at most one game at a time; entering one leaves the other.
type Client struct {
	ID   string
	conn Conn

	mu           sync.Mutex
	name         string
	authed       bool
	chat         Conn
	lobbyID      string
	gameID       string
	lastActivity time.Time
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

// Send writes to the game-channel connection.
func (c *Client) Send(v any) error { return c.conn.Send(v) }

// CloseConn closes the game-channel connection; the reader goroutine owning
// it then runs the departure path.
func (c *Client) CloseConn() { _ = c.conn.Close() }

// SendChat writes to the linked chat connection, if any. Chat is
// best-effort: a missing link is reported, not an error.
func (c *Client) SendChat(v any) (linked bool, err error) {
	c.mu.Lock()
	chat := c.chat
	c.mu.Unlock()
	if chat == nil {
		return false, nil
	}
	return true, chat.Send(v)
}

// LinkChat binds a chat connection, replacing any previous link.
func (c *Client) LinkChat(conn Conn) {
	c.mu.Lock()
	prev := c.chat
	c.chat = conn
	c.mu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// UnlinkChat drops the link only if conn is still the bound connection, so a
// replaced link cannot clear its successor.
func (c *Client) UnlinkChat(conn Conn) {
	c.mu.Lock()
	if c.chat == conn {
		c.chat = nil
	}
	c.mu.Unlock()
}

// CloseChat closes and drops the linked chat connection, if any.
func (c *Client) CloseChat() {
	c.mu.Lock()
	chat := c.chat
	c.chat = nil
	c.mu.Unlock()
	if chat != nil {
		_ = chat.Close()
	}
}

func (c *Client) LobbyID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbyID
}

func (c *Client) GameID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

// Busy reports membership in any lobby or game.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbyID != "" || c.gameID != ""
}

func (c *Client) EnterLobby(id string) {
	c.mu.Lock()
	c.lobbyID = id
	c.gameID = ""
	c.mu.Unlock()
}

func (c *Client) EnterGame(id string) {
	c.mu.Lock()
	c.gameID = id
	c.lobbyID = ""
	c.mu.Unlock()
}

func (c *Client) LeaveLobby() {
	c.mu.Lock()
	c.lobbyID = ""
	c.mu.Unlock()
}

func (c *Client) LeaveGame() {
	c.mu.Lock()
	c.gameID = ""
	c.mu.Unlock()
}

// Touch records inbound activity for the inactivity sweep.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Registry maps identity ids to live clients. Lookup is O(1); Remove is
// idempotent so duplicate disconnect events cannot double-run cleanup.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register creates an unauthenticated identity for a new connection.
func (r *Registry) Register(conn Conn) *Client {
	c := &Client{
		ID:           uuid.NewString(),
		conn:         conn,
		lastActivity: time.Now(),
	}
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	return c
}

// Authenticate sets the display name carried by the first message of a
// connection. An empty name fails with ErrMissingName.
func (r *Registry) Authenticate(c *Client, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrMissingName
	}
	c.mu.Lock()
	c.name = name
	c.authed = true
	c.mu.Unlock()
	return nil
}

func (r *Registry) Lookup(id string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

// Remove deletes the identity and reports whether this call was the one that
// removed it. Callers run cascading cleanup only on the first removal.
func (r *Registry) Remove(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	delete(r.clients, id)
	return c, true
}

// All returns a snapshot of every registered client.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
