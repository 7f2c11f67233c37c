// Package lobby implements the two-seat waiting rooms that matchmaking runs
// through. The manager owns the lobby table; every operation runs under its
// lock so seat lists never change mid-transition.
package lobby

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/pkg/wire"
)

const maxSeats = 2

var (
	ErrAlreadyInLobby      = errors.New("already in a lobby or game")
	ErrLobbyNotFound       = errors.New("lobby not found")
	ErrLobbyFull           = errors.New("lobby is full")
	ErrNotHost             = errors.New("only the host can start the game")
	ErrInsufficientPlayers = errors.New("need two players to start")
)

// Lobby statuses. A lobby is full exactly when both seats are taken; full
// lobbies are hidden from listings.
const (
	StatusWaiting = "waiting"
	StatusFull    = "full"
)

type Lobby struct {
	ID     string
	seats  []*player.Client // seats[0] is the host
	status string
}

// JoinResult describes a successful join for the caller to notify with.
type JoinResult struct {
	LobbyID string
	Host    string
	Players []string
	Full    bool
	// Others are the seats present before the join.
	Others []*player.Client
	// Seats is the complete roster after the join.
	Seats []*player.Client
}

// LeaveResult describes the fallout of a seat leaving.
type LeaveResult struct {
	LobbyID string
	// Closed is set when the host left and the lobby was destroyed;
	// Notify then holds the orphaned guests.
	Closed bool
	Notify []*player.Client
	// Host and Players are set for a guest departure.
	Host    *player.Client
	Players []string
}

type Manager struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby
}

func NewManager() *Manager {
	return &Manager{lobbies: make(map[string]*Lobby)}
}

// Create allocates a waiting lobby hosted by c.
func (m *Manager) Create(c *player.Client) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Busy() {
		return "", ErrAlreadyInLobby
	}
	lb := &Lobby{
		ID:     uuid.NewString(),
		seats:  []*player.Client{c},
		status: StatusWaiting,
	}
	m.lobbies[lb.ID] = lb
	c.EnterLobby(lb.ID)
	return lb.ID, nil
}

// List returns every waiting lobby; full lobbies are about to be promoted
// and are not joinable.
func (m *Manager) List() []wire.LobbyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.LobbyInfo, 0, len(m.lobbies))
	for _, lb := range m.lobbies {
		if lb.status != StatusWaiting {
			continue
		}
		out = append(out, wire.LobbyInfo{
			LobbyID:  lb.ID,
			Host:     lb.seats[0].Name(),
			Players:  names(lb.seats),
			Seats:    len(lb.seats),
			MaxSeats: maxSeats,
		})
	}
	return out
}

// Join seats c in the lobby, flipping it to full at capacity.
func (m *Manager) Join(c *player.Client, lobbyID string) (*JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Busy() {
		return nil, ErrAlreadyInLobby
	}
	lb, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, ErrLobbyNotFound
	}
	if len(lb.seats) >= maxSeats {
		return nil, ErrLobbyFull
	}
	others := append([]*player.Client(nil), lb.seats...)
	lb.seats = append(lb.seats, c)
	if len(lb.seats) == maxSeats {
		lb.status = StatusFull
	}
	c.EnterLobby(lb.ID)
	return &JoinResult{
		LobbyID: lb.ID,
		Host:    lb.seats[0].Name(),
		Players: names(lb.seats),
		Full:    lb.status == StatusFull,
		Others:  others,
		Seats:   append([]*player.Client(nil), lb.seats...),
	}, nil
}

// Start promotes a full lobby into a game. Only the host may start; the
// host takes white and the guest black. The lobby is destroyed and both
// players are moved into gameID before the session exists, so a racing
// lobby operation from either player fails cleanly.
func (m *Manager) Start(c *player.Client, lobbyID, gameID string) (white, black *player.Client, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lb, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, nil, ErrLobbyNotFound
	}
	if lb.seats[0] != c {
		return nil, nil, ErrNotHost
	}
	if len(lb.seats) < maxSeats {
		return nil, nil, ErrInsufficientPlayers
	}
	white, black = lb.seats[0], lb.seats[1]
	delete(m.lobbies, lb.ID)
	white.EnterGame(gameID)
	black.EnterGame(gameID)
	return white, black, nil
}

// Leave removes c from its current lobby. A departing host closes the
// lobby; a departing guest reverts it to waiting. Returns nil when c holds
// no seat.
func (m *Manager) Leave(c *player.Client) *LeaveResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	lobbyID := c.LobbyID()
	lb, ok := m.lobbies[lobbyID]
	if !ok {
		c.LeaveLobby()
		return nil
	}
	if lb.seats[0] == c {
		delete(m.lobbies, lb.ID)
		notify := make([]*player.Client, 0, len(lb.seats)-1)
		for _, seat := range lb.seats[1:] {
			seat.LeaveLobby()
			notify = append(notify, seat)
		}
		c.LeaveLobby()
		return &LeaveResult{LobbyID: lb.ID, Closed: true, Notify: notify}
	}
	seats := lb.seats[:0]
	for _, seat := range lb.seats {
		if seat != c {
			seats = append(seats, seat)
		}
	}
	lb.seats = seats
	lb.status = StatusWaiting
	c.LeaveLobby()
	return &LeaveResult{
		LobbyID: lb.ID,
		Host:    lb.seats[0],
		Players: names(lb.seats),
	}
}

// Members returns the seats of a lobby for chat fan-out.
func (m *Manager) Members(lobbyID string) []*player.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	lb, ok := m.lobbies[lobbyID]
	if !ok {
		return nil
	}
	return append([]*player.Client(nil), lb.seats...)
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lobbies)
}

func names(seats []*player.Client) []string {
	out := make([]string, 0, len(seats))
	for _, s := range seats {
		out = append(out, s.Name())
	}
	return out
}
