package lobby

import (
	"errors"
	"testing"

	"github.com/kapu/chess-arena/internal/player"
)

type nopConn struct{}

func (nopConn) Send(v any) error { return nil }
func (nopConn) Close() error     { return nil }

func newClient(t *testing.T, reg *player.Registry, name string) *player.Client {
	t.Helper()
	c := reg.Register(nopConn{})
	if err := reg.Authenticate(c, name); err != nil {
		t.Fatalf("Authenticate(%s): %v", name, err)
	}
	return c
}

func TestCreateAndList(t *testing.T) {
	reg := player.NewRegistry()
	m := NewManager()
	host := newClient(t, reg, "alice")

	lobbyID, err := m.Create(host)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if host.LobbyID() != lobbyID {
		t.Fatalf("host lobby = %q, want %q", host.LobbyID(), lobbyID)
	}
	if _, err := m.Create(host); !errors.Is(err, ErrAlreadyInLobby) {
		t.Fatalf("second create: err=%v, want ErrAlreadyInLobby", err)
	}

	list := m.List()
	if len(list) != 1 {
		t.Fatalf("list length = %d", len(list))
	}
	info := list[0]
	if info.LobbyID != lobbyID || info.Host != "alice" || info.Seats != 1 || info.MaxSeats != 2 {
		t.Fatalf("unexpected listing: %+v", info)
	}
}

func TestJoinFillsLobbyAndHidesIt(t *testing.T) {
	reg := player.NewRegistry()
	m := NewManager()
	host := newClient(t, reg, "alice")
	guest := newClient(t, reg, "bob")
	third := newClient(t, reg, "cara")

	lobbyID, _ := m.Create(host)
	res, err := m.Join(guest, lobbyID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !res.Full || res.Host != "alice" || len(res.Players) != 2 {
		t.Fatalf("unexpected join result: %+v", res)
	}
	if len(res.Others) != 1 || res.Others[0] != host {
		t.Fatalf("others = %v", res.Others)
	}

	if len(m.List()) != 0 {
		t.Fatal("full lobby still listed")
	}
	if _, err := m.Join(third, lobbyID); !errors.Is(err, ErrLobbyFull) {
		t.Fatalf("join full: err=%v, want ErrLobbyFull", err)
	}
	if _, err := m.Join(third, "nope"); !errors.Is(err, ErrLobbyNotFound) {
		t.Fatalf("join unknown: err=%v, want ErrLobbyNotFound", err)
	}
}

func TestStartRequiresHostAndTwoSeats(t *testing.T) {
	reg := player.NewRegistry()
	m := NewManager()
	host := newClient(t, reg, "alice")
	guest := newClient(t, reg, "bob")

	lobbyID, _ := m.Create(host)
	if _, _, err := m.Start(host, lobbyID, "g1"); !errors.Is(err, ErrInsufficientPlayers) {
		t.Fatalf("start alone: err=%v, want ErrInsufficientPlayers", err)
	}
	if _, err := m.Join(guest, lobbyID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := m.Start(guest, lobbyID, "g1"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("guest start: err=%v, want ErrNotHost", err)
	}

	white, black, err := m.Start(host, lobbyID, "g1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if white != host || black != guest {
		t.Fatal("host must take white and guest black")
	}
	if white.GameID() != "g1" || black.GameID() != "g1" {
		t.Fatal("players not moved into the game")
	}
	if white.LobbyID() != "" || black.LobbyID() != "" {
		t.Fatal("players still hold lobby membership")
	}
	if m.Count() != 0 {
		t.Fatalf("lobby survived start: count=%d", m.Count())
	}
}

func TestLeaveHostClosesLobby(t *testing.T) {
	reg := player.NewRegistry()
	m := NewManager()
	host := newClient(t, reg, "alice")
	guest := newClient(t, reg, "bob")

	lobbyID, _ := m.Create(host)
	if _, err := m.Join(guest, lobbyID); err != nil {
		t.Fatalf("Join: %v", err)
	}

	res := m.Leave(host)
	if res == nil || !res.Closed {
		t.Fatalf("host leave: %+v", res)
	}
	if len(res.Notify) != 1 || res.Notify[0] != guest {
		t.Fatalf("notify = %v", res.Notify)
	}
	if guest.Busy() || host.Busy() {
		t.Fatal("memberships not cleared")
	}
	if m.Count() != 0 {
		t.Fatal("closed lobby survived")
	}
}

func TestLeaveGuestRevertsToWaiting(t *testing.T) {
	reg := player.NewRegistry()
	m := NewManager()
	host := newClient(t, reg, "alice")
	guest := newClient(t, reg, "bob")

	lobbyID, _ := m.Create(host)
	if _, err := m.Join(guest, lobbyID); err != nil {
		t.Fatalf("Join: %v", err)
	}

	res := m.Leave(guest)
	if res == nil || res.Closed {
		t.Fatalf("guest leave: %+v", res)
	}
	if res.Host != host || len(res.Players) != 1 {
		t.Fatalf("unexpected leave result: %+v", res)
	}
	if len(m.List()) != 1 {
		t.Fatal("lobby not listed again after guest left")
	}
}
