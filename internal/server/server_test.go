package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kapu/chess-arena/internal/chat"
	"github.com/kapu/chess-arena/internal/config"
	"github.com/kapu/chess-arena/internal/game"
	"github.com/kapu/chess-arena/internal/lobby"
	"github.com/kapu/chess-arena/internal/msgcat"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/internal/rules"
	"github.com/kapu/chess-arena/pkg/wire"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.AppConfig{
		GameAddr:           "127.0.0.1:0",
		ChatAddr:           "127.0.0.1:0",
		TimeControlSeconds: 600,
		InactivityTimeout:  time.Minute,
		GameGracePeriod:    time.Minute,
		SweepInterval:      50 * time.Millisecond,
	}
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	reg := player.NewRegistry()
	lobbies := lobby.NewManager()
	games := game.NewTable(rules.NewEngine(), cfg.TimeControlSeconds)
	srv := New(cfg, cat, reg, lobbies, games, chat.NewRouter(lobbies, games))
	if err := srv.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	sc   *bufio.Scanner
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), maxLineBytes)
	return &testClient{t: t, conn: conn, sc: sc}
}

func (c *testClient) send(v any) {
	c.t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if _, err := c.conn.Write(append(b, '\n')); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect reads lines until one carries the wanted tag. An unexpected error
// reply fails the test immediately.
func (c *testClient) expect(tag string) map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for c.sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(c.sc.Bytes(), &m); err != nil {
			c.t.Fatalf("bad frame %q: %v", c.sc.Text(), err)
		}
		got, _ := m["tag"].(string)
		if got == tag {
			return m
		}
		if got == wire.TagError && tag != wire.TagError {
			c.t.Fatalf("error reply while waiting for %q: %v", tag, m)
		}
	}
	c.t.Fatalf("stream ended waiting for %q: %v", tag, c.sc.Err())
	return nil
}

func (c *testClient) closed() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return !c.sc.Scan()
}

func auth(t *testing.T, c *testClient, name string) string {
	t.Helper()
	c.send(wire.ClientMessage{Tag: wire.TagAuth, Name: name})
	ack := c.expect(wire.TagAuthAck)
	id, _ := ack["identityId"].(string)
	if id == "" {
		t.Fatalf("empty identity id in %v", ack)
	}
	return id
}

// startMatch brings two fresh clients through lobby creation into a running
// game and returns them with the game id.
func startMatch(t *testing.T, srv *Server, hostName, guestName string) (host, guest *testClient, gameID string) {
	t.Helper()
	host = dial(t, srv.GameAddr())
	guest = dial(t, srv.GameAddr())
	auth(t, host, hostName)
	auth(t, guest, guestName)

	host.send(wire.ClientMessage{Tag: wire.TagCreateLobby})
	lobbyID, _ := host.expect(wire.TagLobbyCreated)["lobbyId"].(string)
	guest.send(wire.ClientMessage{Tag: wire.TagJoinLobby, LobbyID: lobbyID})
	guest.expect(wire.TagLobbyJoined)
	host.send(wire.ClientMessage{Tag: wire.TagStartGame, LobbyID: lobbyID})
	gameID, _ = host.expect(wire.TagGameStarted)["gameId"].(string)
	if gameID == "" {
		t.Fatal("no game id in game_started")
	}
	guest.expect(wire.TagGameStarted)
	return host, guest, gameID
}

func TestAuthRequired(t *testing.T) {
	srv := startServer(t)

	c := dial(t, srv.GameAddr())
	c.send(wire.ClientMessage{Tag: wire.TagCreateLobby})
	reply := c.expect(wire.TagError)
	if reply["reason"] != wire.ReasonUnauthenticated {
		t.Fatalf("reason = %v", reply["reason"])
	}
	if !c.closed() {
		t.Fatal("connection survived pre-auth violation")
	}

	c2 := dial(t, srv.GameAddr())
	c2.send(wire.ClientMessage{Tag: wire.TagAuth, Name: "  "})
	reply = c2.expect(wire.TagError)
	if reply["reason"] != wire.ReasonMissingName {
		t.Fatalf("reason = %v", reply["reason"])
	}
}

func TestMalformedAfterAuthKeepsConnection(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv.GameAddr())
	auth(t, c, "alice")

	c.sendRaw("this is not json")
	if reply := c.expect(wire.TagError); reply["reason"] != wire.ReasonMalformed {
		t.Fatalf("reason = %v", reply["reason"])
	}
	c.send(wire.ClientMessage{Tag: "dance"})
	if reply := c.expect(wire.TagError); reply["reason"] != wire.ReasonUnknownTag {
		t.Fatalf("reason = %v", reply["reason"])
	}
	c.send(wire.ClientMessage{Tag: wire.TagListLobbies})
	c.expect(wire.TagLobbyList)
}

func TestMatchFlow(t *testing.T) {
	srv := startServer(t)

	alice := dial(t, srv.GameAddr())
	bob := dial(t, srv.GameAddr())
	cara := dial(t, srv.GameAddr())
	auth(t, alice, "alice")
	auth(t, bob, "bob")
	auth(t, cara, "cara")

	alice.send(wire.ClientMessage{Tag: wire.TagCreateLobby})
	created := alice.expect(wire.TagLobbyCreated)
	lobbyID, _ := created["lobbyId"].(string)
	if lobbyID == "" {
		t.Fatalf("no lobby id in %v", created)
	}

	bob.send(wire.ClientMessage{Tag: wire.TagListLobbies})
	listing := bob.expect(wire.TagLobbyList)
	lobbies, _ := listing["lobbies"].([]any)
	if len(lobbies) != 1 {
		t.Fatalf("lobby list = %v", listing)
	}

	bob.send(wire.ClientMessage{Tag: wire.TagJoinLobby, LobbyID: lobbyID})
	joined := bob.expect(wire.TagLobbyJoined)
	if joined["host"] != "alice" {
		t.Fatalf("joined = %v", joined)
	}
	change := alice.expect(wire.TagLobbyMemberChange)
	if change["event"] != wire.EventPlayerJoined || change["player"] != "bob" {
		t.Fatalf("member change = %v", change)
	}
	if full := alice.expect(wire.TagLobbyMemberChange); full["event"] != wire.EventLobbyFull {
		t.Fatalf("expected lobby_full, got %v", full)
	}
	bob.expect(wire.TagLobbyMemberChange)

	// only the host may start
	bob.send(wire.ClientMessage{Tag: wire.TagStartGame, LobbyID: lobbyID})
	if reply := bob.expect(wire.TagError); reply["reason"] != wire.ReasonNotHost {
		t.Fatalf("reason = %v", reply["reason"])
	}

	alice.send(wire.ClientMessage{Tag: wire.TagStartGame, LobbyID: lobbyID})
	started := alice.expect(wire.TagGameStarted)
	gameID, _ := started["gameId"].(string)
	if started["white"] != "alice" || started["black"] != "bob" || gameID == "" {
		t.Fatalf("game_started = %v", started)
	}
	bob.expect(wire.TagGameStarted)

	st := alice.expect(wire.TagState)
	if st["turn"] != "white" || st["yourTurn"] != true {
		t.Fatalf("alice state = %v", st)
	}
	if st["whiteTime"] != float64(600) {
		t.Fatalf("white time = %v", st["whiteTime"])
	}
	if bst := bob.expect(wire.TagState); bst["yourTurn"] != false {
		t.Fatalf("bob state = %v", bst)
	}

	// everyone else is invited to watch
	ann := cara.expect(wire.TagGameAnnouncement)
	if ann["gameId"] != gameID {
		t.Fatalf("announcement = %v", ann)
	}

	// moving out of turn is rejected
	bob.send(wire.ClientMessage{Tag: wire.TagMove, GameID: gameID, Move: "e7e5"})
	if reply := bob.expect(wire.TagError); reply["reason"] != wire.ReasonNotYourTurn {
		t.Fatalf("reason = %v", reply["reason"])
	}

	alice.send(wire.ClientMessage{Tag: wire.TagMove, GameID: gameID, Move: "e2e4"})
	st = bob.expect(wire.TagState)
	hist, _ := st["moveHistory"].([]any)
	if len(hist) != 1 || hist[0] != "e4" || st["yourTurn"] != true {
		t.Fatalf("bob state after e4 = %v", st)
	}
	alice.expect(wire.TagState)

	cara.send(wire.ClientMessage{Tag: wire.TagSpectate, GameID: gameID})
	cara.expect(wire.TagSpectating)
	if cst := cara.expect(wire.TagState); cst["yourTurn"] != false {
		t.Fatalf("spectator state = %v", cst)
	}
	if note := alice.expect(wire.TagNewSpectator); note["spectator"] != "cara" {
		t.Fatalf("new_spectator = %v", note)
	}

	bob.send(wire.ClientMessage{Tag: wire.TagResign, GameID: gameID})
	for _, c := range []*testClient{alice, bob, cara} {
		over := c.expect(wire.TagGameOver)
		if over["result"] != "resignation" || over["winner"] != "white" {
			t.Fatalf("game_over = %v", over)
		}
	}

	// the decided game rejects further play
	alice.send(wire.ClientMessage{Tag: wire.TagMove, GameID: gameID, Move: "d2d4"})
	if reply := alice.expect(wire.TagError); reply["reason"] != wire.ReasonGameOver {
		t.Fatalf("reason = %v", reply["reason"])
	}
}

func TestChatFlow(t *testing.T) {
	srv := startServer(t)

	alice := dial(t, srv.GameAddr())
	bob := dial(t, srv.GameAddr())
	aliceID := auth(t, alice, "alice")
	bobID := auth(t, bob, "bob")

	alice.send(wire.ClientMessage{Tag: wire.TagCreateLobby})
	lobbyID, _ := alice.expect(wire.TagLobbyCreated)["lobbyId"].(string)
	bob.send(wire.ClientMessage{Tag: wire.TagJoinLobby, LobbyID: lobbyID})
	bob.expect(wire.TagLobbyJoined)

	aliceChat := dial(t, srv.ChatAddr())
	bobChat := dial(t, srv.ChatAddr())
	aliceChat.send(wire.ChatHello{IdentityID: aliceID, Scope: wire.ScopeLobby, ScopeID: lobbyID})
	aliceChat.expect(wire.TagChatConnected)
	bobChat.send(wire.ChatHello{IdentityID: bobID, Scope: wire.ScopeLobby, ScopeID: lobbyID})
	bobChat.expect(wire.TagChatConnected)

	aliceChat.send(wire.ChatSend{Tag: wire.TagChat, Text: "ready when you are"})
	for _, c := range []*testClient{aliceChat, bobChat} {
		msg := c.expect(wire.TagChat)
		if msg["sender"] != "alice" || msg["text"] != "ready when you are" {
			t.Fatalf("chat = %v", msg)
		}
		if ts, _ := msg["timestamp"].(float64); ts == 0 {
			t.Fatalf("missing timestamp: %v", msg)
		}
	}
}

func TestChatHelloValidation(t *testing.T) {
	srv := startServer(t)

	alice := dial(t, srv.GameAddr())
	aliceID := auth(t, alice, "alice")

	// scope must match the identity's current membership
	c := dial(t, srv.ChatAddr())
	c.send(wire.ChatHello{IdentityID: aliceID, Scope: wire.ScopeLobby, ScopeID: "nope"})
	if reply := c.expect(wire.TagError); reply["reason"] != wire.ReasonNoActiveScope {
		t.Fatalf("reason = %v", reply["reason"])
	}
	if !c.closed() {
		t.Fatal("chat connection survived bad hello")
	}

	c2 := dial(t, srv.ChatAddr())
	c2.send(wire.ChatHello{IdentityID: "ghost", Scope: wire.ScopeLobby, ScopeID: "l1"})
	if reply := c2.expect(wire.TagError); reply["reason"] != wire.ReasonUnauthenticated {
		t.Fatalf("reason = %v", reply["reason"])
	}
}

func TestDisconnectForfeitsLiveGame(t *testing.T) {
	srv := startServer(t)
	alice, bob, _ := startMatch(t, srv, "alice", "bob")

	_ = bob.conn.Close()

	over := alice.expect(wire.TagGameOver)
	if over["result"] != "disconnection" || over["winner"] != "white" {
		t.Fatalf("game_over = %v", over)
	}
}

func TestDuplicateAuthClosesConnection(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv.GameAddr())
	auth(t, c, "alice")

	c.send(wire.ClientMessage{Tag: wire.TagAuth, Name: "alice-again"})
	if reply := c.expect(wire.TagError); reply["reason"] != wire.ReasonAlreadyAuthenticated {
		t.Fatalf("reason = %v", reply["reason"])
	}
	if !c.closed() {
		t.Fatal("connection survived duplicate auth")
	}
}

func TestSpectateBlockedWhileSeatedInLiveGame(t *testing.T) {
	srv := startServer(t)
	alice, bob, firstGame := startMatch(t, srv, "alice", "bob")
	_, _, secondGame := startMatch(t, srv, "cara", "dave")

	// a seated player cannot walk away from a live game by spectating
	alice.send(wire.ClientMessage{Tag: wire.TagSpectate, GameID: secondGame})
	if reply := alice.expect(wire.TagError); reply["reason"] != wire.ReasonAlreadyInLobby {
		t.Fatalf("reason = %v", reply["reason"])
	}

	alice.send(wire.ClientMessage{Tag: wire.TagResign, GameID: firstGame})
	alice.expect(wire.TagGameOver)
	bob.expect(wire.TagGameOver)

	// once their own game is decided the switch goes through
	alice.send(wire.ClientMessage{Tag: wire.TagSpectate, GameID: secondGame})
	if spec := alice.expect(wire.TagSpectating); spec["gameId"] != secondGame {
		t.Fatalf("spectating = %v", spec)
	}
}

// stubConn records sends for dispatch-level tests; failAfter > 0 makes every
// send past that count fail like a dead peer.
type stubConn struct {
	mu        sync.Mutex
	msgs      []any
	failAfter int
	closes    int
}

func (c *stubConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter > 0 && len(c.msgs) >= c.failAfter {
		return errors.New("peer gone")
	}
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *stubConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// newCoreServer builds a server without listeners, for driving dispatch
// directly against stub connections.
func newCoreServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.AppConfig{TimeControlSeconds: 600}
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	reg := player.NewRegistry()
	lobbies := lobby.NewManager()
	games := game.NewTable(rules.NewEngine(), cfg.TimeControlSeconds)
	return New(cfg, cat, reg, lobbies, games, chat.NewRouter(lobbies, games))
}

func TestStartGameSettlesVanishedGuest(t *testing.T) {
	srv := newCoreServer(t)
	hostConn, guestConn := &stubConn{}, &stubConn{}
	host := srv.reg.Register(hostConn)
	guest := srv.reg.Register(guestConn)
	if err := srv.reg.Authenticate(host, "alice"); err != nil {
		t.Fatalf("auth host: %v", err)
	}
	if err := srv.reg.Authenticate(guest, "bob"); err != nil {
		t.Fatalf("auth guest: %v", err)
	}

	srv.dispatch(host, &wire.ClientMessage{Tag: wire.TagCreateLobby})
	lobbyID := host.LobbyID()
	if lobbyID == "" {
		t.Fatal("host has no lobby")
	}
	srv.dispatch(guest, &wire.ClientMessage{Tag: wire.TagJoinLobby, LobbyID: lobbyID})

	// the guest's cleanup got as far as deregistering before any session
	// existed to settle against
	srv.reg.Remove(guest.ID)

	srv.dispatch(host, &wire.ClientMessage{Tag: wire.TagStartGame, LobbyID: lobbyID})

	var gameID string
	hostConn.mu.Lock()
	for _, m := range hostConn.msgs {
		if g, ok := m.(wire.GameStarted); ok {
			gameID = g.GameID
		}
	}
	hostConn.mu.Unlock()
	if gameID == "" {
		t.Fatal("host never saw game_started")
	}
	sess := srv.games.Get(gameID)
	if sess == nil {
		t.Fatal("session not resolvable")
	}
	if sess.Active() {
		t.Fatal("session stayed live with a vanished player")
	}
	res := sess.Result()
	if res == nil || res.Kind != game.ResultDisconnection || res.Winner != "white" {
		t.Fatalf("result = %+v", res)
	}
}

func TestLobbyBroadcastFailureEvictsDeadPeer(t *testing.T) {
	srv := newCoreServer(t)
	hostConn := &stubConn{failAfter: 1} // lobby_created lands, everything after fails
	guestConn := &stubConn{}
	host := srv.reg.Register(hostConn)
	guest := srv.reg.Register(guestConn)
	if err := srv.reg.Authenticate(host, "alice"); err != nil {
		t.Fatalf("auth host: %v", err)
	}
	if err := srv.reg.Authenticate(guest, "bob"); err != nil {
		t.Fatalf("auth guest: %v", err)
	}

	srv.dispatch(host, &wire.ClientMessage{Tag: wire.TagCreateLobby})
	srv.dispatch(guest, &wire.ClientMessage{Tag: wire.TagJoinLobby, LobbyID: host.LobbyID()})

	// the failed member-changed broadcast to the host never blocked the join
	joined := false
	guestConn.mu.Lock()
	for _, m := range guestConn.msgs {
		if _, ok := m.(wire.LobbyJoined); ok {
			joined = true
		}
	}
	guestConn.mu.Unlock()
	if !joined {
		t.Fatal("guest never saw lobby_joined")
	}
	if hostConn.closeCount() == 0 {
		t.Fatal("dead host connection left open")
	}
}
