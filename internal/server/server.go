// Package server owns the two listeners and the per-connection protocol
// handlers. Every connection gets its own reader goroutine; connection
// cleanup always runs on that goroutine, so a send failure anywhere only has
// to close the peer's connection to trigger the full departure cascade.
package server

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/chat"
	"github.com/kapu/chess-arena/internal/config"
	"github.com/kapu/chess-arena/internal/game"
	"github.com/kapu/chess-arena/internal/lobby"
	"github.com/kapu/chess-arena/internal/msgcat"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/player"
	"github.com/kapu/chess-arena/internal/status"
	"github.com/kapu/chess-arena/pkg/wire"
)

type Server struct {
	cfg     *config.AppConfig
	cat     *msgcat.Catalog
	reg     *player.Registry
	lobbies *lobby.Manager
	games   *game.Table
	chat    *chat.Router

	mu        sync.Mutex
	listeners []net.Listener
	ws        *http.Server

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg *config.AppConfig, cat *msgcat.Catalog, reg *player.Registry,
	lobbies *lobby.Manager, games *game.Table, router *chat.Router) *Server {
	return &Server{
		cfg:     cfg,
		cat:     cat,
		reg:     reg,
		lobbies: lobbies,
		games:   games,
		chat:    router,
		quit:    make(chan struct{}),
	}
}

// Run opens the game and chat listeners, the optional WebSocket gateway and
// the housekeeping loop, then returns. Shutdown tears everything down.
func (s *Server) Run() error {
	gameLn, err := net.Listen("tcp", s.cfg.GameAddr)
	if err != nil {
		return err
	}
	chatLn, err := net.Listen("tcp", s.cfg.ChatAddr)
	if err != nil {
		_ = gameLn.Close()
		return err
	}
	s.mu.Lock()
	s.listeners = []net.Listener{gameLn, chatLn}
	s.mu.Unlock()

	obslog.L().Info("server_listening",
		zap.String("game_addr", gameLn.Addr().String()),
		zap.String("chat_addr", chatLn.Addr().String()),
	)

	s.wg.Add(3)
	go s.acceptLoop(gameLn, s.handleGameConn)
	go s.acceptLoop(chatLn, s.handleChatConn)
	go s.housekeeping()

	if s.cfg.WSAddr != "" {
		s.startWS(s.cfg.WSAddr)
	}
	return nil
}

// GameAddr returns the bound game listener address, useful when the
// configured address carries port 0.
func (s *Server) GameAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return ""
	}
	return s.listeners[0].Addr().String()
}

func (s *Server) ChatAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) < 2 {
		return ""
	}
	return s.listeners[1].Addr().String()
}

// Shutdown stops accepting, disconnects every client and waits for the
// loops to drain.
func (s *Server) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.mu.Lock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	ws := s.ws
	s.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
	for _, c := range s.reg.All() {
		c.CloseConn()
		c.CloseChat()
	}
	s.wg.Wait()
	obslog.L().Info("server_stopped")
}

// Stats snapshots the counters for the status endpoint.
func (s *Server) Stats() status.Stats {
	return status.Stats{
		Clients:     s.reg.Count(),
		Lobbies:     s.lobbies.Count(),
		Games:       s.games.Count(),
		ActiveGames: s.games.ActiveCount(),
	}
}

func (s *Server) acceptLoop(ln net.Listener, handle func(transport)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.quit:
				return
			default:
			}
			obslog.L().Warn("accept_error", zap.Error(err))
			continue
		}
		go handle(newLineConn(conn))
	}
}

// sendTo writes best-effort. A dead peer's connection is closed so its own
// reader goroutine runs the departure path; the caller's flow continues.
func (s *Server) sendTo(c *player.Client, v any) {
	if err := c.Send(v); err != nil {
		obslog.L().Warn("send_error",
			zap.String("identity_id", c.ID),
			zap.String("name", c.Name()),
			zap.Error(err),
		)
		c.CloseConn()
	}
}

func (s *Server) sendError(c *player.Client, reason string) {
	s.sendTo(c, wire.NewError(reason, s.cat.ErrorText(reason)))
}

func (s *Server) sendErrorTo(t transport, reason string) {
	_ = t.Send(wire.NewError(reason, s.cat.ErrorText(reason)))
}
