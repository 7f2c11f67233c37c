// Package status serves a small operational HTTP surface: liveness and
// current counts. It is read-only and separate from the game protocol.
package status

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/obslog"
)

// Stats is the counters snapshot behind /stats.
type Stats struct {
	Clients     int `json:"clients"`
	Lobbies     int `json:"lobbies"`
	Games       int `json:"games"`
	ActiveGames int `json:"active_games"`
}

// Provider supplies a point-in-time Stats snapshot.
type Provider interface {
	Stats() Stats
}

type Server struct {
	addr     string
	provider Provider
	srv      *fasthttp.Server
	started  time.Time
}

func NewServer(addr string, provider Provider) *Server {
	s := &Server{addr: addr, provider: provider, started: time.Now()}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Run blocks serving until Shutdown.
func (s *Server) Run() error {
	obslog.L().Info("status_listening", zap.String("addr", s.addr))
	return s.srv.ListenAndServe(s.addr)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("ok")
	case "/stats":
		body := struct {
			Stats
			UptimeSeconds int64 `json:"uptime_seconds"`
		}{
			Stats:         s.provider.Stats(),
			UptimeSeconds: int64(time.Since(s.started).Seconds()),
		}
		raw, err := json.Marshal(body)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBody(raw)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}
