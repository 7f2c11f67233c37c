package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/chess-arena/internal/obslog"
)

// startWS exposes the same two channels over WebSocket: /game and /chat,
// one JSON message per text frame instead of newline framing. Handlers are
// shared with the TCP listeners through the transport interface.
func (s *Server) startWS(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/game", s.wsEndpoint(s.handleGameConn))
	mux.HandleFunc("/chat", s.wsEndpoint(s.handleChatConn))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.ws = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		obslog.L().Info("ws_listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.L().Error("ws_serve_error", zap.Error(err))
		}
	}()
}

func (s *Server) wsEndpoint(handle func(transport)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			obslog.L().Warn("ws_accept_error", zap.Error(err))
			return
		}
		conn.SetReadLimit(maxLineBytes)
		handle(&wsConn{conn: conn, remote: r.RemoteAddr})
	}
}

type wsConn struct {
	conn   *websocket.Conn
	remote string

	writeMu sync.Mutex
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.Read(context.Background())
	return data, err
}

func (w *wsConn) Send(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.conn, v)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

func (w *wsConn) RemoteAddr() string { return w.remote }
