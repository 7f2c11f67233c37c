package server

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kapu/chess-arena/pkg/wire"
)

const (
	maxLineBytes = 256 * 1024
	writeTimeout = 5 * time.Second
)

// transport is one bidirectional message stream. TCP line connections and
// WebSocket connections both satisfy it, so the protocol handlers are shared
// between the two listeners.
type transport interface {
	// ReadMessage blocks for the next inbound message and returns its raw
	// JSON payload.
	ReadMessage() ([]byte, error)
	Send(v any) error
	Close() error
	RemoteAddr() string
}

// lineConn frames messages as newline-delimited JSON over a TCP connection.
// Send is serialized under a mutex so interleaved broadcasts cannot corrupt
// the stream.
type lineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner

	writeMu sync.Mutex
}

func newLineConn(conn net.Conn) *lineConn {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), maxLineBytes)
	return &lineConn{conn: conn, scanner: sc}
}

func (l *lineConn) ReadMessage() ([]byte, error) {
	if !l.scanner.Scan() {
		if err := l.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return l.scanner.Bytes(), nil
}

func (l *lineConn) Send(v any) error {
	b, err := wire.Encode(v)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = l.conn.Write(b)
	return err
}

func (l *lineConn) Close() error { return l.conn.Close() }

func (l *lineConn) RemoteAddr() string { return l.conn.RemoteAddr().String() }
