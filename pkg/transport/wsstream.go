package transport

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// WSStream is a StreamTransport backed by a coder/websocket
// connection. Grounded directly on the teacher's
// pkg/events/manager.go Connection type: a write-timeout-bounded send,
// a read loop that owns the connection's state without extra locking
// because only one goroutine ever calls Recv.
type WSStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSStream wraps an already-accepted websocket connection.
// writeTimeout bounds every Send call, matching sendRaw's
// write-timeout discipline for connection manager fan-out.
func NewWSStream(conn *websocket.Conn, writeTimeout time.Duration) *WSStream {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSStream{conn: conn, writeTimeout: writeTimeout}
}

func (w *WSStream) Send(ctx context.Context, msg []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return w.conn.Write(writeCtx, websocket.MessageText, msg)
}

func (w *WSStream) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (w *WSStream) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
