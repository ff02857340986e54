package transport

import (
	"context"
	"io"
	"sync"

	"github.com/labstack/echo/v5"
)

// HTTPStream is a StreamTransport over a single echo v5 request's
// chunked response writer, framing each message as one line of JSON
// followed by a flush. Incoming messages are fed in via Push as the
// HTTP handler decodes them off the request body; Recv blocks on that
// channel rather than reading the body directly, so the handler keeps
// full control over request framing.
type HTTPStream struct {
	ctx *echo.Context

	mu sync.Mutex

	recvCh chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewHTTPStream wraps c's response writer for chunked sends. recvBuf
// sizes the internal channel Push writes into.
func NewHTTPStream(c *echo.Context, recvBuf int) *HTTPStream {
	if recvBuf <= 0 {
		recvBuf = 16
	}
	return &HTTPStream{
		ctx:    c,
		recvCh: make(chan []byte, recvBuf),
		closed: make(chan struct{}),
	}
}

// Push delivers one decoded request message to a pending or future
// Recv call. It is safe to call from the HTTP handler's own goroutine
// while Recv is called from the adapter's processing goroutine.
func (h *HTTPStream) Push(msg []byte) {
	select {
	case h.recvCh <- msg:
	case <-h.closed:
	}
}

func (h *HTTPStream) Send(ctx context.Context, msg []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := h.ctx.Response()
	if _, err := resp.Write(msg); err != nil {
		return err
	}
	if _, err := resp.Write([]byte("\n")); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (h *HTTPStream) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-h.recvCh:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-h.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HTTPStream) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}
