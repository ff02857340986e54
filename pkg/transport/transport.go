// Package transport adapts an externally supplied streaming JSON-RPC
// transport so sessions can be recreated on cold start without
// replaying the initialize handshake. Grounded on the teacher's
// pkg/mcp/transport.go (factory-per-transport-type dispatch,
// generalized here from client-transport construction to lazy
// server-transport instantiation) and its own Design Notes
// instruction: the adapter owns initialized/sessionID/pendingInit
// itself rather than reaching into a dependency's private fields.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptySessionID is returned by SetInitializationState for an empty
// session id.
var ErrEmptySessionID = errors.New("transport: session id must not be empty")

// ErrIncompatibleTransport is raised when a Factory produces a nil or
// otherwise unusable StreamTransport. This is always raised at apply
// time (when HandleRequest actually needs the transport), never at
// SetInitializationState time.
var ErrIncompatibleTransport = errors.New("transport: factory did not produce a usable transport")

// StreamTransport is the external collaborator's contract the adapter
// wraps. Concrete MCP wire codecs live outside this package.
type StreamTransport interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Factory lazily constructs a StreamTransport. It is called on the
// first HandleRequest call, and on a later call only if no transport
// exists then (the previous factory call failed, or Close was called).
type Factory func() (StreamTransport, error)

// EventStore lets the adapter replay messages a session missed while
// its underlying transport was torn down and rebuilt, instead of
// replaying the initialize handshake.
type EventStore interface {
	Append(ctx context.Context, sessionID string, msg []byte) error
	Replay(ctx context.Context, sessionID string) ([][]byte, error)
}

// Handler processes one received message and returns the response to
// send back, or a nil response to send nothing (e.g. a notification).
type Handler func(ctx context.Context, msg []byte) ([]byte, error)

// Options configures a new Adapter.
type Options struct {
	// SessionIDGenerator and EnableJSONResponse are kept with the
	// options but not read by Adapter: it behaves the same whether or
	// not they are set, and a session id is only ever assigned through
	// SetInitializationState.
	SessionIDGenerator   func() string
	EnableJSONResponse   bool
	OnSessionInitialized func(sessionID string)
	OnSessionClosed      func(sessionID string)
	EventStore           EventStore
	Handler              Handler
}

// Adapter wraps a lazily instantiated StreamTransport, owning its own
// initialization and session state.
type Adapter struct {
	mu sync.Mutex

	opts Options

	initialized bool
	sessionID   string
	pendingInit string

	inner StreamTransport
}

// New constructs an Adapter.
func New(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

// SetInitializationState records sessionID as the adapter's active
// session. If the inner transport has not been instantiated yet (cold
// start before the first HandleRequest call), the id is stashed as
// pendingInit and applied once the transport exists.
func (a *Adapter) SetInitializationState(sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.initialized = true
	if a.inner == nil {
		a.pendingInit = sessionID
		return nil
	}
	a.applyInitLocked(sessionID)
	return nil
}

// applyInitLocked must be called with a.mu held.
func (a *Adapter) applyInitLocked(sessionID string) {
	a.sessionID = sessionID
	if a.opts.OnSessionInitialized != nil {
		a.opts.OnSessionInitialized(sessionID)
	}
}

// HasPendingInitState reports whether a session id is waiting to be
// applied once the inner transport is instantiated.
func (a *Adapter) HasPendingInitState() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingInit != ""
}

// SessionID returns the adapter's currently active session id, or "".
func (a *Adapter) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// HandleRequest instantiates the inner transport on first call (via
// factory), applies any pending initialization, replays any events the
// session missed, then processes exactly one request/response cycle.
func (a *Adapter) HandleRequest(ctx context.Context, factory Factory) error {
	inner, sessionID, err := a.ensureInner(ctx, factory)
	if err != nil {
		return err
	}

	msg, err := inner.Recv(ctx)
	if err != nil {
		return fmt.Errorf("transport: recv: %w", err)
	}

	if a.opts.EventStore != nil && sessionID != "" {
		if err := a.opts.EventStore.Append(ctx, sessionID, msg); err != nil {
			return fmt.Errorf("transport: append event: %w", err)
		}
	}

	var resp []byte
	if a.opts.Handler != nil {
		resp, err = a.opts.Handler(ctx, msg)
		if err != nil {
			return err
		}
	}

	if resp == nil {
		return nil
	}

	if a.opts.EventStore != nil && sessionID != "" {
		if err := a.opts.EventStore.Append(ctx, sessionID, resp); err != nil {
			return fmt.Errorf("transport: append event: %w", err)
		}
	}

	if err := inner.Send(ctx, resp); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (a *Adapter) ensureInner(ctx context.Context, factory Factory) (StreamTransport, string, error) {
	a.mu.Lock()
	if a.inner == nil {
		built, err := factory()
		if err != nil {
			a.mu.Unlock()
			return nil, "", fmt.Errorf("transport: factory: %w", err)
		}
		if built == nil {
			a.mu.Unlock()
			return nil, "", ErrIncompatibleTransport
		}
		a.inner = built
		if a.pendingInit != "" {
			pending := a.pendingInit
			a.pendingInit = ""
			a.applyInitLocked(pending)
		}
		if a.sessionID != "" && a.opts.EventStore != nil {
			events, err := a.opts.EventStore.Replay(ctx, a.sessionID)
			if err != nil {
				a.mu.Unlock()
				return nil, "", fmt.Errorf("transport: replay: %w", err)
			}
			inner := a.inner
			a.mu.Unlock()
			for _, evt := range events {
				if err := inner.Send(ctx, evt); err != nil {
					return nil, "", fmt.Errorf("transport: replay send: %w", err)
				}
			}
			a.mu.Lock()
		}
	}
	inner := a.inner
	sessionID := a.sessionID
	a.mu.Unlock()
	return inner, sessionID, nil
}

// Close tears down the inner transport, if any, and notifies
// OnSessionClosed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	inner := a.inner
	sessionID := a.sessionID
	a.inner = nil
	a.mu.Unlock()

	if inner == nil {
		return nil
	}
	err := inner.Close()
	if a.opts.OnSessionClosed != nil && sessionID != "" {
		a.opts.OnSessionClosed(sessionID)
	}
	return err
}
