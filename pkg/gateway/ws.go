package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ActionHello is the handshake sent after (re)connecting.
const ActionHello = "agent.hello"

// DefaultCallTimeout bounds a call whose context has no deadline.
const DefaultCallTimeout = 60 * time.Second

// Socket is a text-frame connection.
type Socket interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// RealDialer dials websocket endpoints.
type RealDialer struct{}

func (RealDialer) Dial(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// Download results can carry large listings.
	conn.SetReadLimit(8 << 20)
	return &realSocket{conn: conn}, nil
}

type realSocket struct {
	conn *websocket.Conn
}

func (s *realSocket) ReadText(ctx context.Context) (string, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *realSocket) WriteText(ctx context.Context, text string) error {
	return s.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (s *realSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// WSGateway dispatches actions over a single websocket. Calls are
// serialized; a lost connection is re-established once per call.
type WSGateway struct {
	url     string
	dialer  Dialer
	timeout time.Duration

	mu   sync.Mutex
	sock Socket
}

// NewWSGateway creates a gateway for url. A nil dialer uses RealDialer.
func NewWSGateway(url string, dialer Dialer, timeout time.Duration) *WSGateway {
	if dialer == nil {
		dialer = RealDialer{}
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &WSGateway{url: url, dialer: dialer, timeout: timeout}
}

// Dispatch sends action and waits for the matching response.
func (g *WSGateway) Dispatch(ctx context.Context, action string, params Params) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, err := g.roundTrip(ctx, action, params)
	if !errors.Is(err, ErrNoEndpoint) {
		return res, err
	}

	slog.Warn("gateway_reestablishing", "url", g.url, "action", action, "error", err)
	if rerr := g.reestablish(ctx); rerr != nil {
		slog.Error("gateway_reestablish_failed", "url", g.url, "error", rerr)
		return nil, rerr
	}
	return g.roundTrip(ctx, action, params)
}

// Close drops the connection.
func (g *WSGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropLocked()
}

func (g *WSGateway) dropLocked() error {
	if g.sock == nil {
		return nil
	}
	err := g.sock.Close()
	g.sock = nil
	return err
}

func (g *WSGateway) connectLocked(ctx context.Context) error {
	if g.sock != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	sock, err := g.dialer.Dial(dialCtx, g.url)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrNoEndpoint, g.url, err)
	}
	g.sock = sock
	slog.Info("gateway_connected", "url", g.url)
	return nil
}

func (g *WSGateway) reestablish(ctx context.Context) error {
	_ = g.dropLocked()
	if err := g.connectLocked(ctx); err != nil {
		return err
	}
	if _, err := g.roundTrip(ctx, ActionHello, Params{"client": "autoboom"}); err != nil {
		_ = g.dropLocked()
		return err
	}
	return nil
}

func (g *WSGateway) roundTrip(ctx context.Context, action string, params Params) (*Result, error) {
	if err := g.connectLocked(ctx); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := Message{ID: uuid.NewString(), Type: TypeRequest, Op: action, Payload: MustRaw(params)}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s: %w", action, err)
	}
	if err := g.sock.WriteText(ctx, string(raw)); err != nil {
		_ = g.dropLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: write %s: %v", ErrNoEndpoint, action, err)
	}

	for {
		text, err := g.sock.ReadText(ctx)
		if err != nil {
			// The response may still arrive later; resync on a fresh socket.
			_ = g.dropLocked()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: read %s: %v", ErrNoEndpoint, action, err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			slog.Warn("gateway_bad_frame", "action", action, "error", err)
			continue
		}
		if msg.Type == TypeEvent {
			slog.Debug("gateway_agent_event", "action", action, "op", msg.Op)
			continue
		}
		if msg.Type != TypeResponse || msg.ID != req.ID {
			continue
		}
		if msg.Error != nil {
			return nil, &RemoteError{Action: action, Code: msg.Error.Code, Message: msg.Error.Message}
		}
		return &Result{Data: msg.Payload}, nil
	}
}
