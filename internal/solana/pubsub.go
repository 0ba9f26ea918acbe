package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Notification is one message delivered on a subscription.
type Notification struct {
	Context Context
	Value   json.RawMessage
}

// PubSub opens subscriptions on the websocket endpoint. Every subscription
// owns its own connection.
type PubSub struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   *slog.Logger
	nextID   atomic.Uint64
}

// NewPubSub creates a pub/sub client for endpoint.
func NewPubSub(endpoint string, logger *slog.Logger) *PubSub {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSub{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		logger:   logger.With("component", "solana-pubsub"),
	}
}

// AccountSubscribe subscribes to changes of the account at address.
func (p *PubSub) AccountSubscribe(ctx context.Context, address string, commitment Commitment) (*Subscription, error) {
	return p.subscribe(ctx, "account", []any{
		address,
		map[string]any{"encoding": "base64", "commitment": commitment},
	})
}

// LogsSubscribe subscribes to transaction logs selected by filter.
func (p *PubSub) LogsSubscribe(ctx context.Context, filter LogsFilter, commitment Commitment) (*Subscription, error) {
	return p.subscribe(ctx, "logs", []any{
		filter.param(),
		map[string]any{"commitment": commitment},
	})
}

type wsMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Params *struct {
		Subscription uint64 `json:"subscription"`
		Result       struct {
			Context Context         `json:"context"`
			Value   json.RawMessage `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// subscribe dials, sends <kind>Subscribe and waits for the subscription id.
// The connection is closed when ctx is cancelled.
func (p *PubSub) subscribe(ctx context.Context, kind string, params []any) (*Subscription, error) {
	method := kind + "Subscribe"
	conn, _, err := p.dialer.DialContext(ctx, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", p.endpoint, err)
	}

	s := &Subscription{
		conn:         conn,
		notification: kind + "Notification",
		unsubscribe:  kind + "Unsubscribe",
		logger:       p.logger.With("method", method),
	}
	context.AfterFunc(ctx, func() { _ = s.Close() })

	id := p.nextID.Add(1)
	if err := s.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		_ = s.Close()
		return nil, s.mapErr(ctx, fmt.Errorf("failed to send %s: %w", method, err))
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			_ = s.Close()
			return nil, s.mapErr(ctx, fmt.Errorf("failed to read %s response: %w", method, err))
		}
		if msg.ID == nil || *msg.ID != id {
			continue
		}
		if msg.Error != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s: %w", method, msg.Error)
		}
		var subID uint64
		if err := json.Unmarshal(msg.Result, &subID); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("invalid %s response: %w", method, err)
		}
		s.id.Store(subID)
		s.subscribed.Store(true)
		break
	}

	s.logger.Debug("subscribed", "subscription", s.id.Load())
	return s, nil
}

// Subscription is an established pub/sub subscription.
type Subscription struct {
	conn         *websocket.Conn
	id           atomic.Uint64
	notification string
	unsubscribe  string
	logger       *slog.Logger
	subscribed   atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// ID returns the server-assigned subscription id.
func (s *Subscription) ID() uint64 { return s.id.Load() }

// Recv blocks until the next notification. It returns io.EOF once the
// subscription was closed locally or the server closed the connection
// normally.
func (s *Subscription) Recv() (Notification, error) {
	id := s.id.Load()
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.closed.Load() ||
				errors.Is(err, net.ErrClosed) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Notification{}, io.EOF
			}
			return Notification{}, fmt.Errorf("subscription %d: %w", id, err)
		}
		if msg.Method != s.notification || msg.Params == nil || msg.Params.Subscription != id {
			continue
		}
		return Notification{
			Context: msg.Params.Result.Context,
			Value:   msg.Params.Result.Value,
		}, nil
	}
}

// Close unsubscribes on a best-effort basis and closes the connection.
// It is safe to call concurrently with Recv and more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.subscribed.Load() {
			id := s.id.Load()
			_ = s.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: s.unsubscribe, Params: []any{id}})
		}
		err = s.conn.Close()
		s.logger.Debug("subscription closed", "subscription", s.id.Load())
	})
	return err
}

func (s *Subscription) write(req rpcRequest) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(req)
}

func (s *Subscription) mapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
