// Package solanatest provides an in-process fake of the validator RPC and
// pub/sub endpoints for tests.
package solanatest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syntrixbase/slotwatch/internal/solana"
)

// HandlerFunc answers one JSON-RPC call.
type HandlerFunc func(params []json.RawMessage) (any, *solana.RPCError)

type request struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type subscriber struct {
	id   uint64
	kind string
	conn *websocket.Conn
	mu   *sync.Mutex
}

// Node is a fake validator. RPCURL serves HTTP JSON-RPC and WSURL serves
// pub/sub.
type Node struct {
	RPCURL string
	WSURL  string

	rpc *httptest.Server
	ws  *httptest.Server

	upgrader websocket.Upgrader

	mu             sync.Mutex
	handlers       map[string]HandlerFunc
	calls          map[string]int
	subs           []*subscriber
	conns          []*websocket.Conn
	nextSub        uint64
	subscribeDelay time.Duration
	rejectErr      *solana.RPCError
	unsubscribed   int
	subscribed     int
}

// NewNode starts a fake node that is shut down when the test ends.
func NewNode(t testing.TB) *Node {
	t.Helper()
	n := &Node{
		handlers: make(map[string]HandlerFunc),
		calls:    make(map[string]int),
	}
	n.rpc = httptest.NewServer(http.HandlerFunc(n.serveRPC))
	n.ws = httptest.NewServer(http.HandlerFunc(n.serveWS))
	n.RPCURL = n.rpc.URL
	n.WSURL = "ws" + strings.TrimPrefix(n.ws.URL, "http")

	t.Cleanup(func() {
		n.DropSubscriptions()
		n.rpc.Close()
		n.ws.Close()
	})
	return n
}

// Handle installs the handler for method.
func (n *Node) Handle(method string, fn HandlerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = fn
}

// Calls returns how many times method was called over HTTP.
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// SetSubscribeDelay delays every subscribe response by d.
func (n *Node) SetSubscribeDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribeDelay = d
}

// RejectSubscribe makes subscribe requests fail with err. Nil accepts them
// again.
func (n *Node) RejectSubscribe(err *solana.RPCError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectErr = err
}

// Subscribed returns the number of accepted subscriptions so far.
func (n *Node) Subscribed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subscribed
}

// Unsubscribed returns the number of unsubscribe requests received.
func (n *Node) Unsubscribed() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unsubscribed
}

// Notify sends a notification to every live subscription of kind
// ("account", "logs").
func (n *Node) Notify(kind string, slot uint64, value any) {
	n.mu.Lock()
	subs := append([]*subscriber(nil), n.subs...)
	n.mu.Unlock()

	for _, s := range subs {
		if s.kind != kind {
			continue
		}
		msg := map[string]any{
			"jsonrpc": "2.0",
			"method":  kind + "Notification",
			"params": map[string]any{
				"subscription": s.id,
				"result": map[string]any{
					"context": map[string]any{"slot": slot},
					"value":   value,
				},
			},
		}
		s.mu.Lock()
		_ = s.conn.WriteJSON(msg)
		s.mu.Unlock()
	}
}

// DropSubscriptions closes every websocket connection without a close frame.
func (n *Node) DropSubscriptions() {
	n.mu.Lock()
	conns := n.conns
	n.conns = nil
	n.subs = nil
	n.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// EndSubscriptions closes every websocket connection with a normal close frame.
func (n *Node) EndSubscriptions() {
	n.mu.Lock()
	subs := n.subs
	conns := n.conns
	n.conns = nil
	n.subs = nil
	n.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		s.mu.Unlock()
	}
	for _, c := range conns {
		_ = c.Close()
	}
}

func (n *Node) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	fn := n.handlers[req.Method]
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if fn == nil {
		resp["error"] = &solana.RPCError{Code: -32601, Message: "Method not found"}
	} else if result, rpcErr := fn(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n.mu.Lock()
	n.conns = append(n.conns, conn)
	n.mu.Unlock()

	writeMu := &sync.Mutex{}
	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			_ = conn.Close()
			return
		}

		switch {
		case strings.HasSuffix(req.Method, "Unsubscribe"):
			n.mu.Lock()
			n.unsubscribed++
			n.mu.Unlock()

		case strings.HasSuffix(req.Method, "Subscribe"):
			n.mu.Lock()
			delay := n.subscribeDelay
			rejectErr := n.rejectErr
			n.mu.Unlock()

			if delay > 0 {
				time.Sleep(delay)
			}

			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}

			// The subscriber is registered while writeMu is held so that a
			// notification can never overtake the subscribe response.
			writeMu.Lock()
			if rejectErr != nil {
				resp["error"] = rejectErr
			} else {
				n.mu.Lock()
				sub := &subscriber{
					id:   n.nextSub,
					kind: strings.TrimSuffix(req.Method, "Subscribe"),
					conn: conn,
					mu:   writeMu,
				}
				n.nextSub++
				n.subs = append(n.subs, sub)
				n.subscribed++
				n.mu.Unlock()
				resp["result"] = sub.id
			}
			err := conn.WriteJSON(resp)
			writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
