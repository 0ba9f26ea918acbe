// Package solana implements the subset of the Solana JSON-RPC HTTP and
// websocket APIs needed to watch accounts and logs.
package solana

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Commitment is the bank state a request is evaluated against.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Valid reports whether c is a known commitment level.
func (c Commitment) Valid() bool {
	switch c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return true
	}
	return false
}

// Context is the response context returned with RPC results and notifications.
type Context struct {
	Slot uint64 `json:"slot"`
}

// AccountInfo is an account as returned with base64 encoding.
// Data holds [payload, encoding].
type AccountInfo struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
	Space      uint64    `json:"space"`
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
	BlockTime *int64          `json:"blockTime"`
}

// TransactionMeta is the status metadata of a confirmed transaction.
type TransactionMeta struct {
	Err         json.RawMessage `json:"err"`
	LogMessages []string        `json:"logMessages"`
}

// Transaction is a confirmed transaction as returned by getTransaction.
type Transaction struct {
	Slot      uint64           `json:"slot"`
	BlockTime *int64           `json:"blockTime"`
	Meta      *TransactionMeta `json:"meta"`
}

// LogsResult is the value of a logsNotification.
type LogsResult struct {
	Signature string          `json:"signature"`
	Err       json.RawMessage `json:"err"`
	Logs      []string        `json:"logs"`
}

// LogsFilter selects the transactions a logs subscription reports.
// Exactly one of the modes applies: All, AllWithVotes or Mentions.
type LogsFilter struct {
	AllWithVotes bool
	Mentions     string
}

// LogsFilterAll reports every transaction except simple votes.
var LogsFilterAll = LogsFilter{}

func (f LogsFilter) param() any {
	switch {
	case f.Mentions != "":
		return map[string][]string{"mentions": {f.Mentions}}
	case f.AllWithVotes:
		return "allWithVotes"
	default:
		return "all"
	}
}

// String returns the filter in CLI form.
func (f LogsFilter) String() string {
	switch {
	case f.Mentions != "":
		return "mentions:" + f.Mentions
	case f.AllWithVotes:
		return "allWithVotes"
	default:
		return "all"
	}
}

// ParseLogsFilter parses "all", "allWithVotes" or "mentions:<address>".
func ParseLogsFilter(s string) (LogsFilter, error) {
	switch {
	case s == "" || s == "all":
		return LogsFilterAll, nil
	case s == "allWithVotes":
		return LogsFilter{AllWithVotes: true}, nil
	case strings.HasPrefix(s, "mentions:") && len(s) > len("mentions:"):
		return LogsFilter{Mentions: strings.TrimPrefix(s, "mentions:")}, nil
	}
	return LogsFilter{}, fmt.Errorf("invalid logs filter %q: want all, allWithVotes or mentions:<address>", s)
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// WebsocketURL derives the pub/sub endpoint from an HTTP RPC endpoint the way
// the validator lays them out: same host, ws scheme, port + 1.
func WebsocketURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("invalid rpc url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		return u.String(), nil
	default:
		return "", fmt.Errorf("invalid rpc url scheme %q", u.Scheme)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return "", fmt.Errorf("invalid rpc url port %q", port)
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(n+1))
	}
	return u.String(), nil
}
