package solanawatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/syntrixbase/slotwatch/internal/solana"
	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// DefaultMaxSignaturesPerPoll bounds getSignaturesForAddress in one poll.
const DefaultMaxSignaturesPerPoll = 50

// TransactionLog is the normalized log output of one transaction.
type TransactionLog struct {
	Signature string          `json:"signature"`
	Err       json.RawMessage `json:"err,omitempty"`
	Logs      []string        `json:"logs"`
}

// ProgramLogsConfig selects the program to watch.
type ProgramLogsConfig struct {
	ProgramID            string
	Commitment           solana.Commitment
	MaxSignaturesPerPoll int
	Logger               *slog.Logger
}

// NewProgramLogsStrategy watches logs that mention a program. The poll walks
// new signatures of the program oldest first and fetches every transaction.
func NewProgramLogsStrategy(rpc *solana.Client, ps *solana.PubSub, cfg ProgramLogsConfig) watcher.Strategy[json.RawMessage, TransactionLog] {
	if cfg.Commitment == "" {
		cfg.Commitment = solana.CommitmentConfirmed
	}
	if cfg.MaxSignaturesPerPoll <= 0 {
		cfg.MaxSignaturesPerPoll = DefaultMaxSignaturesPerPoll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &programPoller{
		rpc:    rpc,
		cfg:    cfg,
		logger: logger.With("component", "program-logs-poller", "program", cfg.ProgramID),
	}

	return watcher.Strategy[json.RawMessage, TransactionLog]{
		Subscribe: logsSubscribe(ps, solana.LogsFilter{Mentions: cfg.ProgramID}, cfg.Commitment),
		Poll:      p.poll,
		Normalize: decodeLogs,
	}
}

// TransactionLogsConfig selects the transactions to watch.
type TransactionLogsConfig struct {
	Filter     solana.LogsFilter
	Commitment solana.Commitment
}

// NewTransactionLogsStrategy watches logs through the subscription only. It
// has no poll, so a subscription that cannot be established is terminal.
func NewTransactionLogsStrategy(ps *solana.PubSub, cfg TransactionLogsConfig) watcher.Strategy[json.RawMessage, TransactionLog] {
	if cfg.Commitment == "" {
		cfg.Commitment = solana.CommitmentConfirmed
	}
	return watcher.Strategy[json.RawMessage, TransactionLog]{
		Subscribe: logsSubscribe(ps, cfg.Filter, cfg.Commitment),
		Normalize: decodeLogs,
	}
}

func logsSubscribe(ps *solana.PubSub, filter solana.LogsFilter, commitment solana.Commitment) func(context.Context) (watcher.Stream[json.RawMessage], error) {
	return func(ctx context.Context) (watcher.Stream[json.RawMessage], error) {
		sub, err := ps.LogsSubscribe(ctx, filter, commitment)
		if err != nil {
			return nil, err
		}
		return &notificationStream{sub: sub}, nil
	}
}

func decodeLogs(raw json.RawMessage) *TransactionLog {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var res solana.LogsResult
	if err := json.Unmarshal(raw, &res); err != nil || res.Signature == "" {
		return nil
	}
	return &TransactionLog{
		Signature: res.Signature,
		Err:       nullToEmpty(res.Err),
		Logs:      res.Logs,
	}
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}

// programPoller holds the signature cursor between poll cycles.
type programPoller struct {
	rpc    *solana.Client
	cfg    ProgramLogsConfig
	logger *slog.Logger

	mu     sync.Mutex
	cursor string
}

func (p *programPoller) poll(ctx context.Context, emit watcher.EmitFunc[TransactionLog]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sigs, err := p.rpc.GetSignaturesForAddress(ctx, p.cfg.ProgramID, solana.SignaturesOptions{
		Limit:      p.cfg.MaxSignaturesPerPoll,
		Until:      p.cursor,
		Commitment: p.cfg.Commitment,
	})
	if err != nil {
		return err
	}

	// Newest first on the wire.
	for i := len(sigs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return nil
		}
		sig := sigs[i]
		if sig.Signature == p.cursor {
			continue
		}

		tx, err := p.rpc.GetTransaction(ctx, sig.Signature, p.cfg.Commitment)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("failed to fetch transaction, skipping", "signature", sig.Signature, "error", err)
			continue
		}
		if tx == nil || tx.Meta == nil || tx.Meta.LogMessages == nil {
			continue
		}

		if mentions(tx.Meta.LogMessages, p.cfg.ProgramID) {
			emit(watcher.Enveloped(watcher.Slot(tx.Slot), &TransactionLog{
				Signature: sig.Signature,
				Err:       nullToEmpty(tx.Meta.Err),
				Logs:      tx.Meta.LogMessages,
			}))
		}
		p.cursor = sig.Signature
	}
	return nil
}

func mentions(logs []string, programID string) bool {
	for _, line := range logs {
		if strings.Contains(line, programID) {
			return true
		}
	}
	return false
}
