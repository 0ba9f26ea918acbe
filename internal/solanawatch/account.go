// Package solanawatch adapts Solana accounts and logs to the watcher engine.
package solanawatch

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/syntrixbase/slotwatch/internal/solana"
	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// ErrAccountNotFound is returned by the account poll when the account does
// not exist.
var ErrAccountNotFound = errors.New("account not found")

// Account is the normalized state of an on-chain account.
type Account struct {
	Address    string `json:"address"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
	Space      uint64 `json:"space"`
	Data       []byte `json:"data"`
	DataHash   string `json:"data_hash"`
}

// AccountConfig selects the account to watch.
type AccountConfig struct {
	Address    string
	Commitment solana.Commitment
}

// NewAccountStrategy watches a single account through accountSubscribe and
// getAccountInfo.
func NewAccountStrategy(rpc *solana.Client, ps *solana.PubSub, cfg AccountConfig) watcher.Strategy[json.RawMessage, Account] {
	if cfg.Commitment == "" {
		cfg.Commitment = solana.CommitmentConfirmed
	}
	normalize := func(raw json.RawMessage) *Account {
		return decodeAccount(cfg.Address, raw)
	}

	return watcher.Strategy[json.RawMessage, Account]{
		Subscribe: func(ctx context.Context) (watcher.Stream[json.RawMessage], error) {
			sub, err := ps.AccountSubscribe(ctx, cfg.Address, cfg.Commitment)
			if err != nil {
				return nil, err
			}
			return &notificationStream{sub: sub}, nil
		},
		Poll: func(ctx context.Context, emit watcher.EmitFunc[Account]) error {
			rctx, info, err := rpc.GetAccountInfo(ctx, cfg.Address, cfg.Commitment)
			if err != nil {
				return err
			}
			if info == nil {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, cfg.Address)
			}
			account := fromInfo(cfg.Address, info)
			if account == nil {
				return fmt.Errorf("malformed account data for %s: encoding %q", cfg.Address, info.Data[1])
			}
			emit(watcher.Enveloped(watcher.Slot(rctx.Slot), account))
			return nil
		},
		Normalize: normalize,
	}
}

// decodeAccount normalizes a notification value. Null or malformed input
// yields nil.
func decodeAccount(address string, raw json.RawMessage) *Account {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var info solana.AccountInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil
	}
	return fromInfo(address, &info)
}

func fromInfo(address string, info *solana.AccountInfo) *Account {
	if info.Data[1] != "base64" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(info.Data[0])
	if err != nil {
		return nil
	}
	return &Account{
		Address:    address,
		Lamports:   info.Lamports,
		Owner:      info.Owner,
		Executable: info.Executable,
		RentEpoch:  info.RentEpoch,
		Space:      info.Space,
		Data:       data,
		DataHash:   DataHash(data),
	}
}

// DataHash returns the hex blake3 digest of account data.
func DataHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// notificationStream adapts a pub/sub subscription to watcher.Stream.
type notificationStream struct {
	sub *solana.Subscription
}

func (s *notificationStream) Recv() (watcher.Item[json.RawMessage], error) {
	n, err := s.sub.Recv()
	if err != nil {
		return watcher.Item[json.RawMessage]{}, err
	}
	return watcher.Enveloped(watcher.Slot(n.Context.Slot), n.Value), nil
}

func (s *notificationStream) Close() error {
	return s.sub.Close()
}
