package solana_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/slotwatch/internal/solana"
	"github.com/syntrixbase/slotwatch/internal/solana/solanatest"
)

func TestClient_GetAccountInfo(t *testing.T) {
	node := solanatest.NewNode(t)
	got := make(chan []json.RawMessage, 1)
	node.Handle("getAccountInfo", func(params []json.RawMessage) (any, *solana.RPCError) {
		got <- params
		return map[string]any{
			"context": map[string]any{"slot": 42},
			"value": map[string]any{
				"lamports":   1000,
				"owner":      "11111111111111111111111111111111",
				"data":       []string{"AQID", "base64"},
				"executable": false,
				"rentEpoch":  uint64(18446744073709551615),
				"space":      3,
			},
		}, nil
	})

	client := solana.NewClient(node.RPCURL, nil, nil)
	rctx, info, err := client.GetAccountInfo(context.Background(), "Acc1", solana.CommitmentConfirmed)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, uint64(42), rctx.Slot)
	assert.Equal(t, uint64(1000), info.Lamports)
	assert.Equal(t, [2]string{"AQID", "base64"}, info.Data)
	assert.Equal(t, uint64(3), info.Space)

	gotParams := <-got
	require.Len(t, gotParams, 2)
	assert.JSONEq(t, `"Acc1"`, string(gotParams[0]))
	assert.JSONEq(t, `{"encoding":"base64","commitment":"confirmed"}`, string(gotParams[1]))
}

func TestClient_GetAccountInfoMissing(t *testing.T) {
	node := solanatest.NewNode(t)
	node.Handle("getAccountInfo", func([]json.RawMessage) (any, *solana.RPCError) {
		return map[string]any{"context": map[string]any{"slot": 7}, "value": nil}, nil
	})

	client := solana.NewClient(node.RPCURL, nil, nil)
	rctx, info, err := client.GetAccountInfo(context.Background(), "Acc1", solana.CommitmentFinalized)
	require.NoError(t, err)
	assert.Nil(t, info)
	assert.Equal(t, uint64(7), rctx.Slot)
}

func TestClient_RPCError(t *testing.T) {
	node := solanatest.NewNode(t)
	node.Handle("getTransaction", func([]json.RawMessage) (any, *solana.RPCError) {
		return nil, &solana.RPCError{Code: -32009, Message: "Slot skipped"}
	})

	client := solana.NewClient(node.RPCURL, nil, nil)
	_, err := client.GetTransaction(context.Background(), "sig", solana.CommitmentConfirmed)
	require.Error(t, err)

	var rpcErr *solana.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32009, rpcErr.Code)
	assert.Contains(t, err.Error(), "getTransaction")
}

func TestClient_UnknownMethod(t *testing.T) {
	node := solanatest.NewNode(t)
	client := solana.NewClient(node.RPCURL, nil, nil)

	_, err := client.GetSignaturesForAddress(context.Background(), "Prog", solana.SignaturesOptions{})
	var rpcErr *solana.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := solana.NewClient(srv.URL, nil, nil)
	_, _, err := client.GetAccountInfo(context.Background(), "Acc1", solana.CommitmentConfirmed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestClient_GetSignaturesForAddress(t *testing.T) {
	node := solanatest.NewNode(t)
	got := make(chan json.RawMessage, 1)
	node.Handle("getSignaturesForAddress", func(params []json.RawMessage) (any, *solana.RPCError) {
		got <- params[1]
		return []map[string]any{
			{"signature": "s3", "slot": 30, "err": nil, "blockTime": 1700000003},
			{"signature": "s2", "slot": 20, "err": map[string]any{"InstructionError": []any{0, "Custom"}}},
		}, nil
	})

	client := solana.NewClient(node.RPCURL, nil, nil)
	sigs, err := client.GetSignaturesForAddress(context.Background(), "Prog", solana.SignaturesOptions{
		Limit:      50,
		Until:      "s1",
		Commitment: solana.CommitmentConfirmed,
	})
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	assert.Equal(t, "s3", sigs[0].Signature)
	assert.Equal(t, uint64(30), sigs[0].Slot)
	require.NotNil(t, sigs[0].BlockTime)
	assert.Equal(t, int64(1700000003), *sigs[0].BlockTime)
	assert.Nil(t, sigs[1].BlockTime)
	assert.NotEmpty(t, sigs[1].Err)

	assert.JSONEq(t, `{"limit":50,"until":"s1","commitment":"confirmed"}`, string(<-got))
}

func TestClient_GetTransaction(t *testing.T) {
	node := solanatest.NewNode(t)
	node.Handle("getTransaction", func(params []json.RawMessage) (any, *solana.RPCError) {
		var sig string
		_ = json.Unmarshal(params[0], &sig)
		if sig != "known" {
			return nil, nil
		}
		return map[string]any{
			"slot": 99,
			"meta": map[string]any{
				"err":         nil,
				"logMessages": []string{"Program Prog invoke [1]", "Program Prog success"},
			},
		}, nil
	})

	client := solana.NewClient(node.RPCURL, nil, nil)

	tx, err := client.GetTransaction(context.Background(), "known", solana.CommitmentConfirmed)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, uint64(99), tx.Slot)
	require.NotNil(t, tx.Meta)
	assert.Len(t, tx.Meta.LogMessages, 2)

	tx, err = client.GetTransaction(context.Background(), "unknown", solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestClient_ContextCancelled(t *testing.T) {
	node := solanatest.NewNode(t)
	client := solana.NewClient(node.RPCURL, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := client.GetAccountInfo(ctx, "Acc1", solana.CommitmentConfirmed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseLogsFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    solana.LogsFilter
		wantErr bool
	}{
		{in: "", want: solana.LogsFilterAll},
		{in: "all", want: solana.LogsFilterAll},
		{in: "allWithVotes", want: solana.LogsFilter{AllWithVotes: true}},
		{in: "mentions:Prog", want: solana.LogsFilter{Mentions: "Prog"}},
		{in: "mentions:", wantErr: true},
		{in: "votes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := solana.ParseLogsFilter(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.in != "" {
				assert.Equal(t, tt.in, got.String())
			}
		})
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://127.0.0.1:8899", want: "ws://127.0.0.1:8900"},
		{in: "https://api.devnet.solana.com", want: "wss://api.devnet.solana.com"},
		{in: "wss://rpc.example.com/ws", want: "wss://rpc.example.com/ws"},
		{in: "ftp://host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := solana.WebsocketURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommitment_Valid(t *testing.T) {
	assert.True(t, solana.CommitmentProcessed.Valid())
	assert.True(t, solana.CommitmentConfirmed.Valid())
	assert.True(t, solana.CommitmentFinalized.Valid())
	assert.False(t, solana.Commitment("recent").Valid())
}
