package solana_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/slotwatch/internal/solana"
	"github.com/syntrixbase/slotwatch/internal/solana/solanatest"
)

func TestPubSub_AccountNotifications(t *testing.T) {
	node := solanatest.NewNode(t)
	ps := solana.NewPubSub(node.WSURL, nil)

	sub, err := ps.AccountSubscribe(context.Background(), "Acc1", solana.CommitmentConfirmed)
	require.NoError(t, err)
	defer sub.Close()

	node.Notify("logs", 5, map[string]any{"signature": "ignored"})
	node.Notify("account", 6, map[string]any{"lamports": 10, "data": []string{"", "base64"}})

	n, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n.Context.Slot)

	var info solana.AccountInfo
	require.NoError(t, json.Unmarshal(n.Value, &info))
	assert.Equal(t, uint64(10), info.Lamports)
}

func TestPubSub_LogsNotifications(t *testing.T) {
	node := solanatest.NewNode(t)
	ps := solana.NewPubSub(node.WSURL, nil)

	sub, err := ps.LogsSubscribe(context.Background(), solana.LogsFilter{Mentions: "Prog"}, solana.CommitmentConfirmed)
	require.NoError(t, err)
	defer sub.Close()

	node.Notify("logs", 11, map[string]any{"signature": "sig", "err": nil, "logs": []string{"a", "b"}})

	n, err := sub.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(11), n.Context.Slot)

	var logs solana.LogsResult
	require.NoError(t, json.Unmarshal(n.Value, &logs))
	assert.Equal(t, "sig", logs.Signature)
	assert.Equal(t, []string{"a", "b"}, logs.Logs)
}

func TestPubSub_SubscribeRejected(t *testing.T) {
	node := solanatest.NewNode(t)
	node.RejectSubscribe(&solana.RPCError{Code: -32602, Message: "Invalid param"})
	ps := solana.NewPubSub(node.WSURL, nil)

	_, err := ps.AccountSubscribe(context.Background(), "bad", solana.CommitmentConfirmed)
	var rpcErr *solana.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestPubSub_DialFailure(t *testing.T) {
	ps := solana.NewPubSub("ws://127.0.0.1:1", nil)
	_, err := ps.AccountSubscribe(context.Background(), "Acc1", solana.CommitmentConfirmed)
	assert.Error(t, err)
}

func TestPubSub_SubscribeCancelled(t *testing.T) {
	node := solanatest.NewNode(t)
	node.SetSubscribeDelay(time.Second)
	ps := solana.NewPubSub(node.WSURL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ps.AccountSubscribe(ctx, "Acc1", solana.CommitmentConfirmed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSubscription_CloseUnblocksRecv(t *testing.T) {
	node := solanatest.NewNode(t)
	ps := solana.NewPubSub(node.WSURL, nil)

	sub, err := ps.AccountSubscribe(context.Background(), "Acc1", solana.CommitmentConfirmed)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = sub.Close()
	}()

	_, err = sub.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, sub.Close())

	assert.Eventually(t, func() bool { return node.Unsubscribed() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubscription_ContextCancelClosesStream(t *testing.T) {
	node := solanatest.NewNode(t)
	ps := solana.NewPubSub(node.WSURL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := ps.AccountSubscribe(ctx, "Acc1", solana.CommitmentConfirmed)
	require.NoError(t, err)

	cancel()
	_, err = sub.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSubscription_ServerCloseEndsGracefully(t *testing.T) {
	node := solanatest.NewNode(t)
	ps := solana.NewPubSub(node.WSURL, nil)

	sub, err := ps.AccountSubscribe(context.Background(), "Acc1", solana.CommitmentConfirmed)
	require.NoError(t, err)
	defer sub.Close()

	node.EndSubscriptions()
	_, err = sub.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSubscription_DroppedConnectionFails(t *testing.T) {
	node := solanatest.NewNode(t)
	ps := solana.NewPubSub(node.WSURL, nil)

	sub, err := ps.AccountSubscribe(context.Background(), "Acc1", solana.CommitmentConfirmed)
	require.NoError(t, err)
	defer sub.Close()

	node.DropSubscriptions()
	_, err = sub.Recv()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
