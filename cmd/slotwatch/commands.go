package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/syntrixbase/slotwatch/internal/docwatch"
	"github.com/syntrixbase/slotwatch/internal/kvwatch"
	"github.com/syntrixbase/slotwatch/internal/solana"
	"github.com/syntrixbase/slotwatch/internal/solanawatch"
)

func solanaClients() (*solana.Client, *solana.PubSub) {
	logger := slog.Default()
	rpc := solana.NewClient(cfg.Solana.RPCURL, &http.Client{Timeout: cfg.Solana.HTTPTimeout}, logger)
	return rpc, solana.NewPubSub(cfg.Solana.WSURL, logger)
}

func newAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account <address>",
		Short: "Watch a Solana account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rpc, ps := solanaClients()
			strategy := solanawatch.NewAccountStrategy(rpc, ps, solanawatch.AccountConfig{
				Address:    args[0],
				Commitment: solana.Commitment(cfg.Solana.Commitment),
			})
			s := newSession("account", cmd.OutOrStdout(), solanawatch.AccountDefaults())
			return run(cmd.Context(), s, strategy)
		},
	}
}

func newProgramLogsCmd() *cobra.Command {
	var maxSignatures int

	cmd := &cobra.Command{
		Use:   "program-logs <program-id>",
		Short: "Watch the logs of transactions mentioning a Solana program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rpc, ps := solanaClients()
			s := newSession("program-logs", cmd.OutOrStdout(), solanawatch.ProgramLogsDefaults())
			strategy := solanawatch.NewProgramLogsStrategy(rpc, ps, solanawatch.ProgramLogsConfig{
				ProgramID:            args[0],
				Commitment:           solana.Commitment(cfg.Solana.Commitment),
				MaxSignaturesPerPoll: maxSignatures,
				Logger:               s.logger,
			})
			return run(cmd.Context(), s, strategy)
		},
	}

	cmd.Flags().IntVar(&maxSignatures, "max-signatures", solanawatch.DefaultMaxSignaturesPerPoll, "Signatures fetched per poll")
	return cmd
}

func newTxLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tx-logs [all|allWithVotes|mentions:<address>]",
		Short: "Watch transaction logs over the websocket subscription only",
		Long: `tx-logs has no polling fallback: if the subscription cannot be
established the watcher stops and the command fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := solana.LogsFilterAll
			if len(args) == 1 {
				parsed, err := solana.ParseLogsFilter(args[0])
				if err != nil {
					return err
				}
				f = parsed
			}
			_, ps := solanaClients()
			strategy := solanawatch.NewTransactionLogsStrategy(ps, solanawatch.TransactionLogsConfig{
				Filter:     f,
				Commitment: solana.Commitment(cfg.Solana.Commitment),
			})
			s := newSession("tx-logs", cmd.OutOrStdout(), solanawatch.TransactionLogsDefaults())
			return run(cmd.Context(), s, strategy)
		},
	}
}

func newKVCmd() *cobra.Command {
	var bucket string

	cmd := &cobra.Command{
		Use:   "kv <key>",
		Short: "Watch a NATS JetStream key-value entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pcfg := cfg.NATS.ProviderConfig
			if bucket != "" {
				pcfg.Bucket = bucket
			}
			s := newSession("kv", cmd.OutOrStdout(), kvwatch.Defaults())

			provider := kvwatch.NewProvider(pcfg, s.logger)
			if err := provider.Connect(cmd.Context()); err != nil {
				return err
			}
			defer provider.Close()

			store, err := provider.Store()
			if err != nil {
				return err
			}
			return run(cmd.Context(), s, kvwatch.NewStrategy(store, args[0]))
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket name (overrides nats.bucket)")
	return cmd
}

func newDocCmd() *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "doc <id>",
		Short: "Watch a MongoDB document by _id",
		Long: `doc watches one document through a change stream. The deployment must
be a replica set or sharded cluster. A 24 character hex id is matched as an
ObjectID, anything else as a string.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if collection == "" {
				collection = cfg.Mongo.Collection
			}
			if collection == "" {
				return fmt.Errorf("a collection is required (--collection or mongo.collection)")
			}
			s := newSession("doc", cmd.OutOrStdout(), docwatch.Defaults())

			src, err := docwatch.Connect(cmd.Context(), cfg.Mongo.Config, collection)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = src.Close(ctx)
			}()

			return run(cmd.Context(), s, docwatch.NewStrategy(src, documentID(args[0]), s.logger))
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Collection name (overrides mongo.collection)")
	return cmd
}

func documentID(s string) any {
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		return oid
	}
	return s
}
