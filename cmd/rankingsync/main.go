// Command rankingsync keeps the ranking tree in sync with the sharded counters.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tripcart/rankingsync/internal/config"
	"github.com/tripcart/rankingsync/internal/docstore"
	"github.com/tripcart/rankingsync/internal/notify"
	"github.com/tripcart/rankingsync/internal/ranking"
	"github.com/tripcart/rankingsync/internal/server"
	"github.com/tripcart/rankingsync/internal/subscriber"
	"github.com/tripcart/rankingsync/internal/trigger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, loadErr := config.Load()

	root := &cobra.Command{
		Use:          "rankingsync",
		Short:        "Mirror sharded counters into the ranking tree",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return loadErr
			}
			return cfg.Validate()
		},
	}
	root.PersistentFlags().StringVar(&cfg.ProjectID, "project", cfg.ProjectID, "GCP project ID")
	root.PersistentFlags().StringVar(&cfg.FirestoreDatabase, "database", cfg.FirestoreDatabase, "Firestore database ID")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve change-event endpoints and consume the change feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	serve.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	serve.Flags().StringVar(&cfg.Subscription, "subscription", cfg.Subscription, "Pub/Sub subscription for streaming pull; empty disables it")
	serve.Flags().IntVar(&cfg.MaxConcurrency, "max-concurrency", cfg.MaxConcurrency, "Concurrent change events")
	serve.Flags().DurationVar(&cfg.HandlerTimeout, "handler-timeout", cfg.HandlerTimeout, "Deadline per handler invocation")
	serve.Flags().BoolVar(&cfg.PushEnabled, "push", cfg.PushEnabled, "Send chat push notifications")

	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Rebuild the ranking tree from a full scan of the counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	backfill.Flags().IntVar(&cfg.BackfillConcurrency, "concurrency", cfg.BackfillConcurrency, "Countries or places scanned in parallel")

	root.AddCommand(serve, backfill)
	return root
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("rankingsync starting",
		zap.String("project", cfg.ProjectID),
		zap.String("database", cfg.FirestoreDatabase),
		zap.Int("port", cfg.Port),
	)

	store, err := docstore.Open(ctx, cfg.ProjectID, cfg.FirestoreDatabase, logger)
	if err != nil {
		logger.Error("firestore initialization failed", zap.Error(err))
		return err
	}
	defer store.Close()

	router := trigger.NewRouter(logger, cfg.HandlerTimeout)
	for _, h := range ranking.Handlers(store, logger) {
		router.Register(h)
	}
	if cfg.PushEnabled {
		sender, err := notify.NewFCMSender(ctx, cfg.ProjectID, logger)
		if err != nil {
			return err
		}
		router.Register(notify.NewDispatcher(store, sender, logger))
	}

	backfiller := ranking.NewBackfiller(store, logger, cfg.BackfillConcurrency)
	srv := server.New(router, backfiller, logger)

	var sub *subscriber.Subscriber
	if cfg.Subscription != "" {
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create pubsub client: %w", err)
		}
		defer client.Close()
		sub = subscriber.New(client.Subscription(cfg.Subscription), router, logger)
	}

	return serve(ctx, srv, ":"+strconv.Itoa(cfg.Port), sub, cfg.MaxConcurrency)
}

// serve runs the HTTP server and, when sub is set, the streaming subscriber
// until ctx is done or either of them fails.
func serve(ctx context.Context, srv *server.Server, addr string, sub *subscriber.Subscriber, maxConcurrency int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr)
	})
	if sub != nil {
		g.Go(func() error {
			return sub.Start(ctx, maxConcurrency)
		})
	}
	return g.Wait()
}

type backfillResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	*ranking.Summary
}

func runBackfill(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := docstore.Open(ctx, cfg.ProjectID, cfg.FirestoreDatabase, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := ranking.NewBackfiller(store, logger, cfg.BackfillConcurrency).Run(ctx)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err != nil {
		enc.Encode(backfillResult{Success: false, Error: err.Error()})
		return err
	}
	return enc.Encode(backfillResult{Success: true, Summary: &summary})
}
