// Command relayctl is the administrative CLI of spec §6: a one-shot
// helper that (re)attaches this app to the upstream page's feed
// subscription, plus a maintenance operation for pruning terminal rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fb-discord-relay/relay/internal/config"
	"github.com/fb-discord-relay/relay/internal/store"
	"github.com/fb-discord-relay/relay/internal/upstream"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "subscribe":
		runSubscribe(ctx, cfg, logger, os.Args[2:])
	case "prune":
		runPrune(ctx, cfg, logger, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: relayctl <subscribe [--verify] | prune --older-than <duration>>")
}

// runSubscribe POSTs to the page's subscribed_apps endpoint to (re)attach
// this app to the feed field. With --verify it then calls
// VerifyPageAccess, which reads the page's id and name with the page
// token; it does not read back the subscribed_apps list.
func runSubscribe(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	verify := fs.Bool("verify", false, "verify page access after subscribing")
	_ = fs.Parse(args)

	if cfg.MetaPageID == "" || cfg.MetaAccessToken == "" || cfg.MetaAppSecret == "" {
		logger.Error("META_PAGE_ID, META_PAGE_ACCESS_TOKEN, and META_APP_SECRET are required")
		os.Exit(1)
	}

	client := upstream.NewClient(cfg.MetaGraphHost, cfg.MetaGraphVersion, cfg.MetaPageID, cfg.MetaAccessToken, cfg.MetaAppSecret, logger)

	if err := client.SubscribeApp(ctx); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed to feed field", "page_id", cfg.MetaPageID)

	if *verify {
		if err := client.VerifyPageAccess(ctx); err != nil {
			logger.Error("verification failed", "error", err)
			os.Exit(1)
		}
		logger.Info("verified page access")
	}

	os.Exit(0)
}

// runPrune implements the §3 maintenance lifecycle rule: delete posts
// (and their cascaded events/delivery logs) that have sat in a terminal
// state since before the cutoff.
func runPrune(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "age of terminal posts to prune")
	_ = fs.Parse(args)

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	cutoff := time.Now().Add(-*olderThan)
	count, err := pgStore.PruneTerminal(ctx, cutoff)
	if err != nil {
		logger.Error("prune failed", "error", err)
		os.Exit(1)
	}

	logger.Info("pruned terminal posts", "count", count, "cutoff", cutoff.Format(time.RFC3339))
	os.Exit(0)
}
