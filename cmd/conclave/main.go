package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/avlachos/conclave/internal/catalog"
	"github.com/avlachos/conclave/internal/config"
	"github.com/avlachos/conclave/internal/llm"
	"github.com/avlachos/conclave/internal/natsbus"
	"github.com/avlachos/conclave/internal/roster"
	"github.com/avlachos/conclave/internal/runner"
	"github.com/avlachos/conclave/internal/scheduler"
	"github.com/avlachos/conclave/internal/store"
	"github.com/avlachos/conclave/internal/telegram"
	"github.com/avlachos/conclave/internal/vault"
	"github.com/avlachos/conclave/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("conclave %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: conclave <command>

Commands:
  gateway    Start the Conclave gateway service
  backup     Archive the data directory to a .tar.zst file
  restore    Restore a backup archive into the data directory
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting conclave gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	busClient, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer busClient.Close()

	// Upstream client and model catalog
	client := llm.NewClient(cfg.OpenRouter.BaseURL, cfg.OpenRouter.APIKey)
	fallback := append(append([]string{}, cfg.Council.Members...), cfg.Council.Chairman)
	cat := catalog.New(client, catalog.Fallback(fallback...))
	ros := roster.New(cfg.Council.Members, cfg.Council.Chairman, cat)

	// Credential vault
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, stored credentials disabled")
	}

	// Council runner + NATS request/reply bridge
	run := runner.New(cfg.Council, db, client, ros, v, busClient, cfg.OpenRouter.Timeout)
	if _, err := run.ServeBus(busClient); err != nil {
		return fmt.Errorf("serve bus: %w", err)
	}

	// Scheduler
	sched := scheduler.New(db, run, busClient, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, run, db)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go bot.Start(ctx)
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, run, cat, sched, cfg.Web, cfg.Council, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
