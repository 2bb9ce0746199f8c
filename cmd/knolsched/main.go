package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/config"
	"github.com/conorfennell/knolsched/internal/importer"
	"github.com/conorfennell/knolsched/internal/sched"
	"github.com/conorfennell/knolsched/internal/search"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/conorfennell/knolsched/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// 1. Load the configuration
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	opts, err := cfg.SchedulerOptions()
	if err != nil {
		return err
	}
	opts.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the database
	db, err := storage.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database opened", "path", cfg.DB)

	// 3. Import notes
	im := importer.New(db, log)
	if cfg.SeedDemo {
		n, err := db.CountCards(ctx, search.All(), 1)
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := im.Demo(ctx); err != nil {
				return fmt.Errorf("failed to seed demo collection: %w", err)
			}
		}
	}
	for _, src := range cfg.Import {
		res, err := im.Source(ctx, src, cfg.ReposDir, "")
		if err != nil {
			log.Error("import failed", "source", src, "error", err)
			continue
		}
		for _, e := range res.Errors {
			log.Warn("note skipped", "source", src, "error", e)
		}
	}

	// 4. Serve the scheduler
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.NewServer(sched.New(db, opts), db, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	log.Info("listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
