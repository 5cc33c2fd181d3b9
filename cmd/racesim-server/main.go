package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MJE43/race-pf-replay-go/internal/api"
	"github.com/MJE43/race-pf-replay-go/internal/config"
	"github.com/MJE43/race-pf-replay-go/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)
	if err := run(logger); err != nil {
		logger.Fatalf("fatal err=%v", err)
	}
}

func run(logger *log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	server, err := api.NewServer(db, cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// the timeout middleware answers first; this only reaps stuck writers
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	logger.Printf("listening addr=%s db=%s strategy=%s", ln.Addr(), cfg.DBPath, cfg.Strategy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reason := "signal"
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			reason = "serve_error"
			logger.Printf("serve_failed err=%v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown_failed err=%v", err)
	}
	server.SecurityLogger().LogSystemShutdown(reason, server.Uptime())
	return nil
}
