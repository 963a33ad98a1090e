package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kite-trading-bot/internal/logger"
	"kite-trading-bot/internal/trace"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	must(initializeSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	must(err)

	bundle, err := loadCredentials(ctx)
	must(err)

	auth := initializeAuthenticator(ctx, cfg, bundle)
	mgr, tokens := initializeSession(ctx, cfg, bundle, auth)
	watchSessionEvents(ctx, mgr)

	brk := initializeBroker(ctx, cfg, bundle, tokens)
	checker := initializeHealth(cfg, brk, tokens)

	// Shutdown must cancel any in-flight login so the browser and driver
	// are released before the process exits.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Warn(ctx, "Shutdown signal received")
		cancel()
	}()

	// Establish the session up front: a process that cannot authenticate
	// must not pretend it can trade.
	if _, err := tokens.GetValidToken(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Initial authentication failed - trading must pause", err)
		shutdown()
		os.Exit(1)
	}
	logger.Info(ctx, "Session established, bot ready")

	checker.Run(ctx)

	shutdown()
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = trace.Shutdown(ctx)
}
