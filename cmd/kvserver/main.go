package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pseudonym/internal/kvserver"
	"pseudonym/internal/platform/httpserver"
	"pseudonym/internal/platform/logger"
)

// main runs the reference key-value server used by the http and blob
// backends. Objects live in memory only.
func main() {
	addr := flag.String("addr", ":8081", "listen address")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(*level, "json")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := httpserver.New(*addr, kvserver.New(log).Handler())
	if err := httpserver.Run(ctx, srv, log, 5*time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "kvserver:", err)
		os.Exit(1)
	}
}
