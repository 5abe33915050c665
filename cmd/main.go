package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archivolt/mnemos/internal/app"
	"github.com/archivolt/mnemos/internal/platform/envutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	a.Start()

	addr := ":" + envutil.Str("PORT", "8080")
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(addr) }()
	a.Log.Info("server listening", "addr", addr)

	select {
	case <-ctx.Done():
		a.Log.Info("shutdown signal received")
	case err := <-errCh:
		a.Log.Error("server exited", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Close(shutdownCtx)
}
