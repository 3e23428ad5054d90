// Command mock-backend runs a deterministic Chat Completions server for
// local development. Point completion.backend_url at it.
//
// Configuration:
//
//	MOCK_PORT    - Listen port (default: 9090)
//	MOCK_API_KEY - Required API key (default: none)
//	MOCK_MODEL   - Model reported when a request names none
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/parley/pkg/provider/openaicompat/mockbackend"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	srv := &http.Server{
		Addr: ":" + port,
		Handler: mockbackend.New(mockbackend.Options{
			APIKey: os.Getenv("MOCK_API_KEY"),
			Model:  os.Getenv("MOCK_MODEL"),
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		slog.Error("mock backend failed", "error", err)
		os.Exit(1)
	}
}
