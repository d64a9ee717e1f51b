package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/config"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/httpserver"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/telemetry"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	logger, err := telemetry.InitLogger()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	shutdownTelemetry, err := telemetry.Init(context.Background())
	if err != nil {
		log.Fatalf("telemetry init failed: %v", err)
	}
	defer shutdownTelemetry()

	cfg := config.Load()

	// Settings are re-read per session so edits apply to the next session
	// without a restart; the HTTP address is fixed at boot.
	srv := httpserver.New(config.Load, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
