package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/api"
	"github.com/0xA1M/sentinel-watch/internal/backup"
	"github.com/0xA1M/sentinel-watch/internal/logging"
	"github.com/0xA1M/sentinel-watch/internal/store"
)

func main() {
	_ = godotenv.Load()

	log := logging.New("")
	defer log.Sync()

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		log.Fatal("API_KEY environment variable is required")
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	primary := store.New()

	// Backup replication is optional: without a DSN the server runs on
	// the in-memory primary alone.
	var replicator *backup.Replicator
	if dsn := os.Getenv("BACKUP_DSN"); dsn != "" {
		db, err := backup.Connect(dsn)
		if err != nil {
			log.Warn("backup store unavailable, continuing without it", zap.Error(err))
		} else {
			replicator = backup.NewReplicator(db, log.Named("backup"))
			defer replicator.Close()
		}
	}

	router := api.Router(primary, replicator, apiKey, log.Named("api"))

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
