package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/backup"
	"github.com/0xA1M/sentinel-watch/internal/models"
	"github.com/0xA1M/sentinel-watch/internal/store"
)

// IngestService handles batch uploads from agents.
type IngestService struct {
	Store      *store.Store
	Replicator *backup.Replicator
	APIKey     string
	Log        *zap.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(st *store.Store, repl *backup.Replicator, apiKey string, log *zap.Logger) *IngestService {
	return &IngestService{Store: st, Replicator: repl, APIKey: apiKey, Log: log}
}

// IngestHandler accepts a LogBatch, commits it synchronously to the
// primary store and schedules asynchronous backup replication. Response
// latency never includes backup I/O.
func IngestHandler(svc *IngestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(svc.APIKey)) != 1 {
			writeError(w, "invalid api key", http.StatusUnauthorized)
			return
		}

		var batch models.LogBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeError(w, "invalid batch body", http.StatusBadRequest)
			return
		}

		received := svc.Store.CommitBatch(&batch)

		if svc.Replicator != nil {
			svc.Replicator.Schedule(&batch)
		}

		svc.Log.Info("batch ingested",
			zap.String("device", batch.DeviceID),
			zap.String("reported_device", r.Header.Get("X-Device-Id")),
			zap.Int("events", received))

		writeJSON(w, map[string]int{"received": received})
	}
}
