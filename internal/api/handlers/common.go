package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/0xA1M/sentinel-watch/internal/models"
	"github.com/0xA1M/sentinel-watch/internal/store"
)

// writeJSON encodes a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError replies with a structured error body. Internal state never
// leaks past the message string.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// queryFilter assembles the common dashboard query parameters: hours
// (default 24), limit, deviceId, flag, severity, source.
func queryFilter(r *http.Request, defaultLimit int) store.EventFilter {
	q := r.URL.Query()

	hours := 24
	if raw := q.Get("hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			hours = parsed
		}
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	return store.EventFilter{
		Cutoff:   time.Now().UTC().Add(-time.Duration(hours) * time.Hour),
		DeviceID: q.Get("deviceId"),
		Flag:     q.Get("flag"),
		Source:   q.Get("source"),
		Severity: models.Severity(q.Get("severity")),
		Limit:    limit,
	}
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
