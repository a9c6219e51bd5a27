package api

import (
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xA1M/sentinel-watch/internal/api/handlers"
	"github.com/0xA1M/sentinel-watch/internal/api/utils"
	"github.com/0xA1M/sentinel-watch/internal/backup"
	"github.com/0xA1M/sentinel-watch/internal/store"
)

// Router sets up the main API router with all routes.
func Router(st *store.Store, repl *backup.Replicator, apiKey string, log *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(utils.SecurityHeadersMiddleware)

	ingestService := handlers.NewIngestService(st, repl, apiKey, log)
	dashboardService := handlers.NewDashboardService(st)

	public := router.PathPrefix("/api").Subrouter()
	public.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	// Agent ingest path. The shared API key is checked inside the
	// handler so a mismatch and a match cost the same time.
	public.HandleFunc("/logs/ingest", handlers.IngestHandler(ingestService)).Methods("POST")

	// Dashboard read endpoints, rate limited at 20 req/s burst 40 per IP.
	dashboard := router.PathPrefix("/api/dashboard").Subrouter()
	dashboard.Use(utils.RateLimitMiddleware(rate.Limit(20), 40))
	dashboard.HandleFunc("/summary", handlers.SummaryHandler(dashboardService)).Methods("GET")
	dashboard.HandleFunc("/devices", handlers.DevicesHandler(dashboardService)).Methods("GET")
	dashboard.HandleFunc("/alerts", handlers.AlertsHandler(dashboardService)).Methods("GET")
	dashboard.HandleFunc("/file-events", handlers.FileEventsHandler(dashboardService)).Methods("GET")
	dashboard.HandleFunc("/network-events", handlers.NetworkEventsHandler(dashboardService)).Methods("GET")
	dashboard.HandleFunc("/app-usage", handlers.AppUsageHandler(dashboardService)).Methods("GET")
	dashboard.HandleFunc("/transfers", handlers.TransfersHandler(dashboardService)).Methods("GET")
	dashboard.HandleFunc("/top-talkers", handlers.TopTalkersHandler(dashboardService)).Methods("GET")

	return router
}
