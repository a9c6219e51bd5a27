package handlers

import (
	"net/http"

	"github.com/0xA1M/sentinel-watch/internal/store"
)

// Per-endpoint default result caps.
const (
	defaultAlertLimit    = 100
	defaultEventLimit    = 200
	defaultTalkerLimit   = 10
	summaryAggregateSize = 5
)

// DashboardService serves read-only aggregations for the dashboard.
type DashboardService struct {
	Store *store.Store
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(st *store.Store) *DashboardService {
	return &DashboardService{Store: st}
}

// SummaryHandler returns the overview: counts plus the top-N aggregations.
func SummaryHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := queryFilter(r, 0)
		writeJSON(w, map[string]any{
			"counts":       svc.Store.Count(f.Cutoff),
			"topProcesses": svc.Store.TopProcessesByBytes(f.Cutoff, summaryAggregateSize),
			"topApps":      svc.Store.TopAppsByDuration(f.Cutoff, summaryAggregateSize),
			"topTalkers":   svc.Store.TopTalkers(f.Cutoff, summaryAggregateSize),
		})
	}
}

// DevicesHandler returns all devices, most recently seen first.
func DevicesHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Store.Devices())
	}
}

// AlertsHandler returns filtered alerts.
func AlertsHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Store.Alerts(queryFilter(r, defaultAlertLimit)))
	}
}

// FileEventsHandler returns filtered file events.
func FileEventsHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Store.FileEvents(queryFilter(r, defaultEventLimit)))
	}
}

// NetworkEventsHandler returns filtered network events.
func NetworkEventsHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Store.NetworkEvents(queryFilter(r, defaultEventLimit)))
	}
}

// AppUsageHandler returns filtered application usage sessions.
func AppUsageHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Store.AppUsageEvents(queryFilter(r, defaultEventLimit)))
	}
}

// TransfersHandler returns cross-boundary file movements only.
func TransfersHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Store.Transfers(queryFilter(r, defaultEventLimit)))
	}
}

// TopTalkersHandler ranks devices by outbound volume.
func TopTalkersHandler(svc *DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := queryFilter(r, defaultTalkerLimit)
		writeJSON(w, svc.Store.TopTalkers(f.Cutoff, f.Limit))
	}
}
