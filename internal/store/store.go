// Package store is the server's in-memory primary store: concurrent
// id-keyed tables with idempotent upserts and read-only query snapshots.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/0xA1M/sentinel-watch/internal/filemon"
	"github.com/0xA1M/sentinel-watch/internal/models"
)

// EventFilter narrows query results. Zero values match everything.
type EventFilter struct {
	Cutoff   time.Time
	DeviceID string
	Flag     string
	Source   string
	Severity models.Severity
	Limit    int
}

// ProcessTraffic is one row of the top-processes aggregation.
type ProcessTraffic struct {
	Process     string `json:"process"`
	BytesSent   int64  `json:"bytesSent"`
	Connections int    `json:"connections"`
}

// AppTime is one row of the top-applications aggregation.
type AppTime struct {
	App          string  `json:"app"`
	TotalSeconds float64 `json:"totalSeconds"`
	Sessions     int     `json:"sessions"`
}

// Talker is one row of the top-talkers aggregation.
type Talker struct {
	DeviceID             string `json:"deviceId"`
	UserName             string `json:"userName"`
	BytesSent            int64  `json:"bytesSent"`
	DistinctDestinations int    `json:"distinctDestinations"`
}

// Store holds every event kind keyed by id and devices keyed by
// device_id. Stored values are immutable; a re-upload of a known id
// overwrites in place, so ingest is idempotent.
type Store struct {
	mu       sync.RWMutex
	devices  map[string]models.DeviceInfo
	files    map[string]models.FileEvent
	network  map[string]models.NetworkEvent
	appUsage map[string]models.AppUsageEvent
	alerts   map[string]models.AlertEvent
}

// New creates an empty store.
func New() *Store {
	return &Store{
		devices:  make(map[string]models.DeviceInfo),
		files:    make(map[string]models.FileEvent),
		network:  make(map[string]models.NetworkEvent),
		appUsage: make(map[string]models.AppUsageEvent),
		alerts:   make(map[string]models.AlertEvent),
	}
}

// CommitBatch upserts the device and every event in the batch and returns
// the number of events committed.
func (s *Store) CommitBatch(batch *models.LogBatch) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := batch.DeviceInfo
	if info.DeviceID == "" {
		info.DeviceID = batch.DeviceID
	}
	if info.DeviceID != "" {
		info.LastSeen = models.Now()
		s.devices[info.DeviceID] = info
	}

	for _, ev := range batch.FileEvents {
		if ev.ID != "" {
			s.files[ev.ID] = ev
		}
	}
	for _, ev := range batch.NetworkEvents {
		if ev.ID != "" {
			s.network[ev.ID] = ev
		}
	}
	for _, ev := range batch.AppUsageEvents {
		if ev.ID != "" {
			s.appUsage[ev.ID] = ev
		}
	}
	for _, ev := range batch.Alerts {
		if ev.ID != "" {
			s.alerts[ev.ID] = ev
		}
	}

	return batch.Len()
}

// Devices returns all known devices ordered by last_seen descending.
func (s *Store) Devices() []models.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DeviceInfo, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen.Time)
	})

	return out
}

// FileEvents returns filtered file events, newest first, with the agent's
// noise suppression mirrored for uploads from unfiltered legacy agents.
func (s *Store) FileEvents(f EventFilter) []models.FileEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.FileEvent
	for _, ev := range s.files {
		if !s.matchFile(ev, f) {
			continue
		}
		out = append(out, ev)
	}

	sortFileEvents(out)
	return limitFile(out, f.Limit)
}

// Transfers returns cross-boundary file movements: external-source events
// and transfer-flagged events.
func (s *Store) Transfers(f EventFilter) []models.FileEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.FileEvent
	for _, ev := range s.files {
		if !s.matchFile(ev, f) || !isTransferRecord(ev) {
			continue
		}
		out = append(out, ev)
	}

	sortFileEvents(out)
	return limitFile(out, f.Limit)
}

// NetworkEvents returns filtered network events, newest first.
func (s *Store) NetworkEvents(f EventFilter) []models.NetworkEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.NetworkEvent
	for _, ev := range s.network {
		if !f.Cutoff.IsZero() && ev.Timestamp.Before(f.Cutoff) {
			continue
		}
		if f.DeviceID != "" && ev.DeviceID != f.DeviceID {
			continue
		}
		if f.Flag != "" && ev.Flag != f.Flag {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// AppUsageEvents returns filtered app usage events, newest first (by
// session start).
func (s *Store) AppUsageEvents(f EventFilter) []models.AppUsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AppUsageEvent
	for _, ev := range s.appUsage {
		if !f.Cutoff.IsZero() && ev.StartTime.Before(f.Cutoff) {
			continue
		}
		if f.DeviceID != "" && ev.DeviceID != f.DeviceID {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime.Time)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Alerts returns filtered alerts, newest first.
func (s *Store) Alerts(f EventFilter) []models.AlertEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AlertEvent
	for _, ev := range s.alerts {
		if !f.Cutoff.IsZero() && ev.Timestamp.Before(f.Cutoff) {
			continue
		}
		if f.DeviceID != "" && ev.DeviceID != f.DeviceID {
			continue
		}
		if f.Severity != "" && ev.Severity != f.Severity {
			continue
		}
		out = append(out, ev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Counts holds the summary tallies for the dashboard.
type Counts struct {
	Devices        int `json:"devices"`
	FileEvents     int `json:"fileEvents"`
	NetworkEvents  int `json:"networkEvents"`
	AppUsageEvents int `json:"appUsageEvents"`
	Alerts         int `json:"alerts"`
	CriticalAlerts int `json:"criticalAlerts"`
	Transfers      int `json:"transfers"`
}

// Count tallies events since the cutoff.
func (s *Store) Count(cutoff time.Time) Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Counts{Devices: len(s.devices)}
	for _, ev := range s.files {
		if ev.Timestamp.Before(cutoff) || filemon.IsBuiltinNoise(ev.FilePath) {
			continue
		}
		c.FileEvents++
		if isTransferRecord(ev) {
			c.Transfers++
		}
	}
	for _, ev := range s.network {
		if !ev.Timestamp.Before(cutoff) {
			c.NetworkEvents++
		}
	}
	for _, ev := range s.appUsage {
		if !ev.StartTime.Before(cutoff) {
			c.AppUsageEvents++
		}
	}
	for _, ev := range s.alerts {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		c.Alerts++
		if ev.Severity == models.SeverityCritical {
			c.CriticalAlerts++
		}
	}

	return c
}

// TopProcessesByBytes ranks processes by outbound bytes since the cutoff.
func (s *Store) TopProcessesByBytes(cutoff time.Time, n int) []ProcessTraffic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*ProcessTraffic)
	for _, ev := range s.network {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		key := strings.ToLower(ev.ProcessName)
		row, ok := agg[key]
		if !ok {
			row = &ProcessTraffic{Process: key}
			agg[key] = row
		}
		row.BytesSent += ev.BytesSent
		row.Connections++
	}

	out := make([]ProcessTraffic, 0, len(agg))
	for _, row := range agg {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BytesSent > out[j].BytesSent })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TopAppsByDuration ranks applications by foreground time since the cutoff.
func (s *Store) TopAppsByDuration(cutoff time.Time, n int) []AppTime {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*AppTime)
	for _, ev := range s.appUsage {
		if ev.StartTime.Before(cutoff) {
			continue
		}
		key := strings.ToLower(ev.AppName)
		row, ok := agg[key]
		if !ok {
			row = &AppTime{App: key}
			agg[key] = row
		}
		row.TotalSeconds += ev.DurationSeconds
		row.Sessions++
	}

	out := make([]AppTime, 0, len(agg))
	for _, row := range agg {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSeconds > out[j].TotalSeconds })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TopTalkers ranks devices by outbound bytes with distinct destination
// counts since the cutoff.
func (s *Store) TopTalkers(cutoff time.Time, n int) []Talker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type talkerAgg struct {
		bytes int64
		dests map[string]struct{}
	}

	agg := make(map[string]*talkerAgg)
	for _, ev := range s.network {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		row, ok := agg[ev.DeviceID]
		if !ok {
			row = &talkerAgg{dests: make(map[string]struct{})}
			agg[ev.DeviceID] = row
		}
		row.bytes += ev.BytesSent
		row.dests[ev.DestinationIP] = struct{}{}
	}

	out := make([]Talker, 0, len(agg))
	for deviceID, row := range agg {
		t := Talker{
			DeviceID:             deviceID,
			BytesSent:            row.bytes,
			DistinctDestinations: len(row.dests),
		}
		if info, ok := s.devices[deviceID]; ok {
			t.UserName = info.UserName
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BytesSent > out[j].BytesSent })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (s *Store) matchFile(ev models.FileEvent, f EventFilter) bool {
	if !f.Cutoff.IsZero() && ev.Timestamp.Before(f.Cutoff) {
		return false
	}
	if f.DeviceID != "" && ev.DeviceID != f.DeviceID {
		return false
	}
	if f.Flag != "" && ev.Flag != f.Flag {
		return false
	}
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	// Query-time noise mirror; transfer-classified events are kept the
	// same way external watches bypass suppression on the agent.
	if !ev.IsTransfer && filemon.IsBuiltinNoise(ev.FilePath) {
		return false
	}
	return true
}

// isTransferRecord mirrors the transfer-event definition: an external
// source or a transfer-classified flag.
func isTransferRecord(ev models.FileEvent) bool {
	switch ev.Source {
	case models.SourceUSB, models.SourceNetworkShare, models.SourceCloudSync:
		return true
	}
	switch ev.Flag {
	case models.FlagUsbTransfer, models.FlagNetworkTransfer,
		models.FlagCloudSyncTransfer, models.FlagProbableUpload:
		return true
	}
	return false
}

func sortFileEvents(out []models.FileEvent) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp.Time)
	})
}

func limitFile(out []models.FileEvent, limit int) []models.FileEvent {
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}
