// Package netmon diffs periodic TCP table snapshots into per-connection
// network events with cumulative byte accounting.
package netmon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/config"
	"github.com/0xA1M/sentinel-watch/internal/models"
)

// tracked is the accounting state for one live connection.
type tracked struct {
	sample    ConnSample
	firstSeen time.Time
	lastSeen  time.Time
	firstSent int64
	firstRecv int64
	lastSent  int64
	lastRecv  int64
}

// Monitor polls the TCP table and emits a NetworkEvent when a connection
// disappears, carrying the bytes accumulated over its observed lifetime.
type Monitor struct {
	cfg      config.NetworkMonitorConfig
	deviceID string
	snap     ConnSnapshotter
	log      *zap.Logger

	events   chan models.NetworkEvent
	stopChan chan struct{}
	now      func() time.Time

	live map[string]*tracked // keyed by (pid, 5-tuple)
}

// NewMonitor builds a network monitor over the given snapshotter.
func NewMonitor(cfg config.NetworkMonitorConfig, deviceID string, snap ConnSnapshotter, log *zap.Logger) *Monitor {
	if cfg.PollingIntervalMs <= 0 {
		cfg.PollingIntervalMs = config.DefaultNetPollingIntervalMs
	}
	if len(cfg.PrivateSubnets) == 0 {
		cfg.PrivateSubnets = config.DefaultPrivateSubnets
	}
	if snap == nil {
		snap = NewSystemSnapshotter()
	}

	return &Monitor{
		cfg:      cfg,
		deviceID: deviceID,
		snap:     snap,
		log:      log,
		events:   make(chan models.NetworkEvent, 256),
		stopChan: make(chan struct{}),
		now:      time.Now,
		live:     make(map[string]*tracked),
	}
}

// Events returns the connection-close event stream.
func (m *Monitor) Events() <-chan models.NetworkEvent {
	return m.events
}

// Start begins the polling loop.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop halts polling and closes out every live connection.
func (m *Monitor) Stop() {
	close(m.stopChan)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.cfg.PollingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Poll(ctx)
		case <-m.stopChan:
			m.closeAll()
			return
		}
	}
}

// Poll takes one snapshot, updates accounting for live connections and
// emits events for connections that vanished since the previous poll.
func (m *Monitor) Poll(ctx context.Context) {
	samples, err := m.snap.Snapshot(ctx)
	if err != nil {
		m.log.Warn("tcp table snapshot failed", zap.Error(err))
		return
	}

	now := m.now()
	seen := make(map[string]struct{}, len(samples))

	for _, sample := range samples {
		if m.filtered(sample) {
			continue
		}

		key := connKey(sample)
		seen[key] = struct{}{}

		if t, ok := m.live[key]; ok {
			t.lastSeen = now
			t.lastSent = sample.BytesSent
			t.lastRecv = sample.BytesRecv
			continue
		}

		m.live[key] = &tracked{
			sample:    sample,
			firstSeen: now,
			lastSeen:  now,
			firstSent: sample.BytesSent,
			firstRecv: sample.BytesRecv,
			lastSent:  sample.BytesSent,
			lastRecv:  sample.BytesRecv,
		}
	}

	for key, t := range m.live {
		if _, ok := seen[key]; ok {
			continue
		}
		delete(m.live, key)
		m.emit(t)
	}
}

// closeAll flushes accounting for everything still live on shutdown.
func (m *Monitor) closeAll() {
	for key, t := range m.live {
		delete(m.live, key)
		m.emit(t)
	}
}

func (m *Monitor) emit(t *tracked) {
	sent := t.lastSent - t.firstSent
	recv := t.lastRecv - t.firstRecv
	if sent < 0 {
		sent = 0
	}
	if recv < 0 {
		recv = 0
	}

	ev := models.NetworkEvent{
		ID:              models.NewEventID(),
		DeviceID:        m.deviceID,
		ProcessName:     t.sample.Process,
		PID:             t.sample.PID,
		BytesSent:       sent,
		BytesReceived:   recv,
		DestinationIP:   t.sample.RemoteAddr,
		DestinationPort: t.sample.RemotePort,
		DurationSeconds: t.lastSeen.Sub(t.firstSeen).Seconds(),
		Timestamp:       models.At(t.lastSeen),
	}

	select {
	case m.events <- ev:
	default:
		m.log.Warn("network event buffer full, dropping event",
			zap.String("process", ev.ProcessName))
	}
}

// filtered drops private-subnet destinations and excluded processes.
func (m *Monitor) filtered(sample ConnSample) bool {
	for _, prefix := range m.cfg.PrivateSubnets {
		if strings.HasPrefix(sample.RemoteAddr, prefix) {
			return true
		}
	}
	for _, ex := range m.cfg.ExcludedProcesses {
		if strings.EqualFold(ex, sample.Process) {
			return true
		}
	}
	return false
}

func connKey(s ConnSample) string {
	return fmt.Sprintf("%d|%s:%d->%s:%d", s.PID, s.LocalAddr, s.LocalPort, s.RemoteAddr, s.RemotePort)
}
