// Package appmon samples the foreground window and emits one usage event
// per closed application session.
package appmon

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/config"
	"github.com/0xA1M/sentinel-watch/internal/models"
)

// session is the currently-focused application.
type session struct {
	info    WindowInfo
	started time.Time
}

// Monitor polls the foreground window on a fixed cadence. When focus
// moves to a different process or window title, the closed session is
// emitted as an AppUsageEvent.
type Monitor struct {
	cfg      config.AppMonitorConfig
	deviceID string
	sampler  Sampler
	log      *zap.Logger

	events   chan models.AppUsageEvent
	stopChan chan struct{}
	now      func() time.Time

	mu      sync.Mutex
	current *session
}

// NewMonitor builds an app monitor over the given sampler.
func NewMonitor(cfg config.AppMonitorConfig, deviceID string, sampler Sampler, log *zap.Logger) *Monitor {
	if cfg.PollingIntervalMs <= 0 {
		cfg.PollingIntervalMs = config.DefaultAppPollingIntervalMs
	}
	if sampler == nil {
		sampler = NewPlatformSampler()
	}

	return &Monitor{
		cfg:      cfg,
		deviceID: deviceID,
		sampler:  sampler,
		log:      log,
		events:   make(chan models.AppUsageEvent, 100),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Events returns the usage event stream.
func (m *Monitor) Events() <-chan models.AppUsageEvent {
	return m.events
}

// Start begins the polling loop.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop halts polling and emits the in-flight session, if any.
func (m *Monitor) Stop() {
	close(m.stopChan)
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(time.Duration(m.cfg.PollingIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Poll()
		case <-m.stopChan:
			m.closeSession()
			return
		}
	}
}

// Poll takes one foreground sample and rolls the session state.
func (m *Monitor) Poll() {
	info, err := m.sampler.Sample()
	if err != nil {
		if !errors.Is(err, ErrSamplerUnavailable) {
			m.log.Debug("foreground sample failed", zap.Error(err))
		}
		return
	}
	if info.Process == "" || m.excluded(info.Process) {
		m.closeSession()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil &&
		m.current.info.Process == info.Process &&
		m.current.info.Title == info.Title {
		return
	}

	m.emitLocked()
	m.current = &session{info: info, started: m.now()}
}

// closeSession emits and clears the in-flight session.
func (m *Monitor) closeSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked()
	m.current = nil
}

func (m *Monitor) emitLocked() {
	if m.current == nil {
		return
	}

	duration := m.now().Sub(m.current.started)
	ev := models.AppUsageEvent{
		ID:              models.NewEventID(),
		DeviceID:        m.deviceID,
		AppName:         m.current.info.Process,
		WindowTitle:     m.current.info.Title,
		StartTime:       models.At(m.current.started),
		DurationSeconds: duration.Seconds(),
		PID:             m.current.info.PID,
	}

	select {
	case m.events <- ev:
	default:
		m.log.Warn("app usage buffer full, dropping event", zap.String("app", ev.AppName))
	}
}

func (m *Monitor) excluded(process string) bool {
	lower := strings.ToLower(process)
	for _, ex := range m.cfg.ExcludedProcesses {
		if strings.EqualFold(ex, lower) || strings.Contains(lower, strings.ToLower(ex)) {
			return true
		}
	}
	return false
}
