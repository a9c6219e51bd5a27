// Package correlation evaluates cross-modality rules over the live file
// and network event streams and emits security alerts.
package correlation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/config"
	"github.com/0xA1M/sentinel-watch/internal/models"
)

// r1DedupeWindow bounds repeated LargeTransfer alerts for the same
// (device, process, destination) tuple.
const r1DedupeWindow = 60 * time.Second

type netSample struct {
	at     time.Time
	bytes  int64
	connID string
}

// heldFile is a file-read/copy event retained inside the engine until its
// correlation window elapses. Holding the event here, before it reaches
// the spool, lets a ProbableUpload match rewrite the flag while the event
// is still agent-owned.
type heldFile struct {
	event    models.FileEvent
	heldAt   time.Time
	consumed bool
}

// Engine applies the three correlation rules. It is evaluated inline on
// whichever producer goroutine delivered the triggering event, so all
// state lives behind one mutex.
type Engine struct {
	cfg      config.CorrelationConfig
	deviceID string
	log      *zap.Logger

	emitAlert   func(models.AlertEvent)
	releaseFile func(models.FileEvent)

	now func() time.Time

	mu           sync.Mutex
	netWindows   map[string][]netSample
	held         map[string][]*heldFile
	r1LastFired  map[string]time.Time
	r2Suppressed map[string]bool
}

// NewEngine creates a correlation engine. Alerts are delivered through
// emitAlert; file events pass through the engine and exit via releaseFile
// once their correlation window has elapsed or they have been consumed.
func NewEngine(cfg config.CorrelationConfig, deviceID string, log *zap.Logger,
	emitAlert func(models.AlertEvent), releaseFile func(models.FileEvent)) *Engine {
	return &Engine{
		cfg:          cfg,
		deviceID:     deviceID,
		log:          log,
		emitAlert:    emitAlert,
		releaseFile:  releaseFile,
		now:          time.Now,
		netWindows:   make(map[string][]netSample),
		held:         make(map[string][]*heldFile),
		r1LastFired:  make(map[string]time.Time),
		r2Suppressed: make(map[string]bool),
	}
}

func (e *Engine) uploadWindow() time.Duration {
	return time.Duration(e.cfg.ProbableUploadWindowSeconds) * time.Second
}

func (e *Engine) continuousWindow() time.Duration {
	return time.Duration(e.cfg.ContinuousTransferWindowMinutes) * time.Minute
}

// HandleFileEvent routes a classified file event through the engine.
// Read and Copy events are held for the ProbableUpload window; everything
// else is released to the spool immediately.
func (e *Engine) HandleFileEvent(ev models.FileEvent) {
	if !e.cfg.Enabled || (ev.Action != models.ActionRead && ev.Action != models.ActionCopy) {
		e.releaseFile(ev)
		return
	}

	e.mu.Lock()
	proc := strings.ToLower(ev.ProcessName)
	e.held[proc] = append(e.held[proc], &heldFile{event: ev, heldAt: e.now()})
	e.mu.Unlock()
}

// HandleNetworkEvent evaluates R1, R2 and R3, in that order, against a
// closed connection window.
func (e *Engine) HandleNetworkEvent(ev models.NetworkEvent) {
	if !e.cfg.Enabled {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.evalLargeTransfer(ev, now)
	e.evalContinuousTransfer(ev, now)
	e.evalProbableUpload(ev, now)
}

// Tick releases held file events whose correlation window has elapsed and
// prunes stale per-process network windows.
func (e *Engine) Tick() {
	e.mu.Lock()

	now := e.now()
	var release []models.FileEvent
	for proc, files := range e.held {
		kept := files[:0]
		for _, hf := range files {
			if now.Sub(hf.heldAt) > e.uploadWindow() {
				if !hf.consumed {
					release = append(release, hf.event)
				}
			} else {
				kept = append(kept, hf)
			}
		}
		if len(kept) == 0 {
			delete(e.held, proc)
		} else {
			e.held[proc] = kept
		}
	}

	for proc := range e.netWindows {
		e.pruneWindow(proc, now)
		var sum int64
		for _, s := range e.netWindows[proc] {
			sum += s.bytes
		}
		if sum <= e.cfg.ContinuousTransferThresholdBytes {
			e.r2Suppressed[proc] = false
		}
	}

	e.mu.Unlock()

	for _, ev := range release {
		e.releaseFile(ev)
	}
}

// DrainHeld releases every held file event regardless of age. Called once
// on shutdown so the final flush carries the complete stream.
func (e *Engine) DrainHeld() {
	e.mu.Lock()
	var release []models.FileEvent
	for _, files := range e.held {
		for _, hf := range files {
			if !hf.consumed {
				release = append(release, hf.event)
			}
		}
	}
	e.held = make(map[string][]*heldFile)
	e.mu.Unlock()

	for _, ev := range release {
		e.releaseFile(ev)
	}
}

// R1 — Large Transfer. A single connection moving at least the threshold
// fires a Critical alert, at most once per minute per destination.
func (e *Engine) evalLargeTransfer(ev models.NetworkEvent, now time.Time) {
	if ev.BytesSent < e.cfg.LargeTransferThresholdBytes {
		return
	}

	key := e.deviceID + "|" + strings.ToLower(ev.ProcessName) + "|" + ev.DestinationIP
	if last, ok := e.r1LastFired[key]; ok && now.Sub(last) < r1DedupeWindow {
		return
	}
	e.r1LastFired[key] = now

	e.emit(models.AlertEvent{
		ID:        models.NewEventID(),
		DeviceID:  e.deviceID,
		Severity:  models.SeverityCritical,
		AlertType: models.AlertLargeTransfer,
		Description: fmt.Sprintf("%s sent %s to %s in a single connection",
			ev.ProcessName, humanize.Bytes(uint64(ev.BytesSent)), ev.DestinationIP),
		RelatedProcessName: ev.ProcessName,
		BytesInvolved:      ev.BytesSent,
		Timestamp:          models.At(now),
	})
}

// R2 — Continuous Transfer. Outbound bytes summed per process over the
// sliding window, requiring at least two distinct connections. Once fired,
// the rule stays quiet until the window sum drops back below threshold.
func (e *Engine) evalContinuousTransfer(ev models.NetworkEvent, now time.Time) {
	proc := strings.ToLower(ev.ProcessName)
	e.netWindows[proc] = append(e.netWindows[proc], netSample{at: now, bytes: ev.BytesSent, connID: ev.ID})
	e.pruneWindow(proc, now)

	var sum int64
	conns := make(map[string]struct{})
	for _, s := range e.netWindows[proc] {
		sum += s.bytes
		conns[s.connID] = struct{}{}
	}

	if sum <= e.cfg.ContinuousTransferThresholdBytes {
		e.r2Suppressed[proc] = false
		return
	}
	if len(conns) < 2 || e.r2Suppressed[proc] {
		return
	}
	e.r2Suppressed[proc] = true

	e.emit(models.AlertEvent{
		ID:        models.NewEventID(),
		DeviceID:  e.deviceID,
		Severity:  models.SeverityHigh,
		AlertType: models.AlertContinuousTransfer,
		Description: fmt.Sprintf("%s sent %s across %d connections in the last %d minutes",
			ev.ProcessName, humanize.Bytes(uint64(sum)), len(conns), e.cfg.ContinuousTransferWindowMinutes),
		RelatedProcessName: ev.ProcessName,
		BytesInvolved:      sum,
		Timestamp:          models.At(now),
	})
}

// R3 — Probable Upload. A sizeable send following a recent file read or
// copy by the same process marks that file as a probable upload. Each file
// event feeds at most one alert.
func (e *Engine) evalProbableUpload(ev models.NetworkEvent, now time.Time) {
	if ev.BytesSent <= e.cfg.ProbableUploadThresholdBytes {
		return
	}

	proc := strings.ToLower(ev.ProcessName)
	files := e.held[proc]

	var match *heldFile
	for i := len(files) - 1; i >= 0; i-- {
		hf := files[i]
		if hf.consumed || now.Sub(hf.heldAt) > e.uploadWindow() {
			continue
		}
		match = hf
		break
	}
	if match == nil {
		return
	}

	match.consumed = true
	match.event.Flag = models.FlagProbableUpload

	e.emit(models.AlertEvent{
		ID:        models.NewEventID(),
		DeviceID:  e.deviceID,
		Severity:  models.SeverityHigh,
		AlertType: models.AlertProbableUpload,
		Description: fmt.Sprintf("%s sent %s shortly after reading %s",
			ev.ProcessName, humanize.Bytes(uint64(ev.BytesSent)), match.event.FileName),
		RelatedFileName:    match.event.FileName,
		RelatedProcessName: ev.ProcessName,
		BytesInvolved:      ev.BytesSent,
		Timestamp:          models.At(now),
	})

	// The flag is final now, no reason to keep holding the event back.
	e.releaseFile(match.event)
}

func (e *Engine) pruneWindow(proc string, now time.Time) {
	window := e.netWindows[proc]
	kept := window[:0]
	for _, s := range window {
		if now.Sub(s.at) <= e.continuousWindow() {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(e.netWindows, proc)
	} else {
		e.netWindows[proc] = kept
	}
}

func (e *Engine) emit(alert models.AlertEvent) {
	e.log.Info("alert emitted",
		zap.String("type", string(alert.AlertType)),
		zap.String("severity", string(alert.Severity)),
		zap.String("process", alert.RelatedProcessName))
	e.emitAlert(alert)
}
