// Package uploader drains the local spool into the aggregation server,
// preserving segments until they are acknowledged.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/models"
	"github.com/0xA1M/sentinel-watch/internal/spool"
)

const (
	requestTimeout = 30 * time.Second
	backoffBase    = 5 * time.Second
	backoffCap     = 5 * time.Minute
	// backoffCapAfter forces the cap once this many consecutive cycles
	// have failed.
	backoffCapAfter = 3
)

// Config holds the delivery settings.
type Config struct {
	Endpoint              string
	APIKey                string
	DeviceID              string
	MaxBatchSize          int
	UploadIntervalSeconds int
	RetentionDays         int
}

// ingestResponse is the server acknowledgement body.
type ingestResponse struct {
	Received int `json:"received"`
}

// Uploader reads sealed segments oldest-first and POSTs them as
// LogBatches. A segment is deleted only after every chunk cut from it
// received a 2xx acknowledgement.
type Uploader struct {
	cfg        Config
	queue      *spool.Queue
	client     *http.Client
	deviceInfo func() models.DeviceInfo
	log        *zap.Logger

	stopChan chan struct{}
	failures int
}

// New builds an uploader over the given queue. deviceInfo is invoked per
// batch so last_seen stays fresh.
func New(cfg Config, queue *spool.Queue, deviceInfo func() models.DeviceInfo, log *zap.Logger) *Uploader {
	if cfg.UploadIntervalSeconds <= 0 {
		cfg.UploadIntervalSeconds = 60
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}

	return &Uploader{
		cfg:        cfg,
		queue:      queue,
		client:     &http.Client{Timeout: requestTimeout},
		deviceInfo: deviceInfo,
		log:        log,
		stopChan:   make(chan struct{}),
	}
}

// Run drives upload cycles until Stop. Failed cycles back off
// exponentially; delivery is retried indefinitely because segments must
// never be lost.
func (u *Uploader) Run(ctx context.Context) {
	interval := time.Duration(u.cfg.UploadIntervalSeconds) * time.Second
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-u.stopChan:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := interval
		if err := u.Cycle(ctx); err != nil {
			u.failures++
			next = u.backoff()
			u.log.Warn("upload cycle failed",
				zap.Error(err),
				zap.Int("consecutive_failures", u.failures),
				zap.Duration("retry_in", next))
		} else {
			u.failures = 0
		}

		timer.Reset(next)
	}
}

// Stop terminates the run loop.
func (u *Uploader) Stop() {
	close(u.stopChan)
}

// Cycle delivers every sealed segment, oldest first. The first delivery
// failure stops the cycle so segment order is preserved on the server.
func (u *Uploader) Cycle(ctx context.Context) error {
	names, err := u.queue.Segments()
	if err != nil {
		return err
	}

	for _, name := range names {
		payload, err := u.queue.Read(name)
		if err != nil {
			if errors.Is(err, spool.ErrAuthFailed) || errors.Is(err, spool.ErrBadMagic) || errors.Is(err, spool.ErrSegmentTooShort) {
				u.log.Error("segment failed authentication", zap.String("segment", name), zap.Error(err))
				if qerr := u.queue.Quarantine(name); qerr != nil {
					u.log.Warn("quarantine failed", zap.Error(qerr))
				}
				continue
			}
			return err
		}

		if err := u.deliver(ctx, payload); err != nil {
			return fmt.Errorf("uploader: segment %s: %w", name, err)
		}

		if err := u.queue.Delete(name); err != nil {
			u.log.Warn("failed to delete acknowledged segment", zap.String("segment", name), zap.Error(err))
		}
	}

	u.queue.SweepExpired(time.Duration(u.cfg.RetentionDays) * 24 * time.Hour)

	return nil
}

// deliver splits one segment payload into batches and posts each chunk.
func (u *Uploader) deliver(ctx context.Context, payload *spool.Payload) error {
	for _, batch := range u.split(payload) {
		if err := u.post(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// split cuts a payload into LogBatches of at most MaxBatchSize events,
// preserving per-kind insertion order.
func (u *Uploader) split(payload *spool.Payload) []*models.LogBatch {
	max := u.cfg.MaxBatchSize
	var batches []*models.LogBatch

	current := u.newBatch()
	room := max

	appendBatch := func() {
		batches = append(batches, current)
		current = u.newBatch()
		room = max
	}

	for _, ev := range payload.FileEvents {
		if room == 0 {
			appendBatch()
		}
		current.FileEvents = append(current.FileEvents, ev)
		room--
	}
	for _, ev := range payload.NetworkEvents {
		if room == 0 {
			appendBatch()
		}
		current.NetworkEvents = append(current.NetworkEvents, ev)
		room--
	}
	for _, ev := range payload.AppUsageEvents {
		if room == 0 {
			appendBatch()
		}
		current.AppUsageEvents = append(current.AppUsageEvents, ev)
		room--
	}
	for _, ev := range payload.Alerts {
		if room == 0 {
			appendBatch()
		}
		current.Alerts = append(current.Alerts, ev)
		room--
	}

	if current.Len() > 0 || len(batches) == 0 {
		batches = append(batches, current)
	}

	return batches
}

func (u *Uploader) newBatch() *models.LogBatch {
	return &models.LogBatch{
		DeviceID:   u.cfg.DeviceID,
		DeviceInfo: u.deviceInfo(),
	}
}

func (u *Uploader) post(ctx context.Context, batch *models.LogBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.cfg.Endpoint+"/api/logs/ingest", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", u.cfg.APIKey)
	req.Header.Set("X-Device-Id", u.cfg.DeviceID)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	var ack ingestResponse
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return fmt.Errorf("bad acknowledgement body: %w", err)
	}

	u.log.Debug("batch acknowledged",
		zap.Int("sent", batch.Len()),
		zap.Int("received", ack.Received))

	return nil
}

func (u *Uploader) backoff() time.Duration {
	if u.failures >= backoffCapAfter {
		return backoffCap
	}
	d := backoffBase << (u.failures - 1)
	if d > backoffCap {
		return backoffCap
	}
	return d
}
