package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/models"
)

const (
	segmentSuffix = ".lgq"
	partSuffix    = ".part"
	// QuarantineDir holds segments that failed authenticated decryption.
	QuarantineDir = "quarantine"
)

// Queue buffers events in memory and periodically seals them into
// encrypted segment files under the configured spool directory. The queue
// is the only writer of new segments; the uploader reads and deletes them.
type Queue struct {
	dir     string
	secret  string
	encrypt bool
	log     *zap.Logger

	mu  sync.Mutex
	buf Payload
}

// NewQueue creates a queue rooted at dir, creating the directory and its
// quarantine subdirectory if needed.
func NewQueue(dir, secret string, encrypt bool, log *zap.Logger) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("spool: create queue dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, QuarantineDir), 0o750); err != nil {
		return nil, fmt.Errorf("spool: create quarantine dir: %w", err)
	}

	return &Queue{
		dir:     dir,
		secret:  secret,
		encrypt: encrypt,
		log:     log,
	}, nil
}

// Dir returns the spool directory. The file monitor excludes it from its
// watched roots so segment writes never feed back as file events.
func (q *Queue) Dir() string {
	return q.dir
}

// EnqueueFile appends a file event to the in-memory buffer.
func (q *Queue) EnqueueFile(ev models.FileEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.FileEvents = append(q.buf.FileEvents, ev)
}

// EnqueueNetwork appends a network event to the in-memory buffer.
func (q *Queue) EnqueueNetwork(ev models.NetworkEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.NetworkEvents = append(q.buf.NetworkEvents, ev)
}

// EnqueueAppUsage appends an app usage event to the in-memory buffer.
func (q *Queue) EnqueueAppUsage(ev models.AppUsageEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.AppUsageEvents = append(q.buf.AppUsageEvents, ev)
}

// EnqueueAlert appends an alert to the in-memory buffer.
func (q *Queue) EnqueueAlert(ev models.AlertEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.Alerts = append(q.buf.Alerts, ev)
}

// Pending returns the number of buffered, not-yet-flushed events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}

// Flush seals the current buffer into a new segment file. An empty buffer
// produces no segment. The segment is written to a *.part temp file and
// renamed atomically so a reader never observes a half-written segment.
func (q *Queue) Flush() error {
	q.mu.Lock()
	payload := q.buf
	q.buf = Payload{}
	q.mu.Unlock()

	if payload.Len() == 0 {
		return nil
	}

	var data []byte
	var err error
	if q.encrypt {
		data, err = Seal(q.secret, &payload)
	} else {
		data, err = SealPlaintext(&payload)
	}
	if err != nil {
		q.restore(&payload)
		return err
	}

	name := segmentName()
	partPath := filepath.Join(q.dir, name+partSuffix)
	finalPath := filepath.Join(q.dir, name+segmentSuffix)

	if err := os.WriteFile(partPath, data, 0o640); err != nil {
		q.restore(&payload)
		return fmt.Errorf("spool: write segment: %w", err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		os.Remove(partPath)
		q.restore(&payload)
		return fmt.Errorf("spool: seal segment: %w", err)
	}

	q.log.Debug("flushed spool segment",
		zap.String("segment", name+segmentSuffix),
		zap.Int("events", payload.Len()))

	return nil
}

// restore puts a payload back at the head of the buffer after a failed
// flush so no events are lost.
func (q *Queue) restore(payload *Payload) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.FileEvents = append(payload.FileEvents, q.buf.FileEvents...)
	q.buf.NetworkEvents = append(payload.NetworkEvents, q.buf.NetworkEvents...)
	q.buf.AppUsageEvents = append(payload.AppUsageEvents, q.buf.AppUsageEvents...)
	q.buf.Alerts = append(payload.Alerts, q.buf.Alerts...)
}

// Segments lists sealed segment files oldest-first. Segment names embed
// their creation instant, so lexical order is creation order.
func (q *Queue) Segments() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("spool: list segments: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), segmentSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

// Read opens and authenticates one segment by name.
func (q *Queue) Read(name string) (*Payload, error) {
	data, err := os.ReadFile(filepath.Join(q.dir, name))
	if err != nil {
		return nil, fmt.Errorf("spool: read segment: %w", err)
	}
	return Open(q.secret, data)
}

// Delete removes an acknowledged segment.
func (q *Queue) Delete(name string) error {
	return os.Remove(filepath.Join(q.dir, name))
}

// Quarantine moves a corrupt segment aside for later inspection instead of
// retrying the same bytes in-band.
func (q *Queue) Quarantine(name string) error {
	src := filepath.Join(q.dir, name)
	dst := filepath.Join(q.dir, QuarantineDir, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("spool: quarantine segment: %w", err)
	}
	q.log.Warn("quarantined corrupt spool segment", zap.String("segment", name))
	return nil
}

// SweepExpired deletes segments older than the retention window and
// returns how many were removed.
func (q *Queue) SweepExpired(retention time.Duration) int {
	names, err := q.Segments()
	if err != nil {
		q.log.Warn("retention sweep failed", zap.Error(err))
		return 0
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, name := range names {
		info, err := os.Stat(filepath.Join(q.dir, name))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := q.Delete(name); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		q.log.Info("removed expired spool segments", zap.Int("count", removed))
	}

	return removed
}

func segmentName() string {
	return time.Now().UTC().Format("20060102T150405.000000000") + "-" + uuid.NewString()[:8]
}
