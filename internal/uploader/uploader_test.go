package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/models"
	"github.com/0xA1M/sentinel-watch/internal/spool"
)

const testSecret = "uploader-test-secret"

func testQueue(t *testing.T, events int) *spool.Queue {
	t.Helper()

	q, err := spool.NewQueue(t.TempDir(), testSecret, true, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	for i := 0; i < events; i++ {
		q.EnqueueFile(models.FileEvent{
			ID:        models.NewEventID(),
			DeviceID:  "dev-1",
			FileName:  "report.docx",
			Action:    models.ActionWrite,
			Timestamp: models.Now(),
		})
	}
	if err := q.Flush(); err != nil {
		t.Fatalf("failed to flush queue: %v", err)
	}

	return q
}

func testUploader(q *spool.Queue, endpoint string, maxBatch int) *Uploader {
	return New(Config{
		Endpoint:              endpoint,
		APIKey:                "key-123",
		DeviceID:              "dev-1",
		MaxBatchSize:          maxBatch,
		UploadIntervalSeconds: 60,
		RetentionDays:         90,
	}, q, func() models.DeviceInfo {
		return models.DeviceInfo{DeviceID: "dev-1", Hostname: "host-1", LastSeen: models.Now()}
	}, zap.NewNop())
}

func TestCycleDeliversAndDeletesSegment(t *testing.T) {
	q := testQueue(t, 3)

	var posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)

		if r.Header.Get("X-Api-Key") != "key-123" {
			t.Errorf("missing or wrong X-Api-Key header: %q", r.Header.Get("X-Api-Key"))
		}
		if r.Header.Get("X-Device-Id") != "dev-1" {
			t.Errorf("missing X-Device-Id header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("wrong content type: %q", r.Header.Get("Content-Type"))
		}

		var batch models.LogBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("failed to decode batch: %v", err)
		}
		if batch.DeviceInfo.DeviceID != "dev-1" {
			t.Errorf("batch missing device info")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"received": batch.Len()})
	}))
	defer server.Close()

	u := testUploader(q, server.URL, 500)
	if err := u.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if posts != 1 {
		t.Errorf("expected 1 POST, got %d", posts)
	}

	names, err := q.Segments()
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("acknowledged segment was not deleted: %v", names)
	}
}

func TestFailedDeliveryPreservesSegment(t *testing.T) {
	q := testQueue(t, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	u := testUploader(q, server.URL, 500)
	if err := u.Cycle(context.Background()); err == nil {
		t.Fatal("expected cycle to fail")
	}

	names, err := q.Segments()
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(names) != 1 {
		t.Errorf("segment must be preserved on failure, got %v", names)
	}
}

func TestUnreachableServerPreservesSegment(t *testing.T) {
	q := testQueue(t, 1)

	u := testUploader(q, "http://127.0.0.1:1", 500)
	if err := u.Cycle(context.Background()); err == nil {
		t.Fatal("expected cycle to fail")
	}

	names, _ := q.Segments()
	if len(names) != 1 {
		t.Errorf("segment must survive an unreachable server, got %v", names)
	}
}

func TestOversizedSegmentSplitsAcrossPosts(t *testing.T) {
	q := testQueue(t, 5)

	var posts int32
	var total int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)

		var batch models.LogBatch
		json.NewDecoder(r.Body).Decode(&batch)
		atomic.AddInt32(&total, int32(batch.Len()))
		if batch.Len() > 2 {
			t.Errorf("batch exceeds MaxBatchSize: %d", batch.Len())
		}

		json.NewEncoder(w).Encode(map[string]int{"received": batch.Len()})
	}))
	defer server.Close()

	u := testUploader(q, server.URL, 2)
	if err := u.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if posts != 3 {
		t.Errorf("expected 3 POSTs for 5 events at batch size 2, got %d", posts)
	}
	if total != 5 {
		t.Errorf("expected 5 events delivered, got %d", total)
	}
}

func TestCorruptSegmentQuarantinedAndSkipped(t *testing.T) {
	q := testQueue(t, 1)

	// Corrupt the sealed segment, then spool a healthy one behind it.
	names, err := q.Segments()
	if err != nil || len(names) != 1 {
		t.Fatalf("expected one segment, got %v (%v)", names, err)
	}
	path := filepath.Join(q.Dir(), names[0])
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0x01
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatal(err)
	}

	q.EnqueueFile(models.FileEvent{ID: "healthy", Timestamp: models.Now()})
	if err := q.Flush(); err != nil {
		t.Fatal(err)
	}

	var delivered []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch models.LogBatch
		json.NewDecoder(r.Body).Decode(&batch)
		for _, ev := range batch.FileEvents {
			delivered = append(delivered, ev.ID)
		}
		json.NewEncoder(w).Encode(map[string]int{"received": batch.Len()})
	}))
	defer server.Close()

	u := testUploader(q, server.URL, 500)
	if err := u.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// The healthy segment got through.
	if len(delivered) != 1 || delivered[0] != "healthy" {
		t.Errorf("expected only the healthy event delivered, got %v", delivered)
	}

	// The corrupt one sits in quarantine.
	entries, err := os.ReadDir(filepath.Join(q.Dir(), spool.QuarantineDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 quarantined segment, got %d", len(entries))
	}
}

func TestBackoffEscalatesToCap(t *testing.T) {
	u := testUploader(testQueue(t, 0), "http://127.0.0.1:1", 500)

	u.failures = 1
	if got := u.backoff(); got != backoffBase {
		t.Errorf("first failure: expected %v, got %v", backoffBase, got)
	}
	u.failures = 2
	if got := u.backoff(); got != 2*backoffBase {
		t.Errorf("second failure: expected %v, got %v", 2*backoffBase, got)
	}
	u.failures = 3
	if got := u.backoff(); got != backoffCap {
		t.Errorf("third failure: expected cap %v, got %v", backoffCap, got)
	}
	u.failures = 10
	if got := u.backoff(); got != backoffCap {
		t.Errorf("later failures: expected cap %v, got %v", backoffCap, got)
	}
}
