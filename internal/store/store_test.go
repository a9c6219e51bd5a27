package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xA1M/sentinel-watch/internal/models"
)

func testBatch() *models.LogBatch {
	return &models.LogBatch{
		DeviceID: "dev-1",
		DeviceInfo: models.DeviceInfo{
			DeviceID: "dev-1",
			Hostname: "host-1",
			UserName: "alice",
		},
		FileEvents: []models.FileEvent{
			{
				ID: "f1", DeviceID: "dev-1", FileName: "report.docx",
				FilePath: `C:\Users\alice\Desktop\report.docx`,
				Action:   models.ActionWrite, Flag: models.FlagNormal,
				Source: models.SourceUserFolder, Timestamp: models.Now(),
			},
			{
				ID: "f2", DeviceID: "dev-1", FileName: "secret.docx",
				FilePath: `E:\secret.docx`, Action: models.ActionCopy,
				Flag: models.FlagUsbTransfer, Source: models.SourceUSB,
				IsTransfer: true, Direction: models.DirectionOutgoing,
				Timestamp: models.Now(),
			},
		},
		NetworkEvents: []models.NetworkEvent{
			{
				ID: "n1", DeviceID: "dev-1", ProcessName: "curl",
				BytesSent: 26_214_400, DestinationIP: "203.0.113.5",
				Timestamp: models.Now(),
			},
		},
		AppUsageEvents: []models.AppUsageEvent{
			{
				ID: "u1", DeviceID: "dev-1", AppName: "chrome",
				DurationSeconds: 120, StartTime: models.Now(),
			},
		},
		Alerts: []models.AlertEvent{
			{
				ID: "a1", DeviceID: "dev-1", Severity: models.SeverityCritical,
				AlertType: models.AlertLargeTransfer, Timestamp: models.Now(),
			},
		},
	}
}

func TestCommitBatchCounts(t *testing.T) {
	s := New()
	assert.Equal(t, 5, s.CommitBatch(testBatch()))
}

func TestIdempotentUpsert(t *testing.T) {
	s := New()
	s.CommitBatch(testBatch())

	// Re-upload the same batch with one record changed: the store must
	// hold exactly the most recently posted copy, no duplicates.
	again := testBatch()
	again.FileEvents[0].FileName = "report-v2.docx"
	s.CommitBatch(again)

	events := s.FileEvents(EventFilter{})
	require.Len(t, events, 2)

	var found bool
	for _, ev := range events {
		if ev.ID == "f1" {
			found = true
			assert.Equal(t, "report-v2.docx", ev.FileName)
		}
	}
	assert.True(t, found)
}

func TestDevicesOrderedByLastSeen(t *testing.T) {
	s := New()

	b1 := testBatch()
	s.CommitBatch(b1)
	time.Sleep(2 * time.Millisecond)

	b2 := testBatch()
	b2.DeviceID = "dev-2"
	b2.DeviceInfo.DeviceID = "dev-2"
	s.CommitBatch(b2)

	devices := s.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "dev-2", devices[0].DeviceID)
	assert.Equal(t, "dev-1", devices[1].DeviceID)
}

func TestAlertSeverityFilter(t *testing.T) {
	s := New()
	batch := testBatch()
	batch.Alerts = append(batch.Alerts, models.AlertEvent{
		ID: "a2", DeviceID: "dev-1", Severity: models.SeverityHigh,
		AlertType: models.AlertProbableUpload, Timestamp: models.Now(),
	})
	s.CommitBatch(batch)

	critical := s.Alerts(EventFilter{Severity: models.SeverityCritical})
	require.Len(t, critical, 1)
	assert.Equal(t, "a1", critical[0].ID)

	all := s.Alerts(EventFilter{})
	assert.Len(t, all, 2)
}

func TestCutoffFiltersOldEvents(t *testing.T) {
	s := New()
	batch := testBatch()
	batch.Alerts[0].Timestamp = models.At(time.Now().Add(-48 * time.Hour))
	s.CommitBatch(batch)

	recent := s.Alerts(EventFilter{Cutoff: time.Now().Add(-24 * time.Hour)})
	assert.Empty(t, recent)
}

func TestLimitTruncatesResults(t *testing.T) {
	s := New()
	batch := &models.LogBatch{DeviceID: "dev-1"}
	for i := 0; i < 20; i++ {
		batch.NetworkEvents = append(batch.NetworkEvents, models.NetworkEvent{
			ID: models.NewEventID(), DeviceID: "dev-1", Timestamp: models.Now(),
		})
	}
	s.CommitBatch(batch)

	assert.Len(t, s.NetworkEvents(EventFilter{Limit: 5}), 5)
}

func TestNoiseMirrorHidesLegacyUploads(t *testing.T) {
	s := New()
	batch := testBatch()
	// A legacy agent uploading unfiltered temp churn.
	batch.FileEvents = append(batch.FileEvents, models.FileEvent{
		ID: "f3", DeviceID: "dev-1",
		FilePath: `C:\Users\alice\AppData\Local\Temp\x.tmp`,
		Action:   models.ActionCreate, Flag: models.FlagNormal,
		Timestamp: models.Now(),
	})
	s.CommitBatch(batch)

	events := s.FileEvents(EventFilter{})
	for _, ev := range events {
		assert.NotEqual(t, "f3", ev.ID)
	}
}

func TestTransfersFilter(t *testing.T) {
	s := New()
	batch := testBatch()
	batch.FileEvents = append(batch.FileEvents, models.FileEvent{
		ID: "f4", DeviceID: "dev-1", FileName: "Report.xlsx",
		FilePath: `C:\Users\alice\Documents\Report.xlsx`,
		Action:   models.ActionRead, Flag: models.FlagProbableUpload,
		Source: models.SourceUserFolder, Timestamp: models.Now(),
	})
	s.CommitBatch(batch)

	transfers := s.Transfers(EventFilter{})
	ids := make(map[string]struct{})
	for _, ev := range transfers {
		ids[ev.ID] = struct{}{}
	}

	// USB source and ProbableUpload flag qualify; the plain write does not.
	assert.Contains(t, ids, "f2")
	assert.Contains(t, ids, "f4")
	assert.NotContains(t, ids, "f1")
}

func TestTopProcessesByBytes(t *testing.T) {
	s := New()
	batch := &models.LogBatch{DeviceID: "dev-1"}
	batch.NetworkEvents = []models.NetworkEvent{
		{ID: "n1", DeviceID: "dev-1", ProcessName: "curl", BytesSent: 100, Timestamp: models.Now()},
		{ID: "n2", DeviceID: "dev-1", ProcessName: "curl", BytesSent: 200, Timestamp: models.Now()},
		{ID: "n3", DeviceID: "dev-1", ProcessName: "rsync", BytesSent: 50, Timestamp: models.Now()},
	}
	s.CommitBatch(batch)

	top := s.TopProcessesByBytes(time.Now().Add(-time.Hour), 10)
	require.Len(t, top, 2)
	assert.Equal(t, "curl", top[0].Process)
	assert.Equal(t, int64(300), top[0].BytesSent)
	assert.Equal(t, 2, top[0].Connections)
}

func TestTopTalkers(t *testing.T) {
	s := New()

	b1 := testBatch()
	s.CommitBatch(b1)

	b2 := &models.LogBatch{
		DeviceID:   "dev-2",
		DeviceInfo: models.DeviceInfo{DeviceID: "dev-2", UserName: "bob"},
		NetworkEvents: []models.NetworkEvent{
			{ID: "n9", DeviceID: "dev-2", ProcessName: "scp", BytesSent: 999_999_999,
				DestinationIP: "198.51.100.1", Timestamp: models.Now()},
			{ID: "n10", DeviceID: "dev-2", ProcessName: "scp", BytesSent: 1,
				DestinationIP: "198.51.100.2", Timestamp: models.Now()},
		},
	}
	s.CommitBatch(b2)

	talkers := s.TopTalkers(time.Now().Add(-time.Hour), 10)
	require.NotEmpty(t, talkers)
	assert.Equal(t, "dev-2", talkers[0].DeviceID)
	assert.Equal(t, "bob", talkers[0].UserName)
	assert.Equal(t, 2, talkers[0].DistinctDestinations)
}

func TestCountSummary(t *testing.T) {
	s := New()
	s.CommitBatch(testBatch())

	counts := s.Count(time.Now().Add(-time.Hour))
	assert.Equal(t, 1, counts.Devices)
	assert.Equal(t, 2, counts.FileEvents)
	assert.Equal(t, 1, counts.NetworkEvents)
	assert.Equal(t, 1, counts.AppUsageEvents)
	assert.Equal(t, 1, counts.Alerts)
	assert.Equal(t, 1, counts.CriticalAlerts)
	assert.Equal(t, 1, counts.Transfers)
}
