// Package backup replicates ingested batches to a document store, best
// effort. Failures are logged and never surfaced to the ingest path.
package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/0xA1M/sentinel-watch/internal/models"
)

// chunkSize bounds one replication write so a large batch never holds a
// connection for long.
const chunkSize = 450

// Record is the flattened document form of one event.
type Record struct {
	ID        string    `gorm:"primaryKey"`
	DeviceID  string    `gorm:"index"`
	Kind      string    `gorm:"index"`
	Timestamp time.Time `gorm:"index"`
	Payload   string    // event JSON, schema-free on purpose
}

// TableName keeps the table name stable across gorm naming strategies.
func (Record) TableName() string {
	return "backup_records"
}

// Connect opens the backup database and ensures the schema exists.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("backup: connect: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("backup: migrate: %w", err)
	}
	return db, nil
}

// Replicator feeds chunks to a single writer goroutine through a bounded
// channel, keeping backup I/O off the ingest path entirely.
type Replicator struct {
	db   *gorm.DB
	log  *zap.Logger
	ch   chan []Record
	done chan struct{}
}

// NewReplicator starts the writer goroutine. A nil db yields a disabled
// replicator whose Schedule is a no-op.
func NewReplicator(db *gorm.DB, log *zap.Logger) *Replicator {
	r := &Replicator{
		db:   db,
		log:  log,
		ch:   make(chan []Record, 64),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Schedule enqueues a batch for asynchronous replication in chunks.
// Never blocks: when the writer is saturated, chunks are dropped with a
// warning because the primary store already holds the data.
func (r *Replicator) Schedule(batch *models.LogBatch) {
	if r.db == nil {
		return
	}

	records := flatten(batch)
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		select {
		case r.ch <- records[start:end]:
		default:
			r.log.Warn("backup writer saturated, dropping chunk",
				zap.Int("records", end-start))
		}
	}
}

// Close stops accepting work and waits for the writer to drain.
func (r *Replicator) Close() {
	close(r.ch)
	<-r.done
}

func (r *Replicator) run() {
	defer close(r.done)

	for chunk := range r.ch {
		if err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&chunk).Error; err != nil {
			r.log.Warn("backup replication failed", zap.Error(err), zap.Int("records", len(chunk)))
		}
	}
}

func flatten(batch *models.LogBatch) []Record {
	records := make([]Record, 0, batch.Len())

	add := func(id, kind string, ts models.Timestamp, v any) {
		if id == "" {
			return
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		records = append(records, Record{
			ID:        id,
			DeviceID:  batch.DeviceID,
			Kind:      kind,
			Timestamp: ts.Time,
			Payload:   string(payload),
		})
	}

	for _, ev := range batch.FileEvents {
		add(ev.ID, "file", ev.Timestamp, ev)
	}
	for _, ev := range batch.NetworkEvents {
		add(ev.ID, "network", ev.Timestamp, ev)
	}
	for _, ev := range batch.AppUsageEvents {
		add(ev.ID, "app_usage", ev.StartTime, ev)
	}
	for _, ev := range batch.Alerts {
		add(ev.ID, "alert", ev.Timestamp, ev)
	}

	return records
}
