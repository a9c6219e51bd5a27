package netmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/config"
)

// fakeSnapshotter serves a settable TCP table.
type fakeSnapshotter struct {
	samples []ConnSample
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context) ([]ConnSample, error) {
	return f.samples, nil
}

func newTestMonitor(snap ConnSnapshotter) (*Monitor, *time.Time) {
	cfg := config.NetworkMonitorConfig{
		Enabled:           true,
		PollingIntervalMs: 5000,
		PrivateSubnets:    config.DefaultPrivateSubnets,
	}
	m := NewMonitor(cfg, "dev-1", snap, zap.NewNop())

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func sample(pid int32, process, remote string, port uint32, sent, recv int64) ConnSample {
	return ConnSample{
		PID:        pid,
		Process:    process,
		LocalAddr:  "198.51.100.20",
		LocalPort:  50123,
		RemoteAddr: remote,
		RemotePort: port,
		BytesSent:  sent,
		BytesRecv:  recv,
	}
}

func TestConnectionCloseEmitsAccumulatedBytes(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, clock := newTestMonitor(snap)
	ctx := context.Background()

	// First sighting: counters already at 1000/500.
	snap.samples = []ConnSample{sample(42, "curl", "203.0.113.5", 443, 1000, 500)}
	m.Poll(ctx)

	// Counters grow over two more polls.
	*clock = clock.Add(5 * time.Second)
	snap.samples = []ConnSample{sample(42, "curl", "203.0.113.5", 443, 6000, 800)}
	m.Poll(ctx)

	*clock = clock.Add(5 * time.Second)
	snap.samples = []ConnSample{sample(42, "curl", "203.0.113.5", 443, 9000, 900)}
	m.Poll(ctx)

	// Connection disappears.
	*clock = clock.Add(5 * time.Second)
	snap.samples = nil
	m.Poll(ctx)

	select {
	case ev := <-m.Events():
		assert.Equal(t, "curl", ev.ProcessName)
		assert.Equal(t, int32(42), ev.PID)
		assert.Equal(t, int64(8000), ev.BytesSent, "bytes since first sighting")
		assert.Equal(t, int64(400), ev.BytesReceived)
		assert.Equal(t, "203.0.113.5", ev.DestinationIP)
		assert.Equal(t, uint32(443), ev.DestinationPort)
		assert.Equal(t, 10.0, ev.DurationSeconds)
	default:
		t.Fatal("expected a network event")
	}
}

func TestLiveConnectionEmitsNothing(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, _ := newTestMonitor(snap)
	ctx := context.Background()

	snap.samples = []ConnSample{sample(42, "curl", "203.0.113.5", 443, 1000, 0)}
	m.Poll(ctx)
	m.Poll(ctx)

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event for live connection: %+v", ev)
	default:
	}
}

func TestPrivateSubnetDestinationsDropped(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, _ := newTestMonitor(snap)
	ctx := context.Background()

	for _, dest := range []string{"10.0.0.5", "172.16.4.1", "192.168.1.10", "127.0.0.1"} {
		snap.samples = []ConnSample{sample(42, "curl", dest, 443, 5000, 0)}
		m.Poll(ctx)
		snap.samples = nil
		m.Poll(ctx)
	}

	select {
	case ev := <-m.Events():
		t.Fatalf("private destination leaked: %+v", ev)
	default:
	}
}

func TestExcludedProcessesDropped(t *testing.T) {
	snap := &fakeSnapshotter{}
	cfg := config.NetworkMonitorConfig{
		Enabled:           true,
		PollingIntervalMs: 5000,
		ExcludedProcesses: []string{"svchost"},
		PrivateSubnets:    config.DefaultPrivateSubnets,
	}
	m := NewMonitor(cfg, "dev-1", snap, zap.NewNop())
	ctx := context.Background()

	snap.samples = []ConnSample{sample(7, "svchost", "203.0.113.5", 443, 5000, 0)}
	m.Poll(ctx)
	snap.samples = nil
	m.Poll(ctx)

	select {
	case <-m.Events():
		t.Fatal("excluded process leaked")
	default:
	}
}

func TestCounterRegressionClampsToZero(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, clock := newTestMonitor(snap)
	ctx := context.Background()

	// A restarted counter source must not produce negative byte counts.
	snap.samples = []ConnSample{sample(42, "curl", "203.0.113.5", 443, 9000, 900)}
	m.Poll(ctx)

	*clock = clock.Add(5 * time.Second)
	snap.samples = []ConnSample{sample(42, "curl", "203.0.113.5", 443, 100, 50)}
	m.Poll(ctx)

	snap.samples = nil
	m.Poll(ctx)

	select {
	case ev := <-m.Events():
		assert.GreaterOrEqual(t, ev.BytesSent, int64(0))
		assert.GreaterOrEqual(t, ev.BytesReceived, int64(0))
	default:
		t.Fatal("expected a network event")
	}
}

func TestSeparateConnectionsTrackedIndependently(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, _ := newTestMonitor(snap)
	ctx := context.Background()

	a := sample(42, "curl", "203.0.113.5", 443, 1000, 0)
	b := sample(43, "rsync", "198.51.100.9", 22, 2000, 0)
	snap.samples = []ConnSample{a, b}
	m.Poll(ctx)

	// Only the first connection closes.
	snap.samples = []ConnSample{b}
	m.Poll(ctx)

	select {
	case ev := <-m.Events():
		require.Equal(t, "curl", ev.ProcessName)
	default:
		t.Fatal("expected an event for the closed connection")
	}

	select {
	case ev := <-m.Events():
		t.Fatalf("live connection should not have closed: %+v", ev)
	default:
	}
}

func TestTimestampsAreUTC(t *testing.T) {
	snap := &fakeSnapshotter{}
	m, _ := newTestMonitor(snap)
	ctx := context.Background()

	snap.samples = []ConnSample{sample(42, "curl", "203.0.113.5", 443, 1000, 0)}
	m.Poll(ctx)
	snap.samples = nil
	m.Poll(ctx)

	ev := <-m.Events()
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
}
