package netmon

import (
	"context"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ConnSample is one observed outbound TCP connection with cumulative byte
// counters. Counters are whatever the platform exposes: per-connection
// where available, otherwise per-process totals attributed to the
// connection (an approximation the monitor diffs against itself, so only
// deltas matter).
type ConnSample struct {
	PID        int32
	Process    string
	LocalAddr  string
	LocalPort  uint32
	RemoteAddr string
	RemotePort uint32
	BytesSent  int64
	BytesRecv  int64
}

// ConnSnapshotter takes one snapshot of the OS TCP table.
type ConnSnapshotter interface {
	Snapshot(ctx context.Context) ([]ConnSample, error)
}

type systemSnapshotter struct {
	names map[int32]string // pid -> process name cache
}

// NewSystemSnapshotter returns a ConnSnapshotter over the OS TCP table.
func NewSystemSnapshotter() ConnSnapshotter {
	return &systemSnapshotter{names: make(map[int32]string)}
}

func (s *systemSnapshotter) Snapshot(ctx context.Context) ([]ConnSample, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}

	counters := make(map[int32][2]int64)
	samples := make([]ConnSample, 0, len(conns))

	for _, conn := range conns {
		if conn.Status != "ESTABLISHED" || conn.Pid == 0 || conn.Raddr.Port == 0 {
			continue
		}

		sample := ConnSample{
			PID:        conn.Pid,
			Process:    s.processName(ctx, conn.Pid),
			LocalAddr:  conn.Laddr.IP,
			LocalPort:  conn.Laddr.Port,
			RemoteAddr: conn.Raddr.IP,
			RemotePort: conn.Raddr.Port,
		}

		sent, recv := s.processCounters(ctx, conn.Pid, counters)
		sample.BytesSent = sent
		sample.BytesRecv = recv

		samples = append(samples, sample)
	}

	return samples, nil
}

func (s *systemSnapshotter) processName(ctx context.Context, pid int32) string {
	if name, ok := s.names[pid]; ok {
		return name
	}

	name := "unknown"
	if proc, err := process.NewProcessWithContext(ctx, pid); err == nil {
		if n, err := proc.NameWithContext(ctx); err == nil {
			name = strings.ToLower(n)
		}
	}
	s.names[pid] = name

	return name
}

// processCounters reads per-process network IO totals, memoized per
// snapshot so a process with many sockets costs one read.
func (s *systemSnapshotter) processCounters(ctx context.Context, pid int32, cache map[int32][2]int64) (int64, int64) {
	if c, ok := cache[pid]; ok {
		return c[0], c[1]
	}

	var sent, recv int64
	if proc, err := process.NewProcessWithContext(ctx, pid); err == nil {
		if stats, err := proc.NetIOCountersWithContext(ctx, false); err == nil && len(stats) > 0 {
			sent = int64(stats[0].BytesSent)
			recv = int64(stats[0].BytesRecv)
		}
	}
	cache[pid] = [2]int64{sent, recv}

	return sent, recv
}
