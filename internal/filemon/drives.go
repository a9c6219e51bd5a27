package filemon

import (
	"context"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
)

// Drive is one mounted volume as seen by the drive scanner.
type Drive struct {
	Root      string
	Removable bool
	Network   bool
}

// DriveLister enumerates currently-ready drives. The production
// implementation sits on gopsutil; tests substitute fixed sets.
type DriveLister interface {
	List(ctx context.Context) ([]Drive, error)
}

// removableFstypes and networkFstypes drive the mount classification
// heuristics. gopsutil reports mount options and fstype but no explicit
// removable bit, so classification leans on fstype plus the conventional
// removable-media mount prefixes.
var (
	removableFstypes = []string{"vfat", "exfat", "msdos", "fat32"}
	networkFstypes   = []string{"cifs", "smbfs", "nfs", "nfs4", "fuse.sshfs", "webdav", "davfs", "9p"}
	removablePrefixes = []string{"/media/", "/run/media/", "/mnt/", "/Volumes/"}
)

type systemDriveLister struct{}

// NewSystemDriveLister returns a DriveLister backed by the OS mount table.
func NewSystemDriveLister() DriveLister {
	return systemDriveLister{}
}

func (systemDriveLister) List(ctx context.Context) ([]Drive, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	drives := make([]Drive, 0, len(partitions))
	for _, p := range partitions {
		fstype := strings.ToLower(p.Fstype)
		d := Drive{Root: p.Mountpoint}

		for _, n := range networkFstypes {
			if fstype == n {
				d.Network = true
				break
			}
		}
		if !d.Network {
			for _, r := range removableFstypes {
				if fstype == r {
					d.Removable = true
					break
				}
			}
			if !d.Removable {
				for _, prefix := range removablePrefixes {
					if strings.HasPrefix(p.Mountpoint, prefix) {
						d.Removable = true
						break
					}
				}
			}
		}

		drives = append(drives, d)
	}

	return drives, nil
}

// DriveTracker maintains the startup baseline and the known-external set.
// A drive is external when it is absent from the baseline or reported as
// removable regardless of baseline membership.
type DriveTracker struct {
	mu       sync.Mutex
	baseline map[string]struct{}
	external map[string]struct{}
	network  map[string]struct{}
}

// NewDriveTracker snapshots the baseline from the given drives.
func NewDriveTracker(baseline []Drive) *DriveTracker {
	t := &DriveTracker{
		baseline: make(map[string]struct{}, len(baseline)),
		external: make(map[string]struct{}),
		network:  make(map[string]struct{}),
	}
	for _, d := range baseline {
		t.baseline[normalizeRoot(d.Root)] = struct{}{}
	}
	return t
}

// DriveDelta describes the watch changes one rescan produced.
type DriveDelta struct {
	AddedExternal   []string
	AddedNetwork    []string
	RemovedExternal []string
	RemovedNetwork  []string
}

// Update diffs the current drive set against tracker state and returns
// the roots to start or stop watching.
func (t *DriveTracker) Update(current []Drive) DriveDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	var delta DriveDelta

	seenExternal := make(map[string]struct{})
	seenNetwork := make(map[string]struct{})

	for _, d := range current {
		root := normalizeRoot(d.Root)
		if d.Network {
			seenNetwork[root] = struct{}{}
			if _, known := t.network[root]; !known {
				t.network[root] = struct{}{}
				delta.AddedNetwork = append(delta.AddedNetwork, d.Root)
			}
			continue
		}

		_, inBaseline := t.baseline[root]
		if d.Removable || !inBaseline {
			seenExternal[root] = struct{}{}
			if _, known := t.external[root]; !known {
				t.external[root] = struct{}{}
				delta.AddedExternal = append(delta.AddedExternal, d.Root)
			}
		}
	}

	for root := range t.external {
		if _, ok := seenExternal[root]; !ok {
			delete(t.external, root)
			delta.RemovedExternal = append(delta.RemovedExternal, root)
		}
	}
	for root := range t.network {
		if _, ok := seenNetwork[root]; !ok {
			delete(t.network, root)
			delta.RemovedNetwork = append(delta.RemovedNetwork, root)
		}
	}

	return delta
}

// HasExternal reports whether any external drive is currently known.
func (t *DriveTracker) HasExternal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.external) > 0
}

func normalizeRoot(root string) string {
	return strings.ToLower(strings.TrimRight(root, "/\\"))
}
