// Package filemon watches the endpoint's filesystem and turns raw
// notifications into classified file events.
package filemon

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/config"
	"github.com/0xA1M/sentinel-watch/internal/models"
)

// cloudSyncFolders are well-known sync roots probed under the user profile.
var cloudSyncFolders = []string{
	"OneDrive", "Google Drive", "GoogleDrive", "Dropbox", "iCloudDrive",
	"iCloud Drive", "MEGA", "Box",
}

// userFolders are the auto-watched profile subdirectories.
var userFolders = []string{
	"Desktop", "Documents", "Downloads", "Pictures", "Videos", "Music",
}

// Monitor owns the fsnotify watcher, the watched-root table and the drive
// tracker. It emits classified FileEvents on its output channel.
type Monitor struct {
	cfg        config.FileMonitorConfig
	deviceID   string
	userName   string
	log        *zap.Logger
	classifier *Classifier
	lister     DriveLister
	tracker    *DriveTracker

	watcher *fsnotify.Watcher
	events  chan models.FileEvent
	stop    chan struct{}

	mu          sync.Mutex
	roots       map[string]string   // normalized root -> source tag
	watchedDirs map[string]struct{} // every directory with an installed watch
}

// NewMonitor builds a file monitor. attribute supplies best-effort process
// attribution (the foreground window owner at event time).
func NewMonitor(cfg config.FileMonitorConfig, deviceID, userName, spoolDir string,
	lister DriveLister, attribute func() string, log *zap.Logger) *Monitor {
	if cfg.InternalBufferSize <= 0 {
		cfg.InternalBufferSize = config.DefaultFileMonitorBufferSize
	}
	if lister == nil {
		lister = NewSystemDriveLister()
	}

	m := &Monitor{
		cfg:         cfg,
		deviceID:    deviceID,
		userName:    userName,
		log:         log,
		lister:      lister,
		events:      make(chan models.FileEvent, cfg.InternalBufferSize),
		stop:        make(chan struct{}),
		roots:       make(map[string]string),
		watchedDirs: make(map[string]struct{}),
	}
	m.classifier = NewClassifier(cfg.ExcludedExtensions, cfg.ExcludedPaths, spoolDir, attribute, func() bool {
		return m.tracker != nil && m.tracker.HasExternal()
	})

	return m
}

// Events returns the classified event stream.
func (m *Monitor) Events() <-chan models.FileEvent {
	return m.events
}

// Tracker exposes the drive tracker once Start has built it.
func (m *Monitor) Tracker() *DriveTracker {
	return m.tracker
}

// Start snapshots the drive baseline, installs the initial watch set and
// begins dispatching notifications. Watch-installation failures are
// logged and skipped; the monitor runs with whatever roots succeeded.
func (m *Monitor) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	baseline, err := m.lister.List(ctx)
	if err != nil {
		m.log.Warn("drive baseline enumeration failed", zap.Error(err))
		baseline = nil
	}
	m.tracker = NewDriveTracker(baseline)

	for root, source := range m.assembleRoots() {
		m.addRoot(root, source)
	}

	// Picks up drives that were already external at startup (removable
	// media present before the agent came up).
	m.RescanDrives(ctx)

	go m.loop()

	return nil
}

// Stop shuts the monitor down and disposes all watches.
func (m *Monitor) Stop() {
	close(m.stop)
	if m.watcher != nil {
		m.watcher.Close()
	}
}

// assembleRoots builds the startup root set, deduplicated
// case-insensitively: user folders, configured paths, sensitive
// directories and detected cloud-sync roots. Later sources win on
// collision so a configured sensitive dir inside the profile keeps its
// sensitive tag.
func (m *Monitor) assembleRoots() map[string]string {
	roots := make(map[string]string)

	add := func(path, source string) {
		if path == "" {
			return
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		roots[filepath.Clean(path)] = source
	}

	home, _ := os.UserHomeDir()

	if m.cfg.AutoWatchUserFolders && home != "" {
		for _, folder := range userFolders {
			add(filepath.Join(home, folder), models.SourceUserFolder)
		}
	}

	for _, p := range m.cfg.WatchPaths {
		add(config.ExpandPath(p), models.SourceWatched)
	}

	if home != "" {
		for _, folder := range cloudSyncFolders {
			add(filepath.Join(home, folder), models.SourceCloudSync)
		}
	}
	for _, p := range m.cfg.CloudSyncPaths {
		add(config.ExpandPath(p), models.SourceCloudSync)
	}

	for _, p := range m.cfg.SensitiveDirectories {
		add(config.ExpandPath(p), models.SourceSensitive)
	}

	// Case-insensitive dedupe: keep the first spelling seen.
	seen := make(map[string]struct{}, len(roots))
	deduped := make(map[string]string, len(roots))
	for _, root := range sortedKeys(roots) {
		key := strings.ToLower(root)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped[root] = roots[root]
	}

	return deduped
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// addRoot installs a recursive watch rooted at path with the given source.
func (m *Monitor) addRoot(path, source string) {
	m.mu.Lock()
	m.roots[strings.ToLower(filepath.Clean(path))] = source
	m.mu.Unlock()

	m.watchRecursive(path)
	m.log.Info("watching", zap.String("root", path), zap.String("source", source))
}

// removeRoot drops a root and every directory watch beneath it.
func (m *Monitor) removeRoot(path string) {
	key := strings.ToLower(filepath.Clean(path))

	m.mu.Lock()
	delete(m.roots, key)
	for dir := range m.watchedDirs {
		if strings.HasPrefix(strings.ToLower(dir), key) {
			m.watcher.Remove(dir)
			delete(m.watchedDirs, dir)
		}
	}
	m.mu.Unlock()

	m.log.Info("stopped watching", zap.String("root", path))
}

// watchRecursive walks path and installs a watch on every directory.
// Unreadable subtrees are skipped.
func (m *Monitor) watchRecursive(path string) {
	filepath.WalkDir(path, func(dir string, d fs.DirEntry, err error) error {
		if err != nil {
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if err := m.watcher.Add(dir); err != nil {
			m.log.Warn("watch install failed", zap.String("dir", dir), zap.Error(err))
			return fs.SkipDir
		}
		m.mu.Lock()
		m.watchedDirs[dir] = struct{}{}
		m.mu.Unlock()
		return nil
	})
}

// RescanDrives diffs the current drive set against the baseline, watching
// newly-external and newly-mapped network drives and dropping watches for
// drives that disappeared. Runs on a 3-second cadence from the scheduler.
func (m *Monitor) RescanDrives(ctx context.Context) {
	current, err := m.lister.List(ctx)
	if err != nil {
		m.log.Warn("drive rescan failed", zap.Error(err))
		return
	}

	delta := m.tracker.Update(current)

	if m.cfg.MonitorUsb {
		for _, root := range delta.AddedExternal {
			m.addRoot(root, models.SourceUSB)
		}
		for _, root := range delta.RemovedExternal {
			m.removeRoot(root)
		}
	}
	if m.cfg.MonitorNetworkShares {
		for _, root := range delta.AddedNetwork {
			m.addRoot(root, models.SourceNetworkShare)
		}
		for _, root := range delta.RemovedNetwork {
			m.removeRoot(root)
		}
	}
}

func (m *Monitor) loop() {
	for {
		select {
		case <-m.stop:
			return
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			// Buffer overflows and transient backend errors are logged
			// and the watcher keeps running; fsnotify re-arms itself.
			m.log.Warn("watcher error", zap.Error(err))
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

// handleEvent maps one fsnotify notification to a classified FileEvent.
// Per-event failures are swallowed; a monitor callback must never take
// the agent down.
func (m *Monitor) handleEvent(ev fsnotify.Event) {
	action, ok := mapAction(ev.Op)
	if !ok {
		return
	}

	// New directories under a watched root extend the recursive watch.
	if action == models.ActionCreate {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			m.watchRecursive(ev.Name)
			return
		}
	}

	source := m.sourceFor(ev.Name)
	if source == "" {
		return
	}
	if m.classifier.Suppress(ev.Name, source) {
		return
	}

	var size int64
	if info, err := os.Stat(ev.Name); err == nil {
		if info.IsDir() {
			return
		}
		size = info.Size()
	}

	event := models.FileEvent{
		ID:        models.NewEventID(),
		DeviceID:  m.deviceID,
		UserName:  m.userName,
		FileName:  filepath.Base(ev.Name),
		FilePath:  ev.Name,
		SizeBytes: size,
		Action:    action,
		Timestamp: models.Now(),
		Source:    source,
		Direction: models.DirectionUnknown,
	}

	m.classifier.Classify(&event)

	if m.cfg.ComputeSha256ForSensitive &&
		(source == models.SourceSensitive || source == models.SourceUSB) &&
		action != models.ActionDelete {
		event.SHA256 = hashFile(ev.Name)
	}

	select {
	case m.events <- event:
	default:
		// Channel is full; dropping beats blocking the notification path.
		m.log.Warn("file event buffer full, dropping event", zap.String("path", ev.Name))
	}
}

// sourceFor resolves the longest watched root containing path.
func (m *Monitor) sourceFor(path string) string {
	lower := strings.ToLower(filepath.Clean(path))

	m.mu.Lock()
	defer m.mu.Unlock()

	best := ""
	bestLen := -1
	for root, source := range m.roots {
		if strings.HasPrefix(lower, root) && len(root) > bestLen {
			best = source
			bestLen = len(root)
		}
	}
	return best
}

// mapAction translates fsnotify operations into the observed action set.
// Read and Move are reserved for higher-level sources and never produced
// from raw notifications.
func mapAction(op fsnotify.Op) (models.ActionType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return models.ActionCreate, true
	case op.Has(fsnotify.Write):
		return models.ActionWrite, true
	case op.Has(fsnotify.Remove):
		return models.ActionDelete, true
	case op.Has(fsnotify.Rename):
		return models.ActionRename, true
	default:
		return "", false
	}
}
