package filemon

import (
	"path/filepath"
	"strings"

	"github.com/0xA1M/sentinel-watch/internal/models"
)

// knownBrowsers are processes whose file writes are treated as internet
// downloads.
var knownBrowsers = []string{
	"chrome", "brave", "msedge", "firefox", "opera", "vivaldi",
	"chromium", "iexplore", "safari",
}

// knownTransferApps are messaging and file-sharing processes whose file
// writes are treated as app-mediated transfers.
var knownTransferApps = []string{
	"whatsapp", "telegram", "slack", "teams", "discord", "skype", "zoom",
	"signal", "element", "thunderbird", "outlook", "filezilla", "winscp",
	"putty", "7zfm", "winrar", "torrent", "qbittorrent", "utorrent",
	"bittorrent", "sharex", "dropbox", "onedrive", "googledrivesync",
}

// noisyFragments are path substrings that mark machine-generated churn.
var noisyFragments = []string{
	"\\appdata\\local\\temp", "/tmp/", "\\temp\\", "/.cache/", "\\cache\\",
	"\\microsoft\\windows\\inetcache", "\\mozilla\\firefox\\profiles",
	"\\google\\chrome\\user data", "\\packages\\", "/node_modules/",
	"\\node_modules\\", "/.git/", "\\.git\\", "/.svn/", "\\.svn\\",
	"$recycle.bin", "system volume information", "/obj/", "\\obj\\",
	"/bin/debug", "\\bin\\debug", "/bin/release", "\\bin\\release",
	"/target/debug", "/target/release", "\\.vs\\", "/.idea/", "\\.idea\\",
}

// noisyExtensions are transient file types dropped outside external watches.
var noisyExtensions = []string{
	".tmp", ".temp", ".crdownload", ".partial", ".part", ".lock", ".lck",
	".journal", ".wal", ".shm", ".etl", ".log", ".cache", ".swp", ".swo",
	".bak", ".db-journal", ".ldb",
}

// Classifier turns raw filesystem notifications into classified file
// events. All rule state is immutable after construction except the
// known-external set, which the drive scanner owns.
type Classifier struct {
	excludedExtensions []string
	excludedPaths      []string
	spoolDir           string

	// attribute resolves the foreground process at event time. Best
	// effort: OS notifications carry no originating process, so the
	// foreground window owner stands in for it.
	attribute func() string

	hasExternal func() bool
}

// NewClassifier builds a classifier. attribute may return "" when no
// foreground process can be resolved; hasExternal reports whether any
// external drive is currently known.
func NewClassifier(excludedExtensions, excludedPaths []string, spoolDir string,
	attribute func() string, hasExternal func() bool) *Classifier {
	lowered := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(s)
		}
		return out
	}
	if attribute == nil {
		attribute = func() string { return "" }
	}
	if hasExternal == nil {
		hasExternal = func() bool { return false }
	}

	return &Classifier{
		excludedExtensions: lowered(excludedExtensions),
		excludedPaths:      lowered(excludedPaths),
		spoolDir:           strings.ToLower(spoolDir),
		attribute:          attribute,
		hasExternal:        hasExternal,
	}
}

// externalSource reports whether a watch source bypasses noise suppression.
func externalSource(source string) bool {
	switch source {
	case models.SourceUSB, models.SourceNetworkShare, models.SourceCloudSync:
		return true
	}
	return false
}

// Suppress reports whether an event should be dropped as noise. Events
// from external, cloud and network watches are never suppressed.
func (c *Classifier) Suppress(path, source string) bool {
	if externalSource(source) {
		return false
	}

	lower := strings.ToLower(path)

	if c.spoolDir != "" && strings.Contains(lower, c.spoolDir) {
		return true
	}
	if IsBuiltinNoise(path) {
		return true
	}

	ext := strings.ToLower(filepath.Ext(lower))
	for _, excluded := range c.excludedExtensions {
		if ext == excluded {
			return true
		}
	}
	for _, excluded := range c.excludedPaths {
		if strings.Contains(lower, excluded) {
			return true
		}
	}

	return false
}

// IsBuiltinNoise reports whether a path matches the built-in noisy
// fragments, transient extensions, or hidden/temp file naming. The server
// applies the same predicate at query time so legacy agents uploading
// unfiltered events do not pollute results.
func IsBuiltinNoise(path string) bool {
	lower := strings.ToLower(path)

	for _, fragment := range noisyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(lower))
	for _, noisy := range noisyExtensions {
		if ext == noisy {
			return true
		}
	}

	name := filepath.Base(path)
	return strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".")
}

// Classify applies the transfer rules in order, first match wins, and
// rewrites the event in place.
func (c *Classifier) Classify(ev *models.FileEvent) {
	// Rule 1: writes observed on an external watch are outbound copies.
	if externalSource(ev.Source) && (ev.Action == models.ActionCreate || ev.Action == models.ActionWrite) {
		switch ev.Source {
		case models.SourceUSB:
			ev.Flag = models.FlagUsbTransfer
		case models.SourceNetworkShare:
			ev.Flag = models.FlagNetworkTransfer
		case models.SourceCloudSync:
			ev.Flag = models.FlagCloudSyncTransfer
		}
		ev.Action = models.ActionCopy
		ev.IsTransfer = true
		ev.Direction = models.DirectionOutgoing
		return
	}

	// Rule 2: deletions on external media.
	if externalSource(ev.Source) && ev.Action == models.ActionDelete {
		ev.Flag = models.FlagNormal
		ev.Direction = models.DirectionDeleteExternal
		return
	}

	proc := strings.ToLower(ev.ProcessName)
	if proc == "" {
		proc = strings.ToLower(c.attribute())
		ev.ProcessName = proc
	}
	writeLike := ev.Action == models.ActionCreate || ev.Action == models.ActionWrite

	// Rule 3: browser writes are internet downloads.
	if writeLike && ev.SizeBytes > 0 && matchesProcess(proc, knownBrowsers) {
		ev.Flag = models.FlagInternetDownload
		ev.Action = models.ActionCopy
		ev.IsTransfer = true
		ev.Direction = models.DirectionIncoming
		return
	}

	// Rule 4: new files while an external drive is attached are probable
	// inbound copies from it.
	if ev.Action == models.ActionCreate && ev.SizeBytes > 0 && c.hasExternal() {
		ev.Flag = models.FlagProbableUsbTransfer
		ev.Action = models.ActionCopy
		ev.IsTransfer = true
		ev.Direction = models.DirectionIncoming
		return
	}

	// Rule 5: messaging and file-sharing app writes.
	if writeLike && ev.SizeBytes > 0 && matchesProcess(proc, knownTransferApps) {
		ev.Flag = models.FlagAppTransfer
		ev.Action = models.ActionCopy
		ev.IsTransfer = true
		ev.Direction = models.DirectionIncoming
		return
	}

	// Rule 6: everything else is ordinary activity.
	ev.Flag = models.FlagNormal
	if ev.Direction == "" {
		ev.Direction = models.DirectionUnknown
	}
}

func matchesProcess(proc string, known []string) bool {
	if proc == "" {
		return false
	}
	proc = strings.TrimSuffix(proc, ".exe")
	for _, k := range known {
		if strings.Contains(proc, k) {
			return true
		}
	}
	return false
}
