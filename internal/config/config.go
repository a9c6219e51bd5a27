package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults applied when an option is absent from the environment.
const (
	DefaultUploadIntervalSeconds        = 60
	DefaultMaxBatchSize                 = 500
	DefaultFileMonitorBufferSize        = 4096
	DefaultAppPollingIntervalMs         = 3000
	DefaultNetPollingIntervalMs         = 5000
	DefaultLargeTransferThresholdBytes  = 25 * 1024 * 1024
	DefaultContinuousThresholdBytes     = 30 * 1024 * 1024
	DefaultContinuousWindowMinutes      = 10
	DefaultProbableUploadThresholdBytes = 5 * 1024 * 1024
	DefaultProbableUploadWindowSeconds  = 15
	DefaultLogRetentionDays             = 90
)

// DefaultPrivateSubnets are destination prefixes the network monitor drops.
var DefaultPrivateSubnets = []string{"10.", "172.16.", "192.168.", "127."}

var (
	ErrMissingAPIKey      = errors.New("config: ApiKey is required")
	ErrMissingAPIEndpoint = errors.New("config: ApiEndpoint is required")
	ErrMissingQueuePath   = errors.New("config: LocalQueuePath is required")
)

// FileMonitorConfig controls the filesystem watcher and classifier.
type FileMonitorConfig struct {
	Enabled                  bool
	WatchPaths               []string
	SensitiveDirectories     []string
	CloudSyncPaths           []string
	ComputeSha256ForSensitive bool
	MonitorUsb               bool
	MonitorNetworkShares     bool
	ExcludedExtensions       []string
	ExcludedPaths            []string
	AutoWatchUserFolders     bool
	InternalBufferSize       int
}

// AppMonitorConfig controls foreground application sampling.
type AppMonitorConfig struct {
	Enabled           bool
	PollingIntervalMs int
	ExcludedProcesses []string
}

// NetworkMonitorConfig controls TCP table polling.
type NetworkMonitorConfig struct {
	Enabled           bool
	PollingIntervalMs int
	ExcludedProcesses []string
	PrivateSubnets    []string
}

// CorrelationConfig holds the rule thresholds for the correlation engine.
type CorrelationConfig struct {
	Enabled                         bool
	LargeTransferThresholdBytes     int64
	ContinuousTransferThresholdBytes int64
	ContinuousTransferWindowMinutes int
	ProbableUploadThresholdBytes    int64
	ProbableUploadWindowSeconds     int
}

// SecurityConfig holds spool encryption and retention settings.
type SecurityConfig struct {
	EncryptLocalQueue bool
	TamperDetection   bool
	LocalQueuePath    string
	LocalLogPath      string
	LogRetentionDays  int
	QueueSecret       string
}

// Config is the agent's full option surface. It is immutable after Load.
type Config struct {
	DeviceID              string
	APIEndpoint           string
	APIKey                string
	UploadIntervalSeconds int
	MaxBatchSize          int

	FileMonitor    FileMonitorConfig
	AppMonitor     AppMonitorConfig
	NetworkMonitor NetworkMonitorConfig
	Correlation    CorrelationConfig
	Security       SecurityConfig
}

// Load assembles the agent configuration from the environment. Missing
// required secrets fail fast so a misconfigured agent never runs silent.
func Load() (*Config, error) {
	cfg := &Config{
		DeviceID:              getEnv("DEVICE_ID", defaultDeviceID()),
		APIEndpoint:           os.Getenv("API_ENDPOINT"),
		APIKey:                os.Getenv("API_KEY"),
		UploadIntervalSeconds: getEnvInt("UPLOAD_INTERVAL_SECONDS", DefaultUploadIntervalSeconds),
		MaxBatchSize:          getEnvInt("MAX_BATCH_SIZE", DefaultMaxBatchSize),

		FileMonitor: FileMonitorConfig{
			Enabled:                  getEnvBool("FILE_MONITOR_ENABLED", true),
			WatchPaths:               ExpandPaths(getEnvList("FILE_MONITOR_WATCH_PATHS")),
			SensitiveDirectories:     ExpandPaths(getEnvList("FILE_MONITOR_SENSITIVE_DIRS")),
			CloudSyncPaths:           ExpandPaths(getEnvList("FILE_MONITOR_CLOUD_SYNC_PATHS")),
			ComputeSha256ForSensitive: getEnvBool("FILE_MONITOR_COMPUTE_SHA256", true),
			MonitorUsb:               getEnvBool("FILE_MONITOR_USB", true),
			MonitorNetworkShares:     getEnvBool("FILE_MONITOR_NETWORK_SHARES", true),
			ExcludedExtensions:       getEnvList("FILE_MONITOR_EXCLUDED_EXTENSIONS"),
			ExcludedPaths:            ExpandPaths(getEnvList("FILE_MONITOR_EXCLUDED_PATHS")),
			AutoWatchUserFolders:     getEnvBool("FILE_MONITOR_AUTO_USER_FOLDERS", true),
			InternalBufferSize:       getEnvInt("FILE_MONITOR_BUFFER_SIZE", DefaultFileMonitorBufferSize),
		},
		AppMonitor: AppMonitorConfig{
			Enabled:           getEnvBool("APP_MONITOR_ENABLED", true),
			PollingIntervalMs: getEnvInt("APP_MONITOR_POLLING_INTERVAL_MS", DefaultAppPollingIntervalMs),
			ExcludedProcesses: getEnvList("APP_MONITOR_EXCLUDED_PROCESSES"),
		},
		NetworkMonitor: NetworkMonitorConfig{
			Enabled:           getEnvBool("NETWORK_MONITOR_ENABLED", true),
			PollingIntervalMs: getEnvInt("NETWORK_MONITOR_POLLING_INTERVAL_MS", DefaultNetPollingIntervalMs),
			ExcludedProcesses: getEnvList("NETWORK_MONITOR_EXCLUDED_PROCESSES"),
			PrivateSubnets:    getEnvListDefault("NETWORK_MONITOR_PRIVATE_SUBNETS", DefaultPrivateSubnets),
		},
		Correlation: CorrelationConfig{
			Enabled:                         getEnvBool("CORRELATION_ENABLED", true),
			LargeTransferThresholdBytes:     getEnvInt64("CORRELATION_LARGE_TRANSFER_BYTES", DefaultLargeTransferThresholdBytes),
			ContinuousTransferThresholdBytes: getEnvInt64("CORRELATION_CONTINUOUS_BYTES", DefaultContinuousThresholdBytes),
			ContinuousTransferWindowMinutes: getEnvInt("CORRELATION_CONTINUOUS_WINDOW_MINUTES", DefaultContinuousWindowMinutes),
			ProbableUploadThresholdBytes:    getEnvInt64("CORRELATION_PROBABLE_UPLOAD_BYTES", DefaultProbableUploadThresholdBytes),
			ProbableUploadWindowSeconds:     getEnvInt("CORRELATION_PROBABLE_UPLOAD_WINDOW_SECONDS", DefaultProbableUploadWindowSeconds),
		},
		Security: SecurityConfig{
			EncryptLocalQueue: getEnvBool("SECURITY_ENCRYPT_LOCAL_QUEUE", true),
			TamperDetection:   getEnvBool("SECURITY_TAMPER_DETECTION", true),
			LocalQueuePath:    ExpandPath(getEnv("SECURITY_LOCAL_QUEUE_PATH", defaultQueuePath())),
			LocalLogPath:      ExpandPath(os.Getenv("SECURITY_LOCAL_LOG_PATH")),
			LogRetentionDays:  getEnvInt("SECURITY_LOG_RETENTION_DAYS", DefaultLogRetentionDays),
			QueueSecret:       getEnv("SECURITY_QUEUE_SECRET", os.Getenv("API_KEY")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the options an agent cannot run without.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.APIEndpoint == "" {
		return ErrMissingAPIEndpoint
	}
	if c.Security.LocalQueuePath == "" {
		return ErrMissingQueuePath
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("config: MaxBatchSize must be positive, got %d", c.MaxBatchSize)
	}
	return nil
}

// ExpandPath resolves ${VAR} and %VAR% references against the environment.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	// Windows-style %VAR% references are rewritten to ${VAR} first.
	for strings.Count(path, "%") >= 2 {
		start := strings.Index(path, "%")
		end := strings.Index(path[start+1:], "%")
		if end < 0 {
			break
		}
		name := path[start+1 : start+1+end]
		path = path[:start] + "${" + name + "}" + path[start+2+end:]
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// ExpandPaths applies ExpandPath to every element.
func ExpandPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if expanded := ExpandPath(p); expanded != "" && expanded != "." {
			out = append(out, expanded)
		}
	}
	return out
}

func defaultDeviceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return hostname
}

func defaultQueuePath() string {
	return filepath.Join(os.TempDir(), "sentinel-watch", "queue")
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvList(key string) []string {
	return getEnvListDefault(key, nil)
}

func getEnvListDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
