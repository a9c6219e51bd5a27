package models

import (
	"os"
	"os/user"
	"runtime"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
)

// AgentVersion is stamped into DeviceInfo on every upload.
const AgentVersion = "1.2.0"

// ActionType describes the observed file operation.
type ActionType string

const (
	ActionRead   ActionType = "Read"
	ActionWrite  ActionType = "Write"
	ActionCopy   ActionType = "Copy"
	ActionMove   ActionType = "Move"
	ActionDelete ActionType = "Delete"
	ActionRename ActionType = "Rename"
	ActionCreate ActionType = "Create"
)

// Direction describes which way a transfer crossed the endpoint boundary.
type Direction string

const (
	DirectionIncoming       Direction = "Incoming"
	DirectionOutgoing       Direction = "Outgoing"
	DirectionDeleteExternal Direction = "DeleteExternal"
	DirectionUnknown        Direction = "Unknown"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// AlertType names the correlation rule that produced an alert.
type AlertType string

const (
	AlertLargeTransfer      AlertType = "LargeTransfer"
	AlertContinuousTransfer AlertType = "ContinuousTransfer"
	AlertProbableUpload     AlertType = "ProbableUpload"
)

// File event flags assigned by the classifier and the correlation engine.
const (
	FlagNormal              = "Normal"
	FlagUsbTransfer         = "UsbTransfer"
	FlagNetworkTransfer     = "NetworkTransfer"
	FlagCloudSyncTransfer   = "CloudSyncTransfer"
	FlagInternetDownload    = "InternetDownload"
	FlagProbableUsbTransfer = "ProbableUsbTransfer"
	FlagAppTransfer         = "AppTransfer"
	FlagProbableUpload      = "ProbableUpload"
)

// Watch sources. External sources are never noise-suppressed.
const (
	SourceUserFolder   = "UserFolder"
	SourceWatched      = "Watched"
	SourceSensitive    = "Sensitive"
	SourceUSB          = "USB"
	SourceNetworkShare = "NetworkShare"
	SourceCloudSync    = "CloudSync"
)

// DeviceInfo identifies the endpoint an upload originates from.
type DeviceInfo struct {
	DeviceID     string    `json:"deviceId"`
	Hostname     string    `json:"hostname"`
	UserName     string    `json:"userName"`
	OSVersion    string    `json:"osVersion"`
	AgentVersion string    `json:"agentVersion"`
	LastSeen     Timestamp `json:"lastSeen"`
}

// FileEvent is one classified filesystem operation.
type FileEvent struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"deviceId"`
	UserName    string     `json:"userName"`
	FileName    string     `json:"fileName"`
	FilePath    string     `json:"filePath"`
	SizeBytes   int64      `json:"sizeBytes"`
	SHA256      string     `json:"sha256,omitempty"`
	Action      ActionType `json:"action"`
	Timestamp   Timestamp  `json:"timestamp"`
	ProcessName string     `json:"processName"`
	Flag        string     `json:"flag"`
	Source      string     `json:"source"`
	IsTransfer  bool       `json:"isTransfer"`
	Direction   Direction  `json:"direction"`
}

// NetworkEvent is one closed outbound TCP connection window.
type NetworkEvent struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"deviceId"`
	ProcessName     string    `json:"processName"`
	PID             int32     `json:"pid"`
	BytesSent       int64     `json:"bytesSent"`
	BytesReceived   int64     `json:"bytesReceived"`
	DestinationIP   string    `json:"destinationIp"`
	DestinationPort uint32    `json:"destinationPort"`
	DurationSeconds float64   `json:"durationSeconds"`
	Timestamp       Timestamp `json:"timestamp"`
	Flag            string    `json:"flag,omitempty"`
}

// AppUsageEvent is one closed foreground application session.
type AppUsageEvent struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"deviceId"`
	AppName         string    `json:"appName"`
	WindowTitle     string    `json:"windowTitle"`
	StartTime       Timestamp `json:"startTime"`
	DurationSeconds float64   `json:"durationSeconds"`
	PID             int32     `json:"pid"`
}

// AlertEvent is emitted by the correlation engine.
type AlertEvent struct {
	ID                 string    `json:"id"`
	DeviceID           string    `json:"deviceId"`
	Severity           Severity  `json:"severity"`
	AlertType          AlertType `json:"alertType"`
	Description        string    `json:"description"`
	RelatedFileName    string    `json:"relatedFileName,omitempty"`
	RelatedProcessName string    `json:"relatedProcessName,omitempty"`
	BytesInvolved      int64     `json:"bytesInvolved,omitempty"`
	Timestamp          Timestamp `json:"timestamp"`
}

// LogBatch is the unit of transfer between agent and server.
type LogBatch struct {
	DeviceID       string          `json:"deviceId"`
	DeviceInfo     DeviceInfo      `json:"deviceInfo"`
	FileEvents     []FileEvent     `json:"fileEvents"`
	NetworkEvents  []NetworkEvent  `json:"networkEvents"`
	AppUsageEvents []AppUsageEvent `json:"appUsageEvents"`
	Alerts         []AlertEvent    `json:"alerts"`
}

// Len returns the total number of events carried by the batch.
func (b *LogBatch) Len() int {
	return len(b.FileEvents) + len(b.NetworkEvents) + len(b.AppUsageEvents) + len(b.Alerts)
}

// NewEventID returns a globally unique event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// CollectDeviceInfo gathers the endpoint identity fields reported with
// every upload. Lookups that fail leave the field as "unknown" rather than
// blocking agent startup.
func CollectDeviceInfo(deviceID string) DeviceInfo {
	info := DeviceInfo{
		DeviceID:     deviceID,
		Hostname:     "unknown",
		UserName:     "unknown",
		OSVersion:    runtime.GOOS,
		AgentVersion: AgentVersion,
		LastSeen:     Now(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if u, err := user.Current(); err == nil {
		info.UserName = u.Username
	}
	if hi, err := host.Info(); err == nil {
		info.OSVersion = hi.Platform + " " + hi.PlatformVersion
	}

	return info
}
