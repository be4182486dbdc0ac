package models

import "time"

// Status is the presence status of a user on one device
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOnCall  Status = "on_call"
	StatusOffline Status = "offline"
)

// ActivityState is the locally persisted tracking state for the current
// session. One instance per running agent; survives restarts within the
// same calendar day.
type ActivityState struct {
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"lastActivity"`
	SessionStart time.Time `json:"sessionStart"`
	ActiveTime   int64     `json:"activeTime"` // milliseconds
	IdleTime     int64     `json:"idleTime"`   // milliseconds
	IsOnCall     bool      `json:"isOnCall"`

	LowActivityAlertShown bool `json:"lowActivityAlertShown"`

	// High-water marks of the last merged server values. A server read is
	// fresh only when it exceeds these.
	LastServerActiveSeconds int64 `json:"lastServerActiveSeconds"`
	LastServerIdleSeconds   int64 `json:"lastServerIdleSeconds"`

	// The server-supplied session start is adopted at most once per session
	ServerSessionStartApplied bool `json:"serverSessionStartApplied"`
}

// PresenceSnapshot is one tracked interval reported to the backend
type PresenceSnapshot struct {
	UserID    string `json:"userId"`
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Status    string `json:"status"`
	Duration  *int64 `json:"duration,omitempty"` // milliseconds in the prior status
}

// SnapshotBatch is a batch of snapshots sent to the backend
type SnapshotBatch struct {
	Snapshots      []PresenceSnapshot `json:"snapshots"`
	DeviceID       string             `json:"deviceId"`
	BatchTimestamp int64              `json:"batchTimestamp"` // Unix milliseconds
}
