package models

import "time"

// WorkSessionBaseline is the server-side daily aggregate for one user and
// one calendar day. Found distinguishes "no row yet" from a row holding
// zero values; the tracker must not treat an absent row as confirmed zero
// activity.
type WorkSessionBaseline struct {
	ActiveSeconds int64      `json:"active_seconds"`
	IdleSeconds   int64      `json:"idle_seconds"`
	OnCallSeconds int64      `json:"on_call_seconds"`
	SessionStart  *time.Time `json:"session_start,omitempty"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	Found         bool       `json:"-"`
}

// WorkSessionRow is the backend table projection for work sessions
type WorkSessionRow struct {
	UserID        string     `json:"user_id"`
	SessionDate   string     `json:"session_date"` // YYYY-MM-DD
	ActiveSeconds int64      `json:"active_seconds"`
	IdleSeconds   int64      `json:"idle_seconds"`
	OnCallSeconds int64      `json:"on_call_seconds"`
	SessionStart  *time.Time `json:"session_start,omitempty"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
}
