package models

import "time"

// ChangeType is the kind of change carried by a message event
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChatMessageEvent is a transient change-feed event for one message record.
// It drives cache invalidation and alerting only and is never stored.
type ChatMessageEvent struct {
	Change    ChangeType `json:"change"`
	MessageID string     `json:"message_id"`
	ClientID  string     `json:"client_id"` // conversation/thread identifier
	Direction string     `json:"direction"` // incoming or outgoing
	Preview   string     `json:"preview"`
	CreatedAt time.Time  `json:"created_at"`
}

// Incoming reports whether the event is a message authored by the other party
func (e ChatMessageEvent) Incoming() bool {
	return e.Direction == DirectionIncoming
}

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// ChatMessageRow is the backend table projection for message records
type ChatMessageRow struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Direction string    `json:"direction"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
