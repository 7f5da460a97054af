package ws

import (
	"time"

	"github.com/hangwatch/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgDelta        MessageType = "delta"
	MsgSignal       MessageType = "signal"
	MsgSearchHealth MessageType = "search_health"
	MsgError        MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []*session.Record    `json:"sessions"`
	Signal   session.Signal       `json:"signal"`
	Health   *SearchHealthPayload `json:"health,omitempty"`
}

type DeltaPayload struct {
	Updates []*session.Record `json:"updates"`
	Removed []string          `json:"removed,omitempty"`
}

type SignalPayload struct {
	Signal session.Signal `json:"signal"`
}

// SearchHealthStatus is the coarse state of the upstream search source.
type SearchHealthStatus string

const (
	StatusHealthy  SearchHealthStatus = "healthy"
	StatusDegraded SearchHealthStatus = "degraded"
	StatusFailed   SearchHealthStatus = "failed"
)

type SearchHealthPayload struct {
	Source              string             `json:"source"`
	Status              SearchHealthStatus `json:"status"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	ErrorCount          int                `json:"errorCount"`
	SkippedTicks        int                `json:"skippedTicks"`
	State               string             `json:"state"`
	LastError           string             `json:"lastError,omitempty"`
	LastSuccess         time.Time          `json:"lastSuccess,omitempty"`
	Timestamp           time.Time          `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
