// Package events provides structured event emission for diagnostics.
package events

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventAuthOK        EventType = "auth_ok"
	EventOutOfSync     EventType = "out_of_sync"
	EventBackoffChange EventType = "backoff_changed"
	EventOutboxStats   EventType = "outbox_stats"
	EventRTCSet        EventType = "rtc_set"
	EventError         EventType = "error"
)

// Envelope wraps every emitted event with type and timestamp.
type Envelope struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateChangedData is the payload for state_changed events.
type StateChangedData struct {
	State string `json:"state"`
}

// AuthOKData is the payload for auth_ok events.
type AuthOKData struct {
	TXServer uint32 `json:"tx_server"`
}

// OutOfSyncData is the payload for out_of_sync events.
type OutOfSyncData struct {
	Count  int  `json:"count"`
	Forced bool `json:"forced_disconnect"`
}

// BackoffChangeData is the payload for backoff_changed events.
type BackoffChangeData struct {
	Backoff         bool `json:"backoff"`
	SafeToUnBackoff bool `json:"safe_to_un_backoff"`
}

// OutboxStatsData is the payload for outbox_stats events.
type OutboxStatsData struct {
	Unacked int `json:"unacked"`
}

// RTCSetData is the payload for rtc_set events.
type RTCSetData struct {
	Year    int `json:"year"`
	Month   int `json:"month"`
	Day     int `json:"day"`
	Hour    int `json:"hour"`
	Minute  int `json:"minute"`
	Second  int `json:"second"`
	Weekday int `json:"weekday"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Message string `json:"message"`
}

// Emitter is the interface for emitting structured events.
type Emitter interface {
	Emit(eventType EventType, data interface{})
	Close() error
}
