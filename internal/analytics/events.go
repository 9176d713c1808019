// Package analytics ships search and lookup events to Kafka without putting
// Kafka on the request path.
package analytics

import "time"

type EventType string

const (
	EventSearch     EventType = "search"
	EventZeroResult EventType = "zero_result"
	EventCaseView   EventType = "case_view"
	EventCaseMiss   EventType = "case_miss"
)

// SearchEvent describes one answered search. Identity is the caller's
// configured name, never the token.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Offset    int       `json:"offset"`
	Limit     int       `json:"limit"`
	Total     uint64    `json:"total"`
	Returned  int       `json:"returned"`
	Missing   int       `json:"missing"`
	Dropped   []string  `json:"dropped,omitempty"`
	CacheHit  bool      `json:"cache_hit"`
	LatencyMs int64     `json:"latency_ms"`
	Identity  string    `json:"identity,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CaseEvent struct {
	Type      EventType `json:"type"`
	CaseID    uint32    `json:"case_id"`
	LatencyMs int64     `json:"latency_ms"`
	Identity  string    `json:"identity,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
