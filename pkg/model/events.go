package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Canonical NATS subjects emitted by the adapter.
const (
	SubjectSignalUpdated     = "evt.emissions.signal.updated.v1"
	SubjectForecastPublished = "evt.emissions.forecast.published.v1"
	SubjectBackfillCompleted = "evt.emissions.backfill.completed.v1"
	SubjectSummaryRefreshed  = "evt.emissions.summary.refreshed.v1"
)

// Envelope is the canonical event envelope. Every message published to NATS
// follows this format so downstream consumers can route on headers without
// decoding the payload.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Source        string          `json:"source"`
	Region        string          `json:"region,omitempty"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Region is a balancing authority as tracked by the adapter.
type Region struct {
	ID     int    `json:"id"`
	Abbrev string `json:"abbrev"`
	Name   string `json:"name"`
}
