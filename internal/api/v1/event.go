package v1

import (
	"fmt"
	"time"
)

// Event is the atomic unit of the system.
// It separates the "Envelope" (System Attributes) from the "Letter" (Data).
type Event struct {
	// --- System Attributes (The Envelope) ---

	// ID is the deterministic identifier assigned at ingestion time from the
	// event timestamp and identity hash. Replaying the same submission yields
	// the same ID, which is what makes ingestion idempotent.
	ID string `json:"id"`

	// Type is the domain-specific event name (e.g. "file-download",
	// "record-view"). It selects the partition family the event lands in and
	// the schema registry entry it is validated against.
	Type string `json:"type"`

	// SchemaVersion allows the 'Data' structure to evolve without breaking
	// consumers.
	SchemaVersion int `json:"schema_version"`

	// OccurredAt is when the event happened in the real world (client-side
	// clock). It decides which period partition stores the event.
	OccurredAt time.Time `json:"occurred_at"`

	// IngestedAt is when the collector received the event (server-side
	// clock). Set by the ingestion service, not the submitter.
	IngestedAt time.Time `json:"ingested_at"`

	// VisitorID identifies the anonymized actor behind the event and is part
	// of the identity hash used for deduplication.
	VisitorID string `json:"visitor_id,omitempty"`

	// UserAgent is the raw client user agent, kept for robot detection.
	UserAgent string `json:"user_agent,omitempty"`

	// UniqueID joins the payload fields that identify the subject of the
	// event (e.g. "<bucket_id>_<file_id>"). Set by the ingestion pipeline.
	UniqueID string `json:"unique_id,omitempty"`

	// IsRobot marks events produced by known crawlers and monitoring agents.
	// Stamped during preprocessing so downstream consumers never re-parse
	// the user agent.
	IsRobot bool `json:"is_robot"`

	// --- User Payload (The Letter) ---

	// Data is the domain-specific payload. Dimension values read during
	// aggregation (bucket_id, file_id, country, ...) live here.
	Data map[string]interface{} `json:"data"`
}

// Validate ensures the event carries the attributes ingestion cannot derive,
// and normalizes timestamps to UTC so partition and bucket arithmetic never
// depends on the submitter's zone.
func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}

	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	e.OccurredAt = e.OccurredAt.UTC()
	if !e.IngestedAt.IsZero() {
		e.IngestedAt = e.IngestedAt.UTC()
	}

	return nil
}

// Lookup resolves a field name against the envelope first, then the payload.
// Query conditions address both through the same namespace.
func (e *Event) Lookup(field string) (interface{}, bool) {
	switch field {
	case "id":
		return e.ID, true
	case "type":
		return e.Type, true
	case "schema_version":
		return e.SchemaVersion, true
	case "occurred_at":
		return e.OccurredAt, true
	case "ingested_at":
		return e.IngestedAt, true
	case "visitor_id":
		return e.VisitorID, true
	case "user_agent":
		return e.UserAgent, true
	case "unique_id":
		return e.UniqueID, true
	case "is_robot":
		return e.IsRobot, true
	}

	v, ok := e.Data[field]
	return v, ok
}
