package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type discriminators. They appear in the "type" field of the
// serialized event, in the event_type column of the log, and as routing
// keys on the event bus.
const (
	EventTypeCreated      = "created"
	EventTypeUpdated      = "updated"
	EventTypeStateChanged = "state_changed"
)

// SpecEvent is an immutable fact recorded for a spec aggregate.
type SpecEvent interface {
	// EventType returns the wire discriminator.
	EventType() string

	// AggregateID returns the spec the event belongs to.
	AggregateID() uuid.UUID

	// OccurredAt returns when the event happened.
	OccurredAt() time.Time

	// Actor returns the principal that caused the event.
	Actor() string
}

// SpecCreated records the birth of a spec. The implied initial state is
// draft and the implied version is 1.
type SpecCreated struct {
	SpecID      uuid.UUID `json:"spec_id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	Description *string   `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func (e *SpecCreated) EventType() string      { return EventTypeCreated }
func (e *SpecCreated) AggregateID() uuid.UUID { return e.SpecID }
func (e *SpecCreated) OccurredAt() time.Time  { return e.CreatedAt }
func (e *SpecCreated) Actor() string          { return e.CreatedBy }

// SpecUpdated records a content revision. Version is the new version
// after the bump.
type SpecUpdated struct {
	SpecID      uuid.UUID `json:"spec_id"`
	Version     Version   `json:"version"`
	Content     string    `json:"content"`
	Description *string   `json:"description,omitempty"`
	UpdatedBy   string    `json:"updated_by"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e *SpecUpdated) EventType() string      { return EventTypeUpdated }
func (e *SpecUpdated) AggregateID() uuid.UUID { return e.SpecID }
func (e *SpecUpdated) OccurredAt() time.Time  { return e.UpdatedAt }
func (e *SpecUpdated) Actor() string          { return e.UpdatedBy }

// SpecStateChanged records a lifecycle transition. Version is the
// current, unchanged version at the time of the transition.
type SpecStateChanged struct {
	SpecID    uuid.UUID `json:"spec_id"`
	Version   Version   `json:"version"`
	FromState SpecState `json:"from_state"`
	ToState   SpecState `json:"to_state"`
	Reason    *string   `json:"reason,omitempty"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

func (e *SpecStateChanged) EventType() string      { return EventTypeStateChanged }
func (e *SpecStateChanged) AggregateID() uuid.UUID { return e.SpecID }
func (e *SpecStateChanged) OccurredAt() time.Time  { return e.ChangedAt }
func (e *SpecStateChanged) Actor() string          { return e.ChangedBy }

// MarshalEvent encodes an event as JSON with a "type" discriminator.
func MarshalEvent(event SpecEvent) ([]byte, error) {
	switch e := event.(type) {
	case *SpecCreated:
		return json.Marshal(struct {
			Type string `json:"type"`
			*SpecCreated
		}{EventTypeCreated, e})
	case *SpecUpdated:
		return json.Marshal(struct {
			Type string `json:"type"`
			*SpecUpdated
		}{EventTypeUpdated, e})
	case *SpecStateChanged:
		return json.Marshal(struct {
			Type string `json:"type"`
			*SpecStateChanged
		}{EventTypeStateChanged, e})
	}
	return nil, fmt.Errorf("marshal event: unknown type %T", event)
}

// UnmarshalEvent decodes JSON produced by MarshalEvent.
func UnmarshalEvent(data []byte) (SpecEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	switch head.Type {
	case EventTypeCreated:
		var e SpecCreated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal created event: %w", err)
		}
		return &e, nil
	case EventTypeUpdated:
		var e SpecUpdated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal updated event: %w", err)
		}
		return &e, nil
	case EventTypeStateChanged:
		var e SpecStateChanged
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal state_changed event: %w", err)
		}
		return &e, nil
	}
	return nil, fmt.Errorf("unmarshal event: unknown type %q", head.Type)
}

// EventMetadata carries request context captured alongside events.
type EventMetadata struct {
	CorrelationID *uuid.UUID `json:"correlation_id,omitempty"`
	CausationID   *uuid.UUID `json:"causation_id,omitempty"`
	UserAgent     *string    `json:"user_agent,omitempty"`
	IPAddress     *string    `json:"ip_address,omitempty"`
}

// EventEnvelope is a stored event together with its log coordinates.
// SequenceNumber is per-aggregate, 1-based and dense; GlobalPosition is
// the store-wide cursor used by projectors.
type EventEnvelope struct {
	EventID        uuid.UUID
	AggregateID    uuid.UUID
	SequenceNumber int64
	GlobalPosition int64
	Event          SpecEvent
	Metadata       EventMetadata
	RecordedAt     time.Time
}
