package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command is a request to change a spec, identified by its type name.
type Command interface {
	CommandType() string
}

// Spec is the aggregate: the current state of one spec, rebuilt on
// demand by folding its event stream. It is a plain value; commands
// never mutate it, they return events.
type Spec struct {
	ID          uuid.UUID
	Name        SpecName
	Content     SpecContent
	Description *string
	Version     Version
	State       SpecState
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
	UpdatedBy   string
}

// Create validates a creation command, allocates a fresh spec id, and
// returns the single Created event. The implied initial state is draft
// at version 1.
func Create(cmd CreateSpec) ([]SpecEvent, error) {
	name, err := NewSpecName(cmd.Name)
	if err != nil {
		return nil, err
	}
	content, err := NewSpecContent(cmd.Content)
	if err != nil {
		return nil, err
	}

	return []SpecEvent{&SpecCreated{
		SpecID:      NewSpecID(),
		Name:        name.String(),
		Content:     content.String(),
		Description: cmd.Description,
		CreatedBy:   cmd.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}}, nil
}

// HandleCommand dispatches a command against the current state and
// returns the resulting events. Create is rejected here: it is only
// legal before the aggregate exists.
func (s *Spec) HandleCommand(cmd Command) ([]SpecEvent, error) {
	switch c := cmd.(type) {
	case CreateSpec:
		return nil, &DuplicateNameError{Name: s.Name.String()}
	case UpdateSpec:
		return s.Update(c)
	case PublishSpec:
		return s.Publish(c)
	case DeprecateSpec:
		return s.Deprecate(c)
	case DeleteSpec:
		return s.Delete(c)
	}
	return nil, fmt.Errorf("unknown command type %q", cmd.CommandType())
}

// Update emits an Updated event with the next version. Updates are
// legal in every state except deleted.
func (s *Spec) Update(cmd UpdateSpec) ([]SpecEvent, error) {
	if s.State == StateDeleted {
		return nil, &InvalidStateError{State: s.State}
	}

	content, err := NewSpecContent(cmd.Content)
	if err != nil {
		return nil, err
	}

	return []SpecEvent{&SpecUpdated{
		SpecID:      s.ID,
		Version:     s.Version.Next(),
		Content:     content.String(),
		Description: cmd.Description,
		UpdatedBy:   cmd.UpdatedBy,
		UpdatedAt:   time.Now().UTC(),
	}}, nil
}

// Publish emits the draft->published transition. A supplied expected
// version is checked before the state machine.
func (s *Spec) Publish(cmd PublishSpec) ([]SpecEvent, error) {
	if cmd.Version != nil && *cmd.Version != uint32(s.Version) {
		return nil, &VersionMismatchError{Expected: uint32(s.Version), Actual: *cmd.Version}
	}
	if !s.State.CanTransitionTo(StatePublished) {
		return nil, &InvalidStateTransitionError{From: s.State, To: StatePublished}
	}

	return []SpecEvent{&SpecStateChanged{
		SpecID:    s.ID,
		Version:   s.Version,
		FromState: s.State,
		ToState:   StatePublished,
		ChangedBy: cmd.PublishedBy,
		ChangedAt: time.Now().UTC(),
	}}, nil
}

// Deprecate emits the published->deprecated transition with the given
// reason.
func (s *Spec) Deprecate(cmd DeprecateSpec) ([]SpecEvent, error) {
	if !s.State.CanTransitionTo(StateDeprecated) {
		return nil, &InvalidStateTransitionError{From: s.State, To: StateDeprecated}
	}

	reason := cmd.Reason
	return []SpecEvent{&SpecStateChanged{
		SpecID:    s.ID,
		Version:   s.Version,
		FromState: s.State,
		ToState:   StateDeprecated,
		Reason:    &reason,
		ChangedBy: cmd.DeprecatedBy,
		ChangedAt: time.Now().UTC(),
	}}, nil
}

// Delete emits the transition into the terminal deleted state.
func (s *Spec) Delete(cmd DeleteSpec) ([]SpecEvent, error) {
	if s.State == StateDeleted {
		return nil, &InvalidStateError{State: s.State}
	}

	return []SpecEvent{&SpecStateChanged{
		SpecID:    s.ID,
		Version:   s.Version,
		FromState: s.State,
		ToState:   StateDeleted,
		ChangedBy: cmd.DeletedBy,
		ChangedAt: time.Now().UTC(),
	}}, nil
}

// SpecFromEvents rebuilds the aggregate by folding its event stream in
// order. The first event must be Created.
func SpecFromEvents(events []SpecEvent) (*Spec, error) {
	if len(events) == 0 {
		return nil, &StoreError{Op: "replay", Err: errors.New("no events found")}
	}

	created, ok := events[0].(*SpecCreated)
	if !ok {
		return nil, &StoreError{Op: "replay", Err: errors.New("first event must be created")}
	}

	name, err := NewSpecName(created.Name)
	if err != nil {
		return nil, err
	}
	content, err := NewSpecContent(created.Content)
	if err != nil {
		return nil, err
	}

	spec := &Spec{
		ID:          created.SpecID,
		Name:        name,
		Content:     content,
		Description: created.Description,
		Version:     InitialVersion(),
		State:       StateDraft,
		CreatedAt:   created.CreatedAt,
		UpdatedAt:   created.CreatedAt,
		CreatedBy:   created.CreatedBy,
		UpdatedBy:   created.CreatedBy,
	}

	for _, event := range events[1:] {
		if err := spec.apply(event); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// apply folds one event into the aggregate state.
func (s *Spec) apply(event SpecEvent) error {
	switch e := event.(type) {
	case *SpecCreated:
		panic("domain: created event applied to existing spec")
	case *SpecUpdated:
		content, err := NewSpecContent(e.Content)
		if err != nil {
			return err
		}
		s.Content = content
		if e.Description != nil {
			s.Description = e.Description
		}
		s.Version = e.Version
		s.UpdatedBy = e.UpdatedBy
		s.UpdatedAt = e.UpdatedAt
	case *SpecStateChanged:
		s.State = e.ToState
		s.UpdatedAt = e.ChangedAt
	}
	return nil
}
