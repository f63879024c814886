// Package domain holds the spec aggregate: validated value objects, the
// events that record every change, and the pure command handling that
// turns intentions into events.
package domain

import (
	"fmt"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// MaxNameLength is the longest allowed spec name.
	MaxNameLength = 255

	// MaxContentLength is the largest allowed spec content in bytes.
	MaxContentLength = 2048

	namePattern = `^[A-Za-z0-9._-]+$`
)

// NewSpecID allocates a fresh spec identifier.
func NewSpecID() uuid.UUID {
	return uuid.New()
}

// ParseSpecID parses a spec identifier from its wire form.
func ParseSpecID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, &ValidationError{Kind: InvalidID, Message: fmt.Sprintf("invalid spec id: %q", s)}
	}
	return id, nil
}

// SpecName is a validated spec name. The zero value is invalid; use
// NewSpecName.
type SpecName struct {
	value string
}

// NewSpecName validates and wraps a spec name. Names are 1-255
// characters drawn from [A-Za-z0-9._-].
func NewSpecName(name string) (SpecName, error) {
	if name == "" {
		return SpecName{}, &ValidationError{Kind: EmptyName, Message: "name cannot be empty"}
	}
	if len(name) > MaxNameLength {
		return SpecName{}, &ValidationError{
			Kind:    NameTooLong,
			Message: fmt.Sprintf("name too long (max %d characters)", MaxNameLength),
		}
	}
	if !govalidator.Matches(name, namePattern) {
		return SpecName{}, &ValidationError{Kind: InvalidCharacters, Message: "name contains invalid characters"}
	}
	return SpecName{value: name}, nil
}

func (n SpecName) String() string {
	return n.value
}

// SpecContent is validated YAML content. The zero value is invalid; use
// NewSpecContent.
type SpecContent struct {
	value string
}

// NewSpecContent validates and wraps spec content. Content is 1-2048
// bytes of well-formed YAML; only well-formedness is checked, not any
// schema.
func NewSpecContent(content string) (SpecContent, error) {
	if content == "" {
		return SpecContent{}, &ValidationError{Kind: EmptyContent, Message: "content cannot be empty"}
	}
	if len(content) > MaxContentLength {
		return SpecContent{}, &ValidationError{
			Kind:    ContentTooLarge,
			Message: fmt.Sprintf("content too large (max %d characters)", MaxContentLength),
		}
	}
	var doc any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return SpecContent{}, &ValidationError{Kind: InvalidYAML, Message: "invalid YAML content"}
	}
	return SpecContent{value: content}, nil
}

func (c SpecContent) String() string {
	return c.value
}

// SpecState is the lifecycle state of a spec. States serialize as
// lowercase strings.
type SpecState string

const (
	StateDraft      SpecState = "draft"
	StatePublished  SpecState = "published"
	StateDeprecated SpecState = "deprecated"
	StateDeleted    SpecState = "deleted"
)

// ParseSpecState converts a wire string into a SpecState.
func ParseSpecState(s string) (SpecState, error) {
	switch SpecState(s) {
	case StateDraft, StatePublished, StateDeprecated, StateDeleted:
		return SpecState(s), nil
	}
	return "", &ValidationError{Kind: InvalidState, Message: fmt.Sprintf("invalid spec state: %q", s)}
}

func (s SpecState) String() string {
	return string(s)
}

// CanTransitionTo reports whether the state machine allows the edge.
// Legal edges: draft->published, published->deprecated, and any
// non-deleted state -> deleted.
func (s SpecState) CanTransitionTo(to SpecState) bool {
	switch {
	case to == StateDeleted:
		return s != StateDeleted
	case s == StateDraft && to == StatePublished:
		return true
	case s == StatePublished && to == StateDeprecated:
		return true
	}
	return false
}

// Version counts content-bearing revisions of a spec. State changes do
// not advance it.
type Version uint32

// InitialVersion is the version assigned by a Created event.
func InitialVersion() Version {
	return 1
}

// Next returns the incremented version.
func (v Version) Next() Version {
	return v + 1
}
