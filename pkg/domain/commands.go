package domain

import "github.com/google/uuid"

// Command type names used to route commands through the bus.
const (
	CommandCreateSpec    = "spec.create"
	CommandUpdateSpec    = "spec.update"
	CommandPublishSpec   = "spec.publish"
	CommandDeprecateSpec = "spec.deprecate"
	CommandDeleteSpec    = "spec.delete"
)

// CreateSpec requests a new spec in draft state at version 1.
type CreateSpec struct {
	Name        string
	Content     string
	Description *string
	CreatedBy   string
}

func (CreateSpec) CommandType() string { return CommandCreateSpec }

// UpdateSpec requests a content revision, bumping the version.
type UpdateSpec struct {
	SpecID      uuid.UUID
	Content     string
	Description *string
	UpdatedBy   string
}

func (UpdateSpec) CommandType() string { return CommandUpdateSpec }

// PublishSpec requests the draft->published transition. When Version is
// set it must match the spec's current version.
type PublishSpec struct {
	SpecID      uuid.UUID
	Version     *uint32
	PublishedBy string
}

func (PublishSpec) CommandType() string { return CommandPublishSpec }

// DeprecateSpec requests the published->deprecated transition.
type DeprecateSpec struct {
	SpecID       uuid.UUID
	Reason       string
	DeprecatedBy string
}

func (DeprecateSpec) CommandType() string { return CommandDeprecateSpec }

// DeleteSpec requests the terminal deleted state.
type DeleteSpec struct {
	SpecID    uuid.UUID
	DeletedBy string
}

func (DeleteSpec) CommandType() string { return CommandDeleteSpec }
