// Package rpc exposes the spec service as a Connect RPC API served
// over h2c. Message structs are hand-rolled mirrors of the
// specservice.v1 contract, carried by a JSON codec.
package rpc

import "google.golang.org/protobuf/types/known/timestamppb"

// Procedure names follow the Connect convention
// /<package>.<Service>/<Method>.
const (
	SpecServiceName = "specservice.v1.SpecService"

	SpecServiceCreateSpecProcedure     = "/specservice.v1.SpecService/CreateSpec"
	SpecServiceGetSpecProcedure        = "/specservice.v1.SpecService/GetSpec"
	SpecServiceUpdateSpecProcedure     = "/specservice.v1.SpecService/UpdateSpec"
	SpecServiceListSpecsProcedure      = "/specservice.v1.SpecService/ListSpecs"
	SpecServicePublishSpecProcedure    = "/specservice.v1.SpecService/PublishSpec"
	SpecServiceDeprecateSpecProcedure  = "/specservice.v1.SpecService/DeprecateSpec"
	SpecServiceDeleteSpecProcedure     = "/specservice.v1.SpecService/DeleteSpec"
	SpecServiceGetSpecHistoryProcedure = "/specservice.v1.SpecService/GetSpecHistory"
)

type CreateSpecRequest struct {
	Name        string  `json:"name"`
	Content     string  `json:"content"`
	Description *string `json:"description,omitempty"`
}

type CreateSpecResponse struct {
	Id      string `json:"id"`
	Version uint32 `json:"version"`
}

// GetSpecRequest returns the current spec when Version is zero, or the
// historical content of that version merged with current metadata.
type GetSpecRequest struct {
	Id      string `json:"id"`
	Version uint32 `json:"version,omitempty"`
}

type GetSpecResponse struct {
	Id          string                 `json:"id"`
	Name        string                 `json:"name"`
	Content     string                 `json:"content"`
	Description *string                `json:"description,omitempty"`
	Version     uint32                 `json:"version"`
	State       string                 `json:"state"`
	CreatedAt   *timestamppb.Timestamp `json:"created_at,omitempty"`
	UpdatedAt   *timestamppb.Timestamp `json:"updated_at,omitempty"`
}

type UpdateSpecRequest struct {
	Id          string  `json:"id"`
	Content     string  `json:"content"`
	Description *string `json:"description,omitempty"`
}

type UpdateSpecResponse struct {
	Version uint32 `json:"version"`
}

type ListSpecsRequest struct {
	State     string `json:"state,omitempty"`
	PageSize  int32  `json:"page_size,omitempty"`
	PageToken string `json:"page_token,omitempty"`
}

type ListSpecsResponse struct {
	Specs []*SpecSummary `json:"specs"`
	// NextPageToken is reserved; pagination tokens are not issued yet.
	NextPageToken string `json:"next_page_token,omitempty"`
}

type SpecSummary struct {
	Id            string                 `json:"id"`
	Name          string                 `json:"name"`
	Description   *string                `json:"description,omitempty"`
	LatestVersion uint32                 `json:"latest_version"`
	State         string                 `json:"state"`
	UpdatedAt     *timestamppb.Timestamp `json:"updated_at,omitempty"`
}

type PublishSpecRequest struct {
	Id string `json:"id"`
	// Version is an optional guard; zero means unguarded.
	Version uint32 `json:"version,omitempty"`
}

type PublishSpecResponse struct {
	PublishedVersion uint32 `json:"published_version"`
}

type DeprecateSpecRequest struct {
	Id     string `json:"id"`
	Reason string `json:"reason"`
}

type DeprecateSpecResponse struct {
	Success bool `json:"success"`
}

type DeleteSpecRequest struct {
	Id string `json:"id"`
}

type DeleteSpecResponse struct {
	Success bool `json:"success"`
}

type GetSpecHistoryRequest struct {
	Id string `json:"id"`
}

type GetSpecHistoryResponse struct {
	Events []*SpecEvent `json:"events"`
}

// SpecEvent is one history entry. Exactly one of Create, Update, and
// StateChange is set, matching EventType.
type SpecEvent struct {
	EventId     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	OccurredAt  *timestamppb.Timestamp `json:"occurred_at,omitempty"`
	UserId      string                 `json:"user_id"`
	Create      *CreatePayload         `json:"create,omitempty"`
	Update      *UpdatePayload         `json:"update,omitempty"`
	StateChange *StateChangePayload    `json:"state_change,omitempty"`
}

type CreatePayload struct {
	Name        string  `json:"name"`
	Content     string  `json:"content"`
	Description *string `json:"description,omitempty"`
}

type UpdatePayload struct {
	Content     string  `json:"content"`
	Description *string `json:"description,omitempty"`
}

type StateChangePayload struct {
	FromState string  `json:"from_state"`
	ToState   string  `json:"to_state"`
	Reason    *string `json:"reason,omitempty"`
}
