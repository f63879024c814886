package rpc

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/navicore/spec-service/pkg/cqrs"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/handlers"
	"github.com/navicore/spec-service/pkg/projection"
)

// Principals stamped on commands until the RPC surface carries real
// authentication.
const (
	userPrincipal  = "grpc-user@example.com"
	adminPrincipal = "grpc-admin@example.com"
)

// Service implements the specservice.v1.SpecService procedures on top
// of the command bus and the query handler.
type Service struct {
	bus     *cqrs.Bus
	queries *handlers.QueryHandler
	logger  *slog.Logger
}

// NewService wires the procedures to the command and query sides.
func NewService(bus *cqrs.Bus, queries *handlers.QueryHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{bus: bus, queries: queries, logger: logger}
}

func (s *Service) CreateSpec(ctx context.Context, req *connect.Request[CreateSpecRequest]) (*connect.Response[CreateSpecResponse], error) {
	result, err := s.bus.Send(commandContext(ctx, req), domain.CreateSpec{
		Name:        req.Msg.Name,
		Content:     req.Msg.Content,
		Description: req.Msg.Description,
		CreatedBy:   userPrincipal,
	})
	if err != nil {
		return nil, connectError(err)
	}

	created := result.(*handlers.CreateResult)
	return connect.NewResponse(&CreateSpecResponse{
		Id:      created.ID.String(),
		Version: created.Version,
	}), nil
}

func (s *Service) GetSpec(ctx context.Context, req *connect.Request[GetSpecRequest]) (*connect.Response[GetSpecResponse], error) {
	id, err := parseSpecID(req.Msg.Id)
	if err != nil {
		return nil, connectError(err)
	}

	var spec *projection.SpecProjection
	if req.Msg.Version > 0 {
		spec, err = s.queries.GetSpecAtVersion(ctx, id, req.Msg.Version)
	} else {
		spec, err = s.queries.GetSpec(ctx, id)
	}
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&GetSpecResponse{
		Id:          spec.ID.String(),
		Name:        spec.Name,
		Content:     spec.Content,
		Description: spec.Description,
		Version:     uint32(spec.Version),
		State:       spec.State.String(),
		CreatedAt:   timestamppb.New(spec.CreatedAt),
		UpdatedAt:   timestamppb.New(spec.UpdatedAt),
	}), nil
}

func (s *Service) UpdateSpec(ctx context.Context, req *connect.Request[UpdateSpecRequest]) (*connect.Response[UpdateSpecResponse], error) {
	id, err := parseSpecID(req.Msg.Id)
	if err != nil {
		return nil, connectError(err)
	}

	result, err := s.bus.Send(commandContext(ctx, req), domain.UpdateSpec{
		SpecID:      id,
		Content:     req.Msg.Content,
		Description: req.Msg.Description,
		UpdatedBy:   userPrincipal,
	})
	if err != nil {
		return nil, connectError(err)
	}

	updated := result.(*handlers.UpdateResult)
	return connect.NewResponse(&UpdateSpecResponse{Version: updated.Version}), nil
}

func (s *Service) ListSpecs(ctx context.Context, req *connect.Request[ListSpecsRequest]) (*connect.Response[ListSpecsResponse], error) {
	var state *domain.SpecState
	if req.Msg.State != "" {
		parsed, err := domain.ParseSpecState(req.Msg.State)
		if err != nil {
			return nil, connectError(err)
		}
		state = &parsed
	}

	// Page tokens are accepted but not interpreted; the response token
	// stays empty until cursor pagination lands.
	list, err := s.queries.ListSpecs(ctx, state, int(req.Msg.PageSize), 0)
	if err != nil {
		return nil, connectError(err)
	}

	specs := make([]*SpecSummary, 0, len(list.Specs))
	for _, summary := range list.Specs {
		specs = append(specs, &SpecSummary{
			Id:            summary.ID.String(),
			Name:          summary.Name,
			Description:   summary.Description,
			LatestVersion: uint32(summary.LatestVersion),
			State:         summary.State.String(),
			UpdatedAt:     timestamppb.New(summary.UpdatedAt),
		})
	}
	return connect.NewResponse(&ListSpecsResponse{Specs: specs}), nil
}

func (s *Service) PublishSpec(ctx context.Context, req *connect.Request[PublishSpecRequest]) (*connect.Response[PublishSpecResponse], error) {
	id, err := parseSpecID(req.Msg.Id)
	if err != nil {
		return nil, connectError(err)
	}

	var guard *uint32
	if req.Msg.Version > 0 {
		version := req.Msg.Version
		guard = &version
	}

	result, err := s.bus.Send(commandContext(ctx, req), domain.PublishSpec{
		SpecID:      id,
		Version:     guard,
		PublishedBy: adminPrincipal,
	})
	if err != nil {
		return nil, connectError(err)
	}

	published := result.(*handlers.PublishResult)
	return connect.NewResponse(&PublishSpecResponse{
		PublishedVersion: published.PublishedVersion,
	}), nil
}

func (s *Service) DeprecateSpec(ctx context.Context, req *connect.Request[DeprecateSpecRequest]) (*connect.Response[DeprecateSpecResponse], error) {
	id, err := parseSpecID(req.Msg.Id)
	if err != nil {
		return nil, connectError(err)
	}

	if _, err := s.bus.Send(commandContext(ctx, req), domain.DeprecateSpec{
		SpecID:       id,
		Reason:       req.Msg.Reason,
		DeprecatedBy: adminPrincipal,
	}); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&DeprecateSpecResponse{Success: true}), nil
}

func (s *Service) DeleteSpec(ctx context.Context, req *connect.Request[DeleteSpecRequest]) (*connect.Response[DeleteSpecResponse], error) {
	id, err := parseSpecID(req.Msg.Id)
	if err != nil {
		return nil, connectError(err)
	}

	if _, err := s.bus.Send(commandContext(ctx, req), domain.DeleteSpec{
		SpecID:    id,
		DeletedBy: adminPrincipal,
	}); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&DeleteSpecResponse{Success: true}), nil
}

func (s *Service) GetSpecHistory(ctx context.Context, req *connect.Request[GetSpecHistoryRequest]) (*connect.Response[GetSpecHistoryResponse], error) {
	id, err := parseSpecID(req.Msg.Id)
	if err != nil {
		return nil, connectError(err)
	}

	envelopes, err := s.queries.GetSpecHistory(ctx, id)
	if err != nil {
		return nil, connectError(err)
	}

	events := make([]*SpecEvent, 0, len(envelopes))
	for _, env := range envelopes {
		events = append(events, toSpecEvent(env))
	}
	return connect.NewResponse(&GetSpecHistoryResponse{Events: events}), nil
}

// toSpecEvent maps a stored envelope to the wire event, filling the
// payload variant that matches the event type.
func toSpecEvent(env domain.EventEnvelope) *SpecEvent {
	out := &SpecEvent{
		EventId:    env.EventID.String(),
		EventType:  env.Event.EventType(),
		OccurredAt: timestamppb.New(env.Event.OccurredAt()),
		UserId:     env.Event.Actor(),
	}

	switch e := env.Event.(type) {
	case *domain.SpecCreated:
		out.Create = &CreatePayload{
			Name:        e.Name,
			Content:     e.Content,
			Description: e.Description,
		}
	case *domain.SpecUpdated:
		out.Update = &UpdatePayload{
			Content:     e.Content,
			Description: e.Description,
		}
	case *domain.SpecStateChanged:
		out.StateChange = &StateChangePayload{
			FromState: e.FromState.String(),
			ToState:   e.ToState.String(),
			Reason:    e.Reason,
		}
	}
	return out
}

// commandContext captures caller details as event metadata.
func commandContext(ctx context.Context, req connect.AnyRequest) context.Context {
	meta := domain.EventMetadata{}
	if agent := req.Header().Get("User-Agent"); agent != "" {
		meta.UserAgent = &agent
	}
	if addr := req.Peer().Addr; addr != "" {
		meta.IPAddress = &addr
	}
	return handlers.WithMetadata(ctx, meta)
}

func parseSpecID(raw string) (uuid.UUID, error) {
	return domain.ParseSpecID(raw)
}
