package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/navicore/spec-service/pkg/domain"
	"github.com/navicore/spec-service/pkg/handlers"
	"github.com/navicore/spec-service/pkg/projection"
)

type createSpecRequest struct {
	Name        string  `json:"name"`
	Content     string  `json:"content"`
	Description *string `json:"description"`
}

type createSpecResponse struct {
	ID      string `json:"id"`
	Version uint32 `json:"version"`
}

type updateSpecRequest struct {
	Content     string  `json:"content"`
	Description *string `json:"description"`
}

type updateSpecResponse struct {
	Version uint32 `json:"version"`
}

type publishSpecRequest struct {
	Version *uint32 `json:"version"`
}

type deprecateSpecRequest struct {
	Reason string `json:"reason"`
}

type specResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Content     string  `json:"content"`
	Description *string `json:"description"`
	Version     uint32  `json:"version"`
	State       string  `json:"state"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CreatedBy   string  `json:"created_by"`
	UpdatedBy   string  `json:"updated_by"`
}

type specSummaryResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   *string `json:"description"`
	LatestVersion uint32  `json:"latest_version"`
	State         string  `json:"state"`
	UpdatedAt     string  `json:"updated_at"`
}

type specListResponse struct {
	Specs  []specSummaryResponse `json:"specs"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type specVersionResponse struct {
	ID          string  `json:"id"`
	Version     uint32  `json:"version"`
	Content     string  `json:"content"`
	Description *string `json:"description"`
}

func (s *Server) createSpec(c echo.Context) error {
	var req createSpecRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &domain.ValidationError{Kind: domain.InvalidID, Message: "malformed request body"})
	}

	result, err := s.bus.Send(commandContext(c), domain.CreateSpec{
		Name:        req.Name,
		Content:     req.Content,
		Description: req.Description,
		CreatedBy:   userPrincipal,
	})
	if err != nil {
		return writeError(c, err)
	}

	created := result.(*handlers.CreateResult)
	return c.JSON(http.StatusCreated, createSpecResponse{
		ID:      created.ID.String(),
		Version: created.Version,
	})
}

func (s *Server) listSpecs(c echo.Context) error {
	var state *domain.SpecState
	if raw := c.QueryParam("state"); raw != "" {
		parsed, err := domain.ParseSpecState(raw)
		if err != nil {
			return writeError(c, err)
		}
		state = &parsed
	}

	limit, err := intQueryParam(c, "limit")
	if err != nil {
		return writeError(c, err)
	}
	offset, err := intQueryParam(c, "offset")
	if err != nil {
		return writeError(c, err)
	}

	list, err := s.queries.ListSpecs(c.Request().Context(), state, limit, offset)
	if err != nil {
		return writeError(c, err)
	}

	specs := make([]specSummaryResponse, 0, len(list.Specs))
	for _, summary := range list.Specs {
		specs = append(specs, specSummaryResponse{
			ID:            summary.ID.String(),
			Name:          summary.Name,
			Description:   summary.Description,
			LatestVersion: uint32(summary.LatestVersion),
			State:         summary.State.String(),
			UpdatedAt:     summary.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, specListResponse{
		Specs:  specs,
		Total:  list.Total,
		Limit:  list.Limit,
		Offset: list.Offset,
	})
}

func (s *Server) getSpec(c echo.Context) error {
	id, err := specIDParam(c)
	if err != nil {
		return writeError(c, err)
	}

	spec, err := s.queries.GetSpec(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toSpecResponse(spec))
}

func (s *Server) updateSpec(c echo.Context) error {
	id, err := specIDParam(c)
	if err != nil {
		return writeError(c, err)
	}

	var req updateSpecRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &domain.ValidationError{Kind: domain.InvalidID, Message: "malformed request body"})
	}

	result, err := s.bus.Send(commandContext(c), domain.UpdateSpec{
		SpecID:      id,
		Content:     req.Content,
		Description: req.Description,
		UpdatedBy:   userPrincipal,
	})
	if err != nil {
		return writeError(c, err)
	}

	updated := result.(*handlers.UpdateResult)
	return c.JSON(http.StatusOK, updateSpecResponse{Version: updated.Version})
}

func (s *Server) publishSpec(c echo.Context) error {
	id, err := specIDParam(c)
	if err != nil {
		return writeError(c, err)
	}

	// Missing body is fine; publish takes an optional version guard.
	var req publishSpecRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &domain.ValidationError{Kind: domain.InvalidID, Message: "malformed request body"})
	}

	if _, err := s.bus.Send(commandContext(c), domain.PublishSpec{
		SpecID:      id,
		Version:     req.Version,
		PublishedBy: adminPrincipal,
	}); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) deprecateSpec(c echo.Context) error {
	id, err := specIDParam(c)
	if err != nil {
		return writeError(c, err)
	}

	var req deprecateSpecRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &domain.ValidationError{Kind: domain.InvalidID, Message: "malformed request body"})
	}

	if _, err := s.bus.Send(commandContext(c), domain.DeprecateSpec{
		SpecID:       id,
		Reason:       req.Reason,
		DeprecatedBy: adminPrincipal,
	}); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) deleteSpec(c echo.Context) error {
	id, err := specIDParam(c)
	if err != nil {
		return writeError(c, err)
	}

	if _, err := s.bus.Send(commandContext(c), domain.DeleteSpec{
		SpecID:    id,
		DeletedBy: adminPrincipal,
	}); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) getSpecVersion(c echo.Context) error {
	id, err := specIDParam(c)
	if err != nil {
		return writeError(c, err)
	}

	raw := c.Param("version")
	version, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || version == 0 {
		return writeError(c, &domain.ValidationError{
			Kind:    domain.InvalidID,
			Message: fmt.Sprintf("invalid version number: %q", raw),
		})
	}

	record, err := s.queries.GetSpecVersion(c.Request().Context(), id, uint32(version))
	if err != nil {
		return writeVersionError(c, err)
	}
	return c.JSON(http.StatusOK, specVersionResponse{
		ID:          record.SpecID.String(),
		Version:     uint32(record.Version),
		Content:     record.Content,
		Description: record.Description,
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// commandContext attaches request metadata for the event store.
func commandContext(c echo.Context) context.Context {
	meta := domain.EventMetadata{}
	if agent := c.Request().UserAgent(); agent != "" {
		meta.UserAgent = &agent
	}
	if ip := c.RealIP(); ip != "" {
		meta.IPAddress = &ip
	}
	return handlers.WithMetadata(c.Request().Context(), meta)
}

func specIDParam(c echo.Context) (uuid.UUID, error) {
	return domain.ParseSpecID(c.Param("id"))
}

func intQueryParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{
			Kind:    domain.InvalidID,
			Message: fmt.Sprintf("invalid %s: %q", name, raw),
		}
	}
	return value, nil
}

func toSpecResponse(spec *projection.SpecProjection) specResponse {
	return specResponse{
		ID:          spec.ID.String(),
		Name:        spec.Name,
		Content:     spec.Content,
		Description: spec.Description,
		Version:     uint32(spec.Version),
		State:       spec.State.String(),
		CreatedAt:   spec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   spec.UpdatedAt.UTC().Format(time.RFC3339),
		CreatedBy:   spec.CreatedBy,
		UpdatedBy:   spec.UpdatedBy,
	}
}
