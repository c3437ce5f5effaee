package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

// GenerationService is the part of service.GenerationService the handler uses.
type GenerationService interface {
	Submit(ctx context.Context, in service.SubmitInput) (*service.SubmitOutput, error)
	Get(ctx context.Context, userID, id string) (*models.Generation, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Generation, error)
	Delete(ctx context.Context, userID, id string) error
	Download(ctx context.Context, userID, id string) (*service.GenerationDownload, error)
}

// GenerationHandler handles generation endpoints.
type GenerationHandler struct {
	svc    GenerationService
	logger *slog.Logger
}

// NewGenerationHandler creates a new generation handler.
func NewGenerationHandler(svc GenerationService, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{svc: svc, logger: logger.With("component", "generation_handler")}
}

// CreateGenerationInput is the submit request.
type CreateGenerationInput struct {
	Body struct {
		Type            models.GenerationType `json:"type,omitempty" doc:"Generation type: sound-logo, playlist, social-clip or long-form"`
		Parameters      map[string]any        `json:"parameters,omitempty" doc:"Type-specific parameters (duration, mood, energy_level, ...)"`
		SourceSampleIDs []string              `json:"source_sample_ids,omitempty" doc:"Approved audio samples to generate from"`
	}
}

// CreateGenerationOutput is returned once the compute service accepted the job.
type CreateGenerationOutput struct {
	Body service.SubmitOutput
}

// CreateGeneration submits a generation. A 503 means the request was never started.
func (h *GenerationHandler) CreateGeneration(ctx context.Context, input *CreateGenerationInput) (*CreateGenerationOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	var params json.RawMessage
	if input.Body.Parameters != nil {
		raw, err := json.Marshal(input.Body.Parameters)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid parameters")
		}
		params = raw
	}

	out, err := h.svc.Submit(ctx, service.SubmitInput{
		UserID:          userID,
		Type:            input.Body.Type,
		Parameters:      params,
		SourceSampleIDs: input.Body.SourceSampleIDs,
	})
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "submit generation", err)
	}
	return &CreateGenerationOutput{Body: *out}, nil
}

// PageInput carries limit/offset query parameters.
type PageInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Page size"`
	Offset int `query:"offset" minimum:"0" doc:"Rows to skip"`
}

// ListGenerationsOutput lists the caller's generations, newest first.
type ListGenerationsOutput struct {
	Body struct {
		Generations []*models.Generation `json:"generations"`
	}
}

// ListGenerations returns the caller's generations.
func (h *GenerationHandler) ListGenerations(ctx context.Context, input *PageInput) (*ListGenerationsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	gens, err := h.svc.List(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "list generations", err)
	}
	out := &ListGenerationsOutput{}
	out.Body.Generations = gens
	if out.Body.Generations == nil {
		out.Body.Generations = []*models.Generation{}
	}
	return out, nil
}

// GenerationIDInput identifies one generation.
type GenerationIDInput struct {
	ID string `path:"id" doc:"Generation ID"`
}

// GetGenerationOutput is a single generation.
type GetGenerationOutput struct {
	Body *models.Generation
}

// GetGeneration returns one of the caller's generations.
func (h *GenerationHandler) GetGeneration(ctx context.Context, input *GenerationIDInput) (*GetGenerationOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	gen, err := h.svc.Get(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "get generation", err)
	}
	return &GetGenerationOutput{Body: gen}, nil
}

// DeleteGenerationOutput is empty; the route answers 204.
type DeleteGenerationOutput struct{}

// DeleteGeneration removes a generation the caller owns.
func (h *GenerationHandler) DeleteGeneration(ctx context.Context, input *GenerationIDInput) (*DeleteGenerationOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	if err := h.svc.Delete(ctx, userID, input.ID); err != nil {
		return nil, toHumaError(ctx, h.logger, "delete generation", err)
	}
	return &DeleteGenerationOutput{}, nil
}

// DownloadGenerationOutput is a time-limited link to a generation's result.
type DownloadGenerationOutput struct {
	Body service.GenerationDownload
}

// DownloadGeneration returns a link to a completed generation the caller
// unlocked or holds a license for.
func (h *GenerationHandler) DownloadGeneration(ctx context.Context, input *GenerationIDInput) (*DownloadGenerationOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	dl, err := h.svc.Download(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "download generation", err)
	}
	return &DownloadGenerationOutput{Body: *dl}, nil
}
