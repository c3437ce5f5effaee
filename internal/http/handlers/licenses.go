package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/models"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
)

// LicenseService is the part of service.LicenseService the handler uses.
type LicenseService interface {
	Create(ctx context.Context, in service.CreateLicenseInput) (*service.CreateLicenseOutput, error)
	Get(ctx context.Context, userID, licenseID string) (*models.License, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.License, error)
	Events(ctx context.Context, userID, licenseID string) ([]*models.LicenseEvent, error)
	RecordDownload(ctx context.Context, userID, licenseID string) (*service.DownloadGrant, error)
	Verify(ctx context.Context, licenseID string) (*service.LicenseVerification, error)
}

// LicenseHandler handles license endpoints.
type LicenseHandler struct {
	svc    LicenseService
	logger *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(svc LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{svc: svc, logger: logger.With("component", "license_handler")}
}

// CreateLicenseInput is the purchase request.
type CreateLicenseInput struct {
	Body struct {
		SampleID     string             `json:"sample_id,omitempty" doc:"Audio sample to license (exactly one of sample_id, generation_id)"`
		GenerationID string             `json:"generation_id,omitempty" doc:"Completed generation to license"`
		Tier         models.LicenseTier `json:"tier,omitempty" doc:"personal, commercial or enterprise"`
		Provider     string             `json:"provider,omitempty" doc:"Payment provider; defaults to the first configured one"`
		Currency     string             `json:"currency,omitempty" doc:"ISO 4217 currency; defaults to usd"`
	}
}

// CreateLicenseOutput carries the pending license and the intent to pay it.
type CreateLicenseOutput struct {
	Body service.CreateLicenseOutput
}

// CreateLicense creates a pending license plus its payment intent.
func (h *LicenseHandler) CreateLicense(ctx context.Context, input *CreateLicenseInput) (*CreateLicenseOutput, error) {
	claims := getUserClaims(ctx)
	if claims == nil || claims.UserID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	out, err := h.svc.Create(ctx, service.CreateLicenseInput{
		UserID:       claims.UserID,
		Email:        claims.Email,
		SampleID:     input.Body.SampleID,
		GenerationID: input.Body.GenerationID,
		Tier:         input.Body.Tier,
		Provider:     input.Body.Provider,
		Currency:     input.Body.Currency,
	})
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "create license", err)
	}
	return &CreateLicenseOutput{Body: *out}, nil
}

// ListLicensesOutput lists the caller's licenses.
type ListLicensesOutput struct {
	Body struct {
		Licenses []*models.License `json:"licenses"`
	}
}

// ListLicenses returns the caller's licenses.
func (h *LicenseHandler) ListLicenses(ctx context.Context, input *PageInput) (*ListLicensesOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	licenses, err := h.svc.List(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "list licenses", err)
	}
	out := &ListLicensesOutput{}
	out.Body.Licenses = licenses
	if out.Body.Licenses == nil {
		out.Body.Licenses = []*models.License{}
	}
	return out, nil
}

// LicenseIDInput identifies one license.
type LicenseIDInput struct {
	ID string `path:"id" doc:"License ID"`
}

// GetLicenseOutput is a single license.
type GetLicenseOutput struct {
	Body *models.License
}

// GetLicense returns one of the caller's licenses.
func (h *LicenseHandler) GetLicense(ctx context.Context, input *LicenseIDInput) (*GetLicenseOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	license, err := h.svc.Get(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "get license", err)
	}
	return &GetLicenseOutput{Body: license}, nil
}

// ListLicenseEventsOutput is the audit trail of one license.
type ListLicenseEventsOutput struct {
	Body struct {
		Events []*models.LicenseEvent `json:"events"`
	}
}

// ListLicenseEvents returns the audit trail of a license the caller owns.
func (h *LicenseHandler) ListLicenseEvents(ctx context.Context, input *LicenseIDInput) (*ListLicenseEventsOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	events, err := h.svc.Events(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "list license events", err)
	}
	out := &ListLicenseEventsOutput{}
	out.Body.Events = events
	if out.Body.Events == nil {
		out.Body.Events = []*models.LicenseEvent{}
	}
	return out, nil
}

// DownloadLicenseOutput is a time-limited download link.
type DownloadLicenseOutput struct {
	Body service.DownloadGrant
}

// DownloadLicense consumes one download and returns a link to the file.
func (h *LicenseHandler) DownloadLicense(ctx context.Context, input *LicenseIDInput) (*DownloadLicenseOutput, error) {
	userID := getUserID(ctx)
	if userID == "" {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	grant, err := h.svc.RecordDownload(ctx, userID, input.ID)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "download license", err)
	}
	return &DownloadLicenseOutput{Body: *grant}, nil
}

// VerifyLicenseOutput is the public validity check.
type VerifyLicenseOutput struct {
	Body service.LicenseVerification
}

// VerifyLicense reports whether a license is currently valid. No auth required.
func (h *LicenseHandler) VerifyLicense(ctx context.Context, input *LicenseIDInput) (*VerifyLicenseOutput, error) {
	v, err := h.svc.Verify(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(ctx, h.logger, "verify license", err)
	}
	return &VerifyLicenseOutput{Body: *v}, nil
}
