package controlapi

import (
	"strings"

	"github.com/crenshan/experiment-factory/internal/engine"
	"github.com/crenshan/experiment-factory/internal/experiment"
	"github.com/crenshan/experiment-factory/internal/store"
)

// VariantRequest is one variant in a create or update payload.
type VariantRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Weight    int    `json:"weight"`
	JourneyID string `json:"journey_id,omitempty"`
}

func toVariants(in []VariantRequest) []experiment.Variant {
	if in == nil {
		return nil
	}
	out := make([]experiment.Variant, len(in))
	for i, v := range in {
		out[i] = experiment.Variant{
			ID:        strings.TrimSpace(v.ID),
			Name:      strings.TrimSpace(v.Name),
			Weight:    v.Weight,
			JourneyID: strings.TrimSpace(v.JourneyID),
		}
	}
	return out
}

// CreateExperimentRequest is the payload of POST /api/v1/experiments.
// Omitted status and variants default to DRAFT and an A/B 50/50 split.
type CreateExperimentRequest struct {
	ID       string           `json:"id,omitempty"`
	Name     string           `json:"name"`
	Status   string           `json:"status,omitempty"`
	Variants []VariantRequest `json:"variants,omitempty"`
}

// toInput checks the request shape. Business rules (name length, weights) are
// enforced by the store.
func (r *CreateExperimentRequest) toInput() (engine.CreateExperimentInput, *ErrorResponse) {
	in := engine.CreateExperimentInput{
		ID:       r.ID,
		Name:     r.Name,
		Variants: toVariants(r.Variants),
	}

	if strings.Contains(r.ID, "/") {
		return in, &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Experiment id must not contain '/'"}
	}

	if strings.TrimSpace(r.Status) != "" {
		st, err := experiment.ParseStatus(r.Status)
		if err != nil {
			return in, &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Status must be one of DRAFT, RUNNING, PAUSED"}
		}
		in.Status = st
	}
	return in, nil
}

// UpdateExperimentRequest is the payload of PATCH /api/v1/experiments/{id}.
// Pointers distinguish "absent" from "set to the zero value".
type UpdateExperimentRequest struct {
	Name     *string           `json:"name,omitempty"`
	Status   *string           `json:"status,omitempty"`
	Variants *[]VariantRequest `json:"variants,omitempty"`
}

func (r *UpdateExperimentRequest) toPatch() (store.ExperimentPatch, *ErrorResponse) {
	var patch store.ExperimentPatch

	if r.Name == nil && r.Status == nil && r.Variants == nil {
		return patch, &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "At least one of name, status or variants is required"}
	}

	patch.Name = r.Name
	if r.Status != nil {
		st, err := experiment.ParseStatus(*r.Status)
		if err != nil {
			return patch, &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Status must be one of DRAFT, RUNNING, PAUSED"}
		}
		patch.Status = &st
	}
	if r.Variants != nil {
		patch.Variants = toVariants(*r.Variants)
		if patch.Variants == nil {
			patch.Variants = []experiment.Variant{}
		}
	}
	return patch, nil
}

// LogEventRequest is the payload of POST /api/v1/experiments/{id}/events.
type LogEventRequest struct {
	VariantID      string `json:"variant_id"`
	Type           string `json:"type"`
	Name           string `json:"name"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PaginatedResponse wraps list endpoints that use offset pagination.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for list responses.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse is the structured body of every error reply.
type ErrorResponse struct {
	// Code is machine-readable, e.g. "ERR_NOT_FOUND".
	Code    string `json:"code"`
	Message string `json:"message"`
}
