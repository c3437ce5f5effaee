package mw

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// SecurityScheme is the name of the security scheme used in OpenAPI.
const SecurityScheme = "bearerAuth"

// OperationOption is a function that modifies an operation.
type OperationOption func(*huma.Operation)

// WithTags adds tags to the operation.
func WithTags(tags ...string) OperationOption {
	return func(op *huma.Operation) {
		op.Tags = append(op.Tags, tags...)
	}
}

// WithSummary sets the operation summary.
func WithSummary(summary string) OperationOption {
	return func(op *huma.Operation) {
		op.Summary = summary
	}
}

// WithDescription sets the operation description.
func WithDescription(desc string) OperationOption {
	return func(op *huma.Operation) {
		op.Description = desc
	}
}

// WithOperationID sets a custom operation ID.
func WithOperationID(id string) OperationOption {
	return func(op *huma.Operation) {
		op.OperationID = id
	}
}

// WithHidden hides the operation from OpenAPI documentation.
func WithHidden() OperationOption {
	return func(op *huma.Operation) {
		op.Hidden = true
	}
}

// WithStatus sets the default success status.
func WithStatus(code int) OperationOption {
	return func(op *huma.Operation) {
		op.DefaultStatus = code
	}
}

// WithAdmin documents that the operation needs the admin role. The role
// itself is enforced by RequireAdmin on the router group.
func WithAdmin() OperationOption {
	return func(op *huma.Operation) {
		if op.Metadata == nil {
			op.Metadata = make(map[string]any)
		}
		op.Metadata["requireAdmin"] = true
		if op.Description != "" {
			op.Description += " "
		}
		op.Description += "Requires the admin role."
	}
}

func register[I, O any](api huma.API, method, path string, secured bool, handler func(context.Context, *I) (*O, error), opts []OperationOption) {
	op := huma.Operation{
		Method: method,
		Path:   path,
	}
	if secured {
		op.Security = []map[string][]string{{SecurityScheme: {}}}
	}
	for _, opt := range opts {
		opt(&op)
	}
	huma.Register(api, op, handler)
}

// PublicGet registers a GET endpoint without auth.
func PublicGet[I, O any](api huma.API, path string, handler func(context.Context, *I) (*O, error), opts ...OperationOption) {
	register(api, http.MethodGet, path, false, handler, opts)
}

// ProtectedGet registers a GET endpoint that requires bearer auth.
func ProtectedGet[I, O any](api huma.API, path string, handler func(context.Context, *I) (*O, error), opts ...OperationOption) {
	register(api, http.MethodGet, path, true, handler, opts)
}

// ProtectedPost registers a POST endpoint that requires bearer auth.
func ProtectedPost[I, O any](api huma.API, path string, handler func(context.Context, *I) (*O, error), opts ...OperationOption) {
	register(api, http.MethodPost, path, true, handler, opts)
}

// ProtectedDelete registers a DELETE endpoint that requires bearer auth.
func ProtectedDelete[I, O any](api huma.API, path string, handler func(context.Context, *I) (*O, error), opts ...OperationOption) {
	register(api, http.MethodDelete, path, true, handler, opts)
}

// HiddenGet registers a GET endpoint that won't appear in OpenAPI docs.
// Used for probes.
func HiddenGet[I, O any](api huma.API, path string, handler func(context.Context, *I) (*O, error)) {
	register(api, http.MethodGet, path, false, handler, []OperationOption{WithHidden()})
}
