package model

import (
	"context"
	"errors"
	"slices"
)

// ErrAnonymous reports a request identity without both a subject and a
// tenant. Sessions and published rule sets are scoped by both.
var ErrAnonymous = errors.New("request identity needs a subject and a tenant")

// RequestContext identifies the author of a request: who they are, which
// club or organisation (tenant) their sessions belong to, and what they may
// do. Locale is carried for presentation layers only; validation codes
// never depend on it.
type RequestContext struct {
	SubjectID string
	Email     string
	TenantID  string
	Roles     []string

	CorrelationID string
	TraceID       string
	SpanID        string
	Locale        string
}

// Validate returns ErrAnonymous unless both SubjectID and TenantID are set.
func (rc *RequestContext) Validate() error {
	if rc == nil || rc.SubjectID == "" || rc.TenantID == "" {
		return ErrAnonymous
	}
	return nil
}

// HasRole reports whether the author holds role.
func (rc *RequestContext) HasRole(role string) bool {
	return rc != nil && role != "" && slices.Contains(rc.Roles, role)
}

// WithRole returns a copy of rc that also holds role.
func (rc *RequestContext) WithRole(role string) *RequestContext {
	out := *rc
	if role != "" && !rc.HasRole(role) {
		out.Roles = append(slices.Clip(rc.Roles), role)
	}
	return &out
}

type requestContextKey struct{}

// WithRequestContext returns ctx carrying rctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext stored in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
