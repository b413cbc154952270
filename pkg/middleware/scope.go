// Package middleware carries the request scope of a guardrail evaluation:
// the project a request belongs to and the caller that made it.
//
// It lives in pkg/ so an embedding service can stamp both values from its
// own auth layer before calling guardrails.Service directly.
package middleware

import (
	"context"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
)

// DecisionHeader is set on evaluate responses to the step's decision so
// proxies and access logs can see it without parsing the body.
const DecisionHeader = "X-Guardrail-Decision"

// DefaultProject scopes requests that name no project.
const DefaultProject = "default"

type scopeKey int

const (
	projectKey scopeKey = iota
	identityKey
)

// SetProject scopes ctx to a project.
func SetProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, projectKey, project)
}

// GetProject returns the project of ctx, or DefaultProject.
func GetProject(ctx context.Context) string {
	if p, _ := ctx.Value(projectKey).(string); p != "" {
		return p
	}
	return DefaultProject
}

// SetIdentity records the authenticated caller. A nil identity leaves ctx
// anonymous.
func SetIdentity(ctx context.Context, id *contracts.Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller, or nil for anonymous requests.
func GetIdentity(ctx context.Context) *contracts.Identity {
	id, _ := ctx.Value(identityKey).(*contracts.Identity)
	return id
}

// CallerSubject is the subject written to audit entries.
func CallerSubject(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil && id.Subject != "" {
		return id.Subject
	}
	return "anonymous"
}
