// ABOUTME: Authenticated agent identity carried through gRPC handlers via context
// ABOUTME: Provides WithAgent/FromContext for the relay service

package auth

import (
	"context"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// AgentContext holds the identity the interceptor authenticated.
type AgentContext struct {
	AgentID  identity.AgentID
	Nickname string // self-declared, from the x-moss-nickname header
}

type agentContextKey struct{}

// WithAgent returns a new context with the AgentContext attached.
func WithAgent(ctx context.Context, a *AgentContext) context.Context {
	return context.WithValue(ctx, agentContextKey{}, a)
}

// FromContext retrieves the AgentContext, returning nil if not present.
func FromContext(ctx context.Context) *AgentContext {
	a, _ := ctx.Value(agentContextKey{}).(*AgentContext)
	return a
}
