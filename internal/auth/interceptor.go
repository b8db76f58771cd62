// ABOUTME: gRPC interceptors binding each relay call to an authenticated agent id
// ABOUTME: JWT bearer tokens in production, a plain x-moss-agent header when auth is off

package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/lightningrodlabs/moss-sub000/internal/identity"
)

// Metadata keys read by the interceptors.
const (
	AuthorizationKey = "authorization"
	AgentKey         = "x-moss-agent"
	NicknameKey      = "x-moss-nickname"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

// UnaryInterceptor returns a gRPC unary interceptor that requires a valid token.
func UnaryInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		a, err := authenticateWithJWT(ctx, tokens, logger)
		if err != nil {
			return nil, err
		}
		return handler(WithAgent(ctx, a), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that requires a valid token.
func StreamInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		a, err := authenticateWithJWT(ss.Context(), tokens, logger)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: WithAgent(ss.Context(), a)})
	}
}

// NoAuthUnaryInterceptor trusts the x-moss-agent header. Only for local
// development when no jwt secret is configured.
func NoAuthUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		a, err := agentFromHeader(ctx, logger)
		if err != nil {
			return nil, err
		}
		return handler(WithAgent(ctx, a), req)
	}
}

// NoAuthStreamInterceptor is the streaming counterpart of NoAuthUnaryInterceptor.
func NoAuthStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		a, err := agentFromHeader(ss.Context(), logger)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: WithAgent(ss.Context(), a)})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

func authenticateWithJWT(ctx context.Context, tokens TokenVerifier, logger *slog.Logger) (*AgentContext, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, "missing_metadata")
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get(AuthorizationKey)
	if len(authHeaders) == 0 {
		logAuthFailure(logger, ctx, "missing_authorization")
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, "Bearer ") {
		logAuthFailure(logger, ctx, "bad_authorization_format")
		return nil, status.Error(codes.Unauthenticated, "invalid authorization header format")
	}

	agentID, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		logAuthFailure(logger, ctx, "jwt_auth_failed", "error", err.Error())
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	return &AgentContext{AgentID: agentID, Nickname: firstValue(md, NicknameKey)}, nil
}

func agentFromHeader(ctx context.Context, logger *slog.Logger) (*AgentContext, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, "missing_metadata")
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	raw := firstValue(md, AgentKey)
	if raw == "" {
		logAuthFailure(logger, ctx, "missing_agent_header")
		return nil, status.Error(codes.Unauthenticated, "missing "+AgentKey+" header")
	}
	agentID, err := identity.Parse(raw)
	if err != nil {
		logAuthFailure(logger, ctx, "bad_agent_header", "error", err.Error())
		return nil, status.Errorf(codes.InvalidArgument, "invalid %s header: %v", AgentKey, err)
	}

	return &AgentContext{AgentID: agentID, Nickname: firstValue(md, NicknameKey)}, nil
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
