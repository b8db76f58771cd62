// ABOUTME: Relay orchestrator that owns the gRPC and HTTP servers and their listeners
// ABOUTME: Listens on TCP, or on a tailnet through tsnet when tailscale is enabled

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/lightningrodlabs/moss-sub000/internal/auth"
	"github.com/lightningrodlabs/moss-sub000/internal/config"
	"github.com/lightningrodlabs/moss-sub000/internal/relayrpc"
	"github.com/lightningrodlabs/moss-sub000/internal/store"
)

// Relay runs the signal relay servers.
type Relay struct {
	config      *config.Config
	hub         *Hub
	store       store.Store
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this relay instance in welcome frames
	serverID string
}

// NewGRPCServer creates a gRPC server with keepalive settings and auth
// interceptors. A nil verifier selects header-based identification.
func NewGRPCServer(tokens auth.TokenVerifier, logger *slog.Logger) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if tokens != nil {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(tokens, logger)),
			grpc.ChainStreamInterceptor(auth.StreamInterceptor(tokens, logger)),
		)
		logger.Info("auth interceptors enabled (JWT)")
	} else {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(auth.NoAuthUnaryInterceptor(logger)),
			grpc.ChainStreamInterceptor(auth.NoAuthStreamInterceptor(logger)),
		)
		logger.Warn("auth disabled - no jwt_secret configured")
	}
	return grpc.NewServer(opts...)
}

// New creates a Relay from cfg. It opens the store but does not listen yet.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var tokens auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		tokens = v
	}

	hub := NewHub(logger.With("component", "hub"))
	r := &Relay{
		config:   cfg,
		hub:      hub,
		store:    s,
		logger:   logger,
		serverID: generateServerID(),
	}

	r.grpcServer = NewGRPCServer(tokens, logger)
	relayrpc.RegisterSignalRelayServer(r.grpcServer,
		NewService(hub, s, r.serverID, cfg.Relay.OutboundBuffer, logger.With("component", "relay")))

	r.httpServer = &http.Server{
		Handler: NewRouter(hub, s, HTTPOptions{
			MetricsEnabled: cfg.Metrics.Enabled,
			MetricsPath:    cfg.Metrics.Path,
		}, logger.With("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return r, nil
}

// Hub exposes the connection hub.
func (r *Relay) Hub() *Hub {
	return r.hub
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (r *Relay) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	r.logger.Info("starting relay",
		"grpc_addr", r.config.Server.GRPCAddr,
		"http_addr", r.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", r.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", r.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (r *Relay) warnIgnoredAddresses() {
	if r.config.Server.GRPCAddr != "" || r.config.Server.HTTPAddr != "" {
		r.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", r.config.Server.GRPCAddr,
			"http_addr", r.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (r *Relay) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if r.config.Tailscale.Enabled {
		r.warnIgnoredAddresses()
		return r.setupTailscaleListeners(ctx)
	}
	return r.setupTCPListeners()
}

// Serve runs both servers on the given listeners until ctx is canceled or a
// server fails, then shuts down.
func (r *Relay) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	errCh := r.startServers(grpcLn, httpLn)
	serverErr := r.waitForShutdownSignal(ctx, errCh)

	shutdownErr := r.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Run starts the relay servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (r *Relay) Run(ctx context.Context) error {
	grpcLn, httpLn, err := r.setupListeners(ctx)
	if err != nil {
		return err
	}
	return r.Serve(ctx, grpcLn, httpLn)
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (r *Relay) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		r.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := r.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		r.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := r.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (r *Relay) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		r.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		r.logger.Error("server error", "error", err)
		r.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (r *Relay) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		r.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown uses a fresh context since the caller's is already canceled.
func (r *Relay) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "moss-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (r *Relay) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := r.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	r.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	r.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := r.tsnetServer.Up(ctx)
	if err != nil {
		_ = r.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	r.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = r.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = r.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = r.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = grpcLn.Close()
		_ = r.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (r *Relay) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		r.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	r.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (r *Relay) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		r.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		r.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all relay servers and releases resources.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", r.httpServer.Shutdown(ctx))

	r.shutdownGRPCServer(ctx)

	if r.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", r.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", r.store.Close())

	return errors.Join(errs...)
}

// generateServerID creates a unique identifier for this relay instance.
func generateServerID() string {
	return fmt.Sprintf("moss-relay-%d", time.Now().UnixNano()%1000000)
}
