// ABOUTME: moss-peer subcommands
// ABOUTME: run joins the group in the terminal; keygen creates an agent identity

package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lightningrodlabs/moss-sub000/internal/config"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/logging"
	"github.com/lightningrodlabs/moss-sub000/internal/relayclient"
	"github.com/lightningrodlabs/moss-sub000/internal/session"
)

func newRunCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Join the group and chat from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runPeer(ctx, configPath())
		},
	}
}

func runPeer(ctx context.Context, configPath string) error {
	cfg, err := config.LoadPeer(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout belongs to the terminal UI.
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := relayclient.Dial(dialCtx, relayclient.Options{
		Addr:     cfg.Relay.Addr,
		Token:    cfg.Relay.Token,
		AgentID:  cfg.Self(),
		Nickname: cfg.Profile.Nickname,
		Logger:   logger,
	})
	dialCancel()
	if err != nil {
		return fmt.Errorf("connecting to relay: %w", err)
	}
	defer client.Close()

	term := session.NewTerminal(os.Stdin, os.Stdout)
	s, err := session.New(session.Config{
		Transport:             client,
		UI:                    term,
		Nickname:              cfg.Profile.Nickname,
		Logger:                logger,
		TickInterval:          cfg.Presence.TickInterval,
		IdleThreshold:         cfg.Presence.IdleThreshold,
		OfflineThreshold:      cfg.Presence.OfflineThreshold,
		RefetchEvery:          cfg.Presence.RefetchEvery,
		TzUTCOffset:           cfg.Profile.TzUTCOffset,
		MaxOutstandingPerPeer: cfg.Messenger.MaxOutstandingPerPeer,
		NotificationDedupeTTL: cfg.Messenger.NotificationDedupeTTL,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- s.Run(ctx)
		cancel()
	}()

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("joined %s as %s (/help for commands)\n", client.ServerID(), cfg.Self().Short())

	termErr := term.Run(ctx, s)
	cancel()
	if err := <-sessionErr; err != nil {
		return err
	}
	return termErr
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}

func newKeygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new agent identity",
		RunE: func(_ *cobra.Command, _ []string) error {
			id, priv, err := identity.Generate()
			if err != nil {
				return err
			}

			der, err := x509.MarshalPKCS8PrivateKey(priv)
			if err != nil {
				return fmt.Errorf("encoding key: %w", err)
			}

			if out == "" {
				out = filepath.Join(getDataPath(), id.Short()+".pem")
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}
			keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
			if err := os.WriteFile(out, keyPEM, 0o600); err != nil {
				return fmt.Errorf("writing key: %w", err)
			}

			gray := color.New(color.FgHiBlack)
			fmt.Printf("agent_id: %s\n", id)
			gray.Printf("key:      %s\n\n", out)
			fmt.Println("Add this to peer.toml:")
			fmt.Println()
			fmt.Println("[relay]")
			fmt.Printf("agent_id = %q\n", id.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "key file (default $XDG_DATA_HOME/moss/<id>.pem)")
	return cmd
}
