// ABOUTME: moss-relay subcommands
// ABOUTME: serve runs the relay; token, members and health are operator tools

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lightningrodlabs/moss-sub000/internal/auth"
	"github.com/lightningrodlabs/moss-sub000/internal/config"
	"github.com/lightningrodlabs/moss-sub000/internal/identity"
	"github.com/lightningrodlabs/moss-sub000/internal/logging"
	"github.com/lightningrodlabs/moss-sub000/internal/relay"
	"github.com/lightningrodlabs/moss-sub000/internal/store"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, configPath())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting moss-relay",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	r, err := relay.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	return r.Run(ctx)
}

func newTokenCmd(configPath func() string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <agent-id>",
		Short: "Mint a bearer token for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not set; the relay accepts the %s header instead", auth.AgentKey)
			}

			agent, err := identity.Parse(args[0])
			if err != nil {
				return err
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return err
			}

			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := verifier.Generate(agent, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

func newMembersCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List every agent that has joined through this relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			s, err := store.NewSQLiteStore(cfg.Database.Path, logging.New("error", "text", os.Stderr))
			if err != nil {
				return err
			}
			defer s.Close()

			members, err := s.ListMembers(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing members: %w", err)
			}
			if len(members) == 0 {
				fmt.Println("No members yet")
				return nil
			}

			bold := color.New(color.Bold)
			bold.Printf("%-48s %-16s %s\n", "AGENT", "NICKNAME", "LAST CONNECTED")
			for _, m := range members {
				fmt.Printf("%-48s %-16s %s\n", m.AgentID.String(), m.Nickname, m.LastConnected.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newHealthCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check relay health over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}

			fmt.Println("healthy")
			return nil
		},
	}
}
