// ABOUTME: Entry point for moss-relay, the signal relay shared by a group of peers
// ABOUTME: Subcommands: serve, token, members, health

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _ __ ___   ___  ___ ___       _ __ ___| | __ _ _   _
 | '_ ' _ \ / _ \/ __/ __|_____| '__/ _ \ |/ _' | | | |
 | | | | | | (_) \__ \__ \_____| | |  __/ | (_| | |_| |
 |_| |_| |_|\___/|___/___/     |_|  \___|_|\__,_|\__, |
                                                 |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: --config flag > MOSS_RELAY_CONFIG env var > XDG_CONFIG_HOME/moss/relay.yaml > ~/.config/moss/relay.yaml
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("MOSS_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "moss", "relay.yaml")
}

// loadDotEnv loads the first .env file found so ${VAR} references in the
// config can be satisfied locally.
func loadDotEnv() {
	for _, envFile := range []string{".env", "../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "moss-relay",
		Short:         "Relay signals between moss peers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/moss/relay.yaml)")

	resolve := func() string { return getConfigPath(configPath) }

	rootCmd.AddCommand(
		newServeCmd(resolve),
		newTokenCmd(resolve),
		newMembersCmd(resolve),
		newHealthCmd(resolve),
	)
	return rootCmd
}

func main() {
	loadDotEnv()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
