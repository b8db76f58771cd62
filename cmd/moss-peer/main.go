// ABOUTME: Entry point for moss-peer, a terminal chat peer with presence
// ABOUTME: Subcommands: run, keygen

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

// getConfigPath returns the path to the peer config file.
// Priority: --config flag > MOSS_PEER_CONFIG env var > XDG_CONFIG_HOME/moss/peer.toml > ~/.config/moss/peer.toml
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("MOSS_PEER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "peer.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "moss", "peer.toml")
}

// getDataPath returns the directory for peer key material.
// Priority: XDG_DATA_HOME/moss > ~/.local/share/moss
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "." // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "moss")
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "moss-peer",
		Short:         "Chat with a group over a moss relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/moss/peer.toml)")

	rootCmd.AddCommand(
		newRunCmd(func() string { return getConfigPath(configPath) }),
		newKeygenCmd(),
	)
	return rootCmd
}

func main() {
	for _, envFile := range []string{".env", "../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
