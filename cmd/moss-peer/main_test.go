// ABOUTME: Tests for moss-peer path resolution and keygen
// ABOUTME: keygen writes a PEM key and prints a parseable agent id

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MOSS_PEER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "moss", "peer.toml"), getConfigPath(""))

	t.Setenv("MOSS_PEER_CONFIG", "/etc/peer.toml")
	assert.Equal(t, "/etc/peer.toml", getConfigPath(""))
	assert.Equal(t, "mine.toml", getConfigPath("mine.toml"))
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "moss"), getDataPath())
}

func TestKeygen_WritesKey(t *testing.T) {
	out := filepath.Join(t.TempDir(), "keys", "me.pem")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"keygen", "--out", out})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN PRIVATE KEY")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
