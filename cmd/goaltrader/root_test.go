package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  http_addr: \":18080\"\nscheduler:\n  check_interval: 15m\n"), 0o644))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "validate", "--config", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "15m")

	assert.Equal(t, "127.0.0.1:18080", defaultAPIAddr(path))
	assert.Equal(t, "127.0.0.1:9991", defaultAPIAddr(filepath.Join(dir, "missing.yaml")))
}

func TestGoalCreateRequiresKind(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"goal", "create", "--target", "5", "--api", "127.0.0.1:1"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind")
}
