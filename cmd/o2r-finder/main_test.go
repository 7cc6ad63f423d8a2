package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "o2r-finder dev\n", out.String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("server: ["), 0o644))

	require.NoError(t, rootCmd.PersistentFlags().Set("config-dir", dir))
	t.Cleanup(func() { _ = rootCmd.PersistentFlags().Set("config-dir", "configs") })

	_, err := loadConfig(rootCmd)
	assert.Error(t, err)
}
