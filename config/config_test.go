package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 8, cfg.DiffConcurrency)
	require.True(t, cfg.AbsorbRejectMaskedDeletion)
	require.Equal(t, 1, cfg.AnnotateBatchSize)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := "diffconcurrency = 4\nabsorbrejectmaskeddeletion = false\nannotatebatchsize = 3\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.DiffConcurrency)
	require.False(t, cfg.AbsorbRejectMaskedDeletion)
	require.Equal(t, 3, cfg.AnnotateBatchSize)
}
