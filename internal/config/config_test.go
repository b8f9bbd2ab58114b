package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ptpipe/ptpipe/common/go/xerror"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, v map[string]any) string {
	t.Helper()
	raw := xerror.Unwrap(yaml.Marshal(v))
	path := filepath.Join(t.TempDir(), "ptpipe.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, map[string]any{"mode": "tip", "out_dir": "/tmp/trace"})

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, uint32(defaultDataPages), cfg.DataPages)
	require.Equal(t, uint32(defaultAuxPages), cfg.AuxPages)
	require.Equal(t, defaultNumThreads, cfg.NumThreads)
	require.Equal(t, uint32(defaultMaxTasks), cfg.MaxTasks)
}

func TestLoadDerivesAuxPagesFromAuxSize(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"mode":     "ptw",
		"out_dir":  "/tmp/trace",
		"aux_size": "64KiB",
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	const want uint32 = 64 * 1024 / defaultPageSize
	require.Equal(t, want, cfg.AuxPages)
}

func TestLoadRequiresOutDir(t *testing.T) {
	path := writeConfig(t, map[string]any{"mode": "simple"})

	_, err := Load(path)
	require.Error(t, err, "expected an error for a missing out_dir")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "expected an error for a nonexistent path")
}
