package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecalc/junction-engine/internal/cover"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "5339", cfg.Port)
	assert.Equal(t, cover.DefaultConfig(), cfg.Solver)
	assert.Equal(t, 0.05, cfg.Junction.BaseCommission)
	assert.Equal(t, 0.02, cfg.Junction.DefaultExtraCommission)
	assert.Equal(t, 0.47, cfg.Junction.DefaultEntryCeiling)
	assert.Equal(t, 10, cfg.Junction.MaxResults)
	assert.Equal(t, 5*time.Minute, cfg.Sheets.RefreshInterval)
	assert.Empty(t, cfg.Store.Driver)
}

func TestLoad_EnvAliases(t *testing.T) {
	t.Setenv("CODE_FPTAS_EPS", "0.05")
	t.Setenv("CODE_FPTAS_MAX", "800")
	t.Setenv("GCS_BUCKET", "cartas")
	t.Setenv("GCS_PREFIX", "base/")
	t.Setenv("DATABASE_URL", "postgres://localhost/junction")
	t.Setenv("PORT", "8080")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Solver.Epsilon)
	assert.Equal(t, 800, cfg.Solver.MaxFrontierStates)
	assert.Equal(t, "cartas", cfg.Sheets.Bucket)
	assert.Equal(t, "base/", cfg.Sheets.Prefix)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver, "a database URL implies the postgres driver")
}

func TestLoad_NestedEnvKeys(t *testing.T) {
	t.Setenv("JUNCTION_MAX_RESULTS", "3")
	t.Setenv("SOLVER_EXACT_THRESHOLD", "20")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Junction.MaxResults)
	assert.Equal(t, 20, cfg.Solver.ExactThreshold)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := []byte(`
port: "9000"
store:
  driver: sqlite
  sqlite_path: /tmp/runs.db
solver:
  epsilon: 0.02
junction:
  default_entry_ceiling: 0.5
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/runs.db", cfg.Store.SQLitePath)
	assert.Equal(t, 0.02, cfg.Solver.Epsilon)
	assert.Equal(t, cover.DefaultExactThreshold, cfg.Solver.ExactThreshold)
	assert.Equal(t, 0.5, cfg.Junction.DefaultEntryCeiling)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero epsilon", map[string]string{"CODE_FPTAS_EPS": "0"}},
		{"threshold above limit", map[string]string{"SOLVER_EXACT_THRESHOLD": "41"}},
		{"zero frontier", map[string]string{"CODE_FPTAS_MAX": "0"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mysql"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"negative extra commission", map[string]string{"JUNCTION_DEFAULT_EXTRA_COMMISSION": "-0.1"}},
		{"zero results", map[string]string{"JUNCTION_MAX_RESULTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestValidate_SolverErrorIsWrapped(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Solver.Epsilon = -1
	assert.ErrorIs(t, cfg.Validate(), cover.ErrInvalidConfig)
}
