package config

import (
	"driver-cost-service/internal/domain"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndFlags(t *testing.T) {
	t.Setenv("ORS_API_KEY", "secret")

	cfg, err := Load([]string{"--cost-per-km", "2.5", "--workers", "8", "--fallback-policy", "retry_next_run"})
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.CostPerKm)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 200.0, cfg.DistanceAnomalyThresholdKm)
	assert.Equal(t, "secret", cfg.ORSAPIKey)
	assert.Equal(t, domain.ScopeSegment, cfg.Scope())
	assert.True(t, cfg.RetryNextRun())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "costrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cost_per_km: 4.0\nmax_retries: 1\nors_api_key: from-file\n"), 0o600))

	t.Setenv("ORS_API_KEY", "")
	t.Setenv("COSTRUN_MAX_RETRIES", "5")

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, 4.0, cfg.CostPerKm)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "from-file", cfg.ORSAPIKey)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("ORS_API_KEY", "secret")

	_, err := Load([]string{"--cost-per-km", "0"})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	t.Setenv("DATABASE_URL", "")
	_, err = Load([]string{"--cache-backend", "postgres"})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = Load([]string{"--lease-ttl", "5s", "--request-timeout", "10s"})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("ORS_API_KEY", "")

	_, err := Load(nil)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
