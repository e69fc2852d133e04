package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 81.0, cfg.Decay.InsulinHalfLifeMinutes)
	assert.Equal(t, 45.0, cfg.Decay.CarbHalfLifeMinutes)
	assert.Equal(t, 100.0, cfg.Dosing.TargetBg)
	assert.Equal(t, 4.0, cfg.Dosing.CarbBgFactor)
	assert.Equal(t, 54.0, cfg.Alerts.CriticalLowBg)
	assert.Equal(t, "default", cfg.Feed.UserID)
}

func TestLoad_FromFile(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "glucocalc.yaml")
	content := []byte(`
server:
  addr: ":9090"
decay:
  insulin_half_life_minutes: 90
dosing:
  default_isf: 40
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 90.0, cfg.Decay.InsulinHalfLifeMinutes)
	assert.Equal(t, 40.0, cfg.Dosing.DefaultISF)
	// Untouched keys keep their defaults
	assert.Equal(t, 45.0, cfg.Decay.CarbHalfLifeMinutes)
}

func TestLoad_EnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("GLUCOCALC_DECAY_CARB_HALF_LIFE_MINUTES", "60")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 60.0, cfg.Decay.CarbHalfLifeMinutes)
}

func TestLoad_RejectsInvalidParams(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "glucocalc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("decay:\n  insulin_half_life_minutes: -5\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	resetViper(t)

	_, err := Load("/nonexistent/glucocalc.yaml")
	assert.Error(t, err)
}
