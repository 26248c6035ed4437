package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_MissingFileYieldsDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.True(t, settings.DryRun)
	assert.Equal(t, 5, settings.TargetPositions)
	assert.Equal(t, 0.25, settings.Risk.MaxPosPct)
}

func TestLoadSettings_EmptyFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)
}

func TestLoadSettings_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	doc := `
dry_run: false
target_positions: 3
risk:
  max_pos_pct: 0.30
vote:
  enabled: true
  models: ["model-a", "model-b", "model-c"]
  min_votes: 2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.False(t, settings.DryRun)
	assert.Equal(t, 3, settings.TargetPositions)
	assert.Equal(t, 0.30, settings.Risk.MaxPosPct)
	assert.True(t, settings.Vote.Enabled)
	assert.Len(t, settings.Vote.Models, 3)

	// Untouched sections keep their defaults
	assert.Equal(t, 0.05, settings.Drawdown.MaxDailyLossPct)
	assert.Equal(t, 50, settings.Universe.MaxSize)
}

func TestLoadSettings_InvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk: [not: a map"), 0644))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}
