package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Pipeline.MaxRetriesPerStage)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, 1.5, cfg.Houses.OpenSource.RoleMultipliers["maintainer"])
	assert.Equal(t, 1.3, cfg.Houses.OpenSource.RoleMultipliers["core_contributor"])
	assert.Equal(t, 66.7, cfg.Voting.EarlyFinalizationQuorum)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("pipeline:\n  max_retries_per_stage: 5\n  stage_timeout: 2s\napproval:\n  director3_signers: [alice]\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxRetriesPerStage)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.StageTimeout)
	assert.Equal(t, []string{"alice"}, cfg.Approval.Director3Signers)
	assert.Equal(t, float64(20), cfg.Houses.MossCoin.QuorumPercentage)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"quorum":      "houses:\n  mosscoin:\n    quorum_percentage: 0\n",
		"threshold":   "houses:\n  opensource:\n    pass_threshold: 120\n",
		"duration":    "voting:\n  min_duration_hours: 48\n  max_duration_hours: 24\n",
		"retries":     "pipeline:\n  max_retries_per_stage: 0\n",
		"multiplier":  "houses:\n  opensource:\n    role_multipliers:\n      maintainer: -1\n",
		"webhook url": "webhooks:\n  - enabled: true\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mossgov.yml"), []byte("logging:\n  level: debug\n"), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
