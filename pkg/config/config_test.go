package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTopology(t *testing.T) {
	cases := map[string]string{
		"":          TopologySingle,
		"single":    TopologySingle,
		"A":         TopologySingle,
		"two_level": TopologyTwoLevel,
		"TWO-LEVEL": TopologyTwoLevel,
		"b":         TopologyTwoLevel,
	}
	for raw, want := range cases {
		got, err := normalizeTopology(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := normalizeTopology("three")
	require.Error(t, err)
}

func TestLoadReadsTopologyFromEnv(t *testing.T) {
	t.Setenv("ASSIGNMENT_APPROVAL_TOPOLOGY", "TWO_LEVEL")
	t.Setenv("ASSIGNMENT_STATS_CACHE_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, TopologyTwoLevel, cfg.Assignments.ApprovalTopology)
	assert.Equal(t, 90*time.Second, cfg.Assignments.StatsCacheTTL)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, ",", cfg.Assignments.ExportDelimiter)
	assert.Equal(t, 10000, cfg.Assignments.ExportMaxRows)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
