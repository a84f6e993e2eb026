package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, defaultConsumePort, cfg.Consume.Port)
	require.Equal(t, defaultMaxAgentAttempts, cfg.Consume.MaxAgentAttempts)
	require.Equal(t, defaultCooldownSeconds, cfg.Consume.CooldownSeconds)
}

func TestAgentWithoutMaxConcurrentDefaultsToTwo(t *testing.T) {
	path := writeConfig(t, `
agents:
  claude:
    command: claude
primary: claude
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.AgentMaxConcurrent("claude"))
}

func TestComplexityMappingAcceptsBareNameOrObject(t *testing.T) {
	path := writeConfig(t, `
primary: claude
complexity:
  trivial: echo
  complex:
    agent: claude
    model: opus
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	agent, model := cfg.AgentAndModel("trivial")
	require.Equal(t, "echo", agent)
	require.Empty(t, model)

	agent, model = cfg.AgentAndModel("complex")
	require.Equal(t, "claude", agent)
	require.Equal(t, "opus", model)

	agent, _ = cfg.AgentAndModel("moderate")
	require.Equal(t, "claude", agent, "falls back to primary")
}

func TestReviewSkip(t *testing.T) {
	path := writeConfig(t, `
primary: claude
review:
  skip: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Review.Skip)
}
