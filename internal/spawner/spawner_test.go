package spawner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuel-dev/fuel/internal/config"
	"github.com/fuel-dev/fuel/internal/fuelctx"
	"github.com/fuel-dev/fuel/internal/health"
	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/fuel-dev/fuel/internal/store"
)

func newTestSpawner(t *testing.T, cfg *config.Config) (*Spawner, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	fctx := fuelctx.New(dir)

	st, err := store.Open(fctx.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tracker := health.New(3, 300)
	pm := procmanager.New(fctx.ProcessesDir(), nil)
	return New(fctx, st, cfg, tracker, pm), st
}

func TestTryLaunchNoAgentConfigured(t *testing.T) {
	cfg := &config.Config{}
	sp, st := newTestSpawner(t, cfg)

	task, err := st.Create(store.Task{Title: "orphaned", Complexity: "simple"})
	require.NoError(t, err)

	outcome, err := sp.TryLaunch(context.Background(), task)
	require.NoError(t, err)
	require.False(t, outcome.Spawned)
	require.Equal(t, "no_agent_configured", outcome.Reason)
}

func TestTryLaunchRespectsCooldown(t *testing.T) {
	cfg := &config.Config{
		Agents:     map[string]config.AgentDef{"noop": {Command: "true"}},
		Complexity: map[string]config.ComplexityMapping{"simple": {Agent: "noop"}},
	}
	sp, st := newTestSpawner(t, cfg)

	for i := 0; i < 3; i++ {
		sp.health.RecordSpawn("noop")
		sp.health.RecordFailure("noop")
	}

	task, err := st.Create(store.Task{Title: "unlucky", Complexity: "simple"})
	require.NoError(t, err)

	outcome, err := sp.TryLaunch(context.Background(), task)
	require.NoError(t, err)
	require.False(t, outcome.Spawned)
	require.Equal(t, "cooldown", outcome.Reason)
}

func TestBuildPromptIncludesTaskAndEpic(t *testing.T) {
	cfg := &config.Config{}
	sp, st := newTestSpawner(t, cfg)

	epic, err := st.CreateEpic(store.Epic{Title: "Ship the thing", Description: "get it out the door"})
	require.NoError(t, err)

	task := store.Task{
		ID:          "t-aaaaaa",
		Title:       "write the changelog",
		Description: "summarize this release",
		Type:        store.TypeTask,
		Complexity:  "simple",
		Priority:    2,
		EpicID:      epic.ID,
	}

	prompt, err := sp.buildPrompt(task)
	require.NoError(t, err)
	require.Contains(t, prompt, "Ship the thing")
	require.Contains(t, prompt, "get it out the door")
	require.Contains(t, prompt, "write the changelog")
	require.Contains(t, prompt, "summarize this release")
	require.Contains(t, prompt, "id=t-aaaaaa")
}

func TestUntrackedChildLookupsFail(t *testing.T) {
	cfg := &config.Config{}
	sp, _ := newTestSpawner(t, cfg)

	_, ok := sp.RunIDForChild("nonexistent")
	require.False(t, ok)

	_, ok = sp.TaskIDForChild("nonexistent")
	require.False(t, ok)
}
