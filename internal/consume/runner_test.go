package consume

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuel-dev/fuel/internal/completion"
	"github.com/fuel-dev/fuel/internal/config"
	"github.com/fuel-dev/fuel/internal/fuelctx"
	"github.com/fuel-dev/fuel/internal/health"
	"github.com/fuel-dev/fuel/internal/ipc"
	"github.com/fuel-dev/fuel/internal/lifecycle"
	"github.com/fuel-dev/fuel/internal/metrics"
	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/fuel-dev/fuel/internal/review"
	"github.com/fuel-dev/fuel/internal/snapshot"
	"github.com/fuel-dev/fuel/internal/spawner"
	"github.com/fuel-dev/fuel/internal/store"
)

func newTestRunner(t *testing.T) (*Runner, *fuelctx.Context) {
	t.Helper()
	dir := t.TempDir()
	fctx := fuelctx.New(dir)

	st, err := store.Open(fctx.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Agents:     map[string]config.AgentDef{"noop": {Command: "true"}},
		Complexity: map[string]config.ComplexityMapping{"simple": {Agent: "noop"}},
		Primary:    "noop",
		Consume:    config.ConsumePolicy{MaxAgentAttempts: 3, CooldownSeconds: 300, Port: 0},
	}

	tracker := health.New(cfg.Consume.MaxAgentAttempts, cfg.Consume.CooldownSeconds)
	pm := procmanager.New(fctx.ProcessesDir(), nil)
	sp := spawner.New(fctx, st, cfg, tracker, pm)
	rv := review.New(fctx, st, cfg, pm, nil)
	ch := completion.New(st, tracker, cfg, rv, nil)

	require.NoError(t, os.MkdirAll(fctx.FuelDir(), 0o755))
	lc := lifecycle.New(fctx.PIDPath(), fctx.LockPath())
	rec, err := lc.Start(0)
	require.NoError(t, err)
	t.Cleanup(lc.Cleanup)

	snaps := snapshot.New(st, tracker, pm, rec.InstanceID, rec.StartedAt)

	server := ipc.New(0, nil)
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })

	disp := ipc.NewDispatcher(snaps, tracker, st, func(bool) {})
	m := metrics.New()

	runner := New(Deps{
		Store:      st,
		Config:     cfg,
		ProcMgr:    pm,
		Health:     tracker,
		Spawner:    sp,
		Completion: ch,
		Review:     rv,
		Lifecycle:  lc,
		Snapshots:  snaps,
		IPCServer:  server,
		Dispatcher: disp,
		Metrics:    m,
	})
	return runner, fctx
}

func TestRequestStopSetsGracefulAndShutdownFlag(t *testing.T) {
	r, _ := newTestRunner(t)
	require.False(t, r.graceful)

	r.RequestStop(true)
	require.True(t, r.graceful)

	select {
	case <-r.lifecycle.ShutdownRequested():
	default:
		t.Fatal("expected shutdown flag to be set")
	}
}

func TestAdmitReadyTasksSkipsWhileGraceful(t *testing.T) {
	r, _ := newTestRunner(t)
	_, err := r.store.Create(store.Task{Title: "queued work", Complexity: "simple"})
	require.NoError(t, err)

	r.graceful = true
	r.admitReadyTasks(context.Background())

	task, err := r.store.Find((mustOnlyTaskID(t, r.store)))
	require.NoError(t, err)
	require.Equal(t, store.StatusOpen, task.Status)
}

func TestTickDoesNotPanicWithNoWork(t *testing.T) {
	r, _ := newTestRunner(t)
	require.NotPanics(t, func() { r.tick(context.Background()) })
}

func TestDrainReleasesLifecycleLock(t *testing.T) {
	r, fctx := newTestRunner(t)
	err := r.drain(context.Background())
	require.NoError(t, err)

	_, statErr := os.Stat(fctx.PIDPath())
	require.True(t, os.IsNotExist(statErr), "expected pid file removed after drain")
	require.True(t, r.graceful)
}

func mustOnlyTaskID(t *testing.T, st *store.Store) string {
	t.Helper()
	tasks, err := st.All(store.Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0].ID
}
