// Package consume implements the Consume Runner: the single-threaded
// cooperative scheduling loop that ties every other component together.
package consume

import (
	"context"
	"log/slog"
	"time"

	"github.com/fuel-dev/fuel/internal/completion"
	"github.com/fuel-dev/fuel/internal/config"
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

// TickInterval is the default pace of the scheduling loop.
const TickInterval = 1 * time.Second

// GraceDeadline is the default wall-clock budget for a graceful shutdown.
const GraceDeadline = 30 * time.Second

// Runner is the Consume Runner component.
type Runner struct {
	store      *store.Store
	cfg        *config.Config
	procMgr    *procmanager.Manager
	health     *health.Tracker
	spawner    *spawner.Spawner
	completion *completion.Handler
	review     *review.Manager
	lifecycle  *lifecycle.Manager
	snapshots  *snapshot.Manager
	ipcServer  *ipc.Server
	dispatcher *ipc.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger

	graceful bool
}

// Deps bundles every collaborator the Runner needs, constructed by the
// daemon entrypoint (cmd/fuel) and handed in as a unit.
type Deps struct {
	Store      *store.Store
	Config     *config.Config
	ProcMgr    *procmanager.Manager
	Health     *health.Tracker
	Spawner    *spawner.Spawner
	Completion *completion.Handler
	Review     *review.Manager
	Lifecycle  *lifecycle.Manager
	Snapshots  *snapshot.Manager
	IPCServer  *ipc.Server
	Dispatcher *ipc.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// New constructs a Runner from Deps.
func New(d Deps) *Runner {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:      d.Store,
		cfg:        d.Config,
		procMgr:    d.ProcMgr,
		health:     d.Health,
		spawner:    d.Spawner,
		completion: d.Completion,
		review:     d.Review,
		lifecycle:  d.Lifecycle,
		snapshots:  d.Snapshots,
		ipcServer:  d.IPCServer,
		dispatcher: d.Dispatcher,
		metrics:    d.Metrics,
		logger:     logger,
	}
}

// Run drives ticks until the lifecycle manager's shutdown flag is set or
// ctx is cancelled, then performs a cascaded drain.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.drain(context.Background())
		case <-r.lifecycle.ShutdownRequested():
			return r.drain(context.Background())
		case cmd := <-r.ipcServer.Inbox():
			r.dispatcher.Dispatch(cmd)
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.TicksTotal.Inc()
	}

	for _, rec := range r.procMgr.Poll() {
		r.routeCompletion(rec)
	}

	r.admitReadyTasks(ctx)

	if r.metrics != nil {
		if blocked, err := r.store.Blocked(); err == nil {
			r.metrics.BlockedTasks.Set(float64(len(blocked)))
		}
		r.metrics.ActiveChildren.Reset()
		for _, c := range r.procMgr.GetActiveProcesses() {
			r.metrics.ActiveChildren.WithLabelValues(c.Agent).Inc()
		}
	}

	// service one further batch of already-queued IPC commands without
	// blocking the tick on new arrivals
	for {
		select {
		case cmd := <-r.ipcServer.Inbox():
			r.dispatcher.Dispatch(cmd)
		default:
			return
		}
	}
}

func (r *Runner) routeCompletion(rec procmanager.CompletionRecord) {
	if r.review.IsReviewChild(rec.ChildID) {
		if err := r.review.PollReviews(rec); err != nil {
			r.logger.Warn("review completion handling failed", "child_id", rec.ChildID, "err", err)
		}
		return
	}

	runID, ok := r.spawner.RunIDForChild(rec.ChildID)
	if !ok {
		r.logger.Warn("completion for untracked child", "child_id", rec.ChildID)
		return
	}
	taskID, _ := r.spawner.TaskIDForChild(rec.ChildID)

	if err := r.completion.Handle(rec, runID, taskID); err != nil {
		r.logger.Warn("completion handling failed", "task_id", taskID, "err", err)
		return
	}

	if r.metrics != nil {
		r.metrics.CompletionsByKind.WithLabelValues(string(completion.Classify(rec))).Inc()
	}

	if task, err := r.store.Find(taskID); err == nil && task.Status == store.StatusClosed {
		r.snapshots.NoteDone(task)
	}
}

func (r *Runner) admitReadyTasks(ctx context.Context) {
	if r.graceful {
		return // draining: no new spawns allowed
	}

	ready, err := r.store.Ready()
	if err != nil {
		r.logger.Warn("ready scan failed", "err", err)
		return
	}
	if r.metrics != nil {
		r.metrics.ReadyTasks.Set(float64(len(ready)))
	}

	for _, task := range ready {
		outcome, err := r.spawner.TryLaunch(ctx, task)
		if err != nil {
			r.logger.Warn("launch failed", "task_id", task.ID, "err", err)
			continue
		}
		if !outcome.Spawned {
			continue
		}
	}
}

// RequestStop is called from the IPC "stop" command. A graceful stop only
// sets the shutdown flag, and the loop drains children within GraceDeadline;
// a non-graceful stop also terminates every child right away. OS signals do
// not come through here: they cancel the ctx passed to Run.
func (r *Runner) RequestStop(graceful bool) {
	r.graceful = graceful
	if !graceful {
		_ = r.procMgr.Shutdown(context.Background(), 0)
	}
	r.lifecycle.Stop()
}

func (r *Runner) drain(ctx context.Context) error {
	r.graceful = true
	if err := r.procMgr.Shutdown(ctx, GraceDeadline); err != nil {
		r.logger.Warn("shutdown did not complete cleanly", "err", err)
	}
	_ = r.ipcServer.Close()
	r.lifecycle.Cleanup()
	return nil
}
