// Package snapshot implements the Snapshot Manager: a cross-component view
// of ready/in_progress/review/blocked/health state for display consumers.
package snapshot

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fuel-dev/fuel/internal/health"
	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/fuel-dev/fuel/internal/store"
)

// InProgressEntry pairs a task with its live run and process info.
type InProgressEntry struct {
	Task     store.Task
	Run      store.Run
	PID      int
	Duration time.Duration
}

// ReviewEntry pairs a task with its pending review.
type ReviewEntry struct {
	Task   store.Task
	Review store.Review
}

// HumanEntry is a task that needs an operator's attention.
type HumanEntry struct {
	Task   store.Task
	Reason string
}

// Snapshot is the single struct broadcast to display and --json consumers.
type Snapshot struct {
	Ready      []store.Task
	InProgress []InProgressEntry
	Review     []ReviewEntry
	Blocked    []store.Task
	Human      []HumanEntry
	Done       []store.Task
	Health     map[string]health.AgentHealth
	InstanceID string
	Uptime     time.Duration
}

// ReadyLimit bounds how many ready tasks are reported per snapshot.
const ReadyLimit = 50

// DoneLimit bounds the recent "done" ring kept for display.
const DoneLimit = 20

// Manager is the Snapshot Manager component.
type Manager struct {
	store      *store.Store
	health     *health.Tracker
	procMgr    *procmanager.Manager
	instanceID string
	startedAt  time.Time
	doneCache  *lru.Cache[string, store.Task]
}

// New constructs a Manager; doneCache retains recently closed tasks across
// ticks, bounded to DoneLimit entries.
func New(st *store.Store, tracker *health.Tracker, pm *procmanager.Manager, instanceID string, startedAt time.Time) *Manager {
	cache, _ := lru.New[string, store.Task](DoneLimit)
	return &Manager{store: st, health: tracker, procMgr: pm, instanceID: instanceID, startedAt: startedAt, doneCache: cache}
}

// NoteDone records a task that was just closed, for the recent "done" list.
func (m *Manager) NoteDone(task store.Task) {
	m.doneCache.Add(task.ID, task)
}

// Build aggregates the current cross-component view. The five top-level
// queries all read the tasks bucket, each in its own read-only bbolt
// transaction; bbolt allows concurrent readers, so they run concurrently
// rather than one after another.
func (m *Manager) Build() (Snapshot, error) {
	var (
		ready           []store.Task
		blocked         []store.Task
		inProgressTasks []store.Task
		reviewTasks     []store.Task
		humanTasks      []store.Task
	)

	g := new(errgroup.Group)
	g.Go(func() (err error) { ready, err = m.store.Ready(); return })
	g.Go(func() (err error) { blocked, err = m.store.Blocked(); return })
	g.Go(func() (err error) {
		inProgressTasks, err = m.store.All(store.Filter{Status: store.StatusInProgress})
		return
	})
	g.Go(func() (err error) {
		reviewTasks, err = m.store.All(store.Filter{Status: store.StatusReview})
		return
	})
	g.Go(func() (err error) {
		humanTasks, err = m.store.All(store.Filter{Labels: []string{"needs-human"}})
		return
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	if len(ready) > ReadyLimit {
		ready = ready[:ReadyLimit]
	}

	active := map[int]procmanager.ChildView{}
	for _, c := range m.procMgr.GetActiveProcesses() {
		active[c.PID] = c
	}
	var inProgress []InProgressEntry
	for _, t := range inProgressTasks {
		run, ok, err := m.store.LatestRunForTask(t.ID)
		if err != nil {
			return Snapshot{}, err
		}
		entry := InProgressEntry{Task: t}
		if ok {
			entry.Run = run
			entry.Duration = run.Duration()
		}
		if c, ok := active[t.ConsumePID]; ok {
			entry.PID = c.PID
		}
		inProgress = append(inProgress, entry)
	}

	var reviews []ReviewEntry
	for _, t := range reviewTasks {
		revs, err := m.store.ReviewsForTask(t.ID)
		if err != nil {
			return Snapshot{}, err
		}
		for _, r := range revs {
			if r.Status == store.ReviewPending {
				reviews = append(reviews, ReviewEntry{Task: t, Review: r})
				break
			}
		}
	}

	var human []HumanEntry
	for _, t := range humanTasks {
		human = append(human, HumanEntry{Task: t, Reason: t.Reason})
	}

	var done []store.Task
	for _, key := range m.doneCache.Keys() {
		if t, ok := m.doneCache.Get(key); ok {
			done = append(done, t)
		}
	}

	return Snapshot{
		Ready:      ready,
		InProgress: inProgress,
		Review:     reviews,
		Blocked:    blocked,
		Human:      human,
		Done:       done,
		Health:     m.health.All(),
		InstanceID: m.instanceID,
		Uptime:     time.Since(m.startedAt),
	}, nil
}
