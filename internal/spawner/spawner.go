// Package spawner implements the Task Spawner: given a ready task, it picks
// the agent+model, builds the prompt, registers a run, and hands off to the
// Process Manager.
package spawner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fuel-dev/fuel/internal/config"
	"github.com/fuel-dev/fuel/internal/fuelctx"
	"github.com/fuel-dev/fuel/internal/health"
	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/fuel-dev/fuel/internal/store"
)

// Outcome is the result of a launch attempt.
type Outcome struct {
	Spawned bool
	RunID   string
	Reason  string // populated when Spawned is false
}

// Spawner is the Task Spawner component.
type Spawner struct {
	ctx     *fuelctx.Context
	store   *store.Store
	cfg     *config.Config
	health  *health.Tracker
	procMgr *procmanager.Manager

	runIndex  sync.Map // child_id -> run_id
	taskIndex sync.Map // child_id -> task_id
}

// New constructs a Spawner wired to its collaborators.
func New(fctx *fuelctx.Context, st *store.Store, cfg *config.Config, tracker *health.Tracker, pm *procmanager.Manager) *Spawner {
	return &Spawner{ctx: fctx, store: st, cfg: cfg, health: tracker, procMgr: pm}
}

// TryLaunch attempts to start a task, per §4.5 of the scheduling contract.
func (s *Spawner) TryLaunch(ctx context.Context, task store.Task) (Outcome, error) {
	agent, model := s.cfg.AgentAndModel(string(task.Complexity))
	if agent == "" {
		return Outcome{Reason: "no_agent_configured"}, nil
	}

	if !s.health.CanSpawn(agent) {
		return Outcome{Reason: "cooldown"}, nil
	}

	maxConcurrent := s.cfg.AgentMaxConcurrent(agent)
	if s.procMgr.GetAgentCount(agent) >= maxConcurrent {
		return Outcome{Reason: "at_cap"}, nil
	}

	prompt, err := s.buildPrompt(task)
	if err != nil {
		return Outcome{}, fmt.Errorf("build prompt for %s: %w", task.ID, err)
	}

	run, err := s.store.CreateRun(store.Run{TaskID: task.ID, Agent: agent, Model: model})
	if err != nil {
		return Outcome{}, fmt.Errorf("create run for %s: %w", task.ID, err)
	}

	if _, err := s.store.Start(task.ID); err != nil {
		// someone else started it between Ready() and now; abort cleanly
		return Outcome{Reason: "already_started"}, nil
	}

	def := s.cfg.Agents[agent]
	argv := append([]string{def.Command}, def.Args...)

	handle, err := s.procMgr.Spawn(ctx, agent, argv, os.Environ(), s.ctx.Root, prompt)
	if err != nil {
		s.health.RecordFailure(agent)
		return Outcome{}, fmt.Errorf("spawn %s for %s: %w", agent, task.ID, err)
	}
	s.health.RecordSpawn(agent)

	if err := s.store.SetConsumePID(task.ID, handle.PID); err != nil {
		return Outcome{}, fmt.Errorf("record pid for %s: %w", task.ID, err)
	}

	s.runIndex.Store(handle.ChildID, run.ID)
	s.taskIndex.Store(handle.ChildID, task.ID)

	return Outcome{Spawned: true, RunID: run.ID}, nil
}

// RunIDForChild resolves a child_id to its run_id, if still tracked.
func (s *Spawner) RunIDForChild(childID string) (string, bool) {
	v, ok := s.runIndex.Load(childID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// TaskIDForChild resolves a child_id to its task_id, if still tracked.
func (s *Spawner) TaskIDForChild(childID string) (string, bool) {
	v, ok := s.taskIndex.Load(childID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// buildPrompt is deterministic given (task, epic?, reality notes). It adds
// no agent-specific preamble: every agent gets the same prompt. Whitespace
// is not significant to callers.
func (s *Spawner) buildPrompt(task store.Task) (string, error) {
	var b strings.Builder

	if task.EpicID != "" {
		if epic, err := s.store.GetEpic(task.EpicID); err == nil {
			b.WriteString("# Epic: ")
			b.WriteString(epic.Title)
			b.WriteString("\n\n")
			if epic.Description != "" {
				b.WriteString(epic.Description)
				b.WriteString("\n\n")
			}
		}
	}

	if reality, err := os.ReadFile(s.ctx.RealityPath()); err == nil {
		b.WriteString("# Context\n\n")
		b.Write(reality)
		b.WriteString("\n\n")
	}

	b.WriteString("# Task: ")
	b.WriteString(task.Title)
	b.WriteString("\n\n")
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "id=%s type=%s complexity=%s priority=%d\n", task.ID, task.Type, task.Complexity, task.Priority)

	return b.String(), nil
}
