// Package health tracks per-agent spawn/success/failure counters and
// enforces cooldown after repeated failures. State is in-memory; the live
// tracker is the authoritative source, not any persisted flush.
package health

import (
	"sync"
	"time"
)

// Status is the derived health classification for an agent.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCooldown Status = "cooldown"
)

// AgentHealth is a snapshot of one agent's rolling counters.
type AgentHealth struct {
	Agent               string
	Spawns              int
	Successes           int
	Failures            int
	ConsecutiveFailures int
	LastFailureAt       *time.Time
	HealthStatus        Status
	CooldownUntil       *time.Time
}

type agentState struct {
	spawns              int
	successes           int
	failures            int
	consecutiveFailures int
	lastFailureAt       *time.Time
	cooldownUntil       *time.Time
}

// Tracker is the Health Tracker component.
type Tracker struct {
	mu               sync.Mutex
	agents           map[string]*agentState
	maxAgentAttempts int
	cooldown         time.Duration
}

// New creates a Tracker with the given cooldown policy.
func New(maxAgentAttempts int, cooldownSeconds int) *Tracker {
	if maxAgentAttempts <= 0 {
		maxAgentAttempts = 3
	}
	if cooldownSeconds <= 0 {
		cooldownSeconds = 300
	}
	return &Tracker{
		agents:           make(map[string]*agentState),
		maxAgentAttempts: maxAgentAttempts,
		cooldown:         time.Duration(cooldownSeconds) * time.Second,
	}
}

func (t *Tracker) state(agent string) *agentState {
	s, ok := t.agents[agent]
	if !ok {
		s = &agentState{}
		t.agents[agent] = s
	}
	return s
}

// RecordSpawn increments the agent's spawn counter.
func (t *Tracker) RecordSpawn(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state(agent).spawns++
}

// RecordSuccess resets consecutive_failures to 0 and marks the agent healthy.
func (t *Tracker) RecordSuccess(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(agent)
	s.successes++
	s.consecutiveFailures = 0
	s.cooldownUntil = nil
}

// RecordFailure increments consecutive_failures, entering cooldown at the
// configured threshold.
func (t *Tracker) RecordFailure(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(agent)
	s.failures++
	s.consecutiveFailures++
	now := time.Now()
	s.lastFailureAt = &now
	if s.consecutiveFailures >= t.maxAgentAttempts {
		until := now.Add(t.cooldown)
		s.cooldownUntil = &until
	}
}

// CanSpawn reports whether agent may be spawned right now.
func (t *Tracker) CanSpawn(agent string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(agent)
	if s.cooldownUntil == nil {
		return true
	}
	return time.Now().After(*s.cooldownUntil)
}

func (t *Tracker) statusLocked(s *agentState) Status {
	if s.cooldownUntil != nil && time.Now().Before(*s.cooldownUntil) {
		return StatusCooldown
	}
	if s.consecutiveFailures > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// Get returns the full snapshot for one agent.
func (t *Tracker) Get(agent string) AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(agent)
	return AgentHealth{
		Agent:               agent,
		Spawns:              s.spawns,
		Successes:           s.successes,
		Failures:            s.failures,
		ConsecutiveFailures: s.consecutiveFailures,
		LastFailureAt:       s.lastFailureAt,
		HealthStatus:        t.statusLocked(s),
		CooldownUntil:       s.cooldownUntil,
	}
}

// All returns a snapshot for every agent the tracker has seen: any agent
// that was recorded or queried (CanSpawn, Get), not only spawned ones.
func (t *Tracker) All() map[string]AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]AgentHealth, len(t.agents))
	for agent, s := range t.agents {
		out[agent] = AgentHealth{
			Agent:               agent,
			Spawns:              s.spawns,
			Successes:           s.successes,
			Failures:            s.failures,
			ConsecutiveFailures: s.consecutiveFailures,
			LastFailureAt:       s.lastFailureAt,
			HealthStatus:        t.statusLocked(s),
			CooldownUntil:       s.cooldownUntil,
		}
	}
	return out
}
