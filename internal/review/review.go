// Package review implements the Review Manager: owns reviewer subprocesses,
// parses verdicts, and records the follow-up task ids a reviewer reports
// (the reviewer creates those tasks itself; this package creates none).
package review

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fuel-dev/fuel/internal/config"
	"github.com/fuel-dev/fuel/internal/fuelctx"
	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/fuel-dev/fuel/internal/store"
)

// Manager is the Review Manager component.
type Manager struct {
	ctx     *fuelctx.Context
	store   *store.Store
	cfg     *config.Config
	procMgr *procmanager.Manager
	logger  *slog.Logger

	reviewIndex sync.Map // child_id -> review_id
	taskIndex   sync.Map // child_id -> task_id
}

// New constructs a Manager wired to its collaborators.
func New(fctx *fuelctx.Context, st *store.Store, cfg *config.Config, pm *procmanager.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{ctx: fctx, store: st, cfg: cfg, procMgr: pm, logger: logger}
}

// IsReviewChild reports whether childID belongs to a reviewer process, so
// the Consume Runner can route its completion here instead of to the
// Completion Handler.
func (m *Manager) IsReviewChild(childID string) bool {
	_, ok := m.taskIndex.Load(childID)
	return ok
}

// TriggerReview spawns a reviewer against task, per §4.7.
func (m *Manager) TriggerReview(task store.Task) error {
	agent := m.cfg.Review.Agent
	if agent == "" {
		agent = m.cfg.Primary
	}
	if agent == "" {
		return fmt.Errorf("no review agent configured")
	}
	def, ok := m.cfg.Agents[agent]
	if !ok {
		return fmt.Errorf("review agent %q not defined", agent)
	}

	rev, err := m.store.CreateReview(store.Review{TaskID: task.ID, Agent: agent, Status: store.ReviewPending})
	if err != nil {
		return fmt.Errorf("create review record: %w", err)
	}

	prompt := m.buildReviewPrompt(task)
	argv := append([]string{def.Command}, def.Args...)
	handle, err := m.procMgr.Spawn(context.Background(), agent, argv, os.Environ(), m.ctx.Root, prompt)
	if err != nil {
		return fmt.Errorf("spawn reviewer %s: %w", agent, err)
	}

	m.reviewIndex.Store(handle.ChildID, rev.ID)
	m.taskIndex.Store(handle.ChildID, task.ID)
	return nil
}

func (m *Manager) buildReviewPrompt(task store.Task) string {
	var b strings.Builder
	b.WriteString("# Review task: ")
	b.WriteString(task.Title)
	b.WriteString("\n\n")
	if task.Description != "" {
		b.WriteString(task.Description)
		b.WriteString("\n\n")
	}
	b.WriteString("Report a verdict line: PASS or FAIL, followed by issue tokens and any follow-up task ids created via add/dep:add.\n")
	fmt.Fprintf(&b, "id=%s\n", task.ID)
	return b.String()
}

// verdict is what pollReviews extracts from a reviewer's output.
type verdict struct {
	Passed          bool     `json:"passed"`
	Issues          []string `json:"issues"`
	FollowupTaskIDs []string `json:"followup_task_ids"`
}

// PollReviews handles one reaped reviewer completion.
func (m *Manager) PollReviews(rec procmanager.CompletionRecord) error {
	revIDv, ok := m.reviewIndex.Load(rec.ChildID)
	if !ok {
		return fmt.Errorf("no review tracked for child %s", rec.ChildID)
	}
	taskIDv, _ := m.taskIndex.Load(rec.ChildID)
	revID := revIDv.(string)
	taskID := taskIDv.(string)
	m.reviewIndex.Delete(rec.ChildID)
	m.taskIndex.Delete(rec.ChildID)

	if rec.ExitCode != 0 {
		return m.reviewerFailed(revID, taskID)
	}

	v := parseVerdict(rec.Stdout)
	return m.applyVerdict(revID, taskID, v)
}

func (m *Manager) applyVerdict(revID, taskID string, v verdict) error {
	reviews, err := m.store.ReviewsForTask(taskID)
	if err != nil {
		return err
	}
	var rv store.Review
	for _, r := range reviews {
		if r.ID == revID {
			rv = r
			break
		}
	}

	rv.Issues = v.Issues
	rv.FollowupTaskIDs = v.FollowupTaskIDs
	if v.Passed {
		rv.Status = store.ReviewPassed
	} else {
		rv.Status = store.ReviewFailed
	}
	if err := m.store.UpdateReview(rv); err != nil {
		return err
	}

	if v.Passed {
		_, err := m.store.Done(taskID, "Review passed", "")
		return err
	}
	// task stays in review; follow-ups (if any) already exist and block it
	return nil
}

func (m *Manager) reviewerFailed(revID, taskID string) error {
	reviews, err := m.store.ReviewsForTask(taskID)
	if err == nil {
		for _, r := range reviews {
			if r.ID == revID {
				r.Status = store.ReviewFailed
				_ = m.store.UpdateReview(r)
				break
			}
		}
	}

	task, err := m.store.Find(taskID)
	if err != nil {
		return err
	}
	labels := append(append([]string{}, task.Labels...), "auto-closed")
	if _, err := m.store.Update(taskID, store.Patch{Labels: &labels}); err != nil {
		return err
	}
	_, err = m.store.Done(taskID, "Auto-completed (review failed to run)", "")
	return err
}

// parseVerdict extracts a passed bool, issue tokens, and follow-up task ids
// from reviewer stdout. It accepts a JSON line (preferred); otherwise it
// scans the whole output: passed means "PASS" appears and "FAIL" does not,
// and only the issue tokens uncommitted_changes and tests_failing are
// recognized. Follow-up task ids are read from the JSON form only.
func parseVerdict(output string) verdict {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var v verdict
		if err := json.Unmarshal([]byte(line), &v); err == nil {
			return v
		}
	}

	upper := strings.ToUpper(output)
	v := verdict{Passed: strings.Contains(upper, "PASS") && !strings.Contains(upper, "FAIL")}
	for _, token := range []string{"uncommitted_changes", "tests_failing"} {
		if strings.Contains(output, token) {
			v.Issues = append(v.Issues, token)
		}
	}
	return v
}
