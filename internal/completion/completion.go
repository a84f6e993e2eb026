// Package completion implements the Completion Handler: it classifies a
// finished subprocess and drives the resulting task-store mutations.
package completion

import (
	"log/slog"
	"strings"

	"github.com/fuel-dev/fuel/internal/config"
	"github.com/fuel-dev/fuel/internal/health"
	"github.com/fuel-dev/fuel/internal/procmanager"
	"github.com/fuel-dev/fuel/internal/store"
)

// Classification is the outcome of scanning a completion's output.
type Classification string

const (
	ClassPermissionBlocked Classification = "permission_blocked"
	ClassFailure           Classification = "failure"
	ClassSuccess           Classification = "success"
)

// permissionBlockPatterns are scanned in this order, case-insensitively,
// against the combined stdout+stderr. First match wins.
var permissionBlockPatterns = []string{
	"commands are being rejected",
	"terminal commands are being rejected",
	"please manually complete",
}

// Classify applies the bit-exact classification rule from the completion
// pattern list.
func Classify(rec procmanager.CompletionRecord) Classification {
	combined := strings.ToLower(rec.Stdout + "\n" + rec.Stderr)
	for _, pattern := range permissionBlockPatterns {
		if strings.Contains(combined, pattern) {
			return ClassPermissionBlocked
		}
	}
	if rec.ExitCode != 0 {
		return ClassFailure
	}
	return ClassSuccess
}

// ReviewTrigger is implemented by the Review Manager; kept as a narrow
// interface here so the Completion Handler does not import it directly.
type ReviewTrigger interface {
	TriggerReview(task store.Task) error
}

// Handler is the Completion Handler component.
type Handler struct {
	store  *store.Store
	health *health.Tracker
	cfg    *config.Config
	review ReviewTrigger
	logger *slog.Logger
}

// New constructs a Handler wired to its collaborators.
func New(st *store.Store, tracker *health.Tracker, cfg *config.Config, review ReviewTrigger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: st, health: tracker, cfg: cfg, review: review, logger: logger}
}

// Handle converts a CompletionRecord for taskID into store mutations,
// per the classification rules and actions in §4.6.
func (h *Handler) Handle(rec procmanager.CompletionRecord, runID, taskID string) error {
	class := Classify(rec)

	if err := h.recordRun(rec, runID); err != nil {
		h.logger.Warn("failed to record run tail", "run_id", runID, "err", err)
	}

	switch class {
	case ClassPermissionBlocked:
		return h.handlePermissionBlocked(rec, taskID)
	case ClassFailure:
		return h.handleFailure(rec, taskID)
	default:
		return h.handleSuccess(taskID)
	}
}

func (h *Handler) recordRun(rec procmanager.CompletionRecord, runID string) error {
	run, err := h.store.GetRun(runID)
	if err != nil {
		return err
	}
	ended := rec.EndedAt
	exitCode := rec.ExitCode
	run.EndedAt = &ended
	run.ExitCode = &exitCode
	run.Output = rec.Stdout
	return h.store.UpdateRun(run)
}

func (h *Handler) handlePermissionBlocked(rec procmanager.CompletionRecord, taskID string) error {
	agent := rec.Agent
	title := "Configure agent permissions for " + agent
	human, err := h.store.Create(store.Task{
		Title:       title,
		Description: "Agent output matched a permission-block pattern: " + permissionBlockExcerpt(rec),
		Labels:      []string{"needs-human"},
		Priority:    1,
	})
	if err != nil {
		return err
	}
	if err := h.store.AddDependency(taskID, human.ID); err != nil {
		return err
	}
	if _, err := h.store.Reopen(taskID); err != nil {
		return err
	}
	h.health.RecordFailure(agent)
	return nil
}

func permissionBlockExcerpt(rec procmanager.CompletionRecord) string {
	combined := rec.Stdout + "\n" + rec.Stderr
	if len(combined) > 500 {
		combined = combined[:500]
	}
	return combined
}

func (h *Handler) handleFailure(rec procmanager.CompletionRecord, taskID string) error {
	task, err := h.store.Find(taskID)
	if err != nil {
		return err
	}
	if task.Status == store.StatusInProgress {
		if _, err := h.store.MarkConsumed(taskID, rec.ExitCode, rec.Stdout); err != nil {
			return err
		}
	}
	h.health.RecordFailure(rec.Agent)
	return nil
}

func (h *Handler) handleSuccess(taskID string) error {
	task, err := h.store.Find(taskID)
	if err != nil {
		return err
	}

	agent := ""
	if run, ok, err := h.store.LatestRunForTask(taskID); err == nil && ok {
		agent = run.Agent
	}

	if task.Status != store.StatusInProgress {
		// the agent already called `done` itself
		if agent != "" {
			h.health.RecordSuccess(agent)
		}
		return nil
	}

	if h.review != nil && !h.cfg.Review.Skip {
		if err := h.review.TriggerReview(task); err != nil {
			return h.autoClose(taskID)
		}
		if _, err := h.store.SetStatus(taskID, store.StatusReview); err != nil {
			return err
		}
		if agent != "" {
			h.health.RecordSuccess(agent)
		}
		return nil
	}

	if agent != "" {
		h.health.RecordSuccess(agent)
	}
	return h.autoClose(taskID)
}

func (h *Handler) autoClose(taskID string) error {
	task, err := h.store.Find(taskID)
	if err != nil {
		return err
	}
	labels := append(append([]string{}, task.Labels...), "auto-closed")
	if _, err := h.store.Update(taskID, store.Patch{Labels: &labels}); err != nil {
		return err
	}
	_, err = h.store.Done(taskID, "Auto-completed by consume (agent exit 0)", "")
	return err
}
