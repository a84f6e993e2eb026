package main

import (
	"encoding/json"
	"fmt"

	"github.com/fuel-dev/fuel/internal/fuelctx"
	"github.com/fuel-dev/fuel/internal/store"
)

// printResult renders v as JSON when --json is set, otherwise it runs
// textFn to print the usual styled output. Every command funnels its
// success path through this so --json is supported uniformly.
func printResult(v interface{}, textFn func()) error {
	if !jsonOutput {
		textFn()
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// openStore opens the task store for a single CLI command invocation. The
// daemon holds its own long-lived handle; this one is closed before the
// command returns.
func openStore(fctx *fuelctx.Context) (*store.Store, error) {
	st, err := store.Open(fctx.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open task store at %s: %w", fctx.DBPath(), err)
	}
	return st, nil
}

func priorityLabel(p int) string {
	switch p {
	case 4:
		return "p4-critical"
	case 3:
		return "p3-high"
	case 2:
		return "p2-medium"
	case 1:
		return "p1-low"
	default:
		return "p0-minimal"
	}
}

func formatTaskLine(t store.Task) string {
	status := string(t.Status)
	switch t.Status {
	case store.StatusOpen:
		status = gray(status)
	case store.StatusInProgress:
		status = yellow(status)
	case store.StatusReview:
		status = yellow(status)
	case store.StatusClosed:
		status = green(status)
	}
	return fmt.Sprintf("%s  %-12s  %-3d  %s", t.ID, status, t.Priority, t.Title)
}
