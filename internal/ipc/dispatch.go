package ipc

import (
	"encoding/json"

	"github.com/fuel-dev/fuel/internal/health"
	"github.com/fuel-dev/fuel/internal/snapshot"
	"github.com/fuel-dev/fuel/internal/store"
)

// Dispatcher routes queued commands to the daemon components that can
// answer them. It runs on the Consume Runner's own goroutine, never
// concurrently with store/health mutation.
type Dispatcher struct {
	snapshots *snapshot.Manager
	health    *health.Tracker
	store     *store.Store
	onStop    func(graceful bool)
}

// NewDispatcher constructs a Dispatcher wired to its collaborators.
func NewDispatcher(snapshots *snapshot.Manager, tracker *health.Tracker, st *store.Store, onStop func(graceful bool)) *Dispatcher {
	return &Dispatcher{snapshots: snapshots, health: tracker, store: st, onStop: onStop}
}

type stopArgs struct {
	Graceful bool `json:"graceful"`
}

// Dispatch handles one Command and sends its Response on cmd.Reply.
func (d *Dispatcher) Dispatch(cmd Command) {
	resp := d.handle(cmd.Request)
	cmd.Reply <- resp
}

func (d *Dispatcher) handle(req Request) Response {
	switch req.Cmd {
	case "snapshot":
		snap, err := d.snapshots.Build()
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true, Data: snap}

	case "health":
		return Response{OK: true, Data: d.health.All()}

	case "stuck":
		tasks, err := d.store.All(store.Filter{})
		if err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		var stuck []store.Task
		for _, t := range tasks {
			if t.Consumed && t.ConsumedExitCode != nil && *t.ConsumedExitCode != 0 {
				stuck = append(stuck, t)
			}
		}
		return Response{OK: true, Data: stuck}

	case "stop":
		var args stopArgs
		if len(req.Args) > 0 {
			_ = json.Unmarshal(req.Args, &args)
		}
		if d.onStop != nil {
			d.onStop(args.Graceful)
		}
		return Response{OK: true}

	case "browser.forward":
		// Browser Command Handler is a co-daemon out of scope here; the
		// wire interface is accepted but has nothing local to dispatch to.
		return Response{OK: false, Error: "browser subsystem not available"}

	default:
		return Response{OK: false, Error: "unknown command: " + req.Cmd}
	}
}
