// Package fuelctx defines the small struct of paths threaded through every
// component instead of a process-wide singleton.
package fuelctx

import "path/filepath"

// Context carries the resolved workspace paths for a single Fuel workspace.
// It is passed explicitly to every constructor that needs disk access; no
// component reaches for a global.
type Context struct {
	Root string // operator project root
}

// New resolves a Context rooted at root (the directory containing .fuel/).
func New(root string) *Context {
	return &Context{Root: root}
}

// FuelDir returns the `.fuel` directory path.
func (c *Context) FuelDir() string { return filepath.Join(c.Root, ".fuel") }

// DBPath returns the task store's database file path.
func (c *Context) DBPath() string { return filepath.Join(c.FuelDir(), "agent.db") }

// ConfigPath returns the config file path.
func (c *Context) ConfigPath() string { return filepath.Join(c.FuelDir(), "config.yaml") }

// PIDPath returns the daemon PID file path.
func (c *Context) PIDPath() string { return filepath.Join(c.FuelDir(), "consume.pid") }

// LockPath returns the advisory lock file path.
func (c *Context) LockPath() string { return c.PIDPath() + ".lock" }

// ProcessesDir returns the directory for per-child transient output.
func (c *Context) ProcessesDir() string { return filepath.Join(c.FuelDir(), "processes") }

// PlansDir returns the operator-authored plans directory.
func (c *Context) PlansDir() string { return filepath.Join(c.FuelDir(), "plans") }

// PromptsDir returns the prompt templates directory.
func (c *Context) PromptsDir() string { return filepath.Join(c.FuelDir(), "prompts") }

// RealityPath returns the operator-authored context file injected into prompts.
func (c *Context) RealityPath() string { return filepath.Join(c.FuelDir(), "reality.md") }

// AgentsFilePath returns the AGENTS.md path at the project root.
func (c *Context) AgentsFilePath() string { return filepath.Join(c.Root, "AGENTS.md") }

// GitignorePath returns the .gitignore path at the project root.
func (c *Context) GitignorePath() string { return filepath.Join(c.Root, ".gitignore") }
