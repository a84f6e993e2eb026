package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fuel-dev/fuel/internal/fuelctx"
	"github.com/fuel-dev/fuel/internal/store"
)

const agentsFileBody = `# Agent guidelines

This project is driven by fuel. Tasks live in .fuel/agent.db; consult
` + "`fuel show <id>`" + ` for the task you were spawned against. Read
.fuel/reality.md for standing project context before starting.

When you finish, either close the task yourself (` + "`fuel done <id>`" + `) or
exit 0 and let the review step decide. A non-zero exit or output matching a
permission-block pattern hands the task to a human.
`

var gitignoreLines = []string{
	".fuel/*",
	"!.fuel/reality.md",
	"!.fuel/plans/",
	"!.fuel/prompts/",
	".fuel/prompts/*.new",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .fuel/ in the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		fctx := currentCtx()

		for _, dir := range []string{fctx.FuelDir(), fctx.ProcessesDir(), fctx.PlansDir(), fctx.PromptsDir()} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}

		if _, err := os.Stat(fctx.RealityPath()); os.IsNotExist(err) {
			if err := os.WriteFile(fctx.RealityPath(), []byte("# Project context\n\n"), 0o644); err != nil {
				return fmt.Errorf("write reality.md: %w", err)
			}
		}

		if _, err := os.Stat(fctx.ConfigPath()); os.IsNotExist(err) {
			if err := os.WriteFile(fctx.ConfigPath(), []byte(starterConfigYAML), 0o644); err != nil {
				return fmt.Errorf("write config.yaml: %w", err)
			}
		}

		if err := writeAgentsFile(fctx); err != nil {
			return err
		}
		if err := extendGitignore(fctx); err != nil {
			return err
		}
		if err := seedStarterTask(fctx); err != nil {
			return err
		}

		return printResult(map[string]string{"fuel_dir": fctx.FuelDir()}, func() {
			fmt.Printf("%s fuel workspace ready at %s\n", green("initialized"), fctx.FuelDir())
		})
	},
}

const starterConfigYAML = `agents: {}
complexity: {}
primary: ""
review:
  skip: true
consume:
  port: 7731
  max_agent_attempts: 3
  cooldown_seconds: 300
`

func writeAgentsFile(fctx *fuelctx.Context) error {
	path := fctx.AgentsFilePath()
	existing, err := os.ReadFile(path)
	if err == nil && strings.Contains(string(existing), "driven by fuel") {
		return nil // already present, idempotent
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read AGENTS.md: %w", err)
	}
	out := agentsFileBody
	if len(existing) > 0 {
		out = string(existing) + "\n" + agentsFileBody
	}
	return os.WriteFile(path, []byte(out), 0o644)
}

func extendGitignore(fctx *fuelctx.Context) error {
	path := fctx.GitignorePath()
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read .gitignore: %w", err)
	}
	content := string(existing)
	present := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var toAdd []string
	for _, line := range gitignoreLines {
		if !present[line] {
			toAdd = append(toAdd, line)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(toAdd, "\n") + "\n"
	return os.WriteFile(path, []byte(content), 0o644)
}

func seedStarterTask(fctx *fuelctx.Context) error {
	st, err := openStore(fctx)
	if err != nil {
		return err
	}
	defer st.Close()

	existing, err := st.All(store.Filter{Labels: []string{"fuel-starter"}})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil // idempotent: never seed a second starter task
	}

	_, err = st.Create(store.Task{
		Title:       "Configure fuel for this project",
		Description: "Edit .fuel/config.yaml to define at least one agent and a complexity mapping, then close this task.",
		Labels:      []string{"fuel-starter", "needs-human"},
		Priority:    2,
	})
	return err
}
