package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fuel-dev/fuel/internal/fuelctx"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var (
	fuelHome   string
	logJSON    bool
	jsonOutput bool
	logger     *slog.Logger
)

func main() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			out, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Println(string(out))
		} else {
			fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fuel",
	Short: "Fuel keeps a queue of tasks fed to coding agents, unattended",
	Long: `Fuel is a task-execution supervisor: it holds a queue of tasks, spawns
a coding agent per ready task, watches the result, and routes it through
review or back onto the queue.

  fuel init                  # scaffold .fuel/ in this project
  fuel add "fix the thing"   # queue a task
  fuel ready                 # list tasks with no open blockers
  fuel consume start         # start the daemon that drains the queue`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&fuelHome, "fuel-home", ".", "project root containing .fuel/")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured JSON logs instead of text")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON instead of styled text")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(blockedCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(reopenCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(depCmd)
	rootCmd.AddCommand(epicCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(initCmd)
}

func initLogging() {
	level := slog.LevelInfo
	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger = slog.New(handler)
}

func currentCtx() *fuelctx.Context {
	return fuelctx.New(fuelHome)
}
