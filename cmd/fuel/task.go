package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fuel-dev/fuel/internal/store"
)

var addCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Queue a new task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fctx := currentCtx()
		st, err := openStore(fctx)
		if err != nil {
			return err
		}
		defer st.Close()

		desc, _ := cmd.Flags().GetString("desc")
		taskType, _ := cmd.Flags().GetString("type")
		complexity, _ := cmd.Flags().GetString("complexity")
		priority, _ := cmd.Flags().GetInt("priority")
		size, _ := cmd.Flags().GetString("size")
		labels, _ := cmd.Flags().GetStringSlice("label")
		epicID, _ := cmd.Flags().GetString("epic")

		task, err := st.Create(store.Task{
			Title:       args[0],
			Description: desc,
			Type:        store.TaskType(taskType),
			Complexity:  store.Complexity(complexity),
			Priority:    priority,
			Size:        store.Size(size),
			Labels:      labels,
			EpicID:      epicID,
		})
		if err != nil {
			return err
		}
		return printResult(task, func() {
			fmt.Printf("%s %s %s\n", green("added"), task.ID, task.Title)
		})
	},
}

func init() {
	addCmd.Flags().String("desc", "", "task description")
	addCmd.Flags().String("type", "task", "task|bug|feature|chore")
	addCmd.Flags().String("complexity", "simple", "trivial|simple|moderate|complex")
	addCmd.Flags().Int("priority", 0, "0 (lowest) .. 4 (critical)")
	addCmd.Flags().String("size", "", "xs|s|m|l|xl (informational)")
	addCmd.Flags().StringSlice("label", nil, "labels to attach, repeatable")
	addCmd.Flags().String("epic", "", "epic id to link this task under")
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks with no open blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := st.Ready()
		if err != nil {
			return err
		}
		return printResult(tasks, func() {
			if len(tasks) == 0 {
				fmt.Println("no ready tasks")
				return
			}
			for _, t := range tasks {
				fmt.Println(formatTaskLine(t))
			}
		})
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List open tasks waiting on a blocker",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, err := st.Blocked()
		if err != nil {
			return err
		}
		return printResult(tasks, func() {
			if len(tasks) == 0 {
				fmt.Println("no blocked tasks")
				return
			}
			for _, t := range tasks {
				fmt.Printf("%s  blocked by %v\n", formatTaskLine(t), t.BlockedBy)
			}
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		statusFlag, _ := cmd.Flags().GetString("status")
		labelFlag, _ := cmd.Flags().GetStringSlice("label")

		filter := store.Filter{Status: store.Status(statusFlag)}
		if len(labelFlag) > 0 {
			filter.Labels = labelFlag
		}

		tasks, err := st.All(filter)
		if err != nil {
			return err
		}
		return printResult(tasks, func() {
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return
			}
			for _, t := range tasks {
				fmt.Println(formatTaskLine(t))
			}
		})
	},
}

func init() {
	listCmd.Flags().String("status", "", "filter by status (open|in_progress|review|closed|someday)")
	listCmd.Flags().StringSlice("label", nil, "filter to tasks carrying any of these labels")
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a task's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		t, err := st.Find(args[0])
		if err != nil {
			return err
		}
		return printResult(t, func() {
			fmt.Printf("%s  %s\n", bold(t.ID), t.Title)
			fmt.Printf("  status:     %s\n", t.Status)
			fmt.Printf("  type:       %s\n", t.Type)
			fmt.Printf("  priority:   %d (%s)\n", t.Priority, priorityLabel(t.Priority))
			fmt.Printf("  complexity: %s\n", t.Complexity)
			if t.Size != "" {
				fmt.Printf("  size:       %s\n", t.Size)
			}
			if len(t.Labels) > 0 {
				fmt.Printf("  labels:     %v\n", t.Labels)
			}
			if len(t.BlockedBy) > 0 {
				fmt.Printf("  blocked_by: %v\n", t.BlockedBy)
			}
			if t.EpicID != "" {
				fmt.Printf("  epic:       %s\n", t.EpicID)
			}
			if t.Description != "" {
				fmt.Printf("\n%s\n", t.Description)
			}
			if t.Consumed {
				fmt.Printf("\n  last consume exit code: %v\n", t.ConsumedExitCode)
			}
		})
	},
}

// doneResult is the single JSON document done prints for --json, covering
// both the partial-success and the all-succeeded case.
type doneResult struct {
	Closed []store.Task `json:"closed"`
	Errors []string     `json:"errors,omitempty"`
}

var doneCmd = &cobra.Command{
	Use:   "done ID [ID...]",
	Short: "Close one or more tasks",
	Args:  cobra.MinimumNArgs(1),
	// A mix of valid and invalid ids is a deliberate partial-success case:
	// every valid id is closed and the command still exits 1 overall.
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		reason, _ := cmd.Flags().GetString("reason")
		commit, _ := cmd.Flags().GetString("commit")

		var closed []store.Task
		var failed []string
		for _, id := range args {
			t, err := st.Done(id, reason, commit)
			if err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", id, err))
				continue
			}
			closed = append(closed, t)
		}

		if err := printResult(doneResult{Closed: closed, Errors: failed}, func() {
			for _, t := range closed {
				fmt.Printf("%s %s\n", green("closed"), t.ID)
			}
			for _, f := range failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", red("error:"), f)
			}
		}); err != nil {
			return err
		}
		if len(failed) > 0 {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	doneCmd.Flags().String("reason", "", "why the task is being closed")
	doneCmd.Flags().String("commit", "", "commit hash this task resolved in")
}

var reopenCmd = &cobra.Command{
	Use:   "reopen ID",
	Short: "Move a task back to open, clearing consumed state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		t, err := st.Reopen(args[0])
		if err != nil {
			return err
		}
		return printResult(t, func() {
			fmt.Printf("%s %s\n", yellow("reopened"), t.ID)
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Patch a task's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		var patch store.Patch
		flags := cmd.Flags()

		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			patch.Title = &v
		}
		if flags.Changed("desc") {
			v, _ := flags.GetString("desc")
			patch.Description = &v
		}
		if flags.Changed("type") {
			v, _ := flags.GetString("type")
			tt := store.TaskType(v)
			patch.Type = &tt
		}
		if flags.Changed("priority") {
			v, _ := flags.GetInt("priority")
			patch.Priority = &v
		}
		if flags.Changed("complexity") {
			v, _ := flags.GetString("complexity")
			c := store.Complexity(v)
			patch.Complexity = &c
		}
		if flags.Changed("size") {
			v, _ := flags.GetString("size")
			s := store.Size(v)
			patch.Size = &s
		}
		if flags.Changed("label") {
			v, _ := flags.GetStringSlice("label")
			patch.Labels = &v
		}
		if flags.Changed("epic") {
			v, _ := flags.GetString("epic")
			patch.EpicID = &v
		}

		t, err := st.Update(args[0], patch)
		if err != nil {
			return err
		}
		return printResult(t, func() {
			fmt.Printf("%s %s\n", green("updated"), t.ID)
		})
	},
}

func init() {
	updateCmd.Flags().String("title", "", "new title")
	updateCmd.Flags().String("desc", "", "new description (pass \"\" to clear)")
	updateCmd.Flags().String("type", "", "task|bug|feature|chore")
	updateCmd.Flags().Int("priority", 0, "0 (lowest) .. 4 (critical)")
	updateCmd.Flags().String("complexity", "", "trivial|simple|moderate|complex")
	updateCmd.Flags().String("size", "", "xs|s|m|l|xl")
	updateCmd.Flags().StringSlice("label", nil, "replace the label set")
	updateCmd.Flags().String("epic", "", "epic id to link this task under")
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Delete closed tasks older than --days (or all closed tasks with --all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		days, _ := cmd.Flags().GetInt("days")
		all, _ := cmd.Flags().GetBool("all")

		archived, err := st.Archive(days, all)
		if err != nil {
			return err
		}
		return printResult(archived, func() {
			fmt.Printf("%s %d task(s)\n", green("archived"), len(archived))
		})
	},
}

func init() {
	archiveCmd.Flags().Int("days", 30, "archive closed tasks older than this many days")
	archiveCmd.Flags().Bool("all", false, "archive every closed task regardless of age")
}

var retryCmd = &cobra.Command{
	Use:   "retry ID",
	Short: "Clear a failed in-progress task's consumed state and re-queue it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		t, err := st.Retry(args[0])
		if err != nil {
			return err
		}
		return printResult(t, func() {
			fmt.Printf("%s %s\n", yellow("queued for retry"), t.ID)
		})
	},
}
