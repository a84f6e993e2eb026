package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fuel-dev/fuel/internal/store"
)

var epicCmd = &cobra.Command{
	Use:   "epic",
	Short: "Manage epics",
}

var epicAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Create a new epic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		desc, _ := cmd.Flags().GetString("desc")
		e, err := st.CreateEpic(store.Epic{Title: args[0], Description: desc})
		if err != nil {
			return err
		}
		return printResult(e, func() {
			fmt.Printf("%s %s %s\n", green("added"), e.ID, e.Title)
		})
	},
}

func init() {
	epicAddCmd.Flags().String("desc", "", "epic description")
}

var epicShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show an epic, with status derived from its linked tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		e, err := st.GetEpic(args[0])
		if err != nil {
			return err
		}
		return printResult(e, func() {
			fmt.Printf("%s  %s\n", bold(e.ID), e.Title)
			fmt.Printf("  status: %s\n", e.Status)
			if e.Description != "" {
				fmt.Printf("\n%s\n", e.Description)
			}
		})
	},
}

var epicTransitionCmd = &cobra.Command{
	Use:   "transition ID approved|reviewed|rejected",
	Short: "Explicitly override an epic's derived status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		var status store.EpicStatus
		switch args[1] {
		case "approved":
			status = store.EpicApproved
		case "reviewed":
			status = store.EpicReviewed
		case "rejected":
			status = store.EpicRejected
		default:
			return fmt.Errorf("unknown epic transition %q, want approved|reviewed|rejected", args[1])
		}

		e, err := st.TransitionEpic(args[0], status)
		if err != nil {
			return err
		}
		return printResult(e, func() {
			fmt.Printf("%s %s -> %s\n", green("ok"), e.ID, e.Status)
		})
	},
}

func init() {
	epicCmd.AddCommand(epicAddCmd)
	epicCmd.AddCommand(epicShowCmd)
	epicCmd.AddCommand(epicTransitionCmd)
}
