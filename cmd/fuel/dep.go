package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fuel-dev/fuel/internal/store"
)

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage task dependencies",
}

var depAddCmd = &cobra.Command{
	Use:   "add FROM TO",
	Short: "Mark FROM as blocked by TO",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.AddDependency(args[0], args[1]); err != nil {
			if errors.Is(err, store.ErrCyclicDependency) {
				return fmt.Errorf("%s would create a dependency cycle", args[1])
			}
			return err
		}
		return printResult(map[string]string{"from": args[0], "blocked_by": args[1]}, func() {
			fmt.Printf("%s %s now blocked by %s\n", green("ok"), args[0], args[1])
		})
	},
}

var depRmCmd = &cobra.Command{
	Use:   "rm FROM TO",
	Short: "Remove the FROM-blocked-by-TO edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(currentCtx())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RemoveDependency(args[0], args[1], true); err != nil {
			return err
		}
		return printResult(map[string]string{"from": args[0], "removed_blocker": args[1]}, func() {
			fmt.Printf("%s removed %s's dependency on %s\n", green("ok"), args[0], args[1])
		})
	},
}

func init() {
	depCmd.AddCommand(depAddCmd)
	depCmd.AddCommand(depRmCmd)
}
