package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentfi/agentfi-bot-scheduler/internal/engine"
)

var selectionAction string

var selectionCmd = &cobra.Command{
	Use:   "selection",
	Short: "Reset today's selection of a daily action if due and print its size",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		acts, err := a.actions()
		if err != nil {
			return err
		}
		for _, act := range acts {
			if act.Name != selectionAction {
				continue
			}
			if act.Family != engine.FixedWindow {
				return fmt.Errorf("%s has no daily selection", act.Name)
			}
			now := time.Now()
			if _, err := act.Source.Jobs(cmd.Context(), now); err != nil {
				return err
			}
			ids, err := a.window.Selected(cmd.Context(), act.Name, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d selected\n", act.Name, a.window.Day(now), len(ids))
			return nil
		}
		return fmt.Errorf("%w: %s", engine.ErrUnknownAction, selectionAction)
	},
}

func init() {
	selectionCmd.Flags().StringVarP(&selectionAction, "action", "a", "", "daily action name, e.g. daily_checkin")
	selectionCmd.MarkFlagRequired("action")
}
