package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var distributeCmd = &cobra.Command{
	Use:   "distribute",
	Short: "Settle every elapsed pool epoch once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.distributor(nil, a.executor()).DistributeDue(cmd.Context(), time.Now())
		fmt.Fprintf(cmd.OutOrStdout(), "settled %d epoch(s)\n", n)
		return err
	},
}
