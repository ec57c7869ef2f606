package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions [table]",
	Short: "Print a table's commit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]

		_, cat, err := openEngine()
		if err != nil {
			return err
		}
		defer func() { _ = cat.Close() }() // safe to ignore

		versions, err := cat.Versions(cmd.Context(), table)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			fmt.Printf("%s: no committed versions\n", table)
			return nil
		}

		for _, v := range versions {
			rows, rescued := 0, 0
			for _, f := range v.Added {
				rows += f.RowCount
				rescued += f.RescuedCount
			}
			fmt.Printf("v%d  %-7s  batch=%s  files=%d rows=%d rescued=%d  fields=%d  %s\n",
				v.Version, v.Mode, v.BatchID, len(v.Added), rows, rescued,
				len(v.Schema.Fields), v.CommittedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}
