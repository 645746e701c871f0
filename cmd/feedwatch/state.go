package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"feedwatch/internal/app"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the persisted state as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := app.DumpState(cmd.Context(), cfgPath)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
}
