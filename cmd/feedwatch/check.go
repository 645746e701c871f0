package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feedwatch/internal/app"
	"feedwatch/internal/engine"
)

var checkDryRun bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one detection cycle and exit",
	Long:  "Fetches the source once, detects new items and notifies subscribers. With --dry-run nothing is saved or sent.",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "only fetch and classify; do not save state or send")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.Check(ctx, cfgPath, checkDryRun)
	if err != nil {
		return err
	}
	printCycle(cmd, res)
	if res.Outcome.Skipped() {
		return fmt.Errorf("cycle skipped: %w", res.Err)
	}
	return nil
}

func printCycle(cmd *cobra.Command, res engine.CycleResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "outcome:    %s\n", res.Outcome)
	fmt.Fprintf(out, "frontier:   %s\n", res.Frontier)
	fmt.Fprintf(out, "recipients: %d\n", res.Recipients)
	fmt.Fprintf(out, "took:       %s\n", res.Duration())
	for _, it := range res.NewItems {
		fmt.Fprintf(out, "  new: %s  %s  %s\n", it.PublishedAt.Format("2006-01-02"), it.Title, it.ID)
	}
	if sent, failed := res.Report.Totals(); sent+failed > 0 {
		fmt.Fprintf(out, "sent: %d failed: %d\n", sent, failed)
	}
}
