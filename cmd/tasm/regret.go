package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/tasm/layout"
	"github.com/hupe1980/tasm/model"
)

// Regret lives in memory, so one invocation replays the workload and decides.
var regretCmd = &cobra.Command{
	Use:   "regret <video> <metadata-id> <label>...",
	Short: "Replay queries with regret tracking and re-tile if worthwhile",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		video, metadataID, labels := args[0], args[1], args[2:]
		queries, _ := cmd.Flags().GetInt("queries")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.ActivateRegretBasedTiling(video, metadataID); err != nil {
			return err
		}
		for range queries {
			for _, label := range labels {
				cur, err := db.Select(ctx, video, metadataID, label)
				if err != nil {
					return err
				}
				for _, err := range cur.All() {
					if err != nil {
						return err
					}
				}
			}
		}
		for _, label := range labels {
			fmt.Printf("%s: regret=%d\n", label, db.Regret(video, label))
		}
		if dryRun {
			return nil
		}

		report, err := db.RetileBasedOnRegret(ctx, video)
		if err != nil {
			return fmt.Errorf("failed to retile: %w", err)
		}
		if !report.Changed() {
			fmt.Printf("Below threshold %d, layout unchanged\n", report.Threshold)
			return nil
		}
		fmt.Printf("Retiled %v: version %d -> %d\n", report.Retiled, report.FromVersion, report.ToVersion)
		return nil
	},
}

func uniformLike(cur *model.Layout, rows, cols int) (*model.Layout, error) {
	return layout.Uniform(rows, cols, cur.Size, cur.FrameCount)
}
