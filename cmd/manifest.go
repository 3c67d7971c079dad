package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/spf13/cobra"
)

var manifestRunID string

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect or reset the committed batch manifest",
	Long: `Inspect or reset the committed batch manifest.

The manifest records every batch already written to the vector collection so
an interrupted load can resume. Resetting it makes the next load write every
batch again.`,
}

var manifestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List committed batches of the collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withManifest(cmd, func(ctx context.Context, a *app) error {
			var (
				batches []*models.CommittedBatch
				err     error
			)
			if manifestRunID != "" {
				batches, err = a.manifest.ListByRun(ctx, manifestRunID)
			} else {
				batches, err = a.manifest.ListByCollection(ctx, a.cfg.VectorDB.Collection)
			}
			if err != nil {
				return fmt.Errorf("failed to list manifest: %w", err)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), batches)
			}
			printBatches(cmd.OutOrStdout(), a.cfg.VectorDB.Collection, batches)
			return nil
		})
	},
}

var manifestResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget committed batches so the next load rewrites them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withManifest(cmd, func(ctx context.Context, a *app) error {
			collection := a.cfg.VectorDB.Collection
			deleted, err := a.manifest.DeleteCollection(ctx, collection)
			if err != nil {
				return fmt.Errorf("failed to reset manifest: %w", err)
			}

			a.logger.WithField("collection", collection).Infof("Removed %d manifest entries", deleted)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"collection": collection,
					"deleted":    deleted,
				})
			}
			printSuccess(cmd.OutOrStdout(), "Removed %d manifest entries for %s", deleted, collection)
			return nil
		})
	},
}

func init() {
	manifestListCmd.Flags().StringVar(&manifestRunID, "run", "", "only list batches committed by this run")

	manifestCmd.AddCommand(manifestListCmd, manifestResetCmd)
	rootCmd.AddCommand(manifestCmd)
}

// withManifest 与withApp相同，但要求启用写入清单
func withManifest(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if a.manifest == nil {
			return errors.New("manifest is disabled, set manifest.enable=true")
		}
		return fn(ctx, a)
	})
}

// printBatches 输出已提交批次
func printBatches(w io.Writer, collection string, batches []*models.CommittedBatch) {
	if len(batches) == 0 {
		printWarning(w, "No committed batches for %s", collection)
		return
	}

	printHeader(w, "Committed batches for %s:", collection)
	for _, b := range batches {
		fmt.Fprintf(w, "  #%-4d [%d, %d) %d records  run %s  %s\n",
			b.BatchIndex, b.StartOffset, b.EndOffset, b.RecordCount, b.RunID,
			b.CommittedAt.Format("2006-01-02 15:04:05"))
	}
}
