package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/fyerfyer/aven-ingest/api"
	"github.com/fyerfyer/aven-ingest/api/handler"
	"github.com/fyerfyer/aven-ingest/api/middleware"
	"github.com/fyerfyer/aven-ingest/internal/document"
	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/fyerfyer/aven-ingest/internal/services"
	"github.com/fyerfyer/aven-ingest/internal/vectordb"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var queryK int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: preprocess, embed, load and verify",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.pipeline.Run(ctx)
			if jsonOutput {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if err != nil {
				return fmt.Errorf("pipeline failed at stage %s: %w", report.Failed().Name, err)
			}
			return nil
		})
	},
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Filter, clean and chunk the crawl output into the processed artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			items, err := a.pipeline.Preprocess(ctx)
			if err != nil {
				return err
			}

			summary := document.Summarize(items)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), summary)
			}
			printSuccess(cmd.OutOrStdout(), "Processed %d chunks with %d total words, saved to %s",
				summary.TotalChunks, summary.TotalWords, a.cfg.Output.Processed)
			printCounts(cmd.OutOrStdout(), "Categories", summary.Categories)
			printCounts(cmd.OutOrStdout(), "Financial terms", summary.FinancialTerms)
			return nil
		})
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Compute embeddings for the processed artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.pipeline.Mode() != services.ModeClient {
				return errors.New("embed requires embed.mode=client")
			}

			items, err := a.pipeline.ReadProcessed(ctx)
			if err != nil {
				return err
			}

			_, summary, err := a.pipeline.Embed(ctx, items)
			if jsonOutput {
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}

			printSuccess(cmd.OutOrStdout(), "Generated embeddings for %d of %d items (%.2f%%), dimension %d",
				summary.ItemsWithEmbeddings, summary.TotalItems, summary.SuccessRate*100, summary.Dimension)
			if summary.FailedItems > 0 {
				printWarning(cmd.OutOrStdout(), "%d items failed to embed", summary.FailedItems)
			}
			return nil
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Upsert saved records into the vector store",
	Long: `Upsert saved records into the vector store.

In client mode records come from the embeddings artifact and items without
a vector are skipped. In store mode the processed artifact is loaded and the
store computes vectors.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var records []models.IndexRecord
			if a.pipeline.Mode() == services.ModeClient {
				items, err := a.pipeline.ReadEmbedded(ctx)
				if err != nil {
					return err
				}
				records = services.RecordsFromEmbedded(items)
			} else {
				items, err := a.pipeline.ReadProcessed(ctx)
				if err != nil {
					return err
				}
				records = services.RecordsFromProcessed(items)
			}

			upsert, stats, err := a.pipeline.Load(ctx, records)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"upsert":     upsert,
					"collection": stats,
				})
			}
			printSuccess(cmd.OutOrStdout(), "Upserted %d records in %d batches (%d skipped)",
				upsert.Records, upsert.Committed, upsert.Skipped)
			printStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Run a similarity query against the collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			results, err := a.store.Query(ctx, args[0], queryK)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), results)
			}
			printResults(cmd.OutOrStdout(), args[0], results)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, stats and query endpoints over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return serve(ctx, a)
		})
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "k", "k", vectordb.DefaultTopK, "number of results")

	rootCmd.AddCommand(runCmd, preprocessCmd, embedCmd, loadCmd, queryCmd, statsCmd, serveCmd)
}

// serve 启动HTTP服务并在收到信号后优雅关闭
func serve(ctx context.Context, a *app) error {
	gin.SetMode(a.cfg.Server.Mode)
	middleware.SetLogger(a.logger)

	router := api.SetupRouter(handler.NewIndexHandler(a.store, a.cfg.VectorDB.Collection))
	srv := &http.Server{
		Addr:         net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ctx在收到中断信号时取消
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("Server exited")
	return nil
}

// printReport 输出流水线各阶段结果
func printReport(w io.Writer, report *services.Report) {
	printHeader(w, "Pipeline run %s", report.RunID)
	for _, stage := range report.Stages {
		if stage.OK {
			printSuccess(w, "%-10s %s (%s)", stage.Name, stage.Detail, stage.Duration.Round(time.Millisecond))
		} else {
			printFailure(w, "%-10s %s", stage.Name, stage.Error)
		}
	}
	if report.OK() {
		printStats(w, report.Collection)
	}
}

// printStats 输出集合统计
func printStats(w io.Writer, stats models.CollectionStats) {
	printHeader(w, "Collection %s: %d items", stats.CollectionName, stats.TotalItems)
	printCounts(w, "Categories", stats.Categories)
}

// printCounts 按键排序输出计数
func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, key := range sortedKeys(counts) {
		fmt.Fprintf(w, "  %-20s %d\n", key, counts[key])
	}
}

// printResults 输出查询结果
func printResults(w io.Writer, query string, results []vectordb.SearchResult) {
	if len(results) == 0 {
		printWarning(w, "No results for %q", query)
		return
	}

	printHeader(w, "Results for %q:", query)
	for i, r := range results {
		title := r.Metadata.Title
		if title == "" {
			title = r.ID
		}
		fmt.Fprintf(w, "  [%d] %s (%.3f)\n", i+1, title, r.Score)
		fmt.Fprintf(w, "      %s | %s\n", r.Metadata.URL, r.Metadata.Category)
		fmt.Fprintf(w, "      %s\n", snippet(r.Text, 120))
	}
}

// snippet 截取前n个字符
func snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
