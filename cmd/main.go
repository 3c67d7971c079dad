package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath string // 配置文件路径
	logLevel   string // 覆盖配置中的日志级别
	jsonOutput bool   // 以JSON格式输出结果
)

var rootCmd = &cobra.Command{
	Use:   "aven-ingest",
	Short: "Ingest crawled Aven pages into a vector store",
	Long: `aven-ingest turns crawled web pages into searchable vector records.

It filters and cleans the crawl output, splits pages into chunks, computes
embeddings in rate-limited batches and upserts the result into a vector
collection. Each stage can also be run on its own from saved artifacts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace/debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printFailure(rootCmd.ErrOrStderr(), "%v", err)
		os.Exit(1)
	}
}

var (
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed)
	headerColor  = color.New(color.FgCyan, color.Bold)
	warnColor    = color.New(color.FgYellow)
)

// printSuccess 输出成功信息
func printSuccess(w io.Writer, format string, args ...interface{}) {
	successColor.Fprintf(w, "✓ "+format+"\n", args...)
}

// printFailure 输出失败信息
func printFailure(w io.Writer, format string, args ...interface{}) {
	failureColor.Fprintf(w, "✗ "+format+"\n", args...)
}

// printHeader 输出分节标题
func printHeader(w io.Writer, format string, args ...interface{}) {
	headerColor.Fprintf(w, format+"\n", args...)
}

// printWarning 输出警告
func printWarning(w io.Writer, format string, args ...interface{}) {
	warnColor.Fprintf(w, "! "+format+"\n", args...)
}

// printJSON 以缩进JSON输出
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
