package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/engine"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

type runFlags struct {
	concurrency int
	maxRetries  int
	output      string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [url-file]",
		Short: "Imports a list of URLs and prints the run report",
		Long: `Loads product URLs (one per line, "#" starts a comment) from the given
file or from stdin, processes them to completion and writes the JSON run
report. SIGINT cancels the run; the partial report is still written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args, flags)
		},
	}
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "items processed per batch (overrides import.concurrency)")
	cmd.Flags().IntVar(&flags.maxRetries, "max-retries", 0, "attempts per item (overrides import.max_retries)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "write the report to this file instead of stdout")
	return cmd
}

func runImport(cmd *cobra.Command, args []string, flags *runFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := zap.L().Named("run")
	eng := appInstance.Engine()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open url file: %w", err)
		}
		defer f.Close()
		in = f
	}
	if !eng.Load(cmd.Context(), func(context.Context) ([]string, error) { return readURLs(in) }) {
		return fmt.Errorf("load urls: run is %s", eng.State())
	}

	var opts []engine.Option
	if flags.concurrency > 0 {
		opts = append(opts, engine.WithConcurrency(flags.concurrency))
	}
	if flags.maxRetries > 0 {
		opts = append(opts, engine.WithMaxRetries(flags.maxRetries))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if !eng.Start(ctx, opts...) {
		return fmt.Errorf("start run: %w", engine.ErrRejected)
	}
	if err := eng.Wait(ctx); err != nil {
		logger.Warn("run interrupted, cancelling", zap.Error(err))
		eng.Cancel()
		if err := eng.Wait(context.WithoutCancel(cmd.Context())); err != nil {
			return err
		}
	}

	report := eng.GetReport()
	logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("state", string(report.State)),
		zap.Int("completed", report.Progress.Completed),
		zap.Int("failed", report.Progress.Failed),
	)
	if err := writeReport(cmd, flags.output, report); err != nil {
		return err
	}
	if report.State == importer.RunFailed {
		return fmt.Errorf("run %s failed", report.RunID)
	}
	return nil
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

func writeReport(cmd *cobra.Command, path string, report importer.Report) error {
	out := cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
