package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/config"
	"github.com/JakeFAU/bulk-importer/internal/importer"
	"github.com/JakeFAU/bulk-importer/internal/server"
)

// useProcessor swaps the app factory for one that injects p.
func useProcessor(t *testing.T, p importer.Processor) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		cfg.Import.RetryDelayMs = 0
		cfg.Import.DelayBetweenItemsMs = 0
		return server.Build(ctx, cfg,
			server.WithLogger(zap.NewNop()),
			server.WithRegisterer(prometheus.NewRegistry()),
			server.WithProcessor(p),
		)
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReadURLsSkipsBlanksAndComments(t *testing.T) {
	t.Parallel()

	urls, err := readURLs(strings.NewReader("# header\nhttps://a.example/1\n\n  https://a.example/2  \n#https://skip\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/1", "https://a.example/2"}, urls)
}

func TestRunCommandWritesReport(t *testing.T) {
	useProcessor(t, importer.ProcessorFunc(func(_ context.Context, url string, _ importer.ProcessOptions) (importer.ProcessResult, error) {
		if strings.HasSuffix(url, "/draft") {
			return importer.ProcessResult{Status: importer.StatusDrafted, Product: importer.Product{"title": "Lamp"}, Message: "missing images"}, nil
		}
		return importer.ProcessResult{Success: true, Product: importer.Product{"title": "Lamp"}}, nil
	}))

	dir := t.TempDir()
	input := filepath.Join(dir, "urls.txt")
	require.NoError(t, os.WriteFile(input, []byte("https://shop.example/ok\nhttps://shop.example/draft\nnot-a-url\n"), 0o600))
	output := filepath.Join(dir, "report.json")

	_, err := execute(t, "", "run", input, "--concurrency", "2", "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var report importer.Report
	require.NoError(t, json.Unmarshal(data, &report))
	require.Equal(t, importer.RunCompleted, report.State)
	require.Equal(t, 2, report.Progress.Total)
	require.Equal(t, 1, report.Progress.Completed)
	require.Equal(t, 1, report.Progress.Drafted)
	require.Equal(t, 2, report.Config.Concurrency)
}

func TestRunCommandReadsStdin(t *testing.T) {
	useProcessor(t, importer.ProcessorFunc(func(_ context.Context, _ string, _ importer.ProcessOptions) (importer.ProcessResult, error) {
		return importer.ProcessResult{Success: true, Product: importer.Product{"title": "Lamp"}}, nil
	}))

	out, err := execute(t, "https://shop.example/a\n", "run")
	require.NoError(t, err)
	var report importer.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, 1, report.Progress.Completed)
	require.NotEmpty(t, report.RunID)
}

func TestRunCommandFailsWithoutURLs(t *testing.T) {
	useProcessor(t, importer.ProcessorFunc(func(context.Context, string, importer.ProcessOptions) (importer.ProcessResult, error) {
		return importer.ProcessResult{Success: true}, nil
	}))

	_, err := execute(t, "# nothing here\n", "run")
	require.ErrorContains(t, err, "load urls")
}

func TestRunsCommandListsHistory(t *testing.T) {
	useProcessor(t, importer.ProcessorFunc(func(context.Context, string, importer.ProcessOptions) (importer.ProcessResult, error) {
		return importer.ProcessResult{Success: true}, nil
	}))

	out, err := execute(t, "", "runs", "--limit", "5")
	require.NoError(t, err)
	require.JSONEq(t, "[]", out)
}
