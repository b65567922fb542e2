// Package remote calls an HTTP extraction endpoint for each item.
//
// The endpoint receives {"url", "skip_confirmation"} and answers with the
// processor result contract: status, success, product, error, message and
// validation.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/importer"
	"github.com/JakeFAU/bulk-importer/internal/metrics"
)

const backendName = "remote"

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// Config controls the endpoint client.
type Config struct {
	Endpoint string
	// APIKey is sent as a bearer token when set.
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Processor implements importer.Processor over HTTP.
type Processor struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

type request struct {
	URL              string `json:"url"`
	SkipConfirmation bool   `json:"skip_confirmation"`
}

// New builds a Processor. client may be nil.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Processor, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("processor.endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, client: client, logger: logger.Named("remote_processor")}, nil
}

// Process posts url to the endpoint and decodes its verdict.
func (p *Processor) Process(
	ctx context.Context,
	url string,
	opts importer.ProcessOptions,
) (res importer.ProcessResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "error"
		if err == nil {
			outcome = res.Classify().String()
		}
		metrics.ObserveProcessorCall(backendName, url, outcome, time.Since(start))
	}()

	body, err := json.Marshal(request{URL: url, SkipConfirmation: opts.SkipConfirmation})
	if err != nil {
		return importer.ProcessResult{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return importer.ProcessResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	if opts.Stage != nil {
		opts.Stage(importer.ItemValidating)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return importer.ProcessResult{}, fmt.Errorf("%w: %w", importer.ErrCancelled, ctx.Err())
		}
		return importer.ProcessResult{}, fmt.Errorf("call extraction endpoint: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return importer.ProcessResult{}, fmt.Errorf("extraction endpoint returned %d: %s",
			resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if opts.Stage != nil {
		opts.Stage(importer.ItemImporting)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return importer.ProcessResult{}, fmt.Errorf("decode extraction response: %w", err)
	}
	p.logger.Debug("item processed",
		zap.String("url", url),
		zap.String("outcome", res.Classify().String()),
	)
	return res, nil
}
