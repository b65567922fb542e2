// Package scrape extracts product data from static product pages with colly.
//
// Fields are read from OpenGraph/product meta tags first, then schema.org
// itemprop microdata, then generic fallbacks (<title>, <h1>, meta description).
package scrape

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-importer/internal/importer"
	"github.com/JakeFAU/bulk-importer/internal/metrics"
)

const backendName = "scrape"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the pooled default transport.
	Transport http.RoundTripper
}

// Processor implements importer.Processor by scraping the item URL.
type Processor struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Processor.
func New(cfg Config, logger *zap.Logger) *Processor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(cfg.Transport)
	return &Processor{cfg: cfg, baseCollector: c, logger: logger.Named("scrape_processor")}
}

// page accumulates the candidates seen while parsing, by priority.
type page struct {
	mu          sync.Mutex
	title       []string
	price       []string
	currency    []string
	images      []string
	description []string
}

func (p *page) add(field *[]string, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*field = append(*field, v)
}

// Process fetches url and classifies the extracted product.
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

	var (
		primary, micro, fallback = &page{}, &page{}, &page{}
		fetchErr                 error
	)
	collector := p.buildCollector(ctx, primary, micro, fallback, &fetchErr)
	if err := p.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return importer.ProcessResult{}, err
	}

	if opts.Stage != nil {
		opts.Stage(importer.ItemValidating)
	}
	product := assemble(url, primary, micro, fallback)
	res = classify(product)
	if res.Classify() != importer.OutcomeBlocked && opts.Stage != nil {
		opts.Stage(importer.ItemImporting)
	}
	p.logger.Debug("page scraped",
		zap.String("url", url),
		zap.String("outcome", res.Classify().String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// buildCollector wires parsing callbacks: og/product meta into primary,
// microdata into micro, generic markup into fallback.
func (p *Processor) buildCollector(
	ctx context.Context,
	primary, micro, fallback *page,
	fetchErr *error,
) *colly.Collector {
	collector := p.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.Context = ctx
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)
	collector.WithTransport(p.cfg.Transport)

	collector.OnHTML("meta[property], meta[name]", func(e *colly.HTMLElement) {
		key := strings.ToLower(e.Attr("property"))
		if key == "" {
			key = strings.ToLower(e.Attr("name"))
		}
		content := e.Attr("content")
		switch key {
		case "og:title", "product:title":
			primary.add(&primary.title, content)
		case "product:price:amount", "og:price:amount":
			primary.add(&primary.price, content)
		case "product:price:currency", "og:price:currency":
			primary.add(&primary.currency, content)
		case "og:image", "og:image:secure_url":
			primary.add(&primary.images, content)
		case "og:description":
			primary.add(&primary.description, content)
		case "description":
			fallback.add(&fallback.description, content)
		}
	})

	collector.OnHTML("[itemprop]", func(e *colly.HTMLElement) {
		value := e.Attr("content")
		switch e.Attr("itemprop") {
		case "name":
			if value == "" {
				value = e.Text
			}
			micro.add(&micro.title, value)
		case "price":
			if value == "" {
				value = e.Text
			}
			micro.add(&micro.price, value)
		case "priceCurrency":
			micro.add(&micro.currency, value)
		case "image":
			if value == "" {
				value = e.Attr("src")
			}
			if value != "" {
				micro.add(&micro.images, e.Request.AbsoluteURL(value))
			}
		case "description":
			if value == "" {
				value = e.Text
			}
			micro.add(&micro.description, value)
		}
	})

	collector.OnHTML("title", func(e *colly.HTMLElement) {
		fallback.add(&fallback.title, e.Text)
	})
	collector.OnHTML("h1", func(e *colly.HTMLElement) {
		fallback.add(&fallback.title, e.Text)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
	return collector
}

func (p *Processor) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: colly fetch canceled: %w", importer.ErrCancelled, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func first(sources ...[]string) string {
	for _, s := range sources {
		if len(s) > 0 {
			return s[0]
		}
	}
	return ""
}

func assemble(url string, primary, micro, fallback *page) importer.Product {
	product := importer.Product{"url": url}
	if v := first(primary.title, micro.title, fallback.title); v != "" {
		product["title"] = v
	}
	if v := first(primary.price, micro.price); v != "" {
		product["price"] = normalizePrice(v)
	}
	if v := first(primary.currency, micro.currency); v != "" {
		product["currency"] = strings.ToUpper(v)
	}
	images := dedupe(append(append([]string(nil), primary.images...), micro.images...))
	if len(images) > 0 {
		product["images"] = images
	}
	if v := first(primary.description, micro.description, fallback.description); v != "" {
		product["description"] = v
	}
	return product
}

func normalizePrice(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimLeft(v, "$€£¥ ")
	if strings.Count(v, ",") == 1 && !strings.Contains(v, ".") {
		v = strings.Replace(v, ",", ".", 1)
	}
	return strings.ReplaceAll(v, ",", "")
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

var (
	criticalFields = []string{"title", "price"}
	optionalFields = []string{"currency", "images", "description"}
)

// classify maps an extracted product onto a processor result: missing
// critical fields block, missing images or description draft.
func classify(product importer.Product) importer.ProcessResult {
	var missingCritical []any
	for _, f := range criticalFields {
		if _, ok := product[f]; !ok {
			missingCritical = append(missingCritical, "missing "+f)
		}
	}

	present := 0
	var missingDraft []string
	for _, f := range optionalFields {
		if _, ok := product[f]; ok {
			present++
			continue
		}
		if f != "currency" {
			missingDraft = append(missingDraft, f)
		}
	}
	score := float64(present) * 100 / float64(len(optionalFields))
	validation := &importer.Validation{Score: &score}

	switch {
	case len(missingCritical) > 0:
		validation.ImportDecision = &importer.ImportDecision{Details: missingCritical}
		return importer.ProcessResult{
			Status:     importer.StatusBlocked,
			Product:    product,
			Error:      "Critical data missing",
			Validation: validation,
		}
	case len(missingDraft) > 0:
		return importer.ProcessResult{
			Status:     importer.StatusDrafted,
			Success:    true,
			Product:    product,
			Message:    "Imported as draft: missing " + strings.Join(missingDraft, ", "),
			Validation: validation,
		}
	default:
		return importer.ProcessResult{Success: true, Product: product, Validation: validation}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
