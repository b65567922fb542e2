package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		processorRequestsTotal == nil || rateLimitDelaysSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveProcessorCall(t *testing.T) {
	ObserveProcessorCall("scrape", "https://Shop.example/p/1", "drafted", 200*time.Millisecond)
	ObserveProcessorCall("scrape", "https://shop.example/p/2", "drafted", 100*time.Millisecond)

	if val := testutil.ToFloat64(processorRequestsTotal.WithLabelValues("scrape", "shop.example", "drafted")); val != 2 {
		t.Errorf("expected 2 drafted scrape calls, got %f", val)
	}
	if n := testutil.CollectAndCount(processorDurationSeconds); n == 0 {
		t.Error("expected processor latency to be observed")
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("limited.example", time.Second)

	if n := testutil.CollectAndCount(rateLimitDelaysSeconds); n == 0 {
		t.Error("expected rate limit delay to be observed")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
