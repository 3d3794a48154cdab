package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"vidmigrate/internal"
	"vidmigrate/signer"
	"vidmigrate/transfer"
	"vidmigrate/utils"
	"vidmigrate/worklist"
)

// newHTTPClient builds the shared client, routed through the configured proxy
func newHTTPClient(cfg *internal.Config) (*utils.HTTPClient, error) {
	client, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		ProxyURL: cfg.Transfer.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

// baseClient exposes the shared transport to libraries that want a plain *http.Client
func baseClient(client *utils.HTTPClient) *http.Client {
	return &http.Client{Transport: client.Transport()}
}

// newSigner returns a temp URL generator for the configured container, or nil when no
// key is set and objects are fetched from their plain URLs
func newSigner(cfg *internal.Config) (*signer.Generator, error) {
	if cfg.Storage.TempURLKey == "" {
		return nil, nil
	}
	origin, basePath, err := utils.SplitContainerURL(cfg.Storage.BaseURL)
	if err != nil {
		return nil, err
	}
	return signer.NewGenerator(origin, basePath, cfg.Storage.TempURLKey, cfg.Storage.TempURLExpiry, transfer.RealClock{}), nil
}

// newRateLimiter parses the configured download limit; nil means unlimited
func newRateLimiter(rateLimit string) (*utils.BandwidthLimiter, error) {
	bps, err := utils.ParseRateLimit(rateLimit)
	if err != nil {
		validationErr := internal.NewValidationErrorWithValue("rate_limit", "invalid format", rateLimit).
			WithSuggestion("Use formats like 1M (1 MB/s), 500K (500 KB/s), 2G (2 GB/s), or 1024 (1024 bytes/s)")
		internal.LogValidationError(validationErr)
		return nil, validationErr
	}
	if bps <= 0 {
		return nil, nil
	}
	internal.LogDebug("Rate limit parsed: %s = %d bytes/sec", rateLimit, bps)
	return utils.NewBandwidthLimiter(bps), nil
}

// containerName is the configured container, or the last segment of the container URL
func containerName(cfg internal.StorageConfig) string {
	if cfg.Container != "" {
		return cfg.Container
	}
	trimmed := strings.TrimRight(cfg.BaseURL, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}

// openWorklist loads the configured worklist
func openWorklist(cfg *internal.Config) (*worklist.Store, *worklist.Table, error) {
	if _, err := os.Stat(cfg.Worklist); err != nil {
		return nil, nil, internal.NewValidationErrorWithValue("worklist", "worklist file does not exist", cfg.Worklist).
			WithSuggestion("Pass --worklist or set VIDMIGRATE_WORKLIST")
	}
	store, err := worklist.NewStore(cfg.Worklist)
	if err != nil {
		return nil, nil, err
	}
	table, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	return store, table, nil
}

// printSummary reports a finished run unless quiet
func printSummary(quiet bool, action string, summary *worklist.Summary, runErr error) {
	if summary != nil {
		internal.LogInfo("%s finished: %s", action, summary)
	}
	if quiet {
		return
	}
	if summary != nil {
		fmt.Printf("📊 %s: %s\n", action, summary)
	}
	if kind, ok := internal.KindOf(runErr); ok && kind == internal.ErrCancelled {
		fmt.Printf("⏸️  %s cancelled. Progress has been saved, run the same command to continue.\n", action)
	}
}
