package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"vidmigrate/internal"
	"vidmigrate/transfer"
	"vidmigrate/utils"
	"vidmigrate/worklist"
	"vidmigrate/youtube"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Download every pending row and upload it to YouTube",
	Long: `Migrate walks the worklist and, for each row not yet marked uploaded,
downloads the object into the download directory and uploads it to YouTube.

Partial downloads are kept as .part files and upload session URIs are stored
next to the local file, so an interrupted run continues where it stopped.
The worklist is saved after every successful upload.

Examples:
  vidmigrate migrate -w videos.xlsx
  vidmigrate migrate -w videos.csv -t 4 -r 5M --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet := config.Log.Quiet

		if config.Storage.BaseURL == "" {
			return internal.NewValidationError("storage.base_url", "container URL is required").
				WithSuggestion("Set storage.base_url or VIDMIGRATE_STORAGE_BASE_URL")
		}

		limiter, err := newRateLimiter(config.Transfer.RateLimit)
		if err != nil {
			return err
		}

		if !quiet {
			fmt.Printf("📋 Worklist: %s\n", config.Worklist)
			fmt.Printf("📁 Download directory: %s\n", config.DownloadDir)
			fmt.Printf("🧵 Workers: %d\n", config.Workers)
			if limiter != nil {
				fmt.Printf("🚦 Rate limit: %s\n", config.Transfer.RateLimit)
			}
			if config.Transfer.ProxyURL != "" {
				fmt.Printf("🌐 Using proxy: %s\n", config.Transfer.ProxyURL)
			}
			fmt.Println()
		}

		return executeMigrateWorkflow(limiter, quiet)
	},
}

// executeMigrateWorkflow wires storage, the engine and YouTube together and runs the driver
func executeMigrateWorkflow(limiter *utils.BandwidthLimiter, quiet bool) error {
	ctx, cancel := signalContext(quiet)
	defer cancel()

	store, table, err := openWorklist(config)
	if err != nil {
		return err
	}

	httpClient, err := newHTTPClient(config)
	if err != nil {
		return err
	}

	sources := &worklist.HTTPSources{Client: httpClient}
	gen, err := newSigner(config)
	if err != nil {
		return err
	}
	if gen != nil {
		sources.Signer = gen
	} else {
		internal.LogWarn("No temp URL key configured, container objects are fetched without signing")
	}

	uploader, err := newUploader(ctx, httpClient)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stopMetrics := serveMetrics(config.MetricsAddr, registry)
	defer stopMetrics()

	opts := transfer.OptionsFromConfig(config.Transfer)
	opts.Metrics = transfer.NewMetrics(registry)
	opts.Progress = utils.ProgressBars(os.Stderr, quiet)
	if limiter != nil {
		opts.Limiter = limiter
	}
	engine := transfer.New(opts)

	driver := worklist.NewDriver(config, store, table, worklist.Deps{
		Engine:      engine,
		Sources:     sources,
		Destination: uploader,
		Resume:      transfer.NewResumeStore(transfer.RealClock{}),
	})

	if !quiet {
		uploaded, remaining := table.Counts()
		fmt.Printf("🚀 Migrating %d rows (%d already uploaded)...\n", remaining, uploaded)
	}

	summary, runErr := driver.Migrate(ctx)
	printSummary(quiet, "Migrate", summary, runErr)
	if runErr != nil {
		internal.LogError("Migrate failed: %v", runErr)
		return fmt.Errorf("migrate failed: %w", runErr)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d rows failed, see the error column in %s", summary.Failed, config.Worklist)
	}
	return nil
}

// newUploader authorizes against YouTube with the stored token, reusing the proxy-aware transport
func newUploader(ctx context.Context, httpClient *utils.HTTPClient) (*youtube.Uploader, error) {
	oauthConfig, err := youtube.LoadOAuthConfig(config.YouTube.ClientSecrets)
	if err != nil {
		return nil, err
	}
	// The token source outlives any single request, so it gets a context that is never cancelled
	authorized, err := youtube.NewClient(context.WithoutCancel(ctx), oauthConfig,
		youtube.NewTokenStore(config.YouTube.TokenFile), baseClient(httpClient))
	if err != nil {
		return nil, err
	}
	return youtube.NewUploader(utils.WrapHTTPClient(authorized), config.YouTube.UploadURL), nil
}

// serveMetrics exposes registry on addr until the returned stop function is called
func serveMetrics(addr string, registry *prometheus.Registry) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		internal.LogInfo("Serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			internal.LogError("Metrics server stopped: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func init() {
	defaults := internal.DefaultConfig()

	flags := migrateCmd.Flags()
	flags.IntP("workers", "t", defaults.Workers, "Number of rows transferred in parallel (1-16) (env: VIDMIGRATE_WORKERS)")
	flags.StringP("download-dir", "o", defaults.DownloadDir, "Directory for downloaded videos (env: VIDMIGRATE_DOWNLOAD_DIR)")
	flags.StringP("limit-rate", "r", "", "Download bandwidth limit (e.g., 5M for 5MB/s) (env: VIDMIGRATE_TRANSFER_RATE_LIMIT)")
	flags.String("privacy", defaults.YouTube.PrivacyStatus, "Privacy status of uploaded videos (public, unlisted, private)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (env: VIDMIGRATE_METRICS_ADDR)")

	bindFlag(migrateCmd, "workers", "workers")
	bindFlag(migrateCmd, "download-dir", "download_dir")
	bindFlag(migrateCmd, "limit-rate", "transfer.rate_limit")
	bindFlag(migrateCmd, "privacy", "youtube.privacy_status")
	bindFlag(migrateCmd, "metrics-addr", "metrics_addr")
}
