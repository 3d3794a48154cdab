package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidmigrate/internal"
	"vidmigrate/storage"
	"vidmigrate/transfer"
	"vidmigrate/utils"
	"vidmigrate/worklist"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete uploaded videos from the storage container",
	Long: `Purge deletes the source object of every row that is uploaded, has a
YouTube link and is not yet marked remote_deleted. The outcome is written to
the remote_deleted column: yes, not_found, or the error.

Deletes run one at a time with a pause between them.

Examples:
  vidmigrate purge -w videos.xlsx
  vidmigrate purge -w videos.xlsx --delay 1s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet := config.Log.Quiet

		if config.Storage.Username == "" || config.Storage.APIKey == "" {
			return internal.NewValidationError("storage.username", "cloud credentials are required for purge").
				WithSuggestion("Set VIDMIGRATE_STORAGE_USERNAME and VIDMIGRATE_STORAGE_API_KEY")
		}
		container := containerName(config.Storage)
		if container == "" {
			return internal.NewValidationError("storage.container", "container name is required").
				WithSuggestion("Set storage.container or storage.base_url")
		}

		if !quiet {
			fmt.Printf("📋 Worklist: %s\n", config.Worklist)
			fmt.Printf("🗑️  Container: %s (%s)\n", container, config.Storage.Region)
			fmt.Printf("⏱️  Delay between deletes: %v\n", config.Storage.PurgeDelay)
			fmt.Println()
		}

		return executePurgeWorkflow(container, quiet)
	},
}

// executePurgeWorkflow authenticates against cloud identity and deletes eligible objects
func executePurgeWorkflow(container string, quiet bool) error {
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

	auth := storage.NewAuthManager(httpClient, config.Storage, transfer.RealClock{})
	session, err := auth.Authenticate(ctx)
	if err != nil {
		internal.LogError("Authentication failed: %v", err)
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if !quiet {
		fmt.Printf("✅ Authenticated (token expires: %s)\n", session.ExpiresAt.Format("2006-01-02 15:04:05"))
	}

	driver := worklist.NewDriver(config, store, table, worklist.Deps{
		Deleter:  storage.NewClient(httpClient, auth, container),
		Throttle: utils.NewThrottle(config.Storage.PurgeDelay),
	})

	summary, runErr := driver.Purge(ctx)
	printSummary(quiet, "Purge", summary, runErr)
	if runErr != nil {
		internal.LogError("Purge failed: %v", runErr)
		return fmt.Errorf("purge failed: %w", runErr)
	}
	return nil
}

func init() {
	purgeCmd.Flags().Duration("delay", internal.DefaultConfig().Storage.PurgeDelay, "Pause between deletes (env: VIDMIGRATE_STORAGE_PURGE_DELAY)")
	purgeCmd.Flags().String("region", internal.DefaultConfig().Storage.Region, "Cloud Files region of the container (env: VIDMIGRATE_STORAGE_REGION)")

	bindFlag(purgeCmd, "delay", "storage.purge_delay")
	bindFlag(purgeCmd, "region", "storage.region")
}
