package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidmigrate/internal"
	"vidmigrate/publish"
	"vidmigrate/worklist"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Write YouTube links into the website database",
	Long: `Publish sets the provider column of each uploaded row's media record to its
YouTube link and records the outcome in the provider_synced column.

Examples:
  vidmigrate publish -w videos.xlsx --dsn 'user:pass@tcp(db:3306)/site'
  VIDMIGRATE_PUBLISH_DSN='user:pass@tcp(db:3306)/site' vidmigrate publish`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet := config.Log.Quiet

		ctx, cancel := signalContext(quiet)
		defer cancel()

		store, table, err := openWorklist(config)
		if err != nil {
			return err
		}

		db, err := publish.Open(ctx, config.Publish.DSN)
		if err != nil {
			internal.LogError("Database connection failed: %v", err)
			return err
		}
		defer db.Close()

		publisher, err := publish.New(db, config.Publish.Table)
		if err != nil {
			return err
		}

		if !quiet {
			fmt.Printf("📋 Worklist: %s\n", config.Worklist)
			fmt.Printf("🗄️  Table: %s\n", config.Publish.Table)
			fmt.Println()
		}

		driver := worklist.NewDriver(config, store, table, worklist.Deps{Publisher: publisher})
		summary, runErr := driver.Publish(ctx)
		printSummary(quiet, "Publish", summary, runErr)
		if runErr != nil {
			internal.LogError("Publish failed: %v", runErr)
			return fmt.Errorf("publish failed: %w", runErr)
		}
		return nil
	},
}

func init() {
	publishCmd.Flags().String("dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db (env: VIDMIGRATE_PUBLISH_DSN)")
	publishCmd.Flags().String("table", internal.DefaultConfig().Publish.Table, "Media table to update (env: VIDMIGRATE_PUBLISH_TABLE)")

	bindFlag(publishCmd, "dsn", "publish.dsn")
	bindFlag(publishCmd, "table", "publish.table")
}
