package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cpmigrate/internal/app"
	"cpmigrate/internal/config"
	"cpmigrate/internal/journal"
	"cpmigrate/internal/logger"
	"cpmigrate/internal/progress"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "cpmigrate",
	Short: "Migrate a cPanel-style hosting account between servers",
	Long: `Moves a hosting account from a source server to a destination server:
checks the destination for username/domain conflicts, triggers an account
backup at the source, downloads and re-uploads the artifact, and restores
it on the destination with live output capture.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMigration,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent migrations from the journal",
	RunE:  runHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Source flags
	rootCmd.Flags().String("src-host", "", "Source server hostname")
	rootCmd.Flags().String("src-user", "", "Source API user")
	rootCmd.Flags().String("src-password", "", "Source API password")
	rootCmd.Flags().Int("src-api-port", 2083, "Source job-control API port")
	rootCmd.Flags().String("src-api-path", "/backup", "Source job-control API path")

	// Destination flags
	rootCmd.Flags().String("dst-host", "", "Destination server hostname")
	rootCmd.Flags().String("dst-root-user", "", "Destination root user")
	rootCmd.Flags().String("dst-root-password", "", "Destination root password")

	// Account flags
	rootCmd.Flags().String("username", "", "Account username (required)")
	rootCmd.Flags().String("domain", "", "Account primary domain (required)")
	rootCmd.Flags().Bool("overwrite", false, "Overwrite the account if it already exists on the destination")

	// Transfer flags
	rootCmd.Flags().Int("poll-interval", 10, "Seconds between backup status checks")
	rootCmd.Flags().Int("poll-ceiling", 600, "Overall seconds to wait for the backup to become ready")
	rootCmd.Flags().Int("connect-timeout", 30, "SSH connect timeout in seconds")
	rootCmd.Flags().Int("request-timeout", 30, "Per-request timeout for job-control calls in seconds")
	rootCmd.Flags().String("local-root", os.TempDir(), "Local directory for downloaded artifacts")
	rootCmd.Flags().String("remote-root", "/home", "Destination directory for uploaded artifacts")
	rootCmd.Flags().String("restore-command", "/scripts/restorepkg", "Restore tool run on the destination")

	// Journal, metrics and archive flags
	rootCmd.Flags().String("journal", "./cpmigrate.db", "Migration journal database file")
	rootCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics")
	rootCmd.Flags().String("metrics-addr", ":9100", "Metrics listen address")
	rootCmd.Flags().Bool("archive", false, "Keep a copy of each artifact in S3-compatible storage")
	rootCmd.Flags().String("archive-endpoint", "", "Archive endpoint (host:port)")
	rootCmd.Flags().String("archive-access-key", "", "Archive access key")
	rootCmd.Flags().String("archive-secret-key", "", "Archive secret key")
	rootCmd.Flags().String("archive-bucket", "", "Archive bucket")
	rootCmd.Flags().Bool("archive-secure", false, "Use HTTPS for the archive endpoint")

	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")

	historyCmd.Flags().String("journal", "./cpmigrate.db", "Migration journal database file")
	historyCmd.Flags().Int("limit", 20, "Number of entries to show")

	rootCmd.AddCommand(historyCmd)

	// Load environment variables from a .env file in the current directory.
	// A missing file is fine; secrets can still come from the shell.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	migrator, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	migrator.ShowProgress = progress.IsTerminalSupported()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, aborting migration...")
		cancel()
	}()

	req := &app.Request{
		SourceHost:              cfg.Source.Host,
		SourceUser:              cfg.Source.User,
		SourcePassword:          cfg.Source.Password,
		DestinationHost:         cfg.Destination.Host,
		DestinationRootUser:     cfg.Destination.RootUser,
		DestinationRootPassword: cfg.Destination.RootPassword,
		Username:                cfg.Account.Username,
		Domain:                  cfg.Account.Domain,
		Overwrite:               cfg.Account.Overwrite,
	}

	result := migrator.Migrate(ctx, req)

	if closeErr := migrator.Close(); closeErr != nil {
		log.Error("Error closing migrator", zap.Error(closeErr))
	}

	printResult(result)
	if !result.Success {
		return fmt.Errorf("migration ended with outcome %s", result.Outcome)
	}
	return nil
}

func printResult(result *app.Result) {
	fmt.Println()
	fmt.Printf("Migration %s\n", result.ID)
	fmt.Printf("  Outcome:  %s\n", result.Outcome)
	fmt.Printf("  Stage:    %s\n", result.Stage)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("  %s\n", result.Detail)

	if len(result.Transcript) > 0 {
		fmt.Println()
		fmt.Println("Transcript:")
		for _, line := range result.Transcript {
			fmt.Printf("  %s\n", line)
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("journal")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := journal.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	entries, err := store.History(limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No migrations recorded yet.")
		return nil
	}

	for _, e := range entries {
		status := "FAILED"
		if e.Success {
			status = "OK"
		}
		fmt.Printf("%s  %-6s  %-12s  %-24s  %s -> %s  %s (%s)\n",
			e.FinishedAt.Format("2006-01-02 15:04:05"),
			status,
			e.Username,
			e.Domain,
			e.SourceHost,
			e.DestinationHost,
			e.Outcome,
			time.Duration(e.DurationMs)*time.Millisecond)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
