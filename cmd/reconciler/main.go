package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/models"
	"github.com/smartdevs17/rsk-balance-reconciler/internal/storage"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// loadConfig reads and validates the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// withStorage runs fn against a connected, migrated store without the ledger stack
func withStorage(fn func(ctx context.Context, cfg *config.Config, store storage.Storage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initializeLogger(cfg); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStorage(ctx, &cfg.Storage, cfg.Reconciliation.NativeAsset, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, cfg, store)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "rsk-reconciler",
	Short:   "RSK balance reconciliation engine",
	Long:    `Compares internally recorded account balances against the Rootstock (RSK) ledger, corrects small drift and alerts on large discrepancies.`,
	Version: AppVersion,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reconciliation scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	app.Stop()
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full reconciliation and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := app.orchestrator.RunFullReconciliation(ctx, models.TriggerCLI)
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}

		return printJSON(report)
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect reconciliation reports",
}

var listReportsCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		if limit < 1 || offset < 0 {
			return fmt.Errorf("limit must be positive and offset non-negative")
		}

		return withStorage(func(ctx context.Context, cfg *config.Config, store storage.Storage) error {
			reports, err := store.ListReports(ctx, limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTRIGGER\tSTARTED\tTOTAL\tOK\tCORRECTED\tFLAGGED\tMAJOR\tSKIPPED\tERRORS")
			for _, r := range reports {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
					r.ID, r.Trigger, r.StartedAt.Format(time.RFC3339), r.TotalAccounts,
					r.OkCount, r.CorrectedCount, r.FlaggedCount, r.MajorCount, r.SkippedCount, r.ErrorCount)
			}
			return w.Flush()
		})
	},
}

var showReportCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one report with its per-account details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(ctx context.Context, cfg *config.Config, store storage.Storage) error {
			report, err := store.GetReport(ctx, args[0])
			if err != nil {
				return err
			}
			if report == nil {
				return fmt.Errorf("report %s not found", args[0])
			}
			return printJSON(report)
		})
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage tracked accounts",
}

var trackAccountCmd = &cobra.Command{
	Use:   "track <address>",
	Short: "Start tracking an on-chain address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !utils.IsValidAddress(args[0]) {
			return fmt.Errorf("invalid address: %s", args[0])
		}

		userID, _ := cmd.Flags().GetString("user")
		rawBalance, _ := cmd.Flags().GetString("balance")
		balance, err := decimal.NewFromString(rawBalance)
		if err != nil {
			return fmt.Errorf("invalid balance: %w", err)
		}

		return withStorage(func(ctx context.Context, cfg *config.Config, store storage.Storage) error {
			now := time.Now().UTC()
			account := &models.TrackedAccount{
				Address:         utils.NormalizeAddress(args[0]),
				RecordedBalance: balance,
				AssetSnapshot:   []models.AssetBalance{{Asset: cfg.Reconciliation.NativeAsset, Amount: balance}},
				IsActive:        true,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if userID != "" {
				account.OwningUserID = &userID
			}

			if err := store.SaveAccount(ctx, account); err != nil {
				return err
			}
			fmt.Printf("Tracking %s (recorded balance %s %s)\n", account.Address, balance, cfg.Reconciliation.NativeAsset)
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(ctx context.Context, cfg *config.Config, store storage.Storage) error {
			fmt.Printf("Database (%s) is up to date\n", cfg.Storage.Type)
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("RSK Node: %s\n", cfg.RSK.NodeURL)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Thresholds: minor %s, major %s\n", cfg.Reconciliation.MinorThreshold, cfg.Reconciliation.MajorThreshold)
		fmt.Printf("Batch size: %d\n", cfg.Reconciliation.BatchSize)
		fmt.Printf("Lock backend: %s\n", cfg.Lock.Backend)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RSK Balance Reconciler %s\n", AppVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	listReportsCmd.Flags().Int("limit", 20, "maximum number of reports")
	listReportsCmd.Flags().Int("offset", 0, "number of reports to skip")

	trackAccountCmd.Flags().String("user", "", "owning user ID (empty for system accounts)")
	trackAccountCmd.Flags().String("balance", "0", "currently recorded balance")

	rootCmd.AddCommand(serveCmd, runCmd, reportsCmd, accountsCmd, migrateCmd, configCmd, versionCmd)
	reportsCmd.AddCommand(listReportsCmd, showReportCmd)
	accountsCmd.AddCommand(trackAccountCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
