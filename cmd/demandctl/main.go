package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/demandcast/demandcast/internal/api"
	"github.com/demandcast/demandcast/internal/engine"
	"github.com/demandcast/demandcast/internal/paramcache"
)

var version = "dev"

var (
	// predict flags
	requestFile     string
	outputFile      string
	modelOverride   string
	horizonOverride int
	workers         int
	fitTimeout      time.Duration

	// migrate flags
	dsn            string
	cleanupExpired bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "demandctl",
		Short: "Forecast engine command line tool",
		Long: `Runs the forecast engine against local request files, lists the
available model strategies, and manages the Postgres parameter cache schema.`,
	}

	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// predictCmd runs one forecast request in-process
func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run a forecast request from a JSON file",
		Long: `Reads a forecast request from a JSON file, runs it through the engine
in-process and prints the response. No server or cache backend is required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(requestFile)
			if err != nil {
				return fmt.Errorf("failed to read request file: %w", err)
			}

			var req api.ForecastRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("failed to parse request: %w", err)
			}
			if modelOverride != "" {
				req.ModelSelector = modelOverride
			}
			if horizonOverride > 0 {
				req.Horizon = horizonOverride
			}

			eng := engine.New(engine.Config{Workers: workers}, nil, nil, nil)

			ctx, cancel := context.WithTimeout(context.Background(), fitTimeout)
			defer cancel()

			resp, err := eng.Predict(ctx, &req)
			if err != nil {
				return fmt.Errorf("predict failed: %w", err)
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode response: %w", err)
			}

			if outputFile != "" {
				if err := os.WriteFile(outputFile, out, 0644); err != nil {
					return fmt.Errorf("failed to write output: %w", err)
				}
				fmt.Printf("Response written to %s (model %s, %d entities, %d warnings)\n",
					outputFile, resp.ModelUsed, len(resp.FullDetail.AllEntityResults), len(resp.Warnings))
				return nil
			}

			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestFile, "file", "f", "", "Request JSON file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write response JSON to file instead of stdout")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override the request's modelSelector")
	cmd.Flags().IntVar(&horizonOverride, "horizon", 0, "Override the request's horizon")
	cmd.Flags().IntVar(&workers, "workers", 0, "Fitting pool size (0 = default)")
	cmd.Flags().DurationVar(&fitTimeout, "timeout", 2*time.Minute, "Overall request timeout")
	cmd.MarkFlagRequired("file")

	return cmd
}

// modelsCmd lists the registered strategies
func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available model strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := engine.New(engine.Config{}, nil, nil, nil)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tMIN HISTORY\tSEASONAL\tDESCRIPTION")
			for _, m := range eng.Models() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
					m.Name, m.Kind, m.MinHistory, m.Seasonal, m.Description)
			}
			return w.Flush()
		},
	}
}

// migrateCmd creates the parameter cache schema in Postgres
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the forecast_params schema in Postgres",
		Long: `Creates the forecast_params table and its expiry index if they do not
exist. With --cleanup-expired it also deletes rows past their expiry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			if dsn == "" {
				return fmt.Errorf("no DSN: pass --dsn or set DATABASE_URL")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer pool.Close()

			ddl := `
				CREATE TABLE IF NOT EXISTS forecast_params (
					entity_id VARCHAR(255) PRIMARY KEY,
					strategy VARCHAR(64) NOT NULL,
					params JSONB NOT NULL,
					fitted_at TIMESTAMPTZ NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_forecast_params_expires
					ON forecast_params(expires_at);
			`
			if _, err := pool.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println("forecast_params schema is up to date")

			if cleanupExpired {
				store, err := paramcache.NewPostgresStore(dsn)
				if err != nil {
					return fmt.Errorf("failed to open store: %w", err)
				}
				defer store.Close()

				n, err := store.CleanupExpired(ctx)
				if err != nil {
					return fmt.Errorf("cleanup failed: %w", err)
				}
				fmt.Printf("Deleted %d expired parameter rows\n", n)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres connection string (falls back to DATABASE_URL)")
	cmd.Flags().BoolVar(&cleanupExpired, "cleanup-expired", false, "Delete rows past their expiry")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the demandctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("demandctl %s\n", version)
		},
	}
}
