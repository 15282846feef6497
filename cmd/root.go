package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/epo-tools/epoparquet/internal/config"
	"github.com/epo-tools/epoparquet/internal/db"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/spf13/cobra"
)

var (
	// Flag values, bound in init().
	baseURL            string
	productID          int
	downloadDir        string
	outputCSV          string
	outputParquet      string
	dbPath             string
	workers            int
	batchSize          int
	deleteAfterExtract bool
	logFormat          string
	logLevel           string
	logOutput          string

	// Populated in PersistentPreRunE.
	rootLogger *slog.Logger
	dbConn     *sql.DB
	appConfig  config.Config
)

var rootCmd = &cobra.Command{
	Use:   "epoparquet",
	Short: "Download EPO bulk data, extract archives, and project patents to CSV/Parquet.",
	Long: `epoparquet drives the EPO bulk data pipeline: it fetches the product
catalog, downloads and checksum-verifies every delivery item, unpacks the
archives (including archives nested inside archives), and projects the
exchange documents in the extracted XML into flat CSV or Parquet records.

The 'run' command executes the whole pipeline. The 'download', 'extract'
and 'parse' commands run single stages, and 'state' shows the event log
the pipeline keeps in DuckDB.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		appConfig = config.Config{
			BaseURL:            baseURL,
			ProductID:          productID,
			DownloadDir:        downloadDir,
			OutputCSV:          outputCSV,
			OutputParquet:      outputParquet,
			DbPath:             dbPath,
			NumWorkers:         workers,
			BatchSize:          batchSize,
			Download:           true,
			Extract:            true,
			Parse:              true,
			DeleteAfterExtract: deleteAfterExtract,
		}
		rootLogger.Debug("Configuration loaded.", slog.Any("config", appConfig))

		if appConfig.DownloadDir == "" || appConfig.DbPath == "" {
			return fmt.Errorf("--download-dir and --db-path flags are required")
		}
		if err := os.MkdirAll(appConfig.DownloadDir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", appConfig.DownloadDir, err)
		}
		if appConfig.DbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(appConfig.DbPath), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		rootLogger.Info("Initializing DuckDB connection.", "path", appConfig.DbPath)
		var err error
		dbConn, err = sql.Open("duckdb", appConfig.DbPath)
		if err != nil {
			return fmt.Errorf("failed to open duckdb database (%s): %w", appConfig.DbPath, err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err = dbConn.PingContext(pingCtx); err != nil {
			dbConn.Close()
			return fmt.Errorf("failed to ping duckdb database (%s): %w", appConfig.DbPath, err)
		}

		if err := db.InitializeSchema(dbConn); err != nil {
			dbConn.Close()
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dbConn != nil {
			if err := dbConn.Close(); err != nil {
				rootLogger.Error("Failed to close DuckDB connection cleanly.", "error", err)
			}
		}
		return nil
	},
}

// Execute is the entry point called by main.
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed.", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", config.DefaultBaseURL, "Base URL of the bulk data API")
	rootCmd.PersistentFlags().IntVarP(&productID, "product-id", "p", 3, "Product ID to download")
	rootCmd.PersistentFlags().StringVarP(&downloadDir, "download-dir", "i", "./downloads", "Directory for downloaded and extracted files")
	rootCmd.PersistentFlags().StringVarP(&outputCSV, "output-csv", "o", "./patents.csv", "Path of the projected CSV output ('' to disable)")
	rootCmd.PersistentFlags().StringVar(&outputParquet, "output-parquet", "", "Path of an additional Parquet output ('' to disable)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", "./epoparquet_state.duckdb", "Path to DuckDB state database file (:memory: for in-memory)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", config.DefaultNumWorkers, "Number of concurrent workers per stage")
	rootCmd.PersistentFlags().IntVarP(&batchSize, "batch-size", "b", config.DefaultBatchSize, "Number of XML files to parse per batch")
	rootCmd.PersistentFlags().BoolVar(&deleteAfterExtract, "delete-after-extract", true, "Delete archives once their contents are extracted")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() config.Config {
	return appConfig
}
