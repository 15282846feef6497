// Package orchestrator sequences the pipeline stages: catalog fetch and
// download, archive extraction, and XML projection. Each stage can be
// toggled off, so the CLI subcommands are thin wrappers over the same
// entry points.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/epo-tools/epoparquet/internal/catalog"
	"github.com/epo-tools/epoparquet/internal/config"
	"github.com/epo-tools/epoparquet/internal/db"
	"github.com/epo-tools/epoparquet/internal/downloader"
	"github.com/epo-tools/epoparquet/internal/extractor"
	"github.com/epo-tools/epoparquet/internal/progress"
	"github.com/epo-tools/epoparquet/internal/projector"
	"github.com/epo-tools/epoparquet/internal/util"
)

// RunPipeline executes the enabled stages in order. A stage failure
// stops the pipeline; later stages never run against incomplete input.
func RunPipeline(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter) error {
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download directory %s: %w", cfg.DownloadDir, err)
	}

	if cfg.Download {
		if err := RunDownload(ctx, cfg, dbConn, logger, reporter); err != nil {
			return fmt.Errorf("download stage: %w", err)
		}
	}
	if cfg.Extract {
		if err := RunExtract(ctx, cfg, dbConn, logger, reporter); err != nil {
			return fmt.Errorf("extract stage: %w", err)
		}
	}
	if cfg.Parse {
		if err := RunParse(ctx, cfg, dbConn, logger, reporter); err != nil {
			return fmt.Errorf("parse stage: %w", err)
		}
	}
	return nil
}

// RunDownload fetches the product catalog and downloads every item that
// is not already on disk.
func RunDownload(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter) error {
	start := time.Now()
	client := util.DefaultHTTPClient()

	logger.Info("Fetching product catalog.",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("product_id", cfg.ProductID),
	)
	product, err := catalog.FetchProduct(ctx, client, cfg)
	if err != nil {
		reporter.StageDone("Download", start, err, "catalog fetch failed")
		return err
	}

	logCompletionSummary(ctx, cfg, dbConn, logger, product)

	err = downloader.DownloadAll(ctx, cfg, dbConn, logger, reporter, client, product)
	reporter.StageDone("Download", start, err, "")
	return err
}

// logCompletionSummary reports how many catalog items the event log has
// already seen to completion. Purely informational.
func logCompletionSummary(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, product *catalog.Product) {
	var names []string
	for _, delivery := range product.Deliveries {
		for _, item := range delivery.Items {
			names = append(names, item.Name)
		}
	}
	done, err := db.GetCompletionStatusBatch(ctx, dbConn, names, db.FileTypeItem, db.EventDownloadEnd)
	if err != nil {
		logger.Warn("Could not query download history.", "error", err)
		return
	}
	logger.Info("Catalog summary.",
		slog.Int("items", len(names)),
		slog.Int("previously_downloaded", len(done)),
	)
}

// RunExtract unpacks every archive under the download directory.
func RunExtract(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter) error {
	start := time.Now()
	reporter.Stage("Extract", 0, -1, "scanning")
	err := extractor.ExtractAll(ctx, dbConn, logger, reporter, cfg.NumWorkers, cfg.DownloadDir, cfg.DeleteAfterExtract)
	reporter.StageDone("Extract", start, err, "")
	return err
}

// RunParse projects the extracted XML files into the configured outputs.
// At least one of OutputCSV and OutputParquet must be set.
func RunParse(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter) error {
	start := time.Now()

	var sinks []projector.RecordSink
	if cfg.OutputCSV != "" {
		s, err := projector.NewCSVSink(cfg.OutputCSV)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	if cfg.OutputParquet != "" {
		s, err := projector.NewParquetSink(cfg.OutputParquet)
		if err != nil {
			closeSinks(logger, sinks)
			return err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return fmt.Errorf("no output configured: set an output CSV or Parquet path")
	}

	sink := projector.MultiSink(sinks...)
	parseErr := projector.ParseAll(ctx, dbConn, logger, reporter, cfg.DownloadDir, cfg.BatchSize, cfg.NumWorkers, sink)
	closeErr := sink.Close()
	if parseErr == nil {
		parseErr = closeErr
	} else if closeErr != nil {
		logger.Warn("Failed to close output sink after parse error.", "error", closeErr)
	}

	reporter.StageDone("Parse", start, parseErr, "")
	return parseErr
}

func closeSinks(logger *slog.Logger, sinks []projector.RecordSink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close output sink.", "error", err)
		}
	}
}
