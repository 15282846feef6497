// Package downloader acquires catalog items over HTTP, verifying each
// file's SHA-1 checksum before accepting it. Items download concurrently
// and failures are isolated per item.
package downloader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/epo-tools/epoparquet/internal/catalog"
	"github.com/epo-tools/epoparquet/internal/config"
	"github.com/epo-tools/epoparquet/internal/db"
	"github.com/epo-tools/epoparquet/internal/progress"
	"github.com/epo-tools/epoparquet/internal/util"
)

// copyChunkSize is the unit of streaming writes and progress updates.
const copyChunkSize = 32 * 1024

// ChecksumError reports a digest mismatch between the catalog's declared
// checksum and the downloaded bytes. The corrupt file has already been
// deleted by the time this error is returned.
type ChecksumError struct {
	Item     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, actual %s", e.Item, e.Expected, e.Actual)
}

// DownloadAll fans out one download task per item across all deliveries.
// Individual item failures are collected and joined; they never cancel
// sibling downloads. The returned error is nil only if every item
// succeeded or was skipped.
func DownloadAll(ctx context.Context, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter, client *http.Client, product *catalog.Product) error {
	var total int
	for _, delivery := range product.Deliveries {
		total += len(delivery.Items)
	}
	logger.Info("Starting downloads.",
		slog.Int("deliveries", len(product.Deliveries)),
		slog.Int("items", total),
	)
	reporter.Stage("Download", 0, int64(total), "")

	var wg sync.WaitGroup
	var itemErrors sync.Map // item name -> error
	var completed atomic.Int64

	for _, delivery := range product.Deliveries {
		for _, item := range delivery.Items {
			wg.Add(1)
			go func(deliveryID int, item catalog.Item) {
				defer wg.Done()
				l := logger.With(
					slog.String("item", item.Name),
					slog.Int("delivery_id", deliveryID),
				)
				if err := DownloadItem(ctx, client, cfg, dbConn, l, reporter, deliveryID, item); err != nil {
					l.Error("Download failed.", "error", err)
					itemErrors.Store(item.Name, err)
				}
				reporter.Stage("Download", completed.Add(1), int64(total), item.Name)
			}(delivery.ID, item)
		}
	}
	wg.Wait()

	var finalErr error
	errorCount := 0
	itemErrors.Range(func(key, value any) bool {
		finalErr = errors.Join(finalErr, fmt.Errorf("item %s: %w", key.(string), value.(error)))
		errorCount++
		return true
	})

	if errorCount > 0 {
		logger.Warn("Download stage completed with errors.", slog.Int("error_count", errorCount))
	} else {
		logger.Info("Download stage completed successfully.", slog.Int("items", total))
	}
	return finalErr
}

// DownloadItem streams one item to the download directory and verifies
// its checksum. If a file with the item's name already exists the
// download is skipped without any network I/O.
func DownloadItem(ctx context.Context, client *http.Client, cfg config.Config, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter, deliveryID int, item catalog.Item) error {
	filePath := filepath.Join(cfg.DownloadDir, item.Name)

	if _, err := os.Stat(filePath); err == nil {
		logger.Info("File already exists. Skipping.", slog.String("path", filePath))
		db.LogFileEvent(ctx, dbConn, item.Name, db.FileTypeItem, db.EventSkipDownload, "", filePath, "file already exists", "", nil)
		reporter.File(item.Name, item.Name, progress.StatusSkipped, 0, 0, 0, "")
		return nil
	}

	totalBytes, err := util.ParseFileSize(item.FileSize)
	if err != nil {
		return fmt.Errorf("parse declared size of %s: %w", item.Name, err)
	}

	downloadURL := catalog.DownloadURL(cfg.BaseURL, cfg.ProductID, deliveryID, item.ID)
	logger.Info("Starting download.",
		slog.String("size", item.FileSize),
		slog.String("url", downloadURL),
	)
	startTime := time.Now()
	db.LogFileEvent(ctx, dbConn, item.Name, db.FileTypeItem, db.EventDownloadStart, downloadURL, filePath, "", "", nil)
	reporter.File(item.Name, item.Name, progress.StatusDownloading, 0, int64(totalBytes), 0, "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		dlErr := fmt.Errorf("send download request: %w", err)
		db.LogFileEvent(ctx, dbConn, item.Name, db.FileTypeItem, db.EventError, downloadURL, filePath, dlErr.Error(), "", nil)
		return dlErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		dlErr := fmt.Errorf("bad status %q downloading %s: %s", resp.Status, item.Name, string(body))
		db.LogFileEvent(ctx, dbConn, item.Name, db.FileTypeItem, db.EventError, downloadURL, filePath, dlErr.Error(), "", nil)
		return dlErr
	}

	downloaded, err := streamToFile(resp.Body, filePath, func(n int64) {
		reporter.File(item.Name, item.Name, progress.StatusDownloading, n, int64(totalBytes), time.Since(startTime), "")
	})
	if err != nil {
		dlErr := fmt.Errorf("stream %s to disk: %w", item.Name, err)
		db.LogFileEvent(ctx, dbConn, item.Name, db.FileTypeItem, db.EventError, downloadURL, filePath, dlErr.Error(), "", nil)
		return dlErr
	}
	logger.Debug("Download complete.",
		slog.Int64("bytes", downloaded),
		slog.Uint64("declared_bytes", totalBytes),
	)

	computed, err := util.FileSHA1(filePath)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", item.Name, err)
	}
	duration := time.Since(startTime)

	if !util.ChecksumsEqual(computed, item.FileChecksum) {
		if rmErr := os.Remove(filePath); rmErr != nil {
			return errors.Join(
				&ChecksumError{Item: item.Name, Expected: item.FileChecksum, Actual: computed},
				fmt.Errorf("remove corrupted download %s: %w", filePath, rmErr),
			)
		}
		chkErr := &ChecksumError{Item: item.Name, Expected: item.FileChecksum, Actual: computed}
		db.LogFileEvent(ctx, dbConn, item.Name, db.FileTypeItem, db.EventError, downloadURL, filePath, chkErr.Error(), computed, &duration)
		reporter.File(item.Name, item.Name, progress.StatusError, downloaded, int64(totalBytes), duration, chkErr.Error())
		return chkErr
	}

	logger.Info("Checksum verified.", slog.Duration("duration", duration.Round(time.Millisecond)))
	db.LogFileEvent(ctx, dbConn, item.Name, db.FileTypeItem, db.EventDownloadEnd, downloadURL, filePath, "", computed, &duration)
	reporter.File(item.Name, item.Name, progress.StatusComplete, downloaded, int64(totalBytes), duration, "")
	return nil
}

// streamToFile copies r to path in fixed-size chunks, invoking onProgress
// with the monotonically increasing byte count after each chunk. The file
// is flushed before returning.
func streamToFile(r io.Reader, path string, onProgress func(int64)) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file %s: %w", path, err)
	}

	var written int64
	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				return written, fmt.Errorf("write chunk: %w", writeErr)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return written, fmt.Errorf("read chunk: %w", readErr)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return written, fmt.Errorf("flush file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close file %s: %w", path, err)
	}
	return written, nil
}
