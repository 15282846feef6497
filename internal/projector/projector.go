// Package projector walks extracted XML files, parses the exchange
// documents inside each, and writes one flat record per document to the
// configured sinks. Files within a batch parse in parallel; output order
// always follows discovery order.
package projector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/sync/errgroup"

	"github.com/epo-tools/epoparquet/internal/db"
	"github.com/epo-tools/epoparquet/internal/patent"
	"github.com/epo-tools/epoparquet/internal/progress"
)

// ParseAll projects every .xml file under root into sink. Any file that
// fails to parse aborts the whole run; the stage never emits a partial
// dataset.
//
// Files are processed in consecutive batches of batchSize. Parsing
// within a batch is parallel, but records reach the sink in the same
// order the files were discovered, so reruns over identical inputs
// produce byte-identical output.
func ParseAll(ctx context.Context, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter, root string, batchSize, workers int, sink RecordSink) error {
	if batchSize <= 0 {
		batchSize = 1
	}
	if workers <= 0 {
		workers = 1
	}

	xmlFiles, err := collectXMLFiles(root)
	if err != nil {
		return fmt.Errorf("discover xml files under %s: %w", root, err)
	}
	logger.Info("Starting parse stage.",
		slog.Int("xml_files", len(xmlFiles)),
		slog.Int("batch_size", batchSize),
	)
	reporter.Stage("Parse", 0, int64(len(xmlFiles)), "")

	startTime := time.Now()
	var processed int64
	var totalRecords int64

	for start := 0; start < len(xmlFiles); start += batchSize {
		end := min(start+batchSize, len(xmlFiles))
		batch := xmlFiles[start:end]
		results := make([][]patent.Record, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, path := range batch {
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				fileStart := time.Now()
				db.LogFileEvent(gctx, dbConn, path, db.FileTypeXML, db.EventParseStart, "", "", "", "", nil)
				reporter.File(path, filepath.Base(path), progress.StatusParsing, 0, -1, 0, "")

				records, err := parseFile(path)
				duration := time.Since(fileStart)
				if err != nil {
					db.LogFileEvent(gctx, dbConn, path, db.FileTypeXML, db.EventError, "", "", err.Error(), "", &duration)
					reporter.File(path, filepath.Base(path), progress.StatusError, 0, -1, duration, err.Error())
					return fmt.Errorf("parse %s: %w", path, err)
				}

				results[i] = records
				db.LogFileEvent(gctx, dbConn, path, db.FileTypeXML, db.EventParseEnd,
					"", "", fmt.Sprintf("%d records", len(records)), "", &duration)
				reporter.File(path, filepath.Base(path), progress.StatusComplete, int64(len(records)), -1, duration, "")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, records := range results {
			for _, rec := range records {
				if err := sink.Write(rec); err != nil {
					return fmt.Errorf("write record: %w", err)
				}
				totalRecords++
			}
		}

		processed += int64(len(batch))
		reporter.Stage("Parse", processed, int64(len(xmlFiles)), "")
	}

	logger.Info("Parse stage complete.",
		slog.Int("xml_files", len(xmlFiles)),
		slog.Int64("records", totalRecords),
		slog.Duration("duration", time.Since(startTime).Round(time.Millisecond)),
	)
	return nil
}

// parseFile reads one XML file and projects its exchange documents.
func parseFile(path string) ([]patent.Record, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("read xml: %w", err)
	}
	docs, err := patent.DocumentsFromXML(doc)
	if err != nil {
		return nil, err
	}
	records := make([]patent.Record, len(docs))
	for i, d := range docs {
		records[i] = d.Record()
	}
	return records, nil
}

// collectXMLFiles walks root in lexical order and returns every file
// with an .xml extension. Symlinked directories are followed, with a
// resolved-path set breaking cycles. filepath.WalkDir alone cannot do
// this; it never descends through symlinks.
func collectXMLFiles(root string) ([]string, error) {
	visited := make(map[string]bool)
	var files []string
	if err := walkFollowing(root, visited, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func walkFollowing(dir string, visited map[string]bool, files *[]string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if visited[resolved] {
		return nil
	}
	visited[resolved] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info := entry.Type()

		if info&os.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				continue // dangling link
			}
			if target.IsDir() {
				if err := walkFollowing(path, visited, files); err != nil {
					return err
				}
				continue
			}
		} else if entry.IsDir() {
			if err := walkFollowing(path, visited, files); err != nil {
				return err
			}
			continue
		}

		if filepath.Ext(entry.Name()) == ".xml" {
			*files = append(*files, path)
		}
	}
	return nil
}
