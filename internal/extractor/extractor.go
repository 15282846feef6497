// Package extractor discovers archive files under a directory tree and
// unpacks them in place. Unpacking can reveal further archives, so
// discovery repeats until a pass extracts nothing new.
package extractor

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epo-tools/epoparquet/internal/db"
	"github.com/epo-tools/epoparquet/internal/progress"
)

// ErrUnsupportedFormat is returned by ExtractFile for extensions outside
// the gz/tar/zip set.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// maxPasses bounds the fixed-point discovery loop against pathological
// self-nesting archives.
const maxPasses = 32

func isArchive(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz", ".tar", ".zip":
		return true
	}
	return false
}

// ExtractAll unpacks every supported archive under root. Directories and
// the archives within them are processed in parallel; a failure extracting
// one archive or reading one directory is logged and skipped without
// aborting siblings. The returned error is non-nil only for
// non-recoverable problems such as the root itself being untraversable.
//
// Because extraction can create directories that themselves contain
// archives, discovery re-runs until a pass extracts nothing new. A
// run-scoped set of already-extracted archive paths keeps passes from
// redoing work when archives are retained on disk.
func ExtractAll(ctx context.Context, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter, workers int, root string, deleteAfterExtract bool) error {
	if workers <= 0 {
		workers = 1
	}

	var extracted sync.Map // archive path -> true, for the whole run
	startTime := time.Now()

	for pass := 1; pass <= maxPasses; pass++ {
		// Concurrency-safe visited set, scoped to one discovery pass and
		// shared by the parallel directory workers.
		var visited sync.Map
		var extractedThisPass atomic.Int64

		dirs, err := collectDirs(root)
		if err != nil {
			return fmt.Errorf("traverse %s: %w", root, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, dir := range dirs {
			g.Go(func() error {
				if _, seen := visited.LoadOrStore(dir, true); seen {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				n := processDirectory(gctx, dbConn, logger, reporter, workers, dir, deleteAfterExtract, &extracted)
				extractedThisPass.Add(n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		logger.Debug("Extraction pass complete.",
			slog.Int("pass", pass),
			slog.Int64("archives_extracted", extractedThisPass.Load()),
		)
		if extractedThisPass.Load() == 0 {
			break
		}
	}

	logger.Info("Extraction finished.",
		slog.Duration("duration", time.Since(startTime).Round(time.Millisecond)),
	)
	return nil
}

// collectDirs enumerates root and every directory below it.
func collectDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subdirectory: skip, don't abort the scan.
			return fs.SkipDir
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

// processDirectory extracts every not-yet-extracted archive directly in
// dir and returns how many were unpacked. Failures are logged per archive.
func processDirectory(ctx context.Context, dbConn *sql.DB, logger *slog.Logger, reporter *progress.Reporter, workers int, dir string, deleteAfterExtract bool, extracted *sync.Map) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("Failed to read directory.", slog.String("dir", dir), "error", err)
		return 0
	}

	var archives []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && isArchive(entry.Name()) {
			path := filepath.Join(dir, entry.Name())
			if _, done := extracted.Load(path); !done {
				archives = append(archives, path)
			}
		}
	}
	if len(archives) == 0 {
		return 0
	}

	var count atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, archivePath := range archives {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			name := filepath.Base(archivePath)
			l := logger.With(slog.String("archive", archivePath))
			start := time.Now()

			reporter.File(archivePath, name, progress.StatusExtracting, 0, -1, 0, "")
			db.LogFileEvent(gctx, dbConn, archivePath, db.FileTypeArchive, db.EventExtractStart, "", dir, "", "", nil)

			extractErr := ExtractFile(archivePath, deleteAfterExtract)
			duration := time.Since(start)
			if extractErr != nil {
				l.Error("Failed to extract archive.", "error", extractErr)
				db.LogFileEvent(gctx, dbConn, archivePath, db.FileTypeArchive, db.EventError, "", dir, extractErr.Error(), "", &duration)
				reporter.File(archivePath, name, progress.StatusError, 0, -1, duration, extractErr.Error())
				return nil
			}

			extracted.Store(archivePath, true)
			count.Add(1)
			l.Debug("Archive extracted.", slog.Duration("duration", duration.Round(time.Millisecond)))
			db.LogFileEvent(gctx, dbConn, archivePath, db.FileTypeArchive, db.EventExtractEnd, "", dir, "", "", &duration)
			reporter.File(archivePath, name, progress.StatusComplete, 0, -1, duration, "")
			return nil
		})
	}
	g.Wait()
	return count.Load()
}

// ExtractFile unpacks a single archive next to itself, dispatching on the
// file extension. A .gz whose stem ends in .tar is treated as a combined
// tar+gzip container. When deleteAfterExtract is set, the archive is
// removed only after its contents unpacked completely.
func ExtractFile(filePath string, deleteAfterExtract bool) error {
	parentDir := filepath.Dir(filePath)
	base := filepath.Base(filePath)
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var err error
	switch ext {
	case ".gz":
		if strings.HasSuffix(strings.ToLower(stem), ".tar") {
			err = extractTarGz(filePath, parentDir)
		} else {
			err = extractGz(filePath, filepath.Join(parentDir, stem))
		}
	case ".tar":
		err = extractTar(filePath, parentDir)
	case ".zip":
		err = extractZip(filePath, parentDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return err
	}

	if deleteAfterExtract {
		if err := os.Remove(filePath); err != nil {
			return fmt.Errorf("delete archive after extraction: %w", err)
		}
	}
	return nil
}

func extractGz(filePath, outputPath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open gz %s: %w", filePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read gzip header %s: %w", filePath, err)
	}
	defer gz.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outputPath, err)
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		return fmt.Errorf("decompress %s: %w", filePath, err)
	}
	return out.Close()
}

func extractTarGz(filePath, outputDir string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open tar.gz %s: %w", filePath, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read gzip header %s: %w", filePath, err)
	}
	defer gz.Close()

	return unpackTar(tar.NewReader(gz), outputDir)
}

func extractTar(filePath, outputDir string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open tar %s: %w", filePath, err)
	}
	defer f.Close()

	return unpackTar(tar.NewReader(f), outputDir)
}

func unpackTar(tr *tar.Reader, outputDir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		if !filepath.IsLocal(filepath.FromSlash(hdr.Name)) {
			return fmt.Errorf("tar entry escapes output directory: %s", hdr.Name)
		}
		target := filepath.Join(outputDir, filepath.FromSlash(hdr.Name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent of %s: %w", target, err)
			}
			out, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("write %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("close %s: %w", target, err)
			}
		default:
			// Links and special files do not occur in the bulk feeds.
		}
	}
}

func extractZip(filePath, outputDir string) error {
	archive, err := zip.OpenReader(filePath)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", filePath, err)
	}
	defer archive.Close()

	for _, f := range archive.File {
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return fmt.Errorf("zip entry escapes output directory: %s", f.Name)
		}
		outPath := filepath.Join(outputDir, filepath.FromSlash(f.Name))

		if strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", outPath, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return fmt.Errorf("create parent of %s: %w", outPath, err)
		}

		in, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		out, err := os.Create(outPath)
		if err != nil {
			in.Close()
			return fmt.Errorf("create %s: %w", outPath, err)
		}
		_, copyErr := io.Copy(out, in)
		closeErr := errors.Join(out.Close(), in.Close())
		if err := errors.Join(copyErr, closeErr); err != nil {
			return fmt.Errorf("extract zip entry %s: %w", f.Name, err)
		}
	}
	return nil
}
