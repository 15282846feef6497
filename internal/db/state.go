// Package db maintains a DuckDB event log recording what happened to every
// file the pipeline touched: items downloaded, archives extracted, XML
// files parsed. The log is observability and bookkeeping only; pipeline
// correctness never depends on it.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// Event types.
const (
	EventDownloadStart = "download_start"
	EventDownloadEnd   = "download_end"
	EventExtractStart  = "extract_start"
	EventExtractEnd    = "extract_end"
	EventParseStart    = "parse_start"
	EventParseEnd      = "parse_end"
	EventError         = "error"
	EventSkipDownload  = "skip_download"
)

// File types.
const (
	FileTypeItem    = "item"
	FileTypeArchive = "archive"
	FileTypeXML     = "xml"
)

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS epo_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('event_log_id_seq'),
    filename        VARCHAR NOT NULL,      -- item name, archive path, or xml path
    filetype        VARCHAR NOT NULL,      -- 'item', 'archive', 'xml'
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    source_url      VARCHAR,
    output_path     VARCHAR,
    message         VARCHAR,
    sha1_hash       VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_epo_event_log_file ON epo_event_log (filename, filetype);
CREATE INDEX IF NOT EXISTS idx_epo_event_log_event_time ON epo_event_log (event, event_timestamp);
`

// InitializeSchema creates the sequence and table in the correct order.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// LogFileEvent inserts a new event record into the log. A nil db is
// accepted so components can run without state tracking (tests).
func LogFileEvent(ctx context.Context, db *sql.DB, filename, filetype, event, sourceURL, outputPath, message, sha1 string, duration *time.Duration) error {
	if db == nil {
		return nil
	}
	query := `
        INSERT INTO epo_event_log (filename, filetype, event, event_timestamp, source_url, output_path, message, sha1_hash, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if duration != nil {
		durationMs = sql.NullInt64{Int64: duration.Milliseconds(), Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		filename,
		filetype,
		event,
		time.Now().UTC(),
		sql.NullString{String: sourceURL, Valid: sourceURL != ""},
		sql.NullString{String: outputPath, Valid: outputPath != ""},
		sql.NullString{String: message, Valid: message != ""},
		sql.NullString{String: sha1, Valid: sha1 != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", event, filename, err)
	}
	return nil
}

// GetCompletionStatusBatch checks a list of files for a specific completion
// event using a temporary table, which keeps the query flat for large
// catalogs. Returns a map keyed by filename for every file that has the
// completion event on record.
func GetCompletionStatusBatch(ctx context.Context, db *sql.DB, filenames []string, filetype, completionEvent string) (map[string]bool, error) {
	completed := make(map[string]bool)
	if db == nil || len(filenames) == 0 {
		return completed, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for batch check: %w", err)
	}
	defer tx.Rollback()

	tempTableName := fmt.Sprintf("temp_files_to_check_%d", time.Now().UnixNano())
	createSQL := fmt.Sprintf(`CREATE TEMP TABLE %s (filename TEXT PRIMARY KEY);`, tempTableName)
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("failed to create temp table %s: %w", tempTableName, err)
	}

	insertSQL := fmt.Sprintf(`INSERT INTO %s (filename) VALUES (?)`, tempTableName)
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert for temp table %s: %w", tempTableName, err)
	}
	for _, fn := range filenames {
		select {
		case <-ctx.Done():
			stmt.Close()
			return nil, ctx.Err()
		default:
			if _, err := stmt.ExecContext(ctx, fn); err != nil {
				stmt.Close()
				return nil, fmt.Errorf("failed to insert filename '%s' into temp table: %w", fn, err)
			}
		}
	}
	if err = stmt.Close(); err != nil {
		return nil, fmt.Errorf("failed to close insert statement: %w", err)
	}

	query := fmt.Sprintf(`
        SELECT DISTINCT el.filename
        FROM epo_event_log el
        JOIN %s tfc ON el.filename = tfc.filename
        WHERE el.filetype = ?
          AND el.event = ?;
    `, tempTableName)
	rows, err := tx.QueryContext(ctx, query, filetype, completionEvent)
	if err != nil {
		return nil, fmt.Errorf("failed batch status query (event=%s, type=%s): %w", completionEvent, filetype, err)
	}
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed scanning batch status row: %w", err)
		}
		completed[filename] = true
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating batch status results: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch check transaction: %w", err)
	}
	return completed, nil
}

// DisplayFileHistory queries and prints the event log.
func DisplayFileHistory(ctx context.Context, db *sql.DB, filetypeFilter, eventFilter string, limit int) error {
	query := `
        SELECT filename, filetype, event, event_timestamp, message, duration_ms, source_url, output_path
        FROM epo_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1

	if filetypeFilter != "" {
		conditions = append(conditions, fmt.Sprintf("filetype = $%d", argCounter))
		args = append(args, filetypeFilter)
		argCounter++
	}
	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	fmt.Printf("--- Event Log History (Limit %d) ---\n", limit)
	fmt.Printf("%-45s | %-8s | %-15s | %-25s | %-10s | %s\n", "File", "Type", "Event", "Timestamp (UTC)", "DurationMS", "Message/Details")
	fmt.Println(strings.Repeat("-", 140))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var filename, filetype, event string
		var timestamp time.Time
		var message, sourceURL, outputPath sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&filename, &filetype, &event, &timestamp, &message, &durationMs, &sourceURL, &outputPath); err != nil {
			return fmt.Errorf("failed to scan event log row: %w", err)
		}

		durationStr := ""
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		details := message.String
		if sourceURL.Valid && sourceURL.String != "" {
			details += fmt.Sprintf(" (Source: %s)", filepath.Base(sourceURL.String))
		}
		if outputPath.Valid && outputPath.String != "" {
			details += fmt.Sprintf(" (Output: %s)", filepath.Base(outputPath.String))
		}

		fmt.Printf("%-45s | %-8s | %-15s | %-25s | %-10s | %s\n",
			filename, filetype, event, timestamp.Format(time.RFC3339), durationStr, details)
		count++
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating event log rows: %w", err)
	}
	fmt.Printf("Displayed %d records.\n", count)
	return nil
}
