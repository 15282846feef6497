package projector

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/epo-tools/epoparquet/internal/patent"
)

// RecordSink receives projected records in order. Implementations are
// not safe for concurrent use; the projector owns a sink from a single
// goroutine.
type RecordSink interface {
	Write(rec patent.Record) error
	Close() error
}

// CSVSink writes records as CSV with every field quoted, including the
// header, so downstream loaders never have to sniff quoting rules.
type CSVSink struct {
	f *os.File
	w *bufio.Writer
}

// NewCSVSink creates the output file and writes the header row.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv output %s: %w", path, err)
	}
	s := &CSVSink{f: f, w: bufio.NewWriter(f)}
	if err := s.writeRow(patent.Headers); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return s, nil
}

func (s *CSVSink) Write(rec patent.Record) error {
	return s.writeRow(rec.Fields())
}

func (s *CSVSink) writeRow(fields []string) error {
	for i, field := range fields {
		if i > 0 {
			if err := s.w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := s.w.WriteByte('"'); err != nil {
			return err
		}
		if _, err := s.w.WriteString(strings.ReplaceAll(field, `"`, `""`)); err != nil {
			return err
		}
		if err := s.w.WriteByte('"'); err != nil {
			return err
		}
	}
	return s.w.WriteByte('\n')
}

// Close flushes buffered rows and closes the file.
func (s *CSVSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("flush csv output: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close csv output: %w", err)
	}
	return nil
}

// ParquetSink writes records to a snappy-compressed Parquet file with
// the same five columns as the CSV output.
type ParquetSink struct {
	fw source.ParquetFile
	pw *writer.CSVWriter
}

// NewParquetSink creates the Parquet output file.
func NewParquetSink(path string) (*ParquetSink, error) {
	meta := make([]string, len(patent.Headers))
	for i, h := range patent.Headers {
		meta[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY", h)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet output %s: %w", path, err)
	}
	pw, err := writer.NewCSVWriter(meta, fw, 4)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("init parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &ParquetSink{fw: fw, pw: pw}, nil
}

func (s *ParquetSink) Write(rec patent.Record) error {
	fields := rec.Fields()
	row := make([]*string, len(fields))
	for i := range fields {
		row[i] = &fields[i]
	}
	if err := s.pw.WriteString(row); err != nil {
		return fmt.Errorf("write parquet row: %w", err)
	}
	return nil
}

// Close finalizes the row groups and footer, then closes the file.
func (s *ParquetSink) Close() error {
	if err := s.pw.WriteStop(); err != nil {
		s.fw.Close()
		return fmt.Errorf("finalize parquet output: %w", err)
	}
	if err := s.fw.Close(); err != nil {
		return fmt.Errorf("close parquet output: %w", err)
	}
	return nil
}

// MultiSink fans every record out to all sinks.
func MultiSink(sinks ...RecordSink) RecordSink {
	return multiSink(sinks)
}

type multiSink []RecordSink

func (m multiSink) Write(rec patent.Record) error {
	for _, s := range m {
		if err := s.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m multiSink) Close() error {
	var errs error
	for _, s := range m {
		errs = errors.Join(errs, s.Close())
	}
	return errs
}
