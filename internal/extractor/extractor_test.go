package extractor

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeGz(t *testing.T, path string, content []byte) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func tarBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("tar write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

func writeZip(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestExtractFileGz(t *testing.T) {
	dir := t.TempDir()
	content := []byte("<exchange-document/>")
	writeGz(t, filepath.Join(dir, "doc.xml.gz"), content)

	if err := ExtractFile(filepath.Join(dir, "doc.xml.gz"), false); err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if got := mustRead(t, filepath.Join(dir, "doc.xml")); !bytes.Equal(got, content) {
		t.Errorf("extracted content = %q, want %q", got, content)
	}
	// Archive retained when deletion is off.
	if _, err := os.Stat(filepath.Join(dir, "doc.xml.gz")); err != nil {
		t.Errorf("archive missing after extraction without delete: %v", err)
	}
}

func TestExtractFileTarGz(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"a.xml":        []byte("first"),
		"nested/b.xml": []byte("second"),
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(tarBytes(t, files)); err != nil {
		t.Fatalf("gzip tar: %v", err)
	}
	gz.Close()
	archive := filepath.Join(dir, "bundle.tar.gz")
	if err := os.WriteFile(archive, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	if err := ExtractFile(archive, false); err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	for name, want := range files {
		if got := mustRead(t, filepath.Join(dir, name)); !bytes.Equal(got, want) {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestExtractFileTar(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{"only.xml": []byte("tar payload")}
	archive := filepath.Join(dir, "plain.tar")
	if err := os.WriteFile(archive, tarBytes(t, files), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	if err := ExtractFile(archive, true); err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if got := mustRead(t, filepath.Join(dir, "only.xml")); !bytes.Equal(got, files["only.xml"]) {
		t.Errorf("only.xml = %q, want %q", got, files["only.xml"])
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Error("archive not deleted after extraction with delete enabled")
	}
}

func TestExtractFileZip(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"top.xml":          []byte("zip top"),
		"deep/more/in.xml": []byte("zip deep"),
	}
	archive := filepath.Join(dir, "docs.zip")
	writeZip(t, archive, files)

	if err := ExtractFile(archive, false); err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	for name, want := range files {
		if got := mustRead(t, filepath.Join(dir, name)); !bytes.Equal(got, want) {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestExtractFileUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.rar")
	if err := os.WriteFile(path, []byte("not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := ExtractFile(path, false)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("ExtractFile error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractAllUnpacksNestedArchives(t *testing.T) {
	root := t.TempDir()

	// Inner gz, wrapped in a zip under a subdirectory the zip itself creates.
	content := []byte("innermost document")
	var innerBuf bytes.Buffer
	gz := gzip.NewWriter(&innerBuf)
	gz.Write(content)
	gz.Close()
	writeZip(t, filepath.Join(root, "outer.zip"), map[string][]byte{
		"inner/doc.xml.gz": innerBuf.Bytes(),
	})

	err := ExtractAll(context.Background(), nil, testLogger(), nil, 4, root, false)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if got := mustRead(t, filepath.Join(root, "inner", "doc.xml")); !bytes.Equal(got, content) {
		t.Errorf("nested extraction produced %q, want %q", got, content)
	}
}

func TestExtractAllIsolatesCorruptArchives(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "broken.gz"), []byte("not gzip at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	good := []byte("healthy sibling")
	writeGz(t, filepath.Join(root, "fine.xml.gz"), good)

	err := ExtractAll(context.Background(), nil, testLogger(), nil, 2, root, false)
	if err != nil {
		t.Fatalf("ExtractAll should tolerate corrupt archives, got %v", err)
	}
	if got := mustRead(t, filepath.Join(root, "fine.xml")); !bytes.Equal(got, good) {
		t.Errorf("sibling extraction produced %q, want %q", got, good)
	}
}

func TestExtractAllTerminatesWhenArchivesRetained(t *testing.T) {
	root := t.TempDir()
	writeGz(t, filepath.Join(root, "kept.xml.gz"), []byte("data"))

	// With deletion off the archive stays on disk; the run must still
	// converge instead of re-extracting it forever.
	if err := ExtractAll(context.Background(), nil, testLogger(), nil, 1, root, false); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "kept.xml.gz")); err != nil {
		t.Errorf("retained archive missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "kept.xml")); err != nil {
		t.Errorf("output missing: %v", err)
	}
}
