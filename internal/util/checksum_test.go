package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSHA1(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := FileSHA1(path)
	if err != nil {
		t.Fatalf("FileSHA1: %v", err)
	}
	// Known digest of "hello world".
	want := "2AAE6C35C94FCFB415DBE95F408B9CE91EE846ED"
	if got != want {
		t.Errorf("FileSHA1 = %s, want %s", got, want)
	}
}

func TestFileSHA1Missing(t *testing.T) {
	if _, err := FileSHA1(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("FileSHA1 on missing file succeeded, want error")
	}
}

func TestChecksumsEqual(t *testing.T) {
	if !ChecksumsEqual("2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", "2AAE6C35C94FCFB415DBE95F408B9CE91EE846ED") {
		t.Error("case-insensitive comparison failed")
	}
	if ChecksumsEqual("abc", "abd") {
		t.Error("distinct digests compared equal")
	}
}
