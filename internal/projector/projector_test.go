package projector

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/epo-tools/epoparquet/internal/patent"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

const docA = `<exchange-documents>
  <exchange-document country="EP" doc-number="100" kind="A1" status="PUBLISHED">
    <patent-classifications>
      <patent-classification>
        <classification-scheme scheme="CPCI"/>
        <classification-symbol>G06F 16/00</classification-symbol>
      </patent-classification>
    </patent-classifications>
    <references-cited>
      <citation>
        <patcit>
          <document-id><country>US</country><doc-number>5</doc-number><kind>B2</kind></document-id>
        </patcit>
        <category>X</category>
      </citation>
    </references-cited>
  </exchange-document>
</exchange-documents>`

const docB = `<exchange-document country="DE" doc-number="200" kind="B1" status="GRANTED"/>`

func runParse(t *testing.T, root, outPath string) error {
	t.Helper()
	sink, err := NewCSVSink(outPath)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}
	parseErr := ParseAll(context.Background(), nil, testLogger(), nil, root, 2, 4, sink)
	if closeErr := sink.Close(); closeErr != nil {
		t.Fatalf("close sink: %v", closeErr)
	}
	return parseErr
}

func TestParseAllWritesQuotedCSV(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "a.xml", docA)
	writeFixture(t, root, "b.xml", docB)

	out := filepath.Join(t.TempDir(), "out.csv")
	if err := runParse(t, root, out); err != nil {
		t.Fatalf("ParseAll: %v", err)
	}

	want := `"patent_id","status","cpc_list","citations","family_patents"
"EP100A1","PUBLISHED","G06F 16/00","US5B2 (X)",""
"DE200B1","GRANTED","","",""
`
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestParseAllIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "a.xml", docA)
	writeFixture(t, root, "b.xml", docB)
	writeFixture(t, root, "c.xml", `<exchange-document country="FR" doc-number="9" kind="A" status="PUBLISHED"/>`)

	outDir := t.TempDir()
	first := filepath.Join(outDir, "first.csv")
	second := filepath.Join(outDir, "second.csv")
	if err := runParse(t, root, first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runParse(t, root, second); err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if string(a) != string(b) {
		t.Error("reruns over identical input produced different bytes")
	}
}

func TestParseAllFailsOnInvalidDocument(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "good.xml", docB)
	writeFixture(t, root, "missing-status.xml", `<exchange-document country="EP" doc-number="1" kind="A1"/>`)

	out := filepath.Join(t.TempDir(), "out.csv")
	if err := runParse(t, root, out); err == nil {
		t.Fatal("ParseAll succeeded, want error for document missing mandatory attribute")
	}
}

func TestParseAllIgnoresNonXMLFiles(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "doc.xml", docB)
	writeFixture(t, root, "readme.txt", "not xml")
	writeFixture(t, root, "data.json", "{}")

	out := filepath.Join(t.TempDir(), "out.csv")
	if err := runParse(t, root, out); err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	got, _ := os.ReadFile(out)
	want := `"patent_id","status","cpc_list","citations","family_patents"
"DE200B1","GRANTED","","",""
`
	if string(got) != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}

func TestCollectXMLFilesFollowsSymlinkedDirs(t *testing.T) {
	real := t.TempDir()
	writeFixture(t, real, "linked.xml", docB)

	root := t.TempDir()
	writeFixture(t, root, "direct.xml", docB)
	if err := os.Symlink(real, filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	files, err := collectXMLFiles(root)
	if err != nil {
		t.Fatalf("collectXMLFiles: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("found %d xml files, want 2 (symlinked dir not followed?): %v", len(files), files)
	}
}

func TestParquetSinkFinalizesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "patents.parquet")
	sink, err := NewParquetSink(out)
	if err != nil {
		t.Fatalf("NewParquetSink: %v", err)
	}

	records := []patent.Record{
		{PatentID: "EP100A1", Status: "PUBLISHED", CPCList: "G06F 16/00", Citations: "US5B2 (X)"},
		{PatentID: "DE200B1", Status: "GRANTED"},
	}
	for _, rec := range records {
		if err := sink.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	// Close runs WriteStop, which flushes the row group and marshals the
	// buffered rows; a row in the wrong shape only surfaces here.
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(data) < 8 {
		t.Fatalf("output only %d bytes", len(data))
	}
	if string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Error("output is not a finalized parquet file (missing PAR1 magic)")
	}
}

func TestCSVSinkEscapesEmbeddedQuotes(t *testing.T) {
	out := filepath.Join(t.TempDir(), "q.csv")
	sink, err := NewCSVSink(out)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}
	rec := patent.Record{PatentID: `EP"1"A`, Status: "PUBLISHED"}
	if err := sink.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, _ := os.ReadFile(out)
	want := `"patent_id","status","cpc_list","citations","family_patents"
"EP""1""A","PUBLISHED","","",""
`
	if string(got) != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}
