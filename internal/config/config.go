package config

import "runtime"

const (
	// DefaultBaseURL is the root of the EPO publication API.
	DefaultBaseURL = "https://publication.epo.org/raw-data/api"

	// DefaultBatchSize is the number of XML files parsed in one parallel batch.
	DefaultBatchSize = 10
)

var (
	// Default number of workers for the extraction phase.
	DefaultNumWorkers = runtime.NumCPU()
)

// Config holds application settings. It is populated from CLI flags; a
// configuration-file layer is an external collaborator and lives outside
// this binary.
type Config struct {
	BaseURL     string
	ProductID   int
	DownloadDir string
	OutputCSV   string
	// OutputParquet enables a second, columnar sink when non-empty.
	OutputParquet string
	DbPath        string
	NumWorkers    int
	BatchSize     int

	// Independent stage toggles. A disabled stage is skipped, not an error.
	Download bool
	Extract  bool
	Parse    bool

	// DeleteAfterExtract removes an archive once fully unpacked.
	DeleteAfterExtract bool
}
