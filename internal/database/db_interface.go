package database

import (
	"time"

	"github.com/openmaude/maude-etl/internal/models"
)

const (
	FILE_STATUS_PROCESSING       = "PROCESSING"
	FILE_STATUS_DONE             = "DONE"
	FILE_STATUS_DONE_WITH_ERRORS = "DONE_WITH_ERRORS"
	FILE_STATUS_FATAL            = "FATAL"
)

// File kinds recorded in maude_file_records; the auditor's reconciliation
// check needs to tell historical baselines from weekly increments.
const (
	FILE_KIND_BASE   = "base"
	FILE_KIND_ADD    = "add"
	FILE_KIND_CHANGE = "change"
)

// CoverageCount is the covered/total pair for one derived column.
type CoverageCount struct {
	Covered int64
	Total   int64
}

// DBManager is the single-writer surface the pipeline holds for the
// duration of a run.
type DBManager interface {
	// Schema lifecycle.
	EnsureSchema() error
	ResetSchema() error
	DropLoadIndexes() error
	CreateLoadIndexes() error
	CreateStagingTables(family models.FileFamily, numWorkers int) ([]string, error)
	DropStagingTable(name string) error

	// File provenance.
	InsertFileRecord(fileName string, family models.FileFamily, kind string, processedAt time.Time, status string, checksum string) (int, error)
	UpdateFileStatus(fileID int, status string, recordsLoaded int64, errs any) error
	IsFileAlreadyProcessed(checksum string) (bool, error)

	// Bulk load and reconciliation.
	UpsertBatch(family models.FileFamily, stagingTable string, recs []*models.CanonicalRecord) (int64, error)
	ApplyChangeBatch(family models.FileFamily, fields []string, recs []*models.CanonicalRecord) (updated int64, notFound int64, err error)
	PopulateEventDeviceFields() (int64, error)

	// Audit reads.
	TableCounts() (map[string]int64, error)
	OrphanBuckets(family models.FileFamily) ([]models.OrphanBucket, error)
	CoverageRate(table string, column string) (CoverageCount, error)
	LoadedRecordTotals() (map[string]map[string]int64, error)
}
