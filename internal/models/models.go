package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FileFamily identifies one of the publisher's table-oriented file families.
type FileFamily string

const (
	FamilyMaster         FileFamily = "master"
	FamilyDevice         FileFamily = "device"
	FamilyPatient        FileFamily = "patient"
	FamilyText           FileFamily = "text"
	FamilyDevProblem     FileFamily = "devproblem"
	FamilyPatientProblem FileFamily = "patientproblem"
)

// AllFamilies lists every known family in load order: device rows carry the
// manufacturer and product code that get back-filled onto master events, so
// device must land first.
var AllFamilies = []FileFamily{
	FamilyDevice,
	FamilyMaster,
	FamilyPatient,
	FamilyText,
	FamilyDevProblem,
	FamilyPatientProblem,
}

// CanonicalRecord is one parsed row keyed by canonical field names. The
// parser fills Fields with raw strings; the transformer replaces them with
// typed values (string, int64, bool, time.Time) and adds derived fields.
// Unmapped publisher columns are preserved in Extra so nothing the FDA ships
// is silently dropped.
type CanonicalRecord struct {
	ReportKey  string
	SourceFile string
	Family     FileFamily
	Row        int
	Fields     map[string]any
	Extra      map[string]string
}

func NewCanonicalRecord(family FileFamily, sourceFile string, row int) *CanonicalRecord {
	return &CanonicalRecord{
		Family:     family,
		SourceFile: sourceFile,
		Row:        row,
		Fields:     make(map[string]any),
		Extra:      make(map[string]string),
	}
}

// GetString returns the field as a string, or "" when absent, nil or typed.
func (r *CanonicalRecord) GetString(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// GetTime returns the field as a time.Time when the transformer has coerced
// it, with ok=false otherwise.
func (r *CanonicalRecord) GetTime(name string) (time.Time, bool) {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

func (r *CanonicalRecord) GetBool(name string) bool {
	v, ok := r.Fields[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Severity grades a validation finding. ERROR excludes the record from
// loading; WARNING lets it through with a logged note.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// ValidationResult is one business-rule finding for one record. Expected
// per-record conditions are values, not errors.
type ValidationResult struct {
	Field    string   `json:"field"`
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// HasError reports whether any finding carries ERROR severity.
func HasError(results []ValidationResult) bool {
	for _, res := range results {
		if res.Severity == SeverityError {
			return true
		}
	}
	return false
}

// SchemaMismatchError reports a column count no registered variant of the
// family matches. Fatal for the file, not for the run.
type SchemaMismatchError struct {
	Family      FileFamily
	ColumnCount int
	KnownCounts []int
}

func (e *SchemaMismatchError) Error() string {
	counts := make([]string, len(e.KnownCounts))
	for i, c := range e.KnownCounts {
		counts[i] = fmt.Sprintf("%d", c)
	}
	return fmt.Sprintf("schema mismatch: %d columns is not a known layout for family %q (known: %s)",
		e.ColumnCount, e.Family, strings.Join(counts, ", "))
}

// RowParseError is one skipped row. Rows are counted and skipped under the
// configured error-rate threshold, fatal above it.
type RowParseError struct {
	File  string `json:"file"`
	Row   int    `json:"row"`
	Cause string `json:"cause"`
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("%s row %d: %s", e.File, e.Row, e.Cause)
}

// FileError records a file-level failure so one bad file never aborts an
// otherwise-good multi-file load.
type FileError struct {
	File    string `json:"file"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *FileError) Unwrap() error { return e.Err }

// LoadPhase is one step of the orchestrator's state machine.
type LoadPhase string

const (
	PhaseBackup        LoadPhase = "backup"
	PhaseResetSchema   LoadPhase = "reset_schema"
	PhaseDownload      LoadPhase = "download"
	PhaseValidateFiles LoadPhase = "validate_files"
	PhaseLoadTables    LoadPhase = "load_tables"
	PhasePopulateCross LoadPhase = "populate_cross_table_fields"
	PhaseFinalValidate LoadPhase = "final_validate"
	PhaseComplete      LoadPhase = "complete"
)

// PhaseOrder is the fixed execution order. Resume logic walks this list and
// skips phases already recorded complete in the checkpoint.
var PhaseOrder = []LoadPhase{
	PhaseBackup,
	PhaseResetSchema,
	PhaseDownload,
	PhaseValidateFiles,
	PhaseLoadTables,
	PhasePopulateCross,
	PhaseFinalValidate,
	PhaseComplete,
}

// LoadCheckpoint is the persisted state of one reload run. Owned by the
// orchestrator; written atomically at phase boundaries; deleted on success.
type LoadCheckpoint struct {
	StartedAt       time.Time             `json:"started_at"`
	CurrentPhase    LoadPhase             `json:"current_phase"`
	CompletedPhases []LoadPhase           `json:"completed_phases"`
	LoadedFiles     map[string][]string   `json:"loaded_files"`
	PreLoadCounts   map[string]int64      `json:"pre_load_counts,omitempty"`
	Errors          []string              `json:"errors"`
}

func NewLoadCheckpoint(startedAt time.Time) *LoadCheckpoint {
	return &LoadCheckpoint{
		StartedAt:   startedAt,
		LoadedFiles: make(map[string][]string),
		Errors:      []string{},
	}
}

func (c *LoadCheckpoint) IsPhaseComplete(phase LoadPhase) bool {
	for _, p := range c.CompletedPhases {
		if p == phase {
			return true
		}
	}
	return false
}

func (c *LoadCheckpoint) MarkPhaseComplete(phase LoadPhase) {
	if !c.IsPhaseComplete(phase) {
		c.CompletedPhases = append(c.CompletedPhases, phase)
	}
}

func (c *LoadCheckpoint) RecordLoadedFile(family FileFamily, fileName string) {
	if c.LoadedFiles == nil {
		c.LoadedFiles = make(map[string][]string)
	}
	key := string(family)
	for _, f := range c.LoadedFiles[key] {
		if f == fileName {
			return
		}
	}
	c.LoadedFiles[key] = append(c.LoadedFiles[key], fileName)
}

func (c *LoadCheckpoint) IsFileLoaded(family FileFamily, fileName string) bool {
	for _, f := range c.LoadedFiles[string(family)] {
		if f == fileName {
			return true
		}
	}
	return false
}

func (c *LoadCheckpoint) RecordError(err error) {
	c.Errors = append(c.Errors, err.Error())
}

// FileState is the per-filename entry of the discovery state file. Advanced
// only after a confirmed successful download.
type FileState struct {
	LastModified time.Time `json:"last_modified"`
	SizeBytes    int64     `json:"size_bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
	Checksum     string    `json:"checksum,omitempty"`
}

// DiscoveryState maps remote filename to its last confirmed download.
type DiscoveryState map[string]FileState

// OrphanBucket is one (child table, source file, year) group of child rows
// with no matching master row.
type OrphanBucket struct {
	Table      string `json:"table"`
	SourceFile string `json:"source_file"`
	Year       int    `json:"year"`
	Count      int64  `json:"count"`
}

// RunSummary is emitted at the end of every run regardless of outcome so
// partial failures are diagnosable from the run's own output.
type RunSummary struct {
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      time.Time   `json:"finished_at"`
	FilesProcessed  int         `json:"files_processed"`
	RecordsLoaded   int64       `json:"records_loaded"`
	RecordsSkipped  int64       `json:"records_skipped"`
	RecordsErrored  int64       `json:"records_errored"`
	PhasesCompleted []LoadPhase `json:"phases_completed"`
	QualityGate     string      `json:"quality_gate,omitempty"`
	Errors          []string    `json:"errors"`
}

func (s *RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run summary: %d files, %d records loaded, %d skipped, %d errored, %d/%d phases",
		s.FilesProcessed, s.RecordsLoaded, s.RecordsSkipped, s.RecordsErrored,
		len(s.PhasesCompleted), len(PhaseOrder))
	if len(s.Errors) > 0 {
		fmt.Fprintf(&b, ", %d errors", len(s.Errors))
	}
	return b.String()
}

// SortedKeys is shared by report printers that need deterministic output.
func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
