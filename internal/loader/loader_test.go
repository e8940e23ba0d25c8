package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/openmaude/maude-etl/internal/audit"
	"github.com/openmaude/maude-etl/internal/config"
	"github.com/openmaude/maude-etl/internal/database"
	"github.com/openmaude/maude-etl/internal/models"
	"github.com/openmaude/maude-etl/internal/parser"
	"github.com/openmaude/maude-etl/internal/schema"
	"github.com/openmaude/maude-etl/internal/transform"
)

// MockDBManager is a mock implementation of the DBManager interface for testing.
type MockDBManager struct {
	mock.Mock
}

func (m *MockDBManager) EnsureSchema() error { return m.Called().Error(0) }
func (m *MockDBManager) ResetSchema() error  { return m.Called().Error(0) }

func (m *MockDBManager) DropLoadIndexes() error   { return m.Called().Error(0) }
func (m *MockDBManager) CreateLoadIndexes() error { return m.Called().Error(0) }

func (m *MockDBManager) CreateStagingTables(family models.FileFamily, numWorkers int) ([]string, error) {
	args := m.Called(family, numWorkers)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBManager) DropStagingTable(name string) error {
	return m.Called(name).Error(0)
}

func (m *MockDBManager) InsertFileRecord(fileName string, family models.FileFamily, kind string, processedAt time.Time, status string, checksum string) (int, error) {
	args := m.Called(fileName, family, kind, processedAt, status, checksum)
	return args.Int(0), args.Error(1)
}

func (m *MockDBManager) UpdateFileStatus(fileID int, status string, recordsLoaded int64, errs any) error {
	return m.Called(fileID, status, recordsLoaded, errs).Error(0)
}

func (m *MockDBManager) IsFileAlreadyProcessed(checksum string) (bool, error) {
	args := m.Called(checksum)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBManager) UpsertBatch(family models.FileFamily, stagingTable string, recs []*models.CanonicalRecord) (int64, error) {
	args := m.Called(family, stagingTable, recs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDBManager) ApplyChangeBatch(family models.FileFamily, fields []string, recs []*models.CanonicalRecord) (int64, int64, error) {
	args := m.Called(family, fields, recs)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockDBManager) PopulateEventDeviceFields() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDBManager) TableCounts() (map[string]int64, error) {
	args := m.Called()
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockDBManager) OrphanBuckets(family models.FileFamily) ([]models.OrphanBucket, error) {
	args := m.Called(family)
	return args.Get(0).([]models.OrphanBucket), args.Error(1)
}

func (m *MockDBManager) CoverageRate(table string, column string) (database.CoverageCount, error) {
	args := m.Called(table, column)
	return args.Get(0).(database.CoverageCount), args.Error(1)
}

func (m *MockDBManager) LoadedRecordTotals() (map[string]map[string]int64, error) {
	args := m.Called()
	return args.Get(0).(map[string]map[string]int64), args.Error(1)
}

// TestClassifyFile tests filename classification into family and kind.
func TestClassifyFile(t *testing.T) {
	for _, tc := range []struct {
		name   string
		family models.FileFamily
		kind   FileKind
		ok     bool
	}{
		{"mdrfoi.txt", models.FamilyMaster, KindBase, true},
		{"mdrfoiadd.txt", models.FamilyMaster, KindAdd, true},
		{"mdrfoichange.txt", models.FamilyMaster, KindChange, true},
		{"mdrfoithru2023.txt", models.FamilyMaster, KindBase, true},
		{"foidev.txt", models.FamilyDevice, KindBase, true},
		{"foidevadd.txt", models.FamilyDevice, KindAdd, true},
		{"DEVICE2019.txt", models.FamilyDevice, KindBase, true},
		{"patient.txt", models.FamilyPatient, KindBase, true},
		{"patientchange.txt", models.FamilyPatient, KindChange, true},
		{"foitext.txt", models.FamilyText, KindBase, true},
		{"foitextadd.txt", models.FamilyText, KindAdd, true},
		{"foidevproblem.txt", models.FamilyDevProblem, KindBase, true},
		{"deviceproblemcodes.txt", models.FamilyDevProblem, KindBase, true},
		{"patientproblemcode.txt", models.FamilyPatientProblem, KindBase, true},
		{"readme.md", "", "", false},
		{"unrelated.txt", "", "", false},
	} {
		f, ok := ClassifyFile(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		if tc.ok {
			assert.Equal(t, tc.family, f.Family, tc.name)
			assert.Equal(t, tc.kind, f.Kind, tc.name)
		}
	}
}

// TestScanDataDir tests data directory listing.
func TestScanDataDir(t *testing.T) {
	tempDir := t.TempDir()
	for _, name := range []string{"mdrfoi.txt", "foidev.txt", "notes.md"} {
		assert.NoError(t, os.WriteFile(filepath.Join(tempDir, name), []byte("x"), 0644))
	}

	files, err := ScanDataDir(tempDir)
	assert.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Equal(t, "foidev.txt", files[0].Name)
	assert.Equal(t, "mdrfoi.txt", files[1].Name)

	_, err = ScanDataDir(filepath.Join(tempDir, "missing"))
	assert.Error(t, err)
}

// TestCheckpointFile tests checkpoint persistence round-trips.
func TestCheckpointFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "checkpoint.json")

	t.Run("MissingFileMeansNoRun", func(t *testing.T) {
		cp, err := LoadCheckpointFile(path)
		assert.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		cp := models.NewLoadCheckpoint(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
		cp.CurrentPhase = models.PhaseLoadTables
		cp.MarkPhaseComplete(models.PhaseBackup)
		cp.MarkPhaseComplete(models.PhaseResetSchema)
		cp.RecordLoadedFile(models.FamilyDevice, "foidev.txt")

		assert.NoError(t, SaveCheckpointFile(path, cp))

		loaded, err := LoadCheckpointFile(path)
		assert.NoError(t, err)
		assert.Equal(t, models.PhaseLoadTables, loaded.CurrentPhase)
		assert.True(t, loaded.IsPhaseComplete(models.PhaseBackup))
		assert.True(t, loaded.IsPhaseComplete(models.PhaseResetSchema))
		assert.False(t, loaded.IsPhaseComplete(models.PhaseLoadTables))
		assert.True(t, loaded.IsFileLoaded(models.FamilyDevice, "foidev.txt"))
		assert.False(t, loaded.IsFileLoaded(models.FamilyDevice, "foidevadd.txt"))
	})

	t.Run("CorruptFileIsAnError", func(t *testing.T) {
		corrupt := filepath.Join(tempDir, "corrupt.json")
		assert.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0644))
		_, err := LoadCheckpointFile(corrupt)
		assert.Error(t, err)
	})

	t.Run("SaveLeavesNoTempFiles", func(t *testing.T) {
		cp := models.NewLoadCheckpoint(time.Now())
		assert.NoError(t, SaveCheckpointFile(path, cp))

		entries, err := os.ReadDir(tempDir)
		assert.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".checkpoint-")
		}
	})

	t.Run("Remove", func(t *testing.T) {
		assert.NoError(t, RemoveCheckpointFile(path))
		assert.NoError(t, RemoveCheckpointFile(path))
	})
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	tempDir := t.TempDir()
	return &config.Config{
		DataDir:            tempDir,
		CheckpointPath:     filepath.Join(tempDir, "checkpoint.json"),
		NumFileWorkers:     2,
		DBBatchSize:        100,
		RowErrorRate:       0.05,
		RowErrorGraceCount: 5,
		MinCoverage:        0.90,
		MaxOrphanRate:      0.05,
		CountTolerance:     0.01,
	}
}

func newTestOrchestrator(db database.DBManager, cfg *config.Config, fullReload bool) *Orchestrator {
	p := parser.New(schema.NewRegistry(), parser.Config{MaxErrorRate: cfg.RowErrorRate, MinErrorRows: cfg.RowErrorGraceCount})
	a := audit.New(db, audit.Thresholds{
		MinCoverage:    cfg.MinCoverage,
		MaxOrphanRate:  cfg.MaxOrphanRate,
		CountTolerance: cfg.CountTolerance,
	})
	return NewOrchestrator(db, p, transform.New(), a, cfg, fullReload)
}

func writeDevProblemFile(t *testing.T, dir, name string, rows int) {
	t.Helper()
	content := ""
	for i := 0; i < rows; i++ {
		content += "100" + string(rune('0'+i)) + "|C1\n"
	}
	assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// TestOrchestrator_Run tests the full phase sequence against mocks.
func TestOrchestrator_Run(t *testing.T) {
	cfg := newTestConfig(t)
	writeDevProblemFile(t, cfg.DataDir, "foidevproblem.txt", 3)

	db := new(MockDBManager)
	db.On("TableCounts").Return(map[string]int64{"maude_device_problems": 0}, nil)
	db.On("EnsureSchema").Return(nil)
	db.On("DropLoadIndexes").Return(nil)
	db.On("CreateLoadIndexes").Return(nil)
	db.On("CreateStagingTables", models.FamilyDevProblem, 1).Return([]string{"maude_device_problems_staging_w1"}, nil)
	db.On("DropStagingTable", "maude_device_problems_staging_w1").Return(nil)
	db.On("IsFileAlreadyProcessed", mock.Anything).Return(false, nil)
	db.On("InsertFileRecord", "foidevproblem.txt", models.FamilyDevProblem, "base", mock.Anything, database.FILE_STATUS_PROCESSING, mock.Anything).Return(1, nil)
	db.On("UpsertBatch", models.FamilyDevProblem, "maude_device_problems_staging_w1", mock.Anything).Return(int64(3), nil)
	db.On("UpdateFileStatus", 1, database.FILE_STATUS_DONE, int64(3), mock.Anything).Return(nil)
	db.On("PopulateEventDeviceFields").Return(int64(0), nil)
	db.On("OrphanBuckets", mock.Anything).Return([]models.OrphanBucket(nil), nil)
	db.On("CoverageRate", "maude_events", mock.Anything).Return(database.CoverageCount{Covered: 95, Total: 100}, nil)
	db.On("LoadedRecordTotals").Return(map[string]map[string]int64{}, nil)

	orch := newTestOrchestrator(db, cfg, false)
	summary, err := orch.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, summary.FilesProcessed)
	assert.Equal(t, int64(3), summary.RecordsLoaded)
	assert.Len(t, summary.PhasesCompleted, len(models.PhaseOrder))
	assert.NotEmpty(t, summary.QualityGate)

	// A finished run leaves no checkpoint behind.
	_, statErr := os.Stat(cfg.CheckpointPath)
	assert.True(t, os.IsNotExist(statErr))

	db.AssertExpectations(t)
	db.AssertNotCalled(t, "ResetSchema")
}

// TestOrchestrator_AllFilesFailingAbortsRun tests that a load where every
// file fails aborts instead of completing with an empty store.
func TestOrchestrator_AllFilesFailingAbortsRun(t *testing.T) {
	cfg := newTestConfig(t)
	writeDevProblemFile(t, cfg.DataDir, "foidevproblem.txt", 3)

	db := new(MockDBManager)
	db.On("TableCounts").Return(map[string]int64{}, nil)
	db.On("EnsureSchema").Return(nil)
	db.On("DropLoadIndexes").Return(nil)
	db.On("CreateStagingTables", models.FamilyDevProblem, 1).Return([]string{"maude_device_problems_staging_w1"}, nil)
	db.On("DropStagingTable", "maude_device_problems_staging_w1").Return(nil)
	db.On("IsFileAlreadyProcessed", mock.Anything).Return(false, nil)
	db.On("InsertFileRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(1, nil)
	db.On("UpsertBatch", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("connection refused"))
	db.On("UpdateFileStatus", 1, database.FILE_STATUS_FATAL, int64(0), mock.Anything).Return(nil)

	orch := newTestOrchestrator(db, cfg, false)
	summary, err := orch.Run(context.Background())

	assert.ErrorContains(t, err, "failed to load")
	assert.Zero(t, summary.FilesProcessed)
	assert.NotContains(t, summary.PhasesCompleted, models.PhaseLoadTables)

	// The failed run keeps its checkpoint so the operator can resume.
	cp, cpErr := LoadCheckpointFile(cfg.CheckpointPath)
	assert.NoError(t, cpErr)
	assert.NotNil(t, cp)
	assert.False(t, cp.IsPhaseComplete(models.PhaseLoadTables))

	db.AssertNotCalled(t, "PopulateEventDeviceFields")
	db.AssertExpectations(t)
}

// TestOrchestrator_Resume tests that completed phases are skipped on resume.
func TestOrchestrator_Resume(t *testing.T) {
	cfg := newTestConfig(t)
	writeDevProblemFile(t, cfg.DataDir, "foidevproblem.txt", 2)

	// A prior run got through load_tables, including the file itself.
	cp := models.NewLoadCheckpoint(time.Now())
	cp.CurrentPhase = models.PhasePopulateCross
	for _, phase := range []models.LoadPhase{
		models.PhaseBackup, models.PhaseResetSchema, models.PhaseDownload,
		models.PhaseValidateFiles, models.PhaseLoadTables,
	} {
		cp.MarkPhaseComplete(phase)
	}
	cp.RecordLoadedFile(models.FamilyDevProblem, "foidevproblem.txt")
	assert.NoError(t, SaveCheckpointFile(cfg.CheckpointPath, cp))

	db := new(MockDBManager)
	db.On("PopulateEventDeviceFields").Return(int64(0), nil)
	db.On("CreateLoadIndexes").Return(nil)
	db.On("TableCounts").Return(map[string]int64{}, nil)
	db.On("OrphanBuckets", mock.Anything).Return([]models.OrphanBucket(nil), nil)
	db.On("CoverageRate", "maude_events", mock.Anything).Return(database.CoverageCount{Covered: 95, Total: 100}, nil)
	db.On("LoadedRecordTotals").Return(map[string]map[string]int64{}, nil)

	orch := newTestOrchestrator(db, cfg, false)
	summary, err := orch.Run(context.Background())

	assert.NoError(t, err)
	assert.Zero(t, summary.FilesProcessed)

	db.AssertNotCalled(t, "EnsureSchema")
	db.AssertNotCalled(t, "DropLoadIndexes")
	db.AssertNotCalled(t, "UpsertBatch", mock.Anything, mock.Anything, mock.Anything)
	db.AssertExpectations(t)
}

// TestOrchestrator_FullReloadResetsSchema tests the --full path.
func TestOrchestrator_FullReloadResetsSchema(t *testing.T) {
	cfg := newTestConfig(t)
	writeDevProblemFile(t, cfg.DataDir, "foidevproblem.txt", 1)

	db := new(MockDBManager)
	db.On("TableCounts").Return(map[string]int64{}, nil)
	db.On("ResetSchema").Return(nil)
	db.On("DropLoadIndexes").Return(nil)
	db.On("CreateLoadIndexes").Return(nil)
	db.On("CreateStagingTables", mock.Anything, mock.Anything).Return([]string{"s_w1"}, nil)
	db.On("DropStagingTable", mock.Anything).Return(nil)
	db.On("IsFileAlreadyProcessed", mock.Anything).Return(false, nil)
	db.On("InsertFileRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(1, nil)
	db.On("UpsertBatch", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	db.On("UpdateFileStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	db.On("PopulateEventDeviceFields").Return(int64(0), nil)
	db.On("OrphanBuckets", mock.Anything).Return([]models.OrphanBucket(nil), nil)
	db.On("CoverageRate", mock.Anything, mock.Anything).Return(database.CoverageCount{Covered: 95, Total: 100}, nil)
	db.On("LoadedRecordTotals").Return(map[string]map[string]int64{}, nil)

	orch := newTestOrchestrator(db, cfg, true)
	_, err := orch.Run(context.Background())

	assert.NoError(t, err)
	db.AssertCalled(t, "ResetSchema")
	db.AssertNotCalled(t, "EnsureSchema")
}

// TestOrchestrator_AlreadyProcessedFileIsSkipped tests checksum dedup.
func TestOrchestrator_AlreadyProcessedFileIsSkipped(t *testing.T) {
	cfg := newTestConfig(t)
	writeDevProblemFile(t, cfg.DataDir, "foidevproblem.txt", 2)

	db := new(MockDBManager)
	db.On("TableCounts").Return(map[string]int64{}, nil)
	db.On("EnsureSchema").Return(nil)
	db.On("DropLoadIndexes").Return(nil)
	db.On("CreateLoadIndexes").Return(nil)
	db.On("CreateStagingTables", mock.Anything, mock.Anything).Return([]string{"s_w1"}, nil)
	db.On("DropStagingTable", mock.Anything).Return(nil)
	db.On("IsFileAlreadyProcessed", mock.Anything).Return(true, nil)
	db.On("PopulateEventDeviceFields").Return(int64(0), nil)
	db.On("OrphanBuckets", mock.Anything).Return([]models.OrphanBucket(nil), nil)
	db.On("CoverageRate", mock.Anything, mock.Anything).Return(database.CoverageCount{Covered: 95, Total: 100}, nil)
	db.On("LoadedRecordTotals").Return(map[string]map[string]int64{}, nil)

	orch := newTestOrchestrator(db, cfg, false)
	summary, err := orch.Run(context.Background())

	assert.NoError(t, err)
	assert.Zero(t, summary.RecordsLoaded)
	db.AssertNotCalled(t, "InsertFileRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	db.AssertNotCalled(t, "UpsertBatch", mock.Anything, mock.Anything, mock.Anything)
}
