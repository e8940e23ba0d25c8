package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/openmaude/maude-etl/internal/config"
	"github.com/openmaude/maude-etl/internal/database"
	"github.com/openmaude/maude-etl/internal/loader"
	"github.com/openmaude/maude-etl/internal/models"
	"github.com/openmaude/maude-etl/internal/parser"
	"github.com/openmaude/maude-etl/internal/schema"
	"github.com/openmaude/maude-etl/internal/transform"
)

// MockDBManager is a mock implementation of the DBManager interface for testing.
type MockDBManager struct {
	mock.Mock
}

func (m *MockDBManager) EnsureSchema() error      { return m.Called().Error(0) }
func (m *MockDBManager) ResetSchema() error       { return m.Called().Error(0) }
func (m *MockDBManager) DropLoadIndexes() error   { return m.Called().Error(0) }
func (m *MockDBManager) CreateLoadIndexes() error { return m.Called().Error(0) }

func (m *MockDBManager) CreateStagingTables(family models.FileFamily, numWorkers int) ([]string, error) {
	args := m.Called(family, numWorkers)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBManager) DropStagingTable(name string) error { return m.Called(name).Error(0) }

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

const textHeader = "MDR_REPORT_KEY|MDR_TEXT_KEY|TEXT_TYPE_CODE|PATIENT_SEQUENCE_NUMBER|DATE_REPORT|FOI_TEXT"

func writeChangeFile(t *testing.T, dir, name string, rows int) loader.SourceFile {
	t.Helper()
	content := textHeader + "\n"
	for i := 0; i < rows; i++ {
		content += fmt.Sprintf("%d|%d|D|1|01/15/2020|corrected narrative\n", 1000+i, i+1)
	}
	path := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f, ok := loader.ClassifyFile(name)
	assert.True(t, ok)
	f.Path = path
	return f
}

func newTestReconciler(db database.DBManager) *Reconciler {
	cfg := &config.Config{DBBatchSize: 100}
	p := parser.New(schema.NewRegistry(), parser.DefaultConfig())
	return New(db, p, transform.New(), cfg)
}

// TestChangeFields tests the correction whitelist shape.
func TestChangeFields(t *testing.T) {
	assert.Contains(t, ChangeFields(models.FamilyMaster), "event_type")
	assert.Contains(t, ChangeFields(models.FamilyMaster), "manufacturer_clean")
	assert.NotContains(t, ChangeFields(models.FamilyMaster), "mdr_report_key")
	assert.Contains(t, ChangeFields(models.FamilyDevice), "product_code")
	assert.NotContains(t, ChangeFields(models.FamilyDevice), "device_sequence_no")
	assert.Contains(t, ChangeFields(models.FamilyText), "narrative")
	assert.Nil(t, ChangeFields(models.FamilyDevProblem))
	assert.Nil(t, ChangeFields(models.FamilyPatientProblem))
}

// TestReconciler_ApplyChangeFiles tests the update-only reconciliation.
func TestReconciler_ApplyChangeFiles(t *testing.T) {
	t.Run("UpdatesAndNotFoundAreCounted", func(t *testing.T) {
		tempDir := t.TempDir()
		f := writeChangeFile(t, tempDir, "foitextchange.txt", 3)

		db := new(MockDBManager)
		db.On("IsFileAlreadyProcessed", mock.Anything).Return(false, nil)
		db.On("InsertFileRecord", "foitextchange.txt", models.FamilyText, database.FILE_KIND_CHANGE, mock.Anything, database.FILE_STATUS_PROCESSING, mock.Anything).Return(7, nil)
		db.On("ApplyChangeBatch", models.FamilyText, changeFields[models.FamilyText], mock.MatchedBy(func(recs []*models.CanonicalRecord) bool {
			return len(recs) == 3
		})).Return(int64(2), int64(1), nil)
		db.On("UpdateFileStatus", 7, database.FILE_STATUS_DONE, int64(2), mock.Anything).Return(nil)

		r := newTestReconciler(db)
		report, err := r.ApplyChangeFiles(context.Background(), []loader.SourceFile{f})

		assert.NoError(t, err)
		assert.Equal(t, 1, report.FilesProcessed)
		assert.Equal(t, int64(2), report.RecordsUpdated)
		assert.Equal(t, int64(1), report.RecordsNotFound)
		assert.Empty(t, report.Errors)
		db.AssertExpectations(t)
	})

	t.Run("NonChangeFilesAreIgnored", func(t *testing.T) {
		tempDir := t.TempDir()
		f := writeChangeFile(t, tempDir, "foitextadd.txt", 2)
		assert.Equal(t, loader.KindAdd, f.Kind)

		db := new(MockDBManager)
		r := newTestReconciler(db)
		report, err := r.ApplyChangeFiles(context.Background(), []loader.SourceFile{f})

		assert.NoError(t, err)
		assert.Zero(t, report.FilesProcessed)
		db.AssertNotCalled(t, "ApplyChangeBatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("FamilyWithoutWhitelistIsSkipped", func(t *testing.T) {
		tempDir := t.TempDir()
		path := filepath.Join(tempDir, "foidevproblemchange.txt")
		assert.NoError(t, os.WriteFile(path, []byte("1000|C1\n"), 0644))
		f := loader.SourceFile{Path: path, Name: "foidevproblemchange.txt", Family: models.FamilyDevProblem, Kind: loader.KindChange}

		db := new(MockDBManager)
		r := newTestReconciler(db)
		report, err := r.ApplyChangeFiles(context.Background(), []loader.SourceFile{f})

		assert.NoError(t, err)
		assert.Equal(t, 1, report.FilesProcessed)
		db.AssertNotCalled(t, "ApplyChangeBatch", mock.Anything, mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "InsertFileRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("AlreadyProcessedFileIsSkipped", func(t *testing.T) {
		tempDir := t.TempDir()
		f := writeChangeFile(t, tempDir, "foitextchange.txt", 2)

		db := new(MockDBManager)
		db.On("IsFileAlreadyProcessed", mock.Anything).Return(true, nil)

		r := newTestReconciler(db)
		report, err := r.ApplyChangeFiles(context.Background(), []loader.SourceFile{f})

		assert.NoError(t, err)
		assert.Equal(t, 1, report.FilesProcessed)
		assert.Zero(t, report.RecordsUpdated)
		db.AssertNotCalled(t, "ApplyChangeBatch", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("BlankOutcomeColumnDoesNotClearFlags", func(t *testing.T) {
		// A patient correction that only touches the age must not carry
		// false outcome flags that would overwrite the base row's values.
		tempDir := t.TempDir()
		content := "MDR_REPORT_KEY|PATIENT_SEQUENCE_NUMBER|SEQUENCE_NUMBER_OUTCOME|SEQUENCE_NUMBER_TREATMENT|DATE_RECEIVED|PATIENT_AGE|PATIENT_SEX|PATIENT_WEIGHT|PATIENT_ETHNICITY|PATIENT_RACE\n" +
			"1000|1|||01/15/2020|62||||\n"
		path := filepath.Join(tempDir, "patientchange.txt")
		assert.NoError(t, os.WriteFile(path, []byte(content), 0644))
		f := loader.SourceFile{Path: path, Name: "patientchange.txt", Family: models.FamilyPatient, Kind: loader.KindChange}

		db := new(MockDBManager)
		db.On("IsFileAlreadyProcessed", mock.Anything).Return(false, nil)
		db.On("InsertFileRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(7, nil)
		db.On("ApplyChangeBatch", models.FamilyPatient, changeFields[models.FamilyPatient], mock.MatchedBy(func(recs []*models.CanonicalRecord) bool {
			if len(recs) != 1 {
				return false
			}
			rec := recs[0]
			if _, ok := rec.Fields["patient_age"]; !ok {
				return false
			}
			for _, flag := range []string{
				"outcome_death", "outcome_life_threatening", "outcome_hospitalization",
				"outcome_disability", "outcome_congenital_anomaly", "outcome_intervention", "outcome_other",
			} {
				if _, ok := rec.Fields[flag]; ok {
					return false
				}
			}
			return true
		})).Return(int64(1), int64(0), nil)
		db.On("UpdateFileStatus", 7, database.FILE_STATUS_DONE, int64(1), mock.Anything).Return(nil)

		r := newTestReconciler(db)
		report, err := r.ApplyChangeFiles(context.Background(), []loader.SourceFile{f})

		assert.NoError(t, err)
		assert.Equal(t, int64(1), report.RecordsUpdated)
		db.AssertExpectations(t)
	})

	t.Run("InvalidRecordsAreExcluded", func(t *testing.T) {
		tempDir := t.TempDir()
		content := textHeader + "\n" +
			"1000|1|D|1|01/15/2020|fine\n" +
			"BADKEY|2|D|1|01/15/2020|rejected\n"
		path := filepath.Join(tempDir, "foitextchange.txt")
		assert.NoError(t, os.WriteFile(path, []byte(content), 0644))
		f := loader.SourceFile{Path: path, Name: "foitextchange.txt", Family: models.FamilyText, Kind: loader.KindChange}

		db := new(MockDBManager)
		db.On("IsFileAlreadyProcessed", mock.Anything).Return(false, nil)
		db.On("InsertFileRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(7, nil)
		db.On("ApplyChangeBatch", models.FamilyText, mock.Anything, mock.MatchedBy(func(recs []*models.CanonicalRecord) bool {
			return len(recs) == 1 && recs[0].ReportKey == "1000"
		})).Return(int64(1), int64(0), nil)
		db.On("UpdateFileStatus", 7, database.FILE_STATUS_DONE_WITH_ERRORS, int64(1), mock.Anything).Return(nil)

		r := newTestReconciler(db)
		report, err := r.ApplyChangeFiles(context.Background(), []loader.SourceFile{f})

		assert.NoError(t, err)
		assert.Equal(t, int64(1), report.RecordsUpdated)
		assert.Equal(t, int64(1), report.RecordsErrored)
		db.AssertExpectations(t)
	})

	t.Run("BadFileIsRecordedAndOthersContinue", func(t *testing.T) {
		tempDir := t.TempDir()
		good := writeChangeFile(t, tempDir, "foitextchange.txt", 1)

		badPath := filepath.Join(tempDir, "patientchange.txt")
		assert.NoError(t, os.WriteFile(badPath, []byte("ONLY|THREE|COLS\n1|2|3\n"), 0644))
		bad := loader.SourceFile{Path: badPath, Name: "patientchange.txt", Family: models.FamilyPatient, Kind: loader.KindChange}

		db := new(MockDBManager)
		db.On("IsFileAlreadyProcessed", mock.Anything).Return(false, nil)
		db.On("InsertFileRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(9, nil)
		db.On("ApplyChangeBatch", models.FamilyText, mock.Anything, mock.Anything).Return(int64(1), int64(0), nil)
		db.On("UpdateFileStatus", 9, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		r := newTestReconciler(db)
		report, err := r.ApplyChangeFiles(context.Background(), []loader.SourceFile{bad, good})

		assert.NoError(t, err)
		assert.Equal(t, 1, report.FilesProcessed)
		assert.Len(t, report.Errors, 1)
		assert.Equal(t, int64(1), report.RecordsUpdated)
	})
}
