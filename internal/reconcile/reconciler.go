// Package reconcile applies the publisher's weekly CHANGE files. A CHANGE
// record corrects an already-loaded row in place; it never inserts, and it
// only touches the columns the correction whitelist allows per table.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openmaude/maude-etl/internal/config"
	"github.com/openmaude/maude-etl/internal/database"
	"github.com/openmaude/maude-etl/internal/loader"
	"github.com/openmaude/maude-etl/internal/models"
	"github.com/openmaude/maude-etl/internal/parser"
	"github.com/openmaude/maude-etl/internal/transform"
	"github.com/openmaude/maude-etl/pkg/checksum"
)

// changeFields is the per-table correction whitelist. Key columns are
// never updatable; everything absent from the list is left untouched no
// matter what the CHANGE file carries.
var changeFields = map[models.FileFamily][]string{
	models.FamilyMaster: {
		"date_of_event",
		"event_type",
		"event_location",
		"date_report",
		"manufacturer_name",
		"manufacturer_clean",
	},
	models.FamilyDevice: {
		"manufacturer_name",
		"manufacturer_clean",
		"brand_name",
		"model_number",
		"product_code",
	},
	models.FamilyPatient: {
		"outcome_codes",
		"treatment_codes",
		"outcome_death",
		"outcome_life_threatening",
		"outcome_hospitalization",
		"outcome_disability",
		"outcome_congenital_anomaly",
		"outcome_intervention",
		"outcome_other",
		"patient_age",
		"patient_sex",
		"patient_weight",
		"patient_ethnicity",
		"patient_race",
	},
	models.FamilyText: {
		"text_type_code",
		"narrative",
	},
}

// ChangeFields exposes the whitelist for one family, nil when the family
// takes no corrections.
func ChangeFields(family models.FileFamily) []string {
	return changeFields[family]
}

// Report tallies one reconciliation pass.
type Report struct {
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	FilesProcessed  int       `json:"files_processed"`
	RecordsUpdated  int64     `json:"records_updated"`
	RecordsNotFound int64     `json:"records_not_found"`
	RecordsErrored  int64     `json:"records_errored"`
	RowsSkipped     int64     `json:"rows_skipped"`
	Errors          []string  `json:"errors"`
}

func (r *Report) String() string {
	return fmt.Sprintf("reconcile summary: %d files, %d records updated, %d not found, %d errored, %d rows skipped",
		r.FilesProcessed, r.RecordsUpdated, r.RecordsNotFound, r.RecordsErrored, r.RowsSkipped)
}

// Reconciler streams CHANGE files through the same parse and transform
// pipeline as the bulk loader, then applies whitelisted updates.
type Reconciler struct {
	db          database.DBManager
	parser      *parser.Parser
	transformer *transform.Transformer
	cfg         *config.Config
	clock       func() time.Time
}

func New(db database.DBManager, p *parser.Parser, t *transform.Transformer, cfg *config.Config) *Reconciler {
	return &Reconciler{db: db, parser: p, transformer: t, cfg: cfg}
}

func (r *Reconciler) now() time.Time {
	if r.clock != nil {
		return r.clock()
	}
	return time.Now()
}

// ApplyChangeFiles processes every CHANGE file in the given set. One bad
// file is recorded and skipped; the rest still apply.
func (r *Reconciler) ApplyChangeFiles(ctx context.Context, files []loader.SourceFile) (*Report, error) {
	report := &Report{StartedAt: r.now(), Errors: []string{}}

	for _, f := range files {
		if f.Kind != loader.KindChange {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.FinishedAt = r.now()
			return report, err
		}
		if err := r.applyOneFile(ctx, f, report); err != nil {
			log.Printf("ERROR: Change file %s failed: %v", f.Name, err)
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.FilesProcessed++
	}

	report.FinishedAt = r.now()
	log.Printf("INFO: %s", report.String())
	return report, nil
}

func (r *Reconciler) applyOneFile(ctx context.Context, f loader.SourceFile, report *Report) error {
	fields := changeFields[f.Family]
	if len(fields) == 0 {
		log.Printf("WARN: Family %s takes no corrections. Skipping %s.", f.Family, f.Name)
		return nil
	}

	sum, err := checksum.GetFileChecksum(f.Path)
	if err != nil {
		return &models.FileError{File: f.Name, Message: "failed to checksum file", Err: err}
	}
	processed, err := r.db.IsFileAlreadyProcessed(sum)
	if err != nil {
		return &models.FileError{File: f.Name, Message: "failed to check file history", Err: err}
	}
	if processed {
		log.Printf("INFO: File %s (checksum: %s) has already been processed. Skipping.", f.Name, sum)
		return nil
	}

	fileID, err := r.db.InsertFileRecord(f.Name, f.Family, database.FILE_KIND_CHANGE, r.now(), database.FILE_STATUS_PROCESSING, sum)
	if err != nil {
		return &models.FileError{File: f.Name, Message: "failed to insert file record", Err: err}
	}

	var (
		batch    []*models.CanonicalRecord
		updated  int64
		notFound int64
		errored  int64
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		u, nf, err := r.db.ApplyChangeBatch(f.Family, fields, batch)
		if err != nil {
			return err
		}
		updated += u
		notFound += nf
		batch = batch[:0]
		return nil
	}

	result, parseErr := r.parser.ParseFile(f.Path, f.Family, func(rec *models.CanonicalRecord) error {
		results := r.transformer.Apply(rec)
		if models.HasError(results) {
			errored++
			for _, res := range results {
				if res.Severity == models.SeverityError {
					log.Printf("WARN: Excluding change record %s from %s: %s (%s)", rec.ReportKey, f.Name, res.Message, res.Rule)
				}
			}
			return nil
		}
		batch = append(batch, rec)
		if len(batch) >= r.cfg.DBBatchSize {
			return flush()
		}
		return nil
	})
	if parseErr == nil {
		parseErr = flush()
	}

	report.RecordsUpdated += updated
	report.RecordsNotFound += notFound
	report.RecordsErrored += errored
	if result != nil {
		report.RowsSkipped += int64(len(result.Skipped))
	}

	if parseErr != nil {
		if statusErr := r.db.UpdateFileStatus(fileID, database.FILE_STATUS_FATAL, updated, nil); statusErr != nil {
			log.Printf("ERROR: Failed to update status for file %s: %v", f.Name, statusErr)
		}
		return parseErr
	}

	if notFound > 0 {
		// Corrections can reference reports the weekly ADD cycle has not
		// shipped yet. They are counted and dropped, never inserted.
		log.Printf("WARN: %d change records in %s matched no existing row", notFound, f.Name)
	}

	status := database.FILE_STATUS_DONE
	if errored > 0 || (result != nil && len(result.Skipped) > 0) {
		status = database.FILE_STATUS_DONE_WITH_ERRORS
	}
	if err := r.db.UpdateFileStatus(fileID, status, updated, nil); err != nil {
		log.Printf("ERROR: Failed to update status for file %s: %v", f.Name, err)
	}

	log.Printf("Applied %s: %d updated, %d not found, %d excluded", f.Name, updated, notFound, errored)
	return nil
}
