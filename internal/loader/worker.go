package loader

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/openmaude/maude-etl/internal/database"
	"github.com/openmaude/maude-etl/internal/models"
	"github.com/openmaude/maude-etl/pkg/checksum"
)

// batchWriter accumulates records and applies them as bounded atomic
// upserts, so a single oversized file can never exhaust memory and an
// interrupt never leaves a half-committed batch.
type batchWriter struct {
	ctx       context.Context
	db        database.DBManager
	family    models.FileFamily
	staging   string
	batchSize int
	batch     []*models.CanonicalRecord
	loaded    int64
}

func newBatchWriter(ctx context.Context, db database.DBManager, family models.FileFamily, staging string, batchSize int) *batchWriter {
	return &batchWriter{
		ctx:       ctx,
		db:        db,
		family:    family,
		staging:   staging,
		batchSize: batchSize,
		batch:     make([]*models.CanonicalRecord, 0, batchSize),
	}
}

func (w *batchWriter) add(rec *models.CanonicalRecord) error {
	w.batch = append(w.batch, rec)
	if len(w.batch) >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *batchWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	// Cancellation is cooperative: check between batches, never inside one.
	if err := w.ctx.Err(); err != nil {
		return err
	}
	n, err := w.db.UpsertBatch(w.family, w.staging, w.batch)
	if err != nil {
		return err
	}
	w.loaded += n
	w.batch = w.batch[:0]
	return nil
}

// fileOutcome tallies one processed file.
type fileOutcome struct {
	file             string
	loaded           int64
	skippedRows      int64
	erroredRecords   int64
	alreadyProcessed bool
}

// loadOneFile streams one source file through parse and transform into
// batched upserts. Returns an error only for file-fatal conditions; row
// and record problems are tallied and reported in the outcome.
func (o *Orchestrator) loadOneFile(ctx context.Context, f SourceFile, kind FileKind, staging string) (*fileOutcome, error) {
	outcome := &fileOutcome{file: f.Name}

	sum, err := checksum.GetFileChecksum(f.Path)
	if err != nil {
		return outcome, &models.FileError{File: f.Name, Message: "failed to checksum file", Err: err}
	}

	processed, err := o.db.IsFileAlreadyProcessed(sum)
	if err != nil {
		return outcome, &models.FileError{File: f.Name, Message: "failed to check file history", Err: err}
	}
	if processed {
		log.Printf("INFO: File %s (checksum: %s) has already been processed. Skipping.", f.Name, sum)
		outcome.alreadyProcessed = true
		return outcome, nil
	}

	fileID, err := o.db.InsertFileRecord(f.Name, f.Family, string(kind), o.now(), database.FILE_STATUS_PROCESSING, sum)
	if err != nil {
		return outcome, &models.FileError{File: f.Name, Message: "failed to insert file record", Err: err}
	}

	writer := newBatchWriter(ctx, o.db, f.Family, staging, o.cfg.DBBatchSize)
	var recordErrors []models.ValidationResult

	result, parseErr := o.parser.ParseFile(f.Path, f.Family, func(rec *models.CanonicalRecord) error {
		results := o.transformer.Apply(rec)
		if models.HasError(results) {
			outcome.erroredRecords++
			for _, res := range results {
				if res.Severity == models.SeverityError {
					log.Printf("WARN: Excluding record %s from %s: %s (%s)", rec.ReportKey, f.Name, res.Message, res.Rule)
					if len(recordErrors) < 100 {
						recordErrors = append(recordErrors, res)
					}
				}
			}
			return nil
		}
		return writer.add(rec)
	})

	if result != nil {
		outcome.skippedRows = int64(len(result.Skipped))
	}

	if parseErr != nil {
		if statusErr := o.db.UpdateFileStatus(fileID, database.FILE_STATUS_FATAL, writer.loaded, errorsJSON(recordErrors)); statusErr != nil {
			log.Printf("ERROR: Failed to update status for file %s: %v", f.Name, statusErr)
		}
		return outcome, parseErr
	}

	if err := writer.flush(); err != nil {
		if statusErr := o.db.UpdateFileStatus(fileID, database.FILE_STATUS_FATAL, writer.loaded, errorsJSON(recordErrors)); statusErr != nil {
			log.Printf("ERROR: Failed to update status for file %s: %v", f.Name, statusErr)
		}
		return outcome, &models.FileError{File: f.Name, Message: "failed to write final batch", Err: err}
	}
	outcome.loaded = writer.loaded

	status := database.FILE_STATUS_DONE
	if outcome.skippedRows > 0 || outcome.erroredRecords > 0 {
		status = database.FILE_STATUS_DONE_WITH_ERRORS
	}
	if err := o.db.UpdateFileStatus(fileID, status, writer.loaded, errorsJSON(recordErrors)); err != nil {
		log.Printf("ERROR: Failed to update status for file %s: %v", f.Name, err)
	}

	log.Printf("Loaded %s: %d records, %d rows skipped, %d records excluded (%s era %q)",
		f.Name, outcome.loaded, outcome.skippedRows, outcome.erroredRecords, f.Family, result.Variant.Era)
	return outcome, nil
}

func errorsJSON(results []models.ValidationResult) any {
	if len(results) == 0 {
		return nil
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return nil
	}
	return raw
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock()
	}
	return time.Now()
}
