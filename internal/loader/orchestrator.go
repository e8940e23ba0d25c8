// Package loader drives the multi-phase bulk load: a fixed phase order,
// a persisted checkpoint for resume, and a worker pool that streams the
// publisher's files into the store.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/openmaude/maude-etl/internal/audit"
	"github.com/openmaude/maude-etl/internal/config"
	"github.com/openmaude/maude-etl/internal/database"
	"github.com/openmaude/maude-etl/internal/models"
	"github.com/openmaude/maude-etl/internal/parser"
	"github.com/openmaude/maude-etl/internal/transform"
)

// Orchestrator owns one reload run. The checkpoint is its private state;
// all mutation goes through the mutex because file workers report
// completions concurrently.
type Orchestrator struct {
	db          database.DBManager
	parser      *parser.Parser
	transformer *transform.Transformer
	auditor     *audit.Auditor
	cfg         *config.Config
	fullReload  bool
	clock       func() time.Time

	mu sync.Mutex
	cp *models.LoadCheckpoint
}

func NewOrchestrator(db database.DBManager, p *parser.Parser, t *transform.Transformer, a *audit.Auditor, cfg *config.Config, fullReload bool) *Orchestrator {
	return &Orchestrator{
		db:          db,
		parser:      p,
		transformer: t,
		auditor:     a,
		cfg:         cfg,
		fullReload:  fullReload,
	}
}

// Run executes the phase sequence, resuming from a persisted checkpoint
// when one exists. A RunSummary is always returned, error or not, so a
// failed run is diagnosable from its own output.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{StartedAt: o.now(), Errors: []string{}}

	cp, err := LoadCheckpointFile(o.cfg.CheckpointPath)
	if err != nil {
		summary.FinishedAt = o.now()
		summary.Errors = append(summary.Errors, err.Error())
		return summary, err
	}
	if cp != nil {
		log.Printf("INFO: Resuming run started %s from phase %q (%d phases already complete)",
			cp.StartedAt.Format(time.RFC3339), cp.CurrentPhase, len(cp.CompletedPhases))
	} else {
		cp = models.NewLoadCheckpoint(o.now())
	}
	o.cp = cp

	for _, phase := range models.PhaseOrder {
		if cp.IsPhaseComplete(phase) {
			log.Printf("INFO: Phase %q already complete. Skipping.", phase)
			continue
		}
		if err := ctx.Err(); err != nil {
			return o.finishRun(summary, err)
		}

		log.Printf("INFO: Starting phase %q", phase)
		cp.CurrentPhase = phase
		if err := o.saveCheckpoint(); err != nil {
			return o.finishRun(summary, err)
		}

		if err := o.runPhase(ctx, phase, summary); err != nil {
			cp.RecordError(err)
			if saveErr := o.saveCheckpoint(); saveErr != nil {
				log.Printf("ERROR: Failed to persist checkpoint after phase failure: %v", saveErr)
			}
			return o.finishRun(summary, fmt.Errorf("phase %q failed: %w", phase, err))
		}

		cp.MarkPhaseComplete(phase)
		if err := o.saveCheckpoint(); err != nil {
			return o.finishRun(summary, err)
		}
	}

	if err := RemoveCheckpointFile(o.cfg.CheckpointPath); err != nil {
		log.Printf("WARN: Run complete but checkpoint could not be removed: %v", err)
	}
	return o.finishRun(summary, nil)
}

func (o *Orchestrator) finishRun(summary *models.RunSummary, err error) (*models.RunSummary, error) {
	summary.FinishedAt = o.now()
	if o.cp != nil {
		summary.PhasesCompleted = append([]models.LoadPhase(nil), o.cp.CompletedPhases...)
		summary.Errors = append(summary.Errors, o.cp.Errors...)
	}
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	log.Printf("INFO: %s", summary.String())
	return summary, err
}

func (o *Orchestrator) runPhase(ctx context.Context, phase models.LoadPhase, summary *models.RunSummary) error {
	switch phase {
	case models.PhaseBackup:
		return o.phaseBackup()
	case models.PhaseResetSchema:
		return o.phaseResetSchema()
	case models.PhaseDownload:
		return o.phaseDownload()
	case models.PhaseValidateFiles:
		return o.phaseValidateFiles()
	case models.PhaseLoadTables:
		return o.phaseLoadTables(ctx, summary)
	case models.PhasePopulateCross:
		return o.phasePopulateCross()
	case models.PhaseFinalValidate:
		return o.phaseFinalValidate(summary)
	case models.PhaseComplete:
		return nil
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// phaseBackup snapshots current table counts into the checkpoint and
// copies the local state files aside before anything destructive happens.
func (o *Orchestrator) phaseBackup() error {
	counts, err := o.db.TableCounts()
	if err != nil {
		return err
	}
	o.cp.PreLoadCounts = counts
	for _, table := range models.SortedKeys(counts) {
		log.Printf("INFO: Pre-load count %s: %d", table, counts[table])
	}

	for _, path := range []string{o.cfg.CheckpointPath, o.cfg.DiscoveryStatePath} {
		if path == "" {
			continue
		}
		if err := backupFile(path); err != nil {
			log.Printf("WARN: Could not back up %s: %v", path, err)
		}
	}
	return nil
}

func backupFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.WriteFile(path+".bak", raw, 0644)
}

func (o *Orchestrator) phaseResetSchema() error {
	if o.fullReload {
		log.Printf("WARN: Full reload requested. Dropping and recreating all tables.")
		return o.db.ResetSchema()
	}
	return o.db.EnsureSchema()
}

// phaseDownload verifies the data directory holds at least one loadable
// file. Fetching from the publisher is the discover command's job; a
// reload consumes what discovery already downloaded.
func (o *Orchestrator) phaseDownload() error {
	files, err := ScanDataDir(o.cfg.DataDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no loadable files in %s; run discover first", o.cfg.DataDir)
	}
	log.Printf("INFO: Found %d source files in %s", len(files), o.cfg.DataDir)
	return nil
}

// phaseValidateFiles resolves every file's layout before loading starts.
// Individual failures are recorded and the file is loaded around; only a
// directory where nothing resolves aborts the run.
func (o *Orchestrator) phaseValidateFiles() error {
	files, err := ScanDataDir(o.cfg.DataDir)
	if err != nil {
		return err
	}

	resolved := 0
	for _, f := range files {
		variant, err := o.parser.ResolveFile(f.Path, f.Family)
		if err != nil {
			log.Printf("WARN: File %s failed validation: %v", f.Name, err)
			o.cp.RecordError(&models.FileError{File: f.Name, Message: "validation failed", Err: err})
			continue
		}
		resolved++
		log.Printf("INFO: File %s resolved as %s era %q (%d columns)", f.Name, f.Family, variant.Era, variant.ColumnCount)
	}
	if resolved == 0 {
		return fmt.Errorf("none of the %d source files passed validation", len(files))
	}
	return nil
}

// phaseLoadTables loads base and add files family by family in the fixed
// load order. Indexes are dropped for the duration of the bulk load and
// rebuilt by the populate phase.
func (o *Orchestrator) phaseLoadTables(ctx context.Context, summary *models.RunSummary) error {
	if err := o.db.DropLoadIndexes(); err != nil {
		return err
	}

	files, err := ScanDataDir(o.cfg.DataDir)
	if err != nil {
		return err
	}
	return o.LoadFiles(ctx, files, summary)
}

// LoadFiles loads every base and add file in the given set, family by
// family in load order. Exported so the weekly update path reuses the
// same worker pool and provenance handling as a full reload. Individual
// file failures are recorded and loaded around, but a set where not a
// single file made it in is an error: that is a broken environment, not
// bad data.
func (o *Orchestrator) LoadFiles(ctx context.Context, files []SourceFile, summary *models.RunSummary) error {
	attempted, succeeded := 0, 0
	for _, family := range models.AllFamilies {
		batch := filterFiles(files, family, KindBase, KindAdd)
		a, s, err := o.loadFamily(ctx, family, batch, summary)
		if err != nil {
			return err
		}
		attempted += a
		succeeded += s
	}
	if attempted > 0 && succeeded == 0 {
		return fmt.Errorf("all %d source files failed to load", attempted)
	}
	return nil
}

// loadFamily runs the worker pool for one family and reports how many
// files it attempted and how many landed. Each worker leases a dedicated
// staging table so COPY targets never contend.
func (o *Orchestrator) loadFamily(ctx context.Context, family models.FileFamily, files []SourceFile, summary *models.RunSummary) (attempted, succeeded int, _ error) {
	pending := files[:0:0]
	for _, f := range files {
		if o.cp != nil && o.cp.IsFileLoaded(family, f.Name) {
			log.Printf("INFO: File %s already loaded this run. Skipping.", f.Name)
			continue
		}
		pending = append(pending, f)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	workers := o.cfg.NumFileWorkers
	if workers > len(pending) {
		workers = len(pending)
	}
	stagings, err := o.db.CreateStagingTables(family, workers)
	if err != nil {
		return len(pending), 0, err
	}
	defer func() {
		for _, name := range stagings {
			if err := o.db.DropStagingTable(name); err != nil {
				log.Printf("WARN: Failed to drop staging table %s: %v", name, err)
			}
		}
	}()

	leases := make(chan string, len(stagings))
	for _, name := range stagings {
		leases <- name
	}

	bar := progressbar.NewOptions(len(pending),
		progressbar.OptionSetDescription(fmt.Sprintf("Loading %s", family)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range pending {
		f := f
		g.Go(func() error {
			staging := <-leases
			defer func() { leases <- staging }()

			outcome, err := o.loadOneFile(gctx, f, f.Kind, staging)
			_ = bar.Add(1)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// One bad file must not abort the rest of the load.
				log.Printf("ERROR: File %s failed: %v", f.Name, err)
				o.mu.Lock()
				defer o.mu.Unlock()
				if o.cp != nil {
					o.cp.RecordError(err)
					if saveErr := o.saveCheckpointLocked(); saveErr != nil {
						log.Printf("ERROR: Failed to persist checkpoint: %v", saveErr)
					}
				} else {
					summary.Errors = append(summary.Errors, err.Error())
				}
				return nil
			}

			o.mu.Lock()
			defer o.mu.Unlock()
			succeeded++
			summary.FilesProcessed++
			summary.RecordsLoaded += outcome.loaded
			summary.RecordsSkipped += outcome.skippedRows
			summary.RecordsErrored += outcome.erroredRecords
			if o.cp != nil {
				o.cp.RecordLoadedFile(family, f.Name)
				if saveErr := o.saveCheckpointLocked(); saveErr != nil {
					log.Printf("ERROR: Failed to persist checkpoint: %v", saveErr)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(pending), succeeded, err
	}
	_ = bar.Finish()
	return len(pending), succeeded, nil
}

// phasePopulateCross back-fills the device-sourced manufacturer and
// product code columns onto master events, then rebuilds the indexes
// dropped for the bulk load.
func (o *Orchestrator) phasePopulateCross() error {
	updated, err := o.db.PopulateEventDeviceFields()
	if err != nil {
		return err
	}
	log.Printf("INFO: Back-filled device fields onto %d master events", updated)
	return o.db.CreateLoadIndexes()
}

// phaseFinalValidate runs the integrity audit. The verdict lands in the
// run summary; even a FAIL verdict does not abort the run, because the
// loaded data plus the report is worth more than a rollback.
func (o *Orchestrator) phaseFinalValidate(summary *models.RunSummary) error {
	report, err := o.auditor.Run()
	if err != nil {
		return err
	}
	summary.QualityGate = string(report.Verdict)
	for _, c := range report.Checks {
		log.Printf("INFO: Audit %s: %s (%.4f vs threshold %.4f) %s", c.Name, c.Status, c.Value, c.Threshold, c.Detail)
	}
	if report.Verdict != audit.StatusPass {
		log.Printf("WARN: Post-load audit verdict: %s", report.Verdict)
	}
	return nil
}

func (o *Orchestrator) saveCheckpoint() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.saveCheckpointLocked()
}

func (o *Orchestrator) saveCheckpointLocked() error {
	return SaveCheckpointFile(o.cfg.CheckpointPath, o.cp)
}
