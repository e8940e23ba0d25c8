package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmaude/maude-etl/internal/audit"
	"github.com/openmaude/maude-etl/internal/loader"
	"github.com/openmaude/maude-etl/internal/models"
	"github.com/openmaude/maude-etl/internal/reconcile"
	"github.com/openmaude/maude-etl/internal/transform"
)

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Apply the weekly add and change files",
	Long: `Weekly loads the publisher's incremental files from the data directory:
ADD files insert new reports through the same upsert path as a full
reload, then CHANGE files correct existing rows against the per-table
whitelist. Changes never insert; a correction for a report that has not
arrived yet is counted and dropped.`,
	RunE: runWeekly,
}

func init() {
	rootCmd.AddCommand(weeklyCmd)
}

func runWeekly(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	ctx, cancel, cfg, dbManager, cleanupFunc, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer cleanupFunc()

	if err := dbManager.EnsureSchema(); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	files, err := loader.ScanDataDir(cfg.DataDir)
	if err != nil {
		return err
	}

	p := newParser(cfg)
	t := transform.New()

	// Adds land before changes so a correction can find the report it
	// corrects when both arrive in the same weekly batch.
	orch := loader.NewOrchestrator(dbManager, p, t, audit.New(dbManager, thresholdsFrom(cfg)), cfg, false)
	summary := &models.RunSummary{StartedAt: time.Now(), Errors: []string{}}
	var adds []loader.SourceFile
	for _, f := range files {
		if f.Kind == loader.KindAdd {
			adds = append(adds, f)
		}
	}
	if err := orch.LoadFiles(ctx, adds, summary); err != nil {
		return fmt.Errorf("weekly add load failed: %w", err)
	}
	summary.FinishedAt = time.Now()
	log.Printf("%s", summary.String())

	reconciler := reconcile.New(dbManager, p, t, cfg)
	report, err := reconciler.ApplyChangeFiles(ctx, files)
	if err != nil {
		return fmt.Errorf("weekly change reconciliation failed: %w", err)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("weekly update finished with %d file errors", len(report.Errors))
	}

	log.Println("Weekly update finished.")
	log.Printf("Execution time: %s\n", time.Since(startTime))
	return nil
}
