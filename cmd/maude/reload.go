package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmaude/maude-etl/internal/audit"
	"github.com/openmaude/maude-etl/internal/config"
	"github.com/openmaude/maude-etl/internal/loader"
	"github.com/openmaude/maude-etl/internal/parser"
	"github.com/openmaude/maude-etl/internal/schema"
	"github.com/openmaude/maude-etl/internal/transform"
)

var reloadFull bool

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Run the multi-phase bulk load from the data directory",
	Long: `Reload walks the fixed phase sequence: backup counts, prepare schema,
verify files, load all base and add files, back-fill cross-table fields,
and run the integrity audit. Progress is checkpointed after every phase
and every file, so an interrupted run resumes where it stopped.`,
	RunE: runReload,
}

func init() {
	reloadCmd.Flags().BoolVar(&reloadFull, "full", false, "drop and recreate all tables before loading")
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	ctx, cancel, cfg, dbManager, cleanupFunc, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer cleanupFunc()

	orch := loader.NewOrchestrator(
		dbManager,
		newParser(cfg),
		transform.New(),
		audit.New(dbManager, thresholdsFrom(cfg)),
		cfg,
		reloadFull,
	)

	log.Println("Starting reload...")
	summary, err := orch.Run(ctx)
	if summary != nil {
		log.Printf("%s", summary.String())
		if summary.QualityGate != "" {
			log.Printf("Quality gate: %s", summary.QualityGate)
		}
	}
	if err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}

	log.Println("Reload finished.")
	log.Printf("Execution time: %s\n", time.Since(startTime))
	return nil
}

func newParser(cfg *config.Config) *parser.Parser {
	return parser.New(schema.NewRegistry(), parser.Config{
		MaxErrorRate: cfg.RowErrorRate,
		MinErrorRows: cfg.RowErrorGraceCount,
	})
}

func thresholdsFrom(cfg *config.Config) audit.Thresholds {
	return audit.Thresholds{
		MinCoverage:    cfg.MinCoverage,
		MaxOrphanRate:  cfg.MaxOrphanRate,
		CountTolerance: cfg.CountTolerance,
	}
}
