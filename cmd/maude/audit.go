package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmaude/maude-etl/internal/audit"
)

var auditJSON bool

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run the post-load integrity audit",
	Long: `Audit checks orphan rates, derived-field coverage, and count
reconciliation against the loaded store and prints a PASS/WARNING/FAIL
verdict. The process exits 1 on FAIL so cron and CI can gate on it.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "emit the full report as JSON")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	_, cancel, cfg, dbManager, cleanupFunc, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer cleanupFunc()

	auditor := audit.New(dbManager, thresholdsFrom(cfg))
	report, err := auditor.Run()
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	if auditJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			log.Printf("%-40s %-8s value=%.4f threshold=%.4f %s", c.Name, c.Status, c.Value, c.Threshold, c.Detail)
			if c.Hint != "" {
				log.Printf("%-40s hint: %s", "", c.Hint)
			}
		}
		log.Printf("Verdict: %s", report.Verdict)
	}

	if code := report.ExitCode(); code != 0 {
		cleanupFunc()
		os.Exit(code)
	}
	return nil
}
