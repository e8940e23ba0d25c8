// Package audit runs the post-load integrity checks against the store and
// aggregates them into a single pass/fail quality gate.
package audit

import (
	"fmt"
	"time"

	"github.com/openmaude/maude-etl/internal/database"
	"github.com/openmaude/maude-etl/internal/models"
)

type CheckStatus string

const (
	StatusPass    CheckStatus = "PASS"
	StatusWarning CheckStatus = "WARNING"
	StatusFail    CheckStatus = "FAIL"
)

// Thresholds configure the quality gate.
type Thresholds struct {
	// MinCoverage is the minimum fraction of master rows carrying each
	// critical derived field.
	MinCoverage float64
	// MaxOrphanRate is the tolerated fraction of child rows with no
	// matching master row. Low orphan rates are expected FDA behavior,
	// not corruption; they are tracked, never silently ignored.
	MaxOrphanRate float64
	// CountTolerance bounds the variance between loaded-record totals and
	// actual table counts before the reconciliation check flags it.
	CountTolerance float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{MinCoverage: 0.90, MaxOrphanRate: 0.05, CountTolerance: 0.01}
}

// Check is one named audit finding with a remediation hint.
type Check struct {
	Name      string      `json:"name"`
	Status    CheckStatus `json:"status"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Detail    string      `json:"detail"`
	Hint      string      `json:"hint,omitempty"`
}

// Report is the JSON-serializable audit artifact consumed by the dashboard
// and by scheduled quality-gate checks. Never persisted as authoritative
// state.
type Report struct {
	RanAt   time.Time             `json:"ran_at"`
	Checks  []Check               `json:"checks"`
	Orphans []models.OrphanBucket `json:"orphans,omitempty"`
	Verdict CheckStatus           `json:"verdict"`
}

// ExitCode maps the verdict onto the cron/CI convention: 0 pass, 1 fail.
func (r *Report) ExitCode() int {
	if r.Verdict == StatusFail {
		return 1
	}
	return 0
}

// Auditor reads the already-loaded store; it never touches source files.
type Auditor struct {
	db         database.DBManager
	thresholds Thresholds
	now        func() time.Time
}

func New(db database.DBManager, thresholds Thresholds) *Auditor {
	return &Auditor{db: db, thresholds: thresholds, now: time.Now}
}

// Run computes orphan rates, coverage rates, and the count reconciliation,
// and aggregates them into a verdict.
func (a *Auditor) Run() (*Report, error) {
	report := &Report{RanAt: a.now(), Verdict: StatusPass}

	counts, err := a.db.TableCounts()
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	if err := a.checkOrphans(report, counts); err != nil {
		return nil, err
	}
	if err := a.checkCoverage(report); err != nil {
		return nil, err
	}
	if err := a.checkReconciliation(report, counts); err != nil {
		return nil, err
	}

	for _, c := range report.Checks {
		report.Verdict = worse(report.Verdict, c.Status)
	}
	return report, nil
}

func (a *Auditor) checkOrphans(report *Report, counts map[string]int64) error {
	for _, family := range models.AllFamilies {
		if family == models.FamilyMaster {
			continue
		}
		spec, _ := database.SpecFor(family)
		buckets, err := a.db.OrphanBuckets(family)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		report.Orphans = append(report.Orphans, buckets...)

		var orphans int64
		for _, b := range buckets {
			orphans += b.Count
		}
		total := counts[spec.Name]
		rate := 0.0
		if total > 0 {
			rate = float64(orphans) / float64(total)
		}

		check := Check{
			Name:      "orphan_rate_" + spec.Name,
			Value:     rate,
			Threshold: a.thresholds.MaxOrphanRate,
			Detail:    fmt.Sprintf("%d of %d rows have no matching master row", orphans, total),
		}
		switch {
		case rate <= a.thresholds.MaxOrphanRate:
			check.Status = StatusPass
		case rate <= a.thresholds.MaxOrphanRate*2:
			check.Status = StatusWarning
		default:
			check.Status = StatusFail
		}
		if check.Status != StatusPass && len(buckets) > 0 {
			check.Hint = fmt.Sprintf("reload file %s (%d orphans)", buckets[0].SourceFile, buckets[0].Count)
		}
		report.Checks = append(report.Checks, check)
	}
	return nil
}

func (a *Auditor) checkCoverage(report *Report) error {
	for _, column := range []string{"manufacturer_clean", "product_code"} {
		cov, err := a.db.CoverageRate("maude_events", column)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		rate := 0.0
		if cov.Total > 0 {
			rate = float64(cov.Covered) / float64(cov.Total)
		}

		check := Check{
			Name:      "coverage_" + column,
			Value:     rate,
			Threshold: a.thresholds.MinCoverage,
			Detail:    fmt.Sprintf("%d of %d master rows carry %s", cov.Covered, cov.Total, column),
		}
		switch {
		case cov.Total == 0:
			check.Status = StatusWarning
			check.Detail = "maude_events is empty"
		case rate >= a.thresholds.MinCoverage:
			check.Status = StatusPass
		case rate >= a.thresholds.MinCoverage-0.05:
			check.Status = StatusWarning
		default:
			check.Status = StatusFail
		}
		if check.Status == StatusFail {
			check.Hint = "run the populate_cross_table_fields phase; device files must be loaded before master"
		}
		report.Checks = append(report.Checks, check)
	}
	return nil
}

// checkReconciliation compares loaded-record totals from the provenance
// table against actual row counts. Upsert collapse of duplicate keys makes
// some shrinkage normal, so variance flags a WARNING, not a FAIL.
func (a *Auditor) checkReconciliation(report *Report, counts map[string]int64) error {
	totals, err := a.db.LoadedRecordTotals()
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	for _, family := range models.AllFamilies {
		spec, _ := database.SpecFor(family)
		kinds := totals[string(family)]
		expected := kinds[database.FILE_KIND_BASE] + kinds[database.FILE_KIND_ADD]
		if expected == 0 {
			continue
		}
		actual := counts[spec.Name]
		variance := float64(expected-actual) / float64(expected)
		if variance < 0 {
			variance = -variance
		}

		check := Check{
			Name:      "count_reconciliation_" + spec.Name,
			Value:     variance,
			Threshold: a.thresholds.CountTolerance,
			Detail:    fmt.Sprintf("expected %d (historical + adds), actual %d", expected, actual),
		}
		if variance <= a.thresholds.CountTolerance {
			check.Status = StatusPass
		} else {
			check.Status = StatusWarning
			check.Hint = fmt.Sprintf("actual count of %s deviates %.1f%% from loaded totals; check for missed or double-loaded files", spec.Name, variance*100)
		}
		report.Checks = append(report.Checks, check)
	}
	return nil
}

func worse(a, b CheckStatus) CheckStatus {
	rank := map[CheckStatus]int{StatusPass: 0, StatusWarning: 1, StatusFail: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
