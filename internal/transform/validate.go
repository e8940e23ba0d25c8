package transform

import (
	"fmt"
	"time"

	"github.com/openmaude/maude-etl/internal/models"
)

// minEventDate is the start of the MAUDE program; no report predates it.
var minEventDate = time.Date(1984, 1, 1, 0, 0, 0, 0, time.UTC)

// Validate runs the post-transform business rules. The FDA source data is
// known to be internally inconsistent, so most findings are warnings; only
// conditions that make a record unusable are errors.
func (t *Transformer) Validate(rec *models.CanonicalRecord) []models.ValidationResult {
	var results []models.ValidationResult

	if !isDigits(rec.ReportKey) {
		results = append(results, models.ValidationResult{
			Field: "mdr_report_key", Rule: "report_key_digits", Severity: models.SeverityError,
			Message: fmt.Sprintf("report key %q is not digits-only", rec.ReportKey),
		})
	}

	// All dates must fall within the program's lifetime plus a year of
	// publishing slack.
	maxDate := t.now().AddDate(1, 0, 0)
	for _, field := range dateFields[rec.Family] {
		d, ok := rec.GetTime(field)
		if !ok {
			continue
		}
		if d.Before(minEventDate) || d.After(maxDate) {
			results = append(results, models.ValidationResult{
				Field: field, Rule: "date_range", Severity: models.SeverityError,
				Message: fmt.Sprintf("date %s outside 1984-01-01..%s", d.Format("2006-01-02"), maxDate.Format("2006-01-02")),
			})
		}
	}

	if rec.Family == models.FamilyMaster {
		if isDeathEvent(rec.GetString("event_type")) && !rec.GetBool("outcome_death") {
			results = append(results, models.ValidationResult{
				Field: "event_type", Rule: "death_outcome_mismatch", Severity: models.SeverityWarning,
				Message: "event type is Death but decoded outcomes do not include death",
			})
		}

		eventDate, haveEvent := rec.GetTime("date_of_event")
		received, haveReceived := rec.GetTime("date_received")
		if haveEvent && haveReceived && eventDate.After(received) {
			results = append(results, models.ValidationResult{
				Field: "date_of_event", Rule: "event_after_received", Severity: models.SeverityWarning,
				Message: fmt.Sprintf("date_of_event %s is after date_received %s",
					eventDate.Format("2006-01-02"), received.Format("2006-01-02")),
			})
		}
	}

	// Product codes are presence-checked only; the code set evolves and a
	// fixed enumeration would reject valid new codes.
	if rec.Family == models.FamilyDevice && rec.GetString("product_code") == "" {
		results = append(results, models.ValidationResult{
			Field: "product_code", Rule: "product_code_presence", Severity: models.SeverityWarning,
			Message: "device record has no product code",
		})
	}

	return results
}

func isDeathEvent(eventType string) bool {
	switch eventType {
	case "D", "DE", "Death", "DEATH":
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
