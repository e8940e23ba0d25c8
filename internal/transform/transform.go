// Package transform coerces raw parsed strings into typed values, derives
// computed fields, and runs the business-rule checks. It operates
// record-by-record with no shared state.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openmaude/maude-etl/internal/models"
)

// Accepted date layouts, tried in order. The publisher has shipped all
// three at different points.
var dateLayouts = []string{"01/02/2006", "2006-01-02", "20060102"}

var dateFields = map[models.FileFamily][]string{
	models.FamilyMaster: {
		"date_received", "date_report", "date_of_event", "date_report_to_fda",
		"date_report_to_manufacturer", "date_manufacturer_received",
		"date_added", "date_changed",
	},
	models.FamilyDevice:         {"date_received", "expiration_date", "date_returned"},
	models.FamilyPatient:        {"date_received"},
	models.FamilyText:           {"date_report"},
	models.FamilyPatientProblem: {"date_added"},
}

var intFields = map[models.FileFamily][]string{
	models.FamilyMaster:         {"number_devices_in_event", "number_patients_in_event"},
	models.FamilyDevice:         {"device_sequence_no"},
	models.FamilyPatient:        {"patient_sequence_number"},
	models.FamilyText:           {"mdr_text_key", "patient_sequence_number"},
	models.FamilyPatientProblem: {"patient_sequence_number"},
}

var boolFields = map[models.FileFamily][]string{
	models.FamilyMaster: {
		"adverse_event_flag", "product_problem_flag", "report_to_fda",
		"report_to_manufacturer", "health_professional", "initial_report_to_fda",
		"single_use_flag", "summary_report", "combination_product_flag",
	},
	models.FamilyDevice: {"implant_flag", "combination_product_flag"},
}

// Transformer applies the three-stage contract: coerce declared columns,
// derive computed fields, validate business rules. Each stage is
// independent and individually testable.
type Transformer struct {
	aliases map[string]string
	now     func() time.Time
}

func New() *Transformer {
	return &Transformer{aliases: defaultAliases, now: time.Now}
}

// NewWithClock injects the alias table and clock for tests.
func NewWithClock(aliases map[string]string, now func() time.Time) *Transformer {
	if aliases == nil {
		aliases = defaultAliases
	}
	return &Transformer{aliases: aliases, now: now}
}

// Apply mutates rec in place (adds and retypes fields, never removes) and
// returns every finding. Callers exclude the record from loading when any
// finding has ERROR severity.
func (t *Transformer) Apply(rec *models.CanonicalRecord) []models.ValidationResult {
	results := t.Coerce(rec)
	t.Derive(rec)
	results = append(results, t.Validate(rec)...)
	return results
}

// Coerce replaces declared date/integer/boolean fields with typed values.
// An unparseable non-empty value becomes nil with a WARNING; empty values
// become nil silently.
func (t *Transformer) Coerce(rec *models.CanonicalRecord) []models.ValidationResult {
	var results []models.ValidationResult

	for _, field := range dateFields[rec.Family] {
		raw := rec.GetString(field)
		if raw == "" {
			if _, present := rec.Fields[field]; present {
				rec.Fields[field] = nil
			}
			continue
		}
		parsed, ok := parseDate(raw)
		if !ok {
			rec.Fields[field] = nil
			results = append(results, models.ValidationResult{
				Field: field, Rule: "date_format", Severity: models.SeverityWarning,
				Message: fmt.Sprintf("unparseable date %q", raw),
			})
			continue
		}
		rec.Fields[field] = parsed
	}

	for _, field := range intFields[rec.Family] {
		raw := rec.GetString(field)
		if raw == "" {
			if _, present := rec.Fields[field]; present {
				rec.Fields[field] = nil
			}
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			rec.Fields[field] = nil
			results = append(results, models.ValidationResult{
				Field: field, Rule: "integer_format", Severity: models.SeverityWarning,
				Message: fmt.Sprintf("unparseable integer %q", raw),
			})
			continue
		}
		rec.Fields[field] = n
	}

	for _, field := range boolFields[rec.Family] {
		raw := strings.ToUpper(rec.GetString(field))
		switch raw {
		case "":
			if _, present := rec.Fields[field]; present {
				rec.Fields[field] = nil
			}
		case "Y":
			rec.Fields[field] = true
		case "N":
			rec.Fields[field] = false
		default:
			rec.Fields[field] = nil
			results = append(results, models.ValidationResult{
				Field: field, Rule: "flag_format", Severity: models.SeverityWarning,
				Message: fmt.Sprintf("flag value %q is not Y or N", raw),
			})
		}
	}

	return results
}

// Derive adds computed fields: cleaned manufacturer name, received
// year/month, and decoded outcome flags.
func (t *Transformer) Derive(rec *models.CanonicalRecord) {
	switch rec.Family {
	case models.FamilyMaster, models.FamilyDevice:
		if name := rec.GetString("manufacturer_name"); name != "" {
			rec.Fields["manufacturer_clean"] = t.CleanManufacturer(name)
		}
	}

	if rec.Family == models.FamilyMaster {
		if received, ok := rec.GetTime("date_received"); ok {
			rec.Fields["year_received"] = int64(received.Year())
			rec.Fields["month_received"] = int64(received.Month())
		}
	}

	switch rec.Family {
	case models.FamilyMaster, models.FamilyPatient:
		decodeOutcomes(rec)
	}
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// outcomeFlags maps publisher outcome codes to derived boolean fields.
var outcomeFlags = map[string]string{
	"D": "outcome_death",
	"L": "outcome_life_threatening",
	"H": "outcome_hospitalization",
	"S": "outcome_disability",
	"C": "outcome_congenital_anomaly",
	"R": "outcome_intervention",
	"O": "outcome_other",
}

// decodeOutcomes expands a delimited code string like "1,H;D" into boolean
// flags. Numeric tokens are per-patient sequence prefixes and are ignored.
// An empty code string decodes to nothing: the flags stay unset so a
// change record with a blank outcome column cannot clear flags a base
// load already established.
func decodeOutcomes(rec *models.CanonicalRecord) {
	raw, ok := rec.Fields["outcome_codes"].(string)
	if !ok || raw == "" {
		return
	}
	for _, field := range outcomeFlags {
		if _, present := rec.Fields[field]; !present {
			rec.Fields[field] = false
		}
	}
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' || r == ' ' }) {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if _, err := strconv.Atoi(tok); err == nil {
			continue
		}
		if field, known := outcomeFlags[tok]; known {
			rec.Fields[field] = true
		}
	}
}
