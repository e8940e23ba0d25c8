package database

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openmaude/maude-etl/internal/models"
)

// Column is one canonical field and its SQL type. Canonical field names are
// the SQL column names, so record values map straight onto rows.
type Column struct {
	Name    string
	SQLType string
}

// TableSpec describes one canonical table: its key columns form the upsert
// conflict target, and YearExpr buckets the table's rows by year for the
// auditor's orphan breakdown.
type TableSpec struct {
	Name     string
	Family   models.FileFamily
	Keys     []string
	Columns  []Column
	YearExpr string
}

var eventColumns = []Column{
	{"mdr_report_key", "TEXT"},
	{"event_key", "TEXT"},
	{"report_number", "TEXT"},
	{"report_source_code", "TEXT"},
	{"manufacturer_link_flag", "TEXT"},
	{"number_devices_in_event", "BIGINT"},
	{"number_patients_in_event", "BIGINT"},
	{"date_received", "DATE"},
	{"adverse_event_flag", "BOOLEAN"},
	{"product_problem_flag", "BOOLEAN"},
	{"date_report", "DATE"},
	{"date_of_event", "DATE"},
	{"report_to_fda", "BOOLEAN"},
	{"date_report_to_fda", "DATE"},
	{"event_type", "TEXT"},
	{"event_location", "TEXT"},
	{"outcome_codes", "TEXT"},
	{"outcome_death", "BOOLEAN"},
	{"outcome_life_threatening", "BOOLEAN"},
	{"outcome_hospitalization", "BOOLEAN"},
	{"outcome_disability", "BOOLEAN"},
	{"outcome_congenital_anomaly", "BOOLEAN"},
	{"outcome_intervention", "BOOLEAN"},
	{"outcome_other", "BOOLEAN"},
	{"manufacturer_name", "TEXT"},
	{"manufacturer_clean", "TEXT"},
	{"manufacturer_city", "TEXT"},
	{"manufacturer_state", "TEXT"},
	{"manufacturer_country", "TEXT"},
	{"product_code", "TEXT"},
	{"source_type", "TEXT"},
	{"reporter_occupation_code", "TEXT"},
	{"health_professional", "BOOLEAN"},
	{"initial_report_to_fda", "BOOLEAN"},
	{"summary_report", "BOOLEAN"},
	{"date_added", "DATE"},
	{"date_changed", "DATE"},
	{"year_received", "BIGINT"},
	{"month_received", "BIGINT"},
	{"source_file", "TEXT"},
	{"extra", "JSONB"},
}

var deviceColumns = []Column{
	{"mdr_report_key", "TEXT"},
	{"device_sequence_no", "BIGINT"},
	{"date_received", "DATE"},
	{"brand_name", "TEXT"},
	{"generic_name", "TEXT"},
	{"manufacturer_name", "TEXT"},
	{"manufacturer_clean", "TEXT"},
	{"manufacturer_city", "TEXT"},
	{"manufacturer_state", "TEXT"},
	{"manufacturer_country", "TEXT"},
	{"model_number", "TEXT"},
	{"catalog_number", "TEXT"},
	{"lot_number", "TEXT"},
	{"expiration_date", "DATE"},
	{"product_code", "TEXT"},
	{"device_operator", "TEXT"},
	{"device_availability", "TEXT"},
	{"date_returned", "DATE"},
	{"device_evaluated", "TEXT"},
	{"implant_flag", "BOOLEAN"},
	{"date_removed_flag", "TEXT"},
	{"device_age_text", "TEXT"},
	{"udi_di", "TEXT"},
	{"combination_product_flag", "BOOLEAN"},
	{"source_file", "TEXT"},
	{"extra", "JSONB"},
}

var patientColumns = []Column{
	{"mdr_report_key", "TEXT"},
	{"patient_sequence_number", "BIGINT"},
	{"date_received", "DATE"},
	{"outcome_codes", "TEXT"},
	{"treatment_codes", "TEXT"},
	{"outcome_death", "BOOLEAN"},
	{"outcome_life_threatening", "BOOLEAN"},
	{"outcome_hospitalization", "BOOLEAN"},
	{"outcome_disability", "BOOLEAN"},
	{"outcome_congenital_anomaly", "BOOLEAN"},
	{"outcome_intervention", "BOOLEAN"},
	{"outcome_other", "BOOLEAN"},
	{"patient_age", "TEXT"},
	{"patient_sex", "TEXT"},
	{"patient_weight", "TEXT"},
	{"patient_ethnicity", "TEXT"},
	{"patient_race", "TEXT"},
	{"source_file", "TEXT"},
	{"extra", "JSONB"},
}

var textColumns = []Column{
	{"mdr_report_key", "TEXT"},
	{"mdr_text_key", "BIGINT"},
	{"text_type_code", "TEXT"},
	{"patient_sequence_number", "BIGINT"},
	{"date_report", "DATE"},
	{"narrative", "TEXT"},
	{"source_file", "TEXT"},
	{"extra", "JSONB"},
}

var deviceProblemColumns = []Column{
	{"mdr_report_key", "TEXT"},
	{"problem_code", "TEXT"},
	{"source_file", "TEXT"},
}

var patientProblemColumns = []Column{
	{"mdr_report_key", "TEXT"},
	{"patient_sequence_number", "BIGINT"},
	{"problem_code", "TEXT"},
	{"date_added", "DATE"},
	{"source_file", "TEXT"},
}

// tableSpecs maps each file family to its canonical table. Order follows
// models.AllFamilies for deterministic DDL.
var tableSpecs = map[models.FileFamily]*TableSpec{
	models.FamilyMaster: {
		Name:     "maude_events",
		Family:   models.FamilyMaster,
		Keys:     []string{"mdr_report_key"},
		Columns:  eventColumns,
		YearExpr: "EXTRACT(YEAR FROM date_received)",
	},
	models.FamilyDevice: {
		Name:     "maude_devices",
		Family:   models.FamilyDevice,
		Keys:     []string{"mdr_report_key", "device_sequence_no"},
		Columns:  deviceColumns,
		YearExpr: "EXTRACT(YEAR FROM date_received)",
	},
	models.FamilyPatient: {
		Name:     "maude_patients",
		Family:   models.FamilyPatient,
		Keys:     []string{"mdr_report_key", "patient_sequence_number"},
		Columns:  patientColumns,
		YearExpr: "EXTRACT(YEAR FROM date_received)",
	},
	models.FamilyText: {
		Name:     "maude_texts",
		Family:   models.FamilyText,
		Keys:     []string{"mdr_report_key", "mdr_text_key"},
		Columns:  textColumns,
		YearExpr: "EXTRACT(YEAR FROM date_report)",
	},
	models.FamilyDevProblem: {
		Name:     "maude_device_problems",
		Family:   models.FamilyDevProblem,
		Keys:     []string{"mdr_report_key", "problem_code"},
		Columns:  deviceProblemColumns,
		YearExpr: "NULL",
	},
	models.FamilyPatientProblem: {
		Name:     "maude_patient_problems",
		Family:   models.FamilyPatientProblem,
		Keys:     []string{"mdr_report_key", "patient_sequence_number", "problem_code"},
		Columns:  patientProblemColumns,
		YearExpr: "EXTRACT(YEAR FROM date_added)",
	},
}

// SpecFor returns the table spec for a family.
func SpecFor(family models.FileFamily) (*TableSpec, bool) {
	spec, ok := tableSpecs[family]
	return spec, ok
}

// TableNames lists every canonical table in load order.
func TableNames() []string {
	names := make([]string, 0, len(tableSpecs))
	for _, f := range models.AllFamilies {
		names = append(names, tableSpecs[f].Name)
	}
	return names
}

func (s *TableSpec) columnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *TableSpec) isKey(col string) bool {
	for _, k := range s.Keys {
		if k == col {
			return true
		}
	}
	return false
}

func (s *TableSpec) createDDL() string {
	defs := make([]string, 0, len(s.Columns)+1)
	for _, c := range s.Columns {
		def := fmt.Sprintf("%s %s", c.Name, c.SQLType)
		if s.isKey(c.Name) {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(s.Keys, ", ")))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);", s.Name, strings.Join(defs, ",\n\t"))
}

// rowValues extracts one CopyFrom row in column order. Missing fields map
// to NULL; nil key sequence numbers default to 1 so legacy rows without an
// explicit sequence still key deterministically.
func (s *TableSpec) rowValues(rec *models.CanonicalRecord) ([]any, error) {
	values := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		switch c.Name {
		case "mdr_report_key":
			values[i] = rec.ReportKey
		case "source_file":
			values[i] = rec.SourceFile
		case "extra":
			if len(rec.Extra) == 0 {
				values[i] = nil
				continue
			}
			raw, err := json.Marshal(rec.Extra)
			if err != nil {
				return nil, fmt.Errorf("marshal extra fields for key %s: %w", rec.ReportKey, err)
			}
			values[i] = raw
		default:
			v := rec.Fields[c.Name]
			if sv, ok := v.(string); ok && sv == "" {
				v = nil
			}
			if v == nil && s.isKey(c.Name) {
				if c.SQLType == "BIGINT" {
					v = int64(1)
				} else {
					v = ""
				}
			}
			values[i] = v
		}
	}
	return values, nil
}
