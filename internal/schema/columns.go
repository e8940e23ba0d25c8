package schema

// Raw publisher column layouts, one slice per era. Later eras extend earlier
// ones append-only, which is how the FDA has actually grown these files:
// columns are added at the end, never reordered.

var masterColumns1996 = []string{
	"MDR_REPORT_KEY",
	"EVENT_KEY",
	"REPORT_NUMBER",
	"REPORT_SOURCE_CODE",
	"MANUFACTURER_LINK_FLAG_",
	"NUMBER_DEVICES_IN_EVENT",
	"NUMBER_PATIENTS_IN_EVENT",
	"DATE_RECEIVED",
	"ADVERSE_EVENT_FLAG",
	"PRODUCT_PROBLEM_FLAG",
	"DATE_REPORT",
	"DATE_OF_EVENT",
	"REPRT_TO_FDA",
	"DATE_REPORT_TO_FDA",
	"EVENT_TYPE",
	"EVENT_LOCATION",
	"EVENT_OUTCOME",
	"REPRT_TO_MANUFACTURER",
	"DATE_REPORT_TO_MANUFACTURER",
	"MANUFACTURER_NAME",
	"MANUFACTURER_ADDRESS_1",
	"MANUFACTURER_ADDRESS_2",
	"MANUFACTURER_CITY",
	"MANUFACTURER_STATE_CODE",
	"MANUFACTURER_ZIP_CODE",
	"MANUFACTURER_ZIP_CODE_EXT",
	"MANUFACTURER_COUNTRY_CODE",
	"MANUFACTURER_POSTAL_CODE",
	"MANUFACTURER_CONTACT_T_NAME",
	"MANUFACTURER_CONTACT_F_NAME",
	"MANUFACTURER_CONTACT_L_NAME",
	"MANUFACTURER_CONTACT_STREET_1",
	"MANUFACTURER_CONTACT_STREET_2",
	"MANUFACTURER_CONTACT_CITY",
	"MANUFACTURER_CONTACT_STATE",
	"MANUFACTURER_CONTACT_ZIP_CODE",
	"MANUFACTURER_CONTACT_ZIP_EXT",
	"MANUFACTURER_CONTACT_COUNTRY",
	"MANUFACTURER_CONTACT_POSTAL",
	"MANUFACTURER_CONTACT_AREA_CODE",
	"MANUFACTURER_CONTACT_EXCHANGE",
	"MANUFACTURER_CONTACT_PHONE_NO",
	"MANUFACTURER_CONTACT_EXTENSION",
	"MANUFACTURER_CONTACT_PCOUNTRY",
	"MANUFACTURER_CONTACT_PCITY",
	"MANUFACTURER_CONTACT_PLOCAL",
	"MANUFACTURER_G1_NAME",
	"MANUFACTURER_G1_ADDRESS_1",
	"MANUFACTURER_G1_ADDRESS_2",
	"MANUFACTURER_G1_CITY",
	"MANUFACTURER_G1_STATE_CODE",
	"MANUFACTURER_G1_ZIP_CODE",
	"MANUFACTURER_G1_ZIP_CODE_EXT",
	"MANUFACTURER_G1_COUNTRY_CODE",
	"MANUFACTURER_G1_POSTAL_CODE",
	"DATE_MANUFACTURER_RECEIVED",
	"DEVICE_DATE_OF_MANUFACTURE",
	"SINGLE_USE_FLAG",
	"REMEDIAL_ACTION",
	"PREVIOUS_USE_CODE",
	"REMOVAL_CORRECTION_NUMBER",
	"DISTRIBUTOR_NAME",
	"DISTRIBUTOR_ADDRESS_1",
	"DISTRIBUTOR_ADDRESS_2",
	"DISTRIBUTOR_CITY",
	"DISTRIBUTOR_STATE_CODE",
	"DISTRIBUTOR_ZIP_CODE",
	"DISTRIBUTOR_ZIP_CODE_EXT",
	"REPRT_TO_DISTRIBUTOR",
	"DATE_REPORT_TO_DISTRIBUTOR",
	"TYPE_OF_REPORT",
	"SOURCE_TYPE",
	"REPORTER_OCCUPATION_CODE",
	"HEALTH_PROFESSIONAL",
	"INITIAL_REPORT_TO_FDA",
	"DATE_ADDED",
	"DATE_CHANGED",
} // 77 columns

var masterColumns2008 = append(append([]string{}, masterColumns1996...),
	"REPORTER_COUNTRY_CODE",
	"PMA_PMN_NUMBER",
	"EXEMPTION_NUMBER",
	"SUMMARY_REPORT",
) // 81 columns

var masterColumnsCurrent = append(append([]string{}, masterColumns2008...),
	"NOE_SUMMARIZED",
	"COMBINATION_PRODUCT_FLAG",
	"REPORTER_STATE_CODE",
	"FOREIGN_FLAG",
	"SUMMARY_SUPPLEMENT_FLAG",
) // 86 columns

var deviceColumnsLegacy = []string{
	"MDR_REPORT_KEY",
	"DEVICE_EVENT_KEY",
	"DEVICE_SEQUENCE_NO",
	"DATE_RECEIVED",
	"BRAND_NAME",
	"GENERIC_NAME",
	"MANUFACTURER_D_NAME",
	"MANUFACTURER_D_ADDRESS_1",
	"MANUFACTURER_D_ADDRESS_2",
	"MANUFACTURER_D_CITY",
	"MANUFACTURER_D_STATE_CODE",
	"MANUFACTURER_D_ZIP_CODE",
	"MANUFACTURER_D_ZIP_CODE_EXT",
	"MANUFACTURER_D_COUNTRY_CODE",
	"MANUFACTURER_D_POSTAL_CODE",
	"MODEL_NUMBER",
	"CATALOG_NUMBER",
	"LOT_NUMBER",
	"EXPIRATION_DATE_OF_DEVICE",
	"DEVICE_REPORT_PRODUCT_CODE",
	"DEVICE_OPERATOR",
	"DEVICE_AVAILABILITY",
	"DATE_RETURNED_TO_MANUFACTURER",
	"DEVICE_EVALUATED_BY_MANUFACTUR",
	"IMPLANT_FLAG",
	"DATE_REMOVED_FLAG",
	"DEVICE_AGE_TEXT",
	"OTHER_ID_NUMBER",
} // 28 columns

var deviceColumns2010 = append(append([]string{}, deviceColumnsLegacy...),
	"BASELINE_BRAND_NAME",
	"BASELINE_GENERIC_NAME",
	"BASELINE_MODEL_NUMBER",
	"BASELINE_CATALOG_NUMBER",
	"BASELINE_OTHER_ID_NUMBER",
	"BASELINE_DEVICE_FAMILY",
	"BASELINE_SHELF_LIFE_CONTAINED",
	"BASELINE_SHELF_LIFE_IN_MONTHS",
	"BASELINE_PMA_FLAG",
	"BASELINE_PMA_NUMBER",
	"BASELINE_510_K__FLAG",
	"BASELINE_510_K__NUMBER",
	"BASELINE_PREAMENDMENT_FLAG",
	"BASELINE_TRANSITIONAL_FLAG",
	"BASELINE_510_K__EXEMPT_FLAG",
) // 43 columns

var deviceColumnsCurrent = append(append([]string{}, deviceColumns2010...),
	"COMBINATION_PRODUCT_FLAG",
	"UDI_DI",
) // 45 columns

var patientColumnsLegacy = []string{
	"MDR_REPORT_KEY",
	"PATIENT_SEQUENCE_NUMBER",
	"SEQUENCE_NUMBER_OUTCOME",
	"SEQUENCE_NUMBER_TREATMENT",
} // 4 columns

var patientColumnsCurrent = append(append([]string{}, patientColumnsLegacy...),
	"DATE_RECEIVED",
	"PATIENT_AGE",
	"PATIENT_SEX",
	"PATIENT_WEIGHT",
	"PATIENT_ETHNICITY",
	"PATIENT_RACE",
) // 10 columns

var textColumnsCurrent = []string{
	"MDR_REPORT_KEY",
	"MDR_TEXT_KEY",
	"TEXT_TYPE_CODE",
	"PATIENT_SEQUENCE_NUMBER",
	"DATE_REPORT",
	"FOI_TEXT",
} // 6 columns

var devProblemColumns = []string{
	"MDR_REPORT_KEY",
	"DEVICE_PROBLEM_CODE",
} // 2 columns, no header row

var patientProblemColumns = []string{
	"MDR_REPORT_KEY",
	"PATIENT_SEQUENCE_NUMBER",
	"PATIENT_PROBLEM_CODE",
	"DATE_ADDED",
} // 4 columns, no header row

// canonicalNames maps raw publisher column names to canonical field names.
// Raw names are unique across families, so a single flat map suffices.
// Columns absent here are preserved in the record's Extra bucket.
var canonicalNames = map[string]string{
	"MDR_REPORT_KEY":                "mdr_report_key",
	"EVENT_KEY":                     "event_key",
	"REPORT_NUMBER":                 "report_number",
	"REPORT_SOURCE_CODE":            "report_source_code",
	"MANUFACTURER_LINK_FLAG_":       "manufacturer_link_flag",
	"NUMBER_DEVICES_IN_EVENT":       "number_devices_in_event",
	"NUMBER_PATIENTS_IN_EVENT":      "number_patients_in_event",
	"DATE_RECEIVED":                 "date_received",
	"ADVERSE_EVENT_FLAG":            "adverse_event_flag",
	"PRODUCT_PROBLEM_FLAG":          "product_problem_flag",
	"DATE_REPORT":                   "date_report",
	"DATE_OF_EVENT":                 "date_of_event",
	"REPRT_TO_FDA":                  "report_to_fda",
	"DATE_REPORT_TO_FDA":            "date_report_to_fda",
	"EVENT_TYPE":                    "event_type",
	"EVENT_LOCATION":                "event_location",
	"EVENT_OUTCOME":                 "outcome_codes",
	"REPRT_TO_MANUFACTURER":         "report_to_manufacturer",
	"DATE_REPORT_TO_MANUFACTURER":   "date_report_to_manufacturer",
	"MANUFACTURER_NAME":             "manufacturer_name",
	"MANUFACTURER_CITY":             "manufacturer_city",
	"MANUFACTURER_STATE_CODE":       "manufacturer_state",
	"MANUFACTURER_COUNTRY_CODE":     "manufacturer_country",
	"DATE_MANUFACTURER_RECEIVED":    "date_manufacturer_received",
	"SINGLE_USE_FLAG":               "single_use_flag",
	"REMEDIAL_ACTION":               "remedial_action",
	"TYPE_OF_REPORT":                "type_of_report",
	"SOURCE_TYPE":                   "source_type",
	"REPORTER_OCCUPATION_CODE":      "reporter_occupation_code",
	"HEALTH_PROFESSIONAL":           "health_professional",
	"INITIAL_REPORT_TO_FDA":         "initial_report_to_fda",
	"DATE_ADDED":                    "date_added",
	"DATE_CHANGED":                  "date_changed",
	"PMA_PMN_NUMBER":                "pma_pmn_number",
	"EXEMPTION_NUMBER":              "exemption_number",
	"SUMMARY_REPORT":                "summary_report",
	"COMBINATION_PRODUCT_FLAG":      "combination_product_flag",

	"DEVICE_EVENT_KEY":              "device_event_key",
	"DEVICE_SEQUENCE_NO":            "device_sequence_no",
	"BRAND_NAME":                    "brand_name",
	"GENERIC_NAME":                  "generic_name",
	"MANUFACTURER_D_NAME":           "manufacturer_name",
	"MANUFACTURER_D_CITY":           "manufacturer_city",
	"MANUFACTURER_D_STATE_CODE":     "manufacturer_state",
	"MANUFACTURER_D_COUNTRY_CODE":   "manufacturer_country",
	"MODEL_NUMBER":                  "model_number",
	"CATALOG_NUMBER":                "catalog_number",
	"LOT_NUMBER":                    "lot_number",
	"EXPIRATION_DATE_OF_DEVICE":     "expiration_date",
	"DEVICE_REPORT_PRODUCT_CODE":    "product_code",
	"DEVICE_OPERATOR":               "device_operator",
	"DEVICE_AVAILABILITY":           "device_availability",
	"DATE_RETURNED_TO_MANUFACTURER": "date_returned",
	"DEVICE_EVALUATED_BY_MANUFACTUR": "device_evaluated",
	"IMPLANT_FLAG":                  "implant_flag",
	"DATE_REMOVED_FLAG":             "date_removed_flag",
	"DEVICE_AGE_TEXT":               "device_age_text",
	"UDI_DI":                        "udi_di",

	"PATIENT_SEQUENCE_NUMBER":   "patient_sequence_number",
	"SEQUENCE_NUMBER_OUTCOME":   "outcome_codes",
	"SEQUENCE_NUMBER_TREATMENT": "treatment_codes",
	"PATIENT_AGE":               "patient_age",
	"PATIENT_SEX":               "patient_sex",
	"PATIENT_WEIGHT":            "patient_weight",
	"PATIENT_ETHNICITY":         "patient_ethnicity",
	"PATIENT_RACE":              "patient_race",

	"MDR_TEXT_KEY":   "mdr_text_key",
	"TEXT_TYPE_CODE": "text_type_code",
	"FOI_TEXT":       "narrative",

	"DEVICE_PROBLEM_CODE":  "problem_code",
	"PATIENT_PROBLEM_CODE": "problem_code",
}
