package transform

import "strings"

// Corporate suffixes stripped from the tail of manufacturer names. Stripped
// repeatedly, so "ACME MEDICAL CORP INC" reduces to "ACME MEDICAL".
var corporateSuffixes = map[string]bool{
	"INC":          true,
	"INCORPORATED": true,
	"CORP":         true,
	"CORPORATION":  true,
	"LLC":          true,
	"LTD":          true,
	"LIMITED":      true,
	"CO":           true,
	"COMPANY":      true,
	"GMBH":         true,
	"SA":           true,
	"AG":           true,
	"BV":           true,
	"PLC":          true,
}

// defaultAliases folds known subsidiary and plant names onto the parent
// manufacturer, applied after suffix stripping. The FDA files spell the
// same company dozens of ways.
var defaultAliases = map[string]string{
	"MEDTRONIC MINIMED":                 "MEDTRONIC",
	"MEDTRONIC PUERTO RICO OPERATIONS":  "MEDTRONIC",
	"MEDTRONIC NEUROMODULATION":         "MEDTRONIC",
	"ABBOTT DIABETES CARE":              "ABBOTT",
	"ABBOTT VASCULAR":                   "ABBOTT",
	"ST JUDE MEDICAL":                   "ABBOTT",
	"BOSTON SCIENTIFIC NEUROMODULATION": "BOSTON SCIENTIFIC",
	"DEPUY ORTHOPAEDICS":                "DEPUY",
	"DEPUY SYNTHES PRODUCTS":            "DEPUY",
	"ETHICON ENDO SURGERY":              "ETHICON",
	"ZIMMER US":                         "ZIMMER BIOMET",
	"ZIMMER":                            "ZIMMER BIOMET",
	"BIOMET":                            "ZIMMER BIOMET",
	"SMITHS MEDICAL ASD":                "SMITHS MEDICAL",
	"BECTON DICKINSON":                  "BD",
	"BAXTER HEALTHCARE":                 "BAXTER",
}

// CleanManufacturer normalizes a raw manufacturer name: uppercase, strip
// punctuation, collapse whitespace, drop trailing corporate suffixes, then
// fold through the alias table.
func (t *Transformer) CleanManufacturer(raw string) string {
	upper := strings.ToUpper(raw)

	var b strings.Builder
	b.Grow(len(upper))
	for _, r := range upper {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for len(tokens) > 1 && corporateSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}

	cleaned := strings.Join(tokens, " ")
	if alias, ok := t.aliases[cleaned]; ok {
		return alias
	}
	return cleaned
}
