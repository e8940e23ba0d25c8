// Package schema catalogs the known column layouts of the FDA MAUDE file
// families. The publisher has grown every family's layout several times
// since 1984; a file's column count identifies its era.
package schema

import (
	"fmt"

	"github.com/openmaude/maude-etl/internal/models"
)

// Variant is one historical column layout for a file family. Immutable,
// defined at build time.
type Variant struct {
	Family      models.FileFamily
	ColumnCount int
	Columns     []string
	HasHeader   bool
	Era         string
}

// Registry resolves (family, column count) to a Variant. Contents are
// append-only data; a Registry is built once at process start and passed by
// reference into each component.
type Registry struct {
	variants map[models.FileFamily]map[int]Variant
}

// NewRegistry builds the registry from the built-in era catalog. Panics if
// two eras of one family share a column count, since that would make files
// of that family unresolvable.
func NewRegistry() *Registry {
	r := &Registry{variants: make(map[models.FileFamily]map[int]Variant)}

	r.add(Variant{models.FamilyMaster, len(masterColumns1996), masterColumns1996, true, "1996 long form"})
	r.add(Variant{models.FamilyMaster, len(masterColumns2008), masterColumns2008, true, "2008 revision"})
	r.add(Variant{models.FamilyMaster, len(masterColumnsCurrent), masterColumnsCurrent, true, "current"})

	r.add(Variant{models.FamilyDevice, len(deviceColumnsLegacy), deviceColumnsLegacy, true, "legacy"})
	r.add(Variant{models.FamilyDevice, len(deviceColumns2010), deviceColumns2010, true, "2010 revision"})
	r.add(Variant{models.FamilyDevice, len(deviceColumnsCurrent), deviceColumnsCurrent, true, "current"})

	r.add(Variant{models.FamilyPatient, len(patientColumnsLegacy), patientColumnsLegacy, true, "legacy"})
	r.add(Variant{models.FamilyPatient, len(patientColumnsCurrent), patientColumnsCurrent, true, "current"})

	r.add(Variant{models.FamilyText, len(textColumnsCurrent), textColumnsCurrent, true, "current"})

	r.add(Variant{models.FamilyDevProblem, len(devProblemColumns), devProblemColumns, false, "current"})
	r.add(Variant{models.FamilyPatientProblem, len(patientProblemColumns), patientProblemColumns, false, "current"})

	return r
}

func (r *Registry) add(v Variant) {
	byCount, ok := r.variants[v.Family]
	if !ok {
		byCount = make(map[int]Variant)
		r.variants[v.Family] = byCount
	}
	if existing, clash := byCount[v.ColumnCount]; clash {
		panic(fmt.Sprintf("schema registry: family %q eras %q and %q both have %d columns",
			v.Family, existing.Era, v.Era, v.ColumnCount))
	}
	byCount[v.ColumnCount] = v
}

// Resolve returns the variant matching the observed column count, or a
// *models.SchemaMismatchError listing every known count for the family.
func (r *Registry) Resolve(family models.FileFamily, columnCount int) (Variant, error) {
	v, ok := r.variants[family][columnCount]
	if !ok {
		return Variant{}, &models.SchemaMismatchError{
			Family:      family,
			ColumnCount: columnCount,
			KnownCounts: r.KnownCounts(family),
		}
	}
	return v, nil
}

// KnownCounts returns every registered column count for a family, ascending.
func (r *Registry) KnownCounts(family models.FileFamily) []int {
	counts := make([]int, 0, len(r.variants[family]))
	for c := range r.variants[family] {
		counts = append(counts, c)
	}
	for i := 0; i < len(counts); i++ {
		for j := i + 1; j < len(counts); j++ {
			if counts[j] < counts[i] {
				counts[i], counts[j] = counts[j], counts[i]
			}
		}
	}
	return counts
}

// Headerless reports whether every variant of the family ships without a
// header row. Header detection is skipped by configuration, not guessed.
func (r *Registry) Headerless(family models.FileFamily) bool {
	byCount := r.variants[family]
	if len(byCount) == 0 {
		return false
	}
	for _, v := range byCount {
		if v.HasHeader {
			return false
		}
	}
	return true
}

// Families returns the families the registry knows about.
func (r *Registry) Families() []models.FileFamily {
	out := make([]models.FileFamily, 0, len(r.variants))
	for _, f := range models.AllFamilies {
		if _, ok := r.variants[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Mapper translates a variant's raw column positions to canonical names.
type Mapper struct {
	variant Variant
}

// MapperFor returns a Mapper bound to one resolved variant.
func (r *Registry) MapperFor(v Variant) *Mapper {
	return &Mapper{variant: v}
}

// Map returns the canonical name for a column index. Unmapped columns get a
// synthetic "extra_<raw name>" so no publisher data is silently lost;
// mapped=false tells the caller to put the value in the Extra bucket.
func (m *Mapper) Map(index int) (name string, mapped bool) {
	if index < 0 || index >= len(m.variant.Columns) {
		return fmt.Sprintf("extra_col_%d", index), false
	}
	raw := m.variant.Columns[index]
	if canonical, ok := canonicalNames[raw]; ok {
		return canonical, true
	}
	return "extra_" + raw, false
}

// MapName resolves a raw publisher column name directly.
func MapName(raw string) (string, bool) {
	canonical, ok := canonicalNames[raw]
	return canonical, ok
}
