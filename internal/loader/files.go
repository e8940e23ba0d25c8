package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openmaude/maude-etl/internal/models"
)

// FileKind separates historical baselines from the weekly increments.
type FileKind string

const (
	KindBase   FileKind = "base"
	KindAdd    FileKind = "add"
	KindChange FileKind = "change"
)

// SourceFile is one data file found in the data directory.
type SourceFile struct {
	Path   string
	Name   string
	Family models.FileFamily
	Kind   FileKind
}

// ClassifyFile maps a publisher filename to its family and kind. The
// publisher's naming is stable: mdrfoi* master, foidev*/device* device,
// patient* patient, foitext* narrative, plus the two problem-code files.
// Problem-name checks run before the broader patient/device matches.
func ClassifyFile(name string) (SourceFile, bool) {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".txt") {
		return SourceFile{}, false
	}

	f := SourceFile{Name: name, Kind: KindBase}
	switch {
	case strings.Contains(lower, "foidevproblem"), strings.Contains(lower, "deviceproblem"):
		f.Family = models.FamilyDevProblem
	case strings.Contains(lower, "patientproblem"):
		f.Family = models.FamilyPatientProblem
	case strings.Contains(lower, "foitext"):
		f.Family = models.FamilyText
	case strings.Contains(lower, "patient"):
		f.Family = models.FamilyPatient
	case strings.Contains(lower, "foidev"), strings.HasPrefix(lower, "device"):
		f.Family = models.FamilyDevice
	case strings.Contains(lower, "mdrfoi"):
		f.Family = models.FamilyMaster
	default:
		return SourceFile{}, false
	}

	switch {
	case strings.Contains(lower, "change"):
		f.Kind = KindChange
	case strings.Contains(lower, "add"):
		f.Kind = KindAdd
	}
	return f, true
}

// ScanDataDir lists every recognizable source file, sorted by name for
// deterministic processing order.
func ScanDataDir(dataDir string) ([]SourceFile, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("error reading data directory %s: %w", dataDir, err)
	}

	var files []SourceFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok := ClassifyFile(entry.Name())
		if !ok {
			continue
		}
		f.Path = filepath.Join(dataDir, entry.Name())
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// filterFiles returns the files of one family and kind set.
func filterFiles(files []SourceFile, family models.FileFamily, kinds ...FileKind) []SourceFile {
	var out []SourceFile
	for _, f := range files {
		if f.Family != family {
			continue
		}
		for _, k := range kinds {
			if f.Kind == k {
				out = append(out, f)
				break
			}
		}
	}
	return out
}
