// Package parser streams MAUDE text files into canonical-keyed records.
// Files are pipe-delimited (comma in a few early eras), latin-1 encoded,
// and carry a header row except for the declared headerless families.
package parser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/openmaude/maude-etl/internal/models"
	"github.com/openmaude/maude-etl/internal/schema"
)

const sniffSize = 64 * 1024

// Config bounds how many bad rows a file may contain before the whole file
// is abandoned.
type Config struct {
	// MaxErrorRate is the fraction of data rows allowed to fail parsing.
	MaxErrorRate float64
	// MinErrorRows is an absolute grace count before the rate applies, so
	// a handful of bad rows at the top of a large file does not abort it.
	MinErrorRows int
}

func DefaultConfig() Config {
	return Config{MaxErrorRate: 0.05, MinErrorRows: 50}
}

// Parser turns one file at a time into a lazy sequence of CanonicalRecords.
// It auto-detects the schema variant from the header or column count and
// emits raw strings only; type coercion belongs to the transformer.
type Parser struct {
	registry *schema.Registry
	cfg      Config
}

func New(registry *schema.Registry, cfg Config) *Parser {
	if cfg.MaxErrorRate <= 0 {
		cfg.MaxErrorRate = 0.05
	}
	if cfg.MinErrorRows <= 0 {
		cfg.MinErrorRows = 50
	}
	return &Parser{registry: registry, cfg: cfg}
}

// FileResult summarizes one parsed file.
type FileResult struct {
	File    string
	Variant schema.Variant
	Records int
	Skipped []models.RowParseError
}

// ParseFile streams path, resolving its schema variant against the registry,
// and calls yield once per data row. Per-row failures are counted and
// skipped up to the configured threshold; exceeding it aborts the file with
// an error naming the offending row. A yield error aborts immediately
// (cooperative cancellation).
func (p *Parser) ParseFile(path string, family models.FileFamily, yield func(*models.CanonicalRecord) error) (*FileResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	buffered := bufio.NewReaderSize(file, sniffSize)
	head, _ := buffered.Peek(sniffSize)

	reader := csv.NewReader(decodingReader(buffered, head))
	reader.Comma = sniffDelimiter(head)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	result := &FileResult{File: filepath.Base(path)}

	headerless := p.registry.Headerless(family)
	row := 0

	var (
		variant  schema.Variant
		mapper   *schema.Mapper
		resolved bool
	)

	if !headerless {
		header, err := reader.Read()
		if err != nil {
			return nil, &models.FileError{File: result.File, Message: "failed to read header row", Err: err}
		}
		row = 1
		variant, err = p.registry.Resolve(family, len(header))
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(strings.TrimSpace(header[0]), variant.Columns[0]) {
			return nil, &models.FileError{
				File:    result.File,
				Message: fmt.Sprintf("header starts with %q, expected %q for family %q", strings.TrimSpace(header[0]), variant.Columns[0], family),
			}
		}
		mapper = p.registry.MapperFor(variant)
		resolved = true
	}

	dataRows := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			dataRows++
			if abortErr := p.recordSkip(result, row, fmt.Sprintf("unreadable row: %v", err), dataRows); abortErr != nil {
				return result, abortErr
			}
			continue
		}

		// Headerless families resolve their variant from the first data row.
		if !resolved {
			variant, err = p.registry.Resolve(family, len(record))
			if err != nil {
				return nil, err
			}
			mapper = p.registry.MapperFor(variant)
			resolved = true
		}

		dataRows++
		if len(record) != variant.ColumnCount {
			if abortErr := p.recordSkip(result, row,
				fmt.Sprintf("expected %d columns, got %d", variant.ColumnCount, len(record)), dataRows); abortErr != nil {
				return result, abortErr
			}
			continue
		}

		rec := buildRecord(record, family, result.File, row, mapper)
		if rec.ReportKey == "" {
			if abortErr := p.recordSkip(result, row, "missing MDR_REPORT_KEY", dataRows); abortErr != nil {
				return result, abortErr
			}
			continue
		}

		if err := yield(rec); err != nil {
			return result, err
		}
		result.Records++
	}

	result.Variant = variant
	return result, nil
}

// ResolveFile opens just enough of a file to resolve its schema variant.
// Used by the validate_files phase to reject unknown layouts before any
// loading starts.
func (p *Parser) ResolveFile(path string, family models.FileFamily) (schema.Variant, error) {
	file, err := os.Open(path)
	if err != nil {
		return schema.Variant{}, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	buffered := bufio.NewReaderSize(file, sniffSize)
	head, _ := buffered.Peek(sniffSize)

	reader := csv.NewReader(decodingReader(buffered, head))
	reader.Comma = sniffDelimiter(head)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	first, err := reader.Read()
	if err != nil {
		return schema.Variant{}, &models.FileError{File: filepath.Base(path), Message: "failed to read first row", Err: err}
	}
	return p.registry.Resolve(family, len(first))
}

func (p *Parser) recordSkip(result *FileResult, row int, cause string, dataRows int) error {
	result.Skipped = append(result.Skipped, models.RowParseError{File: result.File, Row: row, Cause: cause})
	if len(result.Skipped) <= p.cfg.MinErrorRows {
		return nil
	}
	rate := float64(len(result.Skipped)) / float64(dataRows)
	if rate > p.cfg.MaxErrorRate {
		return &models.FileError{
			File: result.File,
			Message: fmt.Sprintf("row error rate %.1f%% exceeds %.1f%% after row %d (%s)",
				rate*100, p.cfg.MaxErrorRate*100, row, cause),
		}
	}
	return nil
}

func buildRecord(record []string, family models.FileFamily, sourceFile string, row int, mapper *schema.Mapper) *models.CanonicalRecord {
	rec := models.NewCanonicalRecord(family, sourceFile, row)
	for i, value := range record {
		value = strings.TrimSpace(value)
		name, mapped := mapper.Map(i)
		if mapped {
			rec.Fields[name] = value
		} else if value != "" {
			rec.Extra[name] = value
		}
	}
	rec.ReportKey = rec.GetString("mdr_report_key")
	return rec
}

// sniffDelimiter prefers the pipe and falls back to the comma, matching the
// publisher's two delivery formats.
func sniffDelimiter(head []byte) rune {
	line := head
	if i := strings.IndexByte(string(head), '\n'); i >= 0 {
		line = head[:i]
	}
	if strings.Count(string(line), "|") > 0 {
		return '|'
	}
	return ','
}

// decodingReader passes valid UTF-8 through and reinterprets anything else
// as Windows-1252, the publisher's actual encoding.
func decodingReader(r io.Reader, head []byte) io.Reader {
	// The peek may split a multibyte rune at the boundary; trim up to three
	// trailing continuation bytes before judging validity.
	trimmed := head
	for i := 0; i < 3 && len(trimmed) > 0 && !utf8.Valid(trimmed); i++ {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if utf8.Valid(trimmed) {
		return r
	}
	return transform.NewReader(r, charmap.Windows1252.NewDecoder())
}
