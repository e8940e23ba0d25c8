package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmaude/maude-etl/internal/models"
)

func ConnectDB(connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return dbpool, nil
}

// PostgresDBManager owns the store connection exclusively for one run.
type PostgresDBManager struct {
	dbpool *pgxpool.Pool
	ctx    context.Context
}

func NewPostgresDBManager(ctx context.Context, pool *pgxpool.Pool) *PostgresDBManager {
	return &PostgresDBManager{dbpool: pool, ctx: ctx}
}

func (m *PostgresDBManager) EnsureSchema() error {
	for _, family := range models.AllFamilies {
		spec := tableSpecs[family]
		if _, err := m.dbpool.Exec(m.ctx, spec.createDDL()); err != nil {
			return fmt.Errorf("error creating table %s: %w", spec.Name, err)
		}
	}

	fileRecords := `
	CREATE TABLE IF NOT EXISTS maude_file_records (
		id SERIAL PRIMARY KEY,
		file_name TEXT NOT NULL,
		family TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('base', 'add', 'change')),
		processed_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PROCESSING', 'DONE', 'DONE_WITH_ERRORS', 'FATAL')),
		checksum TEXT,
		records_loaded BIGINT NOT NULL DEFAULT 0,
		errors JSONB
	);`
	if _, err := m.dbpool.Exec(m.ctx, fileRecords); err != nil {
		return fmt.Errorf("error creating maude_file_records table: %w", err)
	}

	return nil
}

// ResetSchema drops and recreates every canonical table. Only a full
// reload run calls this; weekly syncs never do.
func (m *PostgresDBManager) ResetSchema() error {
	tables := append(TableNames(), "maude_file_records")
	for _, table := range tables {
		query := fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE;`, pgx.Identifier{table}.Sanitize())
		if _, err := m.dbpool.Exec(m.ctx, query); err != nil {
			return fmt.Errorf("error dropping table %s: %w", table, err)
		}
	}
	return m.EnsureSchema()
}

// Secondary indexes are dropped before a bulk load and recreated after, so
// the load pays index maintenance once instead of per batch.
var loadIndexes = map[string]string{
	"idx_maude_events_manufacturer": "CREATE INDEX IF NOT EXISTS idx_maude_events_manufacturer ON maude_events (manufacturer_clean);",
	"idx_maude_events_product_code": "CREATE INDEX IF NOT EXISTS idx_maude_events_product_code ON maude_events (product_code);",
	"idx_maude_events_year":         "CREATE INDEX IF NOT EXISTS idx_maude_events_year ON maude_events (year_received);",
	"idx_maude_devices_product":     "CREATE INDEX IF NOT EXISTS idx_maude_devices_product ON maude_devices (product_code);",
	"idx_maude_texts_type":          "CREATE INDEX IF NOT EXISTS idx_maude_texts_type ON maude_texts (text_type_code);",
}

func (m *PostgresDBManager) CreateLoadIndexes() error {
	for name, query := range loadIndexes {
		if _, err := m.dbpool.Exec(m.ctx, query); err != nil {
			return fmt.Errorf("error creating index %s: %w", name, err)
		}
	}
	return nil
}

func (m *PostgresDBManager) DropLoadIndexes() error {
	for name := range loadIndexes {
		query := fmt.Sprintf(`DROP INDEX IF EXISTS %s;`, pgx.Identifier{name}.Sanitize())
		if _, err := m.dbpool.Exec(m.ctx, query); err != nil {
			return fmt.Errorf("error dropping index %s: %w", name, err)
		}
	}
	return nil
}

// CreateStagingTables creates one unlogged staging table per worker so
// concurrent batch writers never contend on a shared staging area.
func (m *PostgresDBManager) CreateStagingTables(family models.FileFamily, numWorkers int) ([]string, error) {
	spec, ok := tableSpecs[family]
	if !ok {
		return nil, fmt.Errorf("no table spec for family %q", family)
	}
	if numWorkers <= 0 {
		return nil, nil
	}

	names := make([]string, numWorkers)
	for w := 1; w <= numWorkers; w++ {
		names[w-1] = fmt.Sprintf("%s_staging_w%d", spec.Name, w)
	}

	for _, name := range names {
		query := fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS);`,
			pgx.Identifier{name}.Sanitize(), pgx.Identifier{spec.Name}.Sanitize())
		if _, err := m.dbpool.Exec(m.ctx, query); err != nil {
			return nil, fmt.Errorf("error creating staging table %s: %w", name, err)
		}
	}
	return names, nil
}

func (m *PostgresDBManager) DropStagingTable(name string) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, pgx.Identifier{name}.Sanitize())
	if _, err := m.dbpool.Exec(m.ctx, query); err != nil {
		return fmt.Errorf("error dropping staging table %s: %w", name, err)
	}
	return nil
}

func (m *PostgresDBManager) copyIntoStaging(tx pgx.Tx, spec *TableSpec, stagingTable string, recs []*models.CanonicalRecord) error {
	copySource := pgx.CopyFromSlice(len(recs), func(i int) ([]any, error) {
		return spec.rowValues(recs[i])
	})

	_, err := tx.CopyFrom(m.ctx, pgx.Identifier{stagingTable}, spec.columnNames(), copySource)
	return err
}

// UpsertBatch applies one batch as a single atomic write: COPY into the
// worker's staging table, then merge into the canonical table keyed by
// report key (+ sequence for child tables). The merge prefers existing
// non-null values, so repeated loads of overlapping historical files are
// idempotent and never erase data with blanks.
func (m *PostgresDBManager) UpsertBatch(family models.FileFamily, stagingTable string, recs []*models.CanonicalRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	spec, ok := tableSpecs[family]
	if !ok {
		return 0, fmt.Errorf("no table spec for family %q", family)
	}

	tx, err := m.dbpool.Begin(m.ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(m.ctx)

	if _, err := tx.Exec(m.ctx, fmt.Sprintf(`TRUNCATE %s;`, pgx.Identifier{stagingTable}.Sanitize())); err != nil {
		return 0, fmt.Errorf("error truncating staging table %s: %w", stagingTable, err)
	}

	if err := m.copyIntoStaging(tx, spec, stagingTable, recs); err != nil {
		return 0, fmt.Errorf("unable to copy records to staging table %s: %w", stagingTable, err)
	}

	cols := spec.columnNames()
	keyList := strings.Join(spec.Keys, ", ")

	setClauses := make([]string, 0, len(cols))
	for _, col := range cols {
		if spec.isKey(col) {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(%s.%s, EXCLUDED.%s)", col, spec.Name, col, col))
	}

	// DISTINCT ON collapses duplicate keys inside a single batch; ON
	// CONFLICT cannot update the same row twice in one statement.
	mergeQuery := fmt.Sprintf(`
	INSERT INTO %s (%s)
	SELECT DISTINCT ON (%s) %s
	FROM %s
	ORDER BY %s
	ON CONFLICT (%s) DO UPDATE SET %s;`,
		spec.Name, strings.Join(cols, ", "),
		keyList, strings.Join(cols, ", "),
		pgx.Identifier{stagingTable}.Sanitize(),
		keyList,
		keyList, strings.Join(setClauses, ", "))

	tag, err := tx.Exec(m.ctx, mergeQuery)
	if err != nil {
		return 0, fmt.Errorf("error merging staging table %s into %s: %w", stagingTable, spec.Name, err)
	}

	if err := tx.Commit(m.ctx); err != nil {
		return 0, fmt.Errorf("error committing transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ApplyChangeBatch applies weekly CHANGE records: update-only, restricted
// to the given field whitelist, never an insert. Records whose key has no
// base row are counted, not failed.
func (m *PostgresDBManager) ApplyChangeBatch(family models.FileFamily, fields []string, recs []*models.CanonicalRecord) (int64, int64, error) {
	if len(recs) == 0 {
		return 0, 0, nil
	}
	spec, ok := tableSpecs[family]
	if !ok {
		return 0, 0, fmt.Errorf("no table spec for family %q", family)
	}

	tx, err := m.dbpool.Begin(m.ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(m.ctx)

	var updated, notFound int64
	for _, rec := range recs {
		setClauses := make([]string, 0, len(fields))
		args := make([]any, 0, len(fields)+len(spec.Keys))
		for _, field := range fields {
			v, present := rec.Fields[field]
			if !present || v == nil {
				continue
			}
			if sv, ok := v.(string); ok && sv == "" {
				continue
			}
			args = append(args, v)
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, len(args)))
		}
		if len(setClauses) == 0 {
			continue
		}

		values, err := spec.rowValues(rec)
		if err != nil {
			return updated, notFound, err
		}
		keyClauses := make([]string, 0, len(spec.Keys))
		for _, key := range spec.Keys {
			for i, col := range spec.Columns {
				if col.Name == key {
					args = append(args, values[i])
					keyClauses = append(keyClauses, fmt.Sprintf("%s = $%d", key, len(args)))
				}
			}
		}

		query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s;`,
			spec.Name, strings.Join(setClauses, ", "), strings.Join(keyClauses, " AND "))

		tag, err := tx.Exec(m.ctx, query, args...)
		if err != nil {
			return updated, notFound, fmt.Errorf("error applying change to %s for key %s: %w", spec.Name, rec.ReportKey, err)
		}
		if tag.RowsAffected() == 0 {
			notFound++
		} else {
			updated += tag.RowsAffected()
		}
	}

	if err := tx.Commit(m.ctx); err != nil {
		return updated, notFound, fmt.Errorf("error committing transaction: %w", err)
	}
	return updated, notFound, nil
}

// PopulateEventDeviceFields back-fills manufacturer name and product code
// from device rows onto master events. The source data only carries these
// on the device table, so device files must load first.
func (m *PostgresDBManager) PopulateEventDeviceFields() (int64, error) {
	query := `
	UPDATE maude_events e
	SET manufacturer_name = COALESCE(e.manufacturer_name, d.manufacturer_name),
		manufacturer_clean = COALESCE(e.manufacturer_clean, d.manufacturer_clean),
		product_code = COALESCE(e.product_code, d.product_code)
	FROM (
		SELECT DISTINCT ON (mdr_report_key)
			mdr_report_key, manufacturer_name, manufacturer_clean, product_code
		FROM maude_devices
		ORDER BY mdr_report_key, device_sequence_no
	) d
	WHERE d.mdr_report_key = e.mdr_report_key
	  AND (e.manufacturer_name IS NULL OR e.manufacturer_clean IS NULL OR e.product_code IS NULL);`

	tag, err := m.dbpool.Exec(m.ctx, query)
	if err != nil {
		return 0, fmt.Errorf("error populating event device fields: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (m *PostgresDBManager) InsertFileRecord(fileName string, family models.FileFamily, kind string, processedAt time.Time, status string, checksum string) (int, error) {
	query := `
	INSERT INTO maude_file_records (file_name, family, kind, processed_at, status, checksum)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id;`

	var fileID int
	err := m.dbpool.QueryRow(m.ctx, query, fileName, string(family), kind, processedAt, status, checksum).Scan(&fileID)
	if err != nil {
		return 0, fmt.Errorf("error inserting file record: %w", err)
	}
	return fileID, nil
}

func (m *PostgresDBManager) UpdateFileStatus(fileID int, status string, recordsLoaded int64, errs any) error {
	query := `
	UPDATE maude_file_records
	SET status = $1,
		records_loaded = $2,
		errors = $3
	WHERE id = $4;`

	if _, err := m.dbpool.Exec(m.ctx, query, status, recordsLoaded, errs, fileID); err != nil {
		return fmt.Errorf("error updating file status: %w", err)
	}
	return nil
}

func (m *PostgresDBManager) IsFileAlreadyProcessed(checksum string) (bool, error) {
	query := `
	SELECT id
	FROM maude_file_records
	WHERE checksum = $1 AND status IN ('DONE', 'DONE_WITH_ERRORS');`

	var id int
	err := m.dbpool.QueryRow(m.ctx, query, checksum).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("error finding file record by checksum: %w", err)
	}
	return true, nil
}

func (m *PostgresDBManager) TableCounts() (map[string]int64, error) {
	counts := make(map[string]int64, len(tableSpecs))
	for _, family := range models.AllFamilies {
		spec := tableSpecs[family]
		var n int64
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, pgx.Identifier{spec.Name}.Sanitize())
		if err := m.dbpool.QueryRow(m.ctx, query).Scan(&n); err != nil {
			// The backup phase counts tables before the schema may exist;
			// a missing table is simply zero.
			if strings.Contains(err.Error(), "does not exist") {
				counts[spec.Name] = 0
				continue
			}
			return nil, fmt.Errorf("error counting table %s: %w", spec.Name, err)
		}
		counts[spec.Name] = n
	}
	return counts, nil
}

// OrphanBuckets groups child rows with no matching master row by source
// file and year, to aid root-cause triage.
func (m *PostgresDBManager) OrphanBuckets(family models.FileFamily) ([]models.OrphanBucket, error) {
	spec, ok := tableSpecs[family]
	if !ok || family == models.FamilyMaster {
		return nil, fmt.Errorf("family %q has no child table", family)
	}

	query := fmt.Sprintf(`
	SELECT COALESCE(c.source_file, ''), COALESCE(%s, 0)::int, COUNT(*)
	FROM %s c
	WHERE NOT EXISTS (
		SELECT 1 FROM maude_events e WHERE e.mdr_report_key = c.mdr_report_key
	)
	GROUP BY 1, 2
	ORDER BY 3 DESC;`, spec.YearExpr, pgx.Identifier{spec.Name}.Sanitize())

	rows, err := m.dbpool.Query(m.ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying orphans for %s: %w", spec.Name, err)
	}
	defer rows.Close()

	var buckets []models.OrphanBucket
	for rows.Next() {
		b := models.OrphanBucket{Table: spec.Name}
		if err := rows.Scan(&b.SourceFile, &b.Year, &b.Count); err != nil {
			return nil, fmt.Errorf("error scanning orphan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orphan buckets: %w", err)
	}
	return buckets, nil
}

func (m *PostgresDBManager) CoverageRate(table string, column string) (CoverageCount, error) {
	query := fmt.Sprintf(`
	SELECT COUNT(*) FILTER (WHERE %s IS NOT NULL AND %s::text <> ''), COUNT(*)
	FROM %s;`, column, column, pgx.Identifier{table}.Sanitize())

	var c CoverageCount
	if err := m.dbpool.QueryRow(m.ctx, query).Scan(&c.Covered, &c.Total); err != nil {
		return c, fmt.Errorf("error computing coverage for %s.%s: %w", table, column, err)
	}
	return c, nil
}

// LoadedRecordTotals sums records_loaded per family per file kind from the
// provenance table, feeding the historical-vs-incremental reconciliation.
func (m *PostgresDBManager) LoadedRecordTotals() (map[string]map[string]int64, error) {
	query := `
	SELECT family, kind, COALESCE(SUM(records_loaded), 0)
	FROM maude_file_records
	WHERE status IN ('DONE', 'DONE_WITH_ERRORS')
	GROUP BY family, kind;`

	rows, err := m.dbpool.Query(m.ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying loaded record totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]map[string]int64)
	for rows.Next() {
		var family, kind string
		var n int64
		if err := rows.Scan(&family, &kind, &n); err != nil {
			return nil, fmt.Errorf("error scanning loaded totals: %w", err)
		}
		if totals[family] == nil {
			totals[family] = make(map[string]int64)
		}
		totals[family][kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loaded totals: %w", err)
	}

	log.Printf("Loaded record totals for %d families", len(totals))
	return totals, nil
}
