package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gastos/internal/analyzer"
	"gastos/internal/core"
	"gastos/internal/sources"

	_ "modernc.org/sqlite"
)

var ErrNotFound = core.ErrNotFound

var _ sources.DatasetStore = (*SQLiteRepository)(nil)

type SQLiteRepository struct {
	db *sql.DB
}

// Snapshot is a stored analysis result.
type Snapshot struct {
	ID          int64                    `json:"id"`
	DatasetID   string                   `json:"datasetId"`
	GeneratedAt time.Time                `json:"geradoEm"`
	Alerts      int                      `json:"numAlertas"`
	High        int                      `json:"alta"`
	Medium      int                      `json:"media"`
	Low         int                      `json:"baixa"`
	Result      *analyzer.AnalysisResult `json:"resultado"`
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("SQLite schema ready", "db_path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db}, nil
}

func dsn(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateDataset(ctx context.Context, ds core.Dataset) error {
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, source, record_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, string(ds.Source), ds.RecordCount, formatTime(ds.CreatedAt))
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	return nil
}

// InsertRecords appends records to a dataset in one transaction and updates
// its record count.
func (r *SQLiteRepository) InsertRecords(ctx context.Context, datasetID string, records []core.ExpenseRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM expense_records WHERE dataset_id = ?`, datasetID).Scan(&next); err != nil {
		return fmt.Errorf("read next sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO expense_records (
		dataset_id, seq, legislator_name, legislator_id, state, party, category,
		supplier_name, supplier_tax_id, document_number, issue_date,
		gross_amount, withheld_amount, net_amount, ref_month, ref_year, document_url
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		issued := ""
		if !rec.IssueDate.IsZero() {
			issued = formatTime(rec.IssueDate)
		}
		if _, err := stmt.ExecContext(ctx,
			datasetID, next+int64(i), rec.LegislatorName, rec.LegislatorID, rec.State, rec.Party, rec.Category,
			rec.SupplierName, rec.SupplierTaxID, rec.DocumentNumber, issued,
			finite(rec.GrossAmount), finite(rec.WithheldAmount), finite(rec.NetAmount),
			rec.Month, rec.Year, rec.DocumentURL,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE datasets SET record_count = record_count + ? WHERE id = ?`, len(records), datasetID)
	if err != nil {
		return fmt.Errorf("update record count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dataset %s: %w", datasetID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}

	slog.InfoContext(ctx, "Records saved to SQLite", "dataset_id", datasetID, "records", len(records))
	return nil
}

func (r *SQLiteRepository) ListDatasets(ctx context.Context) ([]core.Dataset, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, source, record_count, created_at FROM datasets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	out := make([]core.Dataset, 0)
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetDataset(ctx context.Context, id string) (core.Dataset, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, source, record_count, created_at FROM datasets WHERE id = ?`, id)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Dataset{}, fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	return ds, err
}

// DeleteDataset removes a dataset with its records and snapshots.
func (r *SQLiteRepository) DeleteDataset(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dataset %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM expense_records WHERE dataset_id = ?`, id); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_snapshots WHERE dataset_id = ?`, id); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return tx.Commit()
}

// FetchRecords implements sources.RecordSource. State and party are filtered
// in SQL; period and legislator filters follow core.RecordQuery.Matches so the
// issue-date fallback behaves like every other source.
func (r *SQLiteRepository) FetchRecords(ctx context.Context, q core.RecordQuery) ([]core.ExpenseRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.DatasetID != "" {
		if _, err := r.GetDataset(ctx, q.DatasetID); err != nil {
			return nil, err
		}
	}

	var (
		where []string
		args  []any
	)
	if q.DatasetID != "" {
		where = append(where, "dataset_id = ?")
		args = append(args, q.DatasetID)
	}
	if q.State != "" {
		where = append(where, "state = ? COLLATE NOCASE")
		args = append(args, q.State)
	}
	if q.Party != "" {
		where = append(where, "party = ? COLLATE NOCASE")
		args = append(args, q.Party)
	}
	query := `SELECT legislator_name, legislator_id, state, party, category, supplier_name,
		supplier_tax_id, document_number, issue_date, gross_amount, withheld_amount,
		net_amount, ref_month, ref_year, document_url FROM expense_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY dataset_id, seq"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]core.ExpenseRecord, 0)
	for rows.Next() {
		var (
			rec    core.ExpenseRecord
			issued string
		)
		if err := rows.Scan(&rec.LegislatorName, &rec.LegislatorID, &rec.State, &rec.Party, &rec.Category,
			&rec.SupplierName, &rec.SupplierTaxID, &rec.DocumentNumber, &issued, &rec.GrossAmount,
			&rec.WithheldAmount, &rec.NetAmount, &rec.Month, &rec.Year, &rec.DocumentURL); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if issued != "" {
			rec.IssueDate = parseTime(issued)
		}
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// SaveSnapshot stores an analysis result for a dataset.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, datasetID string, result *analyzer.AnalysisResult, generatedAt time.Time) (int64, error) {
	if result == nil {
		return 0, errors.New("save snapshot: nil result")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	counts := result.CountBySeverity()
	res, err := r.db.ExecContext(ctx, `INSERT INTO analysis_snapshots (
		dataset_id, generated_at, alert_count, high_count, medium_count, low_count, result_json
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		datasetID, formatTime(generatedAt), len(result.Alerts),
		counts[analyzer.SeverityHigh], counts[analyzer.SeverityMedium], counts[analyzer.SeverityLow],
		string(payload))
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the most recent snapshot of a dataset.
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context, datasetID string) (*Snapshot, error) {
	var (
		s         Snapshot
		generated string
		payload   string
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, dataset_id, generated_at, alert_count, high_count,
		medium_count, low_count, result_json FROM analysis_snapshots
		WHERE dataset_id = ? ORDER BY id DESC LIMIT 1`, datasetID).
		Scan(&s.ID, &s.DatasetID, &generated, &s.Alerts, &s.High, &s.Medium, &s.Low, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for %s: %w", datasetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	s.GeneratedAt = parseTime(generated)

	var result analyzer.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s.Result = &result
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(s scanner) (core.Dataset, error) {
	var (
		ds      core.Dataset
		source  string
		created string
	)
	if err := s.Scan(&ds.ID, &ds.Name, &source, &ds.RecordCount, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ds, err
		}
		return ds, fmt.Errorf("scan dataset: %w", err)
	}
	ds.Source = core.DatasetSource(source)
	ds.CreatedAt = parseTime(created)
	return ds, nil
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// finite keeps NaN and infinities out of REAL columns.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
