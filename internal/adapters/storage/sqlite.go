package storage

// sqlite.go - histórico de evaluaciones.
//
// Tablas:
//   - `batches`: una fila por batch de simulaciones con su agregado.
//   - `simulations`: una fila por seed del batch, las fallidas incluidas con su error.
//   - `validations`: una fila por reporte de validación; cada check se guarda como JSON.
//
// Los tiempos se guardan como texto RFC 3339 de ancho fijo en UTC para que ordenen como
// texto. Las duraciones van en nanosegundos.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/propamm/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
    id           TEXT PRIMARY KEY,
    strategy     TEXT    NOT NULL,
    form         TEXT    NOT NULL,
    simulations  INTEGER NOT NULL DEFAULT 0,
    succeeded    INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    success_rate REAL    NOT NULL DEFAULT 0,
    avg_edge     REAL    NOT NULL DEFAULT 0,
    started_at   TEXT    NOT NULL,
    duration_ns  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS simulations (
    batch_id          TEXT    NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    seed              INTEGER NOT NULL,
    sigma             REAL    NOT NULL,
    arrival_rate      REAL    NOT NULL,
    mean_size         REAL    NOT NULL,
    edge              REAL    NOT NULL DEFAULT 0,
    submission_trades INTEGER NOT NULL DEFAULT 0,
    retail_trades     INTEGER NOT NULL DEFAULT 0,
    arb_trades        INTEGER NOT NULL DEFAULT 0,
    steps             INTEGER NOT NULL DEFAULT 0,
    peak_units        INTEGER NOT NULL DEFAULT 0,
    err_kind          TEXT,
    err_msg           TEXT,
    PRIMARY KEY (batch_id, seed)
);

CREATE TABLE IF NOT EXISTS validations (
    id              TEXT PRIMARY KEY,
    strategy        TEXT    NOT NULL,
    passed          INTEGER NOT NULL,
    parity_advisory INTEGER NOT NULL DEFAULT 0,
    monotonicity    TEXT    NOT NULL,
    convexity       TEXT    NOT NULL,
    budget          TEXT    NOT NULL,
    parity          TEXT    NOT NULL,
    created_at      TEXT    NOT NULL,
    duration_ns     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_batches_strategy    ON batches(strategy, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_validations_strategy ON validations(strategy, created_at DESC);
`

// ErrNotFound lo devuelven las búsquedas que no encuentran fila.
var ErrNotFound = errors.New("not found")

// SQLiteStorage implementa ports.ResultStorage usando SQLite (Go puro, sin cgo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en path y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// SaveBatch persiste el resumen del batch y cada simulación en una transacción.
func (s *SQLiteStorage) SaveBatch(ctx context.Context, b domain.BatchReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveBatch: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batches
			(id, strategy, form, simulations, succeeded, failed, success_rate, avg_edge, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Strategy, string(b.Form), b.Simulations, b.Succeeded, b.Failed,
		b.SuccessRate, b.AvgEdge, formatTime(b.StartedAt), int64(b.Duration),
	); err != nil {
		return fmt.Errorf("storage.SaveBatch: insert batch %s: %w", b.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO simulations
			(batch_id, seed, sigma, arrival_rate, mean_size, edge, submission_trades,
			 retail_trades, arb_trades, steps, peak_units, err_kind, err_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveBatch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range b.Results {
		kind, msg := errorColumns(r.Err)
		if _, err := stmt.ExecContext(ctx,
			b.ID, int64(r.Seed), r.Params.Sigma, r.Params.ArrivalRate, r.Params.MeanSize,
			r.Edge, r.SubmissionTrades, r.RetailTrades, r.ArbTrades, r.Steps, int64(r.PeakUnits),
			kind, msg,
		); err != nil {
			return fmt.Errorf("storage.SaveBatch: insert seed %d: %w", r.Seed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveBatch: commit: %w", err)
	}
	return nil
}

// GetBatch carga un batch y sus simulaciones ordenadas por seed.
func (s *SQLiteStorage) GetBatch(ctx context.Context, id string) (domain.BatchReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, form, simulations, succeeded, failed, success_rate, avg_edge, started_at, duration_ns
		FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BatchReport{}, fmt.Errorf("storage.GetBatch: %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.BatchReport{}, fmt.Errorf("storage.GetBatch: scan batch: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seed, sigma, arrival_rate, mean_size, edge, submission_trades,
		       retail_trades, arb_trades, steps, peak_units, err_kind, err_msg
		FROM simulations WHERE batch_id = ? ORDER BY seed`, id)
	if err != nil {
		return domain.BatchReport{}, fmt.Errorf("storage.GetBatch: query simulations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.SimResult
		var seed, peak int64
		var kind, msg sql.NullString
		if err := rows.Scan(
			&seed, &r.Params.Sigma, &r.Params.ArrivalRate, &r.Params.MeanSize,
			&r.Edge, &r.SubmissionTrades, &r.RetailTrades, &r.ArbTrades, &r.Steps, &peak,
			&kind, &msg,
		); err != nil {
			return domain.BatchReport{}, fmt.Errorf("storage.GetBatch: scan simulation: %w", err)
		}
		r.Seed = uint64(seed)
		r.Params.Seed = r.Seed
		r.PeakUnits = uint64(peak)
		r.Err = restoreError(kind, msg)
		b.Results = append(b.Results, r)
	}
	return b, rows.Err()
}

// ListBatches devuelve resúmenes de batches, el más reciente primero. strategy vacío lista todos.
func (s *SQLiteStorage) ListBatches(ctx context.Context, strategy string, limit int) ([]domain.BatchReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, form, simulations, succeeded, failed, success_rate, avg_edge, started_at, duration_ns
		FROM batches
		WHERE ? = '' OR strategy = ?
		ORDER BY started_at DESC
		LIMIT ?`, strategy, strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListBatches: query: %w", err)
	}
	defer rows.Close()

	var out []domain.BatchReport
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListBatches: scan row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveValidation persiste un reporte de validación.
func (s *SQLiteStorage) SaveValidation(ctx context.Context, v domain.ValidationReport) error {
	checks := make([]string, 0, 4)
	for _, c := range []any{
		newCheckRow(v.Monotonicity),
		newCheckRow(v.Convexity),
		budgetRow{checkRow: newCheckRow(v.Budget.CheckResult), PeakUnits: v.Budget.PeakUnits, Limit: v.Budget.Limit},
		parityRow{checkRow: newCheckRow(v.Parity.CheckResult), Samples: v.Parity.Samples, WorstAbs: v.Parity.WorstAbs, WorstRel: v.Parity.WorstRel},
	} {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("storage.SaveValidation: encode check: %w", err)
		}
		checks = append(checks, string(data))
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO validations
			(id, strategy, passed, parity_advisory, monotonicity, convexity, budget, parity, created_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Strategy, boolInt(v.Passed()), boolInt(v.ParityAdvisory), checks[0], checks[1], checks[2], checks[3],
		formatTime(v.CreatedAt), int64(v.Duration),
	); err != nil {
		return fmt.Errorf("storage.SaveValidation: insert %s: %w", v.ID, err)
	}
	return nil
}

// LatestValidation devuelve el reporte más reciente de strategy.
func (s *SQLiteStorage) LatestValidation(ctx context.Context, strategy string) (domain.ValidationReport, error) {
	var v domain.ValidationReport
	var passed, advisory int
	var mono, convex, budget, parity, created string
	var dur int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, strategy, passed, parity_advisory, monotonicity, convexity, budget, parity, created_at, duration_ns
		FROM validations WHERE strategy = ?
		ORDER BY created_at DESC LIMIT 1`, strategy,
	).Scan(&v.ID, &v.Strategy, &passed, &advisory, &mono, &convex, &budget, &parity, &created, &dur)
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("storage.LatestValidation: %s: %w", strategy, ErrNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("storage.LatestValidation: scan: %w", err)
	}

	var m, c checkRow
	var b budgetRow
	var p parityRow
	for _, d := range []struct {
		raw string
		dst any
	}{{mono, &m}, {convex, &c}, {budget, &b}, {parity, &p}} {
		if err := json.Unmarshal([]byte(d.raw), d.dst); err != nil {
			return v, fmt.Errorf("storage.LatestValidation: decode check: %w", err)
		}
	}
	v.Monotonicity = m.result()
	v.Convexity = c.result()
	v.Budget = domain.BudgetResult{CheckResult: b.result(), PeakUnits: b.PeakUnits, Limit: b.Limit}
	v.Parity = domain.ParityResult{CheckResult: p.result(), Samples: p.Samples, WorstAbs: p.WorstAbs, WorstRel: p.WorstRel}
	v.ParityAdvisory = advisory == 1
	v.CreatedAt, _ = time.Parse(timeLayout, created)
	v.Duration = time.Duration(dur)
	return v, nil
}

// Close cierra la base de datos limpiamente.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (domain.BatchReport, error) {
	var b domain.BatchReport
	var form, started string
	var dur int64
	if err := row.Scan(&b.ID, &b.Strategy, &form, &b.Simulations, &b.Succeeded, &b.Failed,
		&b.SuccessRate, &b.AvgEdge, &started, &dur); err != nil {
		return b, err
	}
	b.Form = domain.BackendForm(form)
	b.StartedAt, _ = time.Parse(timeLayout, started)
	b.Duration = time.Duration(dur)
	return b, nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// storedError es un error leído de la base de datos. Conserva su tipo para errors.Is.
type storedError struct {
	kind error
	msg  string
}

func (e *storedError) Error() string { return e.msg }
func (e *storedError) Unwrap() error { return e.kind }

func errorColumns(err error) (kind, msg sql.NullString) {
	if err == nil {
		return kind, msg
	}
	if k := domain.KindOf(err); k != nil {
		kind = sql.NullString{String: k.Error(), Valid: true}
	}
	return kind, sql.NullString{String: err.Error(), Valid: true}
}

func restoreError(kind, msg sql.NullString) error {
	if !msg.Valid {
		return nil
	}
	return &storedError{kind: domain.KindByName(kind.String), msg: msg.String}
}

type checkRow struct {
	Passed    bool              `json:"passed"`
	Skipped   bool              `json:"skipped"`
	Probes    int               `json:"probes"`
	Violation *domain.Violation `json:"violation,omitempty"`
	ErrKind   string            `json:"err_kind,omitempty"`
	ErrMsg    string            `json:"err,omitempty"`
}

type budgetRow struct {
	checkRow
	PeakUnits uint64 `json:"peak_units"`
	Limit     uint64 `json:"limit"`
}

type parityRow struct {
	checkRow
	Samples  int     `json:"samples"`
	WorstAbs uint64  `json:"worst_abs"`
	WorstRel float64 `json:"worst_rel"`
}

func newCheckRow(c domain.CheckResult) checkRow {
	row := checkRow{Passed: c.Passed, Skipped: c.Skipped, Probes: c.Probes, Violation: c.Violation}
	kind, msg := errorColumns(c.Err)
	row.ErrKind, row.ErrMsg = kind.String, msg.String
	return row
}

func (r checkRow) result() domain.CheckResult {
	c := domain.CheckResult{Passed: r.Passed, Skipped: r.Skipped, Probes: r.Probes, Violation: r.Violation}
	if r.ErrMsg != "" {
		c.Err = &storedError{kind: domain.KindByName(r.ErrKind), msg: r.ErrMsg}
	}
	return c
}
