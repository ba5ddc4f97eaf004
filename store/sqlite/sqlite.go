/*
Package sqlite provides the SQLite-backed implementation of clinic.TxStore.

PURPOSE:
  Implements the full persistence surface (sessions, projects, plans,
  payments, refunds, directory records, ledger snapshots) on SQLite. In
  production the same patterns apply to PostgreSQL - only minor dialect
  differences.

KEY TABLES:
  sessions:   Scheduled encounters with lifecycle state and billing
  projects:   Fixed-price session bundles
  plans:      Monthly fixed-price bundles
  payments:   Append-only inflows; only the voided flag mutates
  refunds:    Immutable outflows
  snapshots:  Cached per-patient ledger recomputations
  receipts:   Monotonic sequences behind REC-/CRE-/DEV- numbering

INDEXES:
  - idx_sessions_committed: conflict scans by (date, state) (hot path)
  - idx_unique_patient_slot: last-resort backstop against two committed
    sessions of one patient sharing a (date, start); the application
    lock over check-then-insert remains the primary defense because the
    index cannot catch overlapping-but-different-start slots
  - idx_payments_patient / idx_payments_session: ledger recomputation

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers, a single writer, better crash recovery.

MONEY:
  Monetary columns are TEXT holding decimal strings; they are parsed
  through shopspring/decimal and never pass through a float.

USAGE:
  store, err := sqlite.New("./data/clinic.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - clinic/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/praxia/clinic-engine/clinic"
)

// querier is satisfied by both *sql.DB and *sql.Tx so every method can
// run inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements clinic.TxStore on SQLite.
type Store struct {
	db *sql.DB
	q  querier
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between the pool's
	// writers; WAL still allows concurrent readers through it.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn with a Store bound to one transaction; fn's error rolls
// everything back.
func (s *Store) WithTx(ctx context.Context, fn func(clinic.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

var _ clinic.TxStore = (*Store)(nil)

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sessions (scheduled encounters)
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		professional_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		project_id TEXT,
		plan_id TEXT,
		date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		state TEXT NOT NULL,
		amount TEXT NOT NULL,
		original_amount TEXT,
		notes TEXT,
		resched_date TEXT,
		resched_start INTEGER,
		resched_reason TEXT,
		replacement_booked BOOLEAN NOT NULL DEFAULT FALSE,
		actual_start INTEGER,
		minutes_late INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		modified_by TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	-- Conflict scans: committed sessions of a party on a date (hot path)
	CREATE INDEX IF NOT EXISTS idx_sessions_patient_date
		ON sessions(patient_id, date);
	CREATE INDEX IF NOT EXISTS idx_sessions_professional_date
		ON sessions(professional_id, date);
	CREATE INDEX IF NOT EXISTS idx_sessions_committed
		ON sessions(date, state);
	CREATE INDEX IF NOT EXISTS idx_sessions_project
		ON sessions(project_id) WHERE project_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_plan
		ON sessions(plan_id) WHERE plan_id IS NOT NULL;

	-- Backstop: one committed session per (patient, date, start). The
	-- application lock remains the primary defense against overlap.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_patient_slot
		ON sessions(patient_id, date, start_min)
		WHERE state IN ('scheduled', 'completed', 'completed_late');

	-- Projects (fixed-price bundles)
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		original_price TEXT,
		state TEXT NOT NULL,
		start_date TEXT NOT NULL,
		estimated_end TEXT,
		actual_end TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		modified_by TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_patient
		ON projects(patient_id);

	-- Monthly plans
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		price TEXT NOT NULL,
		original_price TEXT,
		state TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		modified_by TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_patient
		ON plans(patient_id);

	-- Payments (append-only except the voided flag and the target ref)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		receipt_no TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		session_id TEXT,
		project_id TEXT,
		plan_id TEXT,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		concept TEXT,
		notes TEXT,
		voided BOOLEAN NOT NULL DEFAULT FALSE,
		void_reason TEXT,
		voided_by TEXT,
		voided_at TEXT,
		transfer_pending BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		modified_by TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_patient
		ON payments(patient_id, date);
	CREATE INDEX IF NOT EXISTS idx_payments_session
		ON payments(session_id) WHERE session_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_project
		ON payments(project_id) WHERE project_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_plan
		ON payments(plan_id) WHERE plan_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_draws
		ON payments(patient_id, created_at) WHERE method = 'credit_draw';

	-- Refunds (immutable)
	CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		receipt_no TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		project_id TEXT,
		plan_id TEXT,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT NOT NULL,
		method TEXT,
		notes TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		modified_by TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_refunds_patient
		ON refunds(patient_id, date);
	CREATE INDEX IF NOT EXISTS idx_refunds_project
		ON refunds(project_id) WHERE project_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_refunds_plan
		ON refunds(plan_id) WHERE plan_id IS NOT NULL;

	-- Directory
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		branches_json TEXT NOT NULL DEFAULT '[]',
		prices_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS professionals (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		branches_json TEXT NOT NULL DEFAULT '[]',
		services_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		default_price TEXT
	);

	-- Ledger snapshots (cache of the recomputation)
	CREATE TABLE IF NOT EXISTS snapshots (
		patient_id TEXT PRIMARY KEY,
		total_consumed TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		available_credit TEXT NOT NULL,
		debt TEXT NOT NULL,
		balance TEXT NOT NULL,
		computed_at TEXT NOT NULL
	);

	-- Receipt sequences (REC-/CRE-/DEV-)
	CREATE TABLE IF NOT EXISTS receipts (
		kind TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, patient_id, professional_id, branch_id, service_id,
	project_id, plan_id, date, start_min, end_min, state, amount, original_amount,
	notes, resched_date, resched_start, resched_reason, replacement_booked,
	actual_start, minutes_late, created_by, created_at, modified_by, modified_at`

func (s *Store) CreateSession(ctx context.Context, sess *clinic.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		sess.ID,
		sess.PatientID,
		sess.ProfessionalID,
		sess.BranchID,
		sess.ServiceID,
		nullID(sess.ProjectID),
		nullID(sess.PlanID),
		sess.Date.String(),
		int(sess.Slot.Start),
		int(sess.Slot.End),
		sess.State,
		sess.Amount.String(),
		nullMoney(sess.OriginalAmount),
		nullString(sess.Notes),
		nullDate(sess.RescheduledDate),
		nullClock(sess.RescheduledStart),
		nullString(sess.RescheduleReason),
		sess.ReplacementBooked,
		nullClock(sess.ActualStart),
		sess.MinutesLate,
		sess.Audit.CreatedBy,
		formatTime(sess.Audit.CreatedAt),
		sess.Audit.ModifiedBy,
		formatTime(sess.Audit.ModifiedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("slot %s %s: %w", sess.Date, sess.Slot, clinic.ErrDuplicateSlot)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id clinic.SessionID) (*clinic.Session, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "session", ID: string(id)}
	}
	return sess, err
}

func (s *Store) UpdateSession(ctx context.Context, sess *clinic.Session) error {
	// Slot fields are immutable and deliberately absent from the SET list.
	query := `
		UPDATE sessions SET
			project_id = ?, plan_id = ?, state = ?, amount = ?, original_amount = ?,
			notes = ?, resched_date = ?, resched_start = ?, resched_reason = ?,
			replacement_booked = ?, actual_start = ?, minutes_late = ?,
			modified_by = ?, modified_at = ?
		WHERE id = ?
	`
	res, err := s.q.ExecContext(ctx, query,
		nullID(sess.ProjectID),
		nullID(sess.PlanID),
		sess.State,
		sess.Amount.String(),
		nullMoney(sess.OriginalAmount),
		nullString(sess.Notes),
		nullDate(sess.RescheduledDate),
		nullClock(sess.RescheduledStart),
		nullString(sess.RescheduleReason),
		sess.ReplacementBooked,
		nullClock(sess.ActualStart),
		sess.MinutesLate,
		sess.Audit.ModifiedBy,
		formatTime(sess.Audit.ModifiedAt),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res, "session", string(sess.ID))
}

func (s *Store) ListCommittedSessions(ctx context.Context, date clinic.DayDate, patient clinic.PatientID, professional clinic.ProfessionalID) ([]*clinic.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE date = ? AND state IN ('scheduled', 'completed', 'completed_late')
	`
	args := []any{date.String()}
	if patient != "" {
		query += ` AND patient_id = ?`
		args = append(args, patient)
	}
	if professional != "" {
		query += ` AND professional_id = ?`
		args = append(args, professional)
	}
	query += ` ORDER BY start_min ASC`
	return s.querySessions(ctx, query, args...)
}

func (s *Store) ListSessionsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE patient_id = ? ORDER BY date ASC, start_min ASC`,
		patient)
}

func (s *Store) ListSessionsByProject(ctx context.Context, project clinic.ProjectID) ([]*clinic.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_id = ? ORDER BY date ASC, start_min ASC`,
		project)
}

func (s *Store) ListSessionsByPlan(ctx context.Context, plan clinic.PlanID) ([]*clinic.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE plan_id = ? ORDER BY date ASC, start_min ASC`,
		plan)
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]*clinic.Session, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*clinic.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*clinic.Session, error) {
	var (
		sess                               clinic.Session
		projectID, planID                  sql.NullString
		date                               string
		startMin, endMin                   int
		amount                             string
		originalAmount                     sql.NullString
		notes, reschedReason               sql.NullString
		reschedDate                        sql.NullString
		reschedStart, actualStart          sql.NullInt64
		createdBy, createdAt               string
		modifiedBy, modifiedAt             string
	)
	err := row.Scan(
		&sess.ID, &sess.PatientID, &sess.ProfessionalID, &sess.BranchID, &sess.ServiceID,
		&projectID, &planID, &date, &startMin, &endMin, &sess.State, &amount, &originalAmount,
		&notes, &reschedDate, &reschedStart, &reschedReason, &sess.ReplacementBooked,
		&actualStart, &sess.MinutesLate, &createdBy, &createdAt, &modifiedBy, &modifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if projectID.Valid {
		id := clinic.ProjectID(projectID.String)
		sess.ProjectID = &id
	}
	if planID.Valid {
		id := clinic.PlanID(planID.String)
		sess.PlanID = &id
	}
	if sess.Date, err = clinic.ParseDayDate(date); err != nil {
		return nil, err
	}
	sess.Slot = clinic.NewTimeSlot(clinic.ClockTime(startMin), clinic.ClockTime(endMin))
	if sess.Amount, err = parseMoney(amount); err != nil {
		return nil, err
	}
	if originalAmount.Valid {
		m, err := parseMoney(originalAmount.String)
		if err != nil {
			return nil, err
		}
		sess.OriginalAmount = &m
	}
	sess.Notes = notes.String
	sess.RescheduleReason = reschedReason.String
	if reschedDate.Valid {
		d, err := clinic.ParseDayDate(reschedDate.String)
		if err != nil {
			return nil, err
		}
		sess.RescheduledDate = &d
	}
	if reschedStart.Valid {
		c := clinic.ClockTime(reschedStart.Int64)
		sess.RescheduledStart = &c
	}
	if actualStart.Valid {
		c := clinic.ClockTime(actualStart.Int64)
		sess.ActualStart = &c
	}
	sess.Audit = scanAudit(createdBy, createdAt, modifiedBy, modifiedAt)
	return &sess, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectColumns = `id, patient_id, name, price, original_price, state,
	start_date, estimated_end, actual_end, created_by, created_at, modified_by, modified_at`

func (s *Store) CreateProject(ctx context.Context, p *clinic.Project) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		p.ID, p.PatientID, p.Name, p.Price.String(), nullMoney(p.OriginalPrice), p.State,
		p.StartDate.String(), nullDate(p.EstimatedEnd), nullDate(p.ActualEnd),
		p.Audit.CreatedBy, formatTime(p.Audit.CreatedAt),
		p.Audit.ModifiedBy, formatTime(p.Audit.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id clinic.ProjectID) (*clinic.Project, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "project", ID: string(id)}
	}
	return p, err
}

func (s *Store) UpdateProject(ctx context.Context, p *clinic.Project) error {
	query := `
		UPDATE projects SET
			name = ?, price = ?, original_price = ?, state = ?,
			estimated_end = ?, actual_end = ?, modified_by = ?, modified_at = ?
		WHERE id = ?
	`
	res, err := s.q.ExecContext(ctx, query,
		p.Name, p.Price.String(), nullMoney(p.OriginalPrice), p.State,
		nullDate(p.EstimatedEnd), nullDate(p.ActualEnd),
		p.Audit.ModifiedBy, formatTime(p.Audit.ModifiedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return requireRow(res, "project", string(p.ID))
}

func (s *Store) ListProjectsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Project, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE patient_id = ? ORDER BY start_date ASC`, patient)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []*clinic.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProject(row rowScanner) (*clinic.Project, error) {
	var (
		p                        clinic.Project
		price                    string
		originalPrice            sql.NullString
		startDate                string
		estimatedEnd, actualEnd  sql.NullString
		createdBy, createdAt     string
		modifiedBy, modifiedAt   string
	)
	err := row.Scan(&p.ID, &p.PatientID, &p.Name, &price, &originalPrice, &p.State,
		&startDate, &estimatedEnd, &actualEnd, &createdBy, &createdAt, &modifiedBy, &modifiedAt)
	if err != nil {
		return nil, err
	}
	if p.Price, err = parseMoney(price); err != nil {
		return nil, err
	}
	if originalPrice.Valid {
		m, err := parseMoney(originalPrice.String)
		if err != nil {
			return nil, err
		}
		p.OriginalPrice = &m
	}
	if p.StartDate, err = clinic.ParseDayDate(startDate); err != nil {
		return nil, err
	}
	if estimatedEnd.Valid {
		d, err := clinic.ParseDayDate(estimatedEnd.String)
		if err != nil {
			return nil, err
		}
		p.EstimatedEnd = &d
	}
	if actualEnd.Valid {
		d, err := clinic.ParseDayDate(actualEnd.String)
		if err != nil {
			return nil, err
		}
		p.ActualEnd = &d
	}
	p.Audit = scanAudit(createdBy, createdAt, modifiedBy, modifiedAt)
	return &p, nil
}

// =============================================================================
// MONTHLY PLANS
// =============================================================================

const planColumns = `id, patient_id, year, month, price, original_price, state,
	created_by, created_at, modified_by, modified_at`

func (s *Store) CreatePlan(ctx context.Context, p *clinic.MonthlyPlan) error {
	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		p.ID, p.PatientID, p.Year, int(p.Month), p.Price.String(), nullMoney(p.OriginalPrice), p.State,
		p.Audit.CreatedBy, formatTime(p.Audit.CreatedAt),
		p.Audit.ModifiedBy, formatTime(p.Audit.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id clinic.PlanID) (*clinic.MonthlyPlan, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "plan", ID: string(id)}
	}
	return p, err
}

func (s *Store) UpdatePlan(ctx context.Context, p *clinic.MonthlyPlan) error {
	query := `
		UPDATE plans SET price = ?, original_price = ?, state = ?, modified_by = ?, modified_at = ?
		WHERE id = ?
	`
	res, err := s.q.ExecContext(ctx, query,
		p.Price.String(), nullMoney(p.OriginalPrice), p.State,
		p.Audit.ModifiedBy, formatTime(p.Audit.ModifiedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	return requireRow(res, "plan", string(p.ID))
}

func (s *Store) ListPlansByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.MonthlyPlan, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE patient_id = ? ORDER BY year ASC, month ASC`, patient)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var out []*clinic.MonthlyPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(row rowScanner) (*clinic.MonthlyPlan, error) {
	var (
		p                      clinic.MonthlyPlan
		month                  int
		price                  string
		originalPrice          sql.NullString
		createdBy, createdAt   string
		modifiedBy, modifiedAt string
	)
	err := row.Scan(&p.ID, &p.PatientID, &p.Year, &month, &price, &originalPrice, &p.State,
		&createdBy, &createdAt, &modifiedBy, &modifiedAt)
	if err != nil {
		return nil, err
	}
	p.Month = time.Month(month)
	if p.Price, err = parseMoney(price); err != nil {
		return nil, err
	}
	if originalPrice.Valid {
		m, err := parseMoney(originalPrice.String)
		if err != nil {
			return nil, err
		}
		p.OriginalPrice = &m
	}
	p.Audit = scanAudit(createdBy, createdAt, modifiedBy, modifiedAt)
	return &p, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, receipt_no, patient_id, session_id, project_id, plan_id,
	date, amount, method, concept, notes, voided, void_reason, voided_by, voided_at,
	transfer_pending, created_by, created_at, modified_by, modified_at`

func (s *Store) CreatePayment(ctx context.Context, p *clinic.Payment) error {
	if p.ReceiptNo == "" {
		kind, prefix := "rec", "REC"
		if p.IsCreditDraw() {
			kind, prefix = "cre", "CRE"
		}
		no, err := s.nextReceipt(ctx, kind)
		if err != nil {
			return err
		}
		p.ReceiptNo = fmt.Sprintf("%s-%06d", prefix, no)
	}

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		p.ID, p.ReceiptNo, p.PatientID,
		nullID(p.SessionID), nullID(p.ProjectID), nullID(p.PlanID),
		p.Date.String(), p.Amount.String(), p.Method,
		nullString(p.Concept), nullString(p.Notes),
		p.Voided, nullString(p.VoidReason), nullString(p.VoidedBy), nullTime(p.VoidedAt),
		p.TransferPending,
		p.Audit.CreatedBy, formatTime(p.Audit.CreatedAt),
		p.Audit.ModifiedBy, formatTime(p.Audit.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id clinic.PaymentID) (*clinic.Payment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "payment", ID: string(id)}
	}
	return p, err
}

func (s *Store) UpdatePayment(ctx context.Context, p *clinic.Payment) error {
	// Amount, method and date are immutable; the voided flag, the target
	// reference and bookkeeping fields are the only mutable surface.
	query := `
		UPDATE payments SET
			session_id = ?, project_id = ?, plan_id = ?, concept = ?, notes = ?,
			voided = ?, void_reason = ?, voided_by = ?, voided_at = ?,
			transfer_pending = ?, modified_by = ?, modified_at = ?
		WHERE id = ?
	`
	res, err := s.q.ExecContext(ctx, query,
		nullID(p.SessionID), nullID(p.ProjectID), nullID(p.PlanID),
		nullString(p.Concept), nullString(p.Notes),
		p.Voided, nullString(p.VoidReason), nullString(p.VoidedBy), nullTime(p.VoidedAt),
		p.TransferPending,
		p.Audit.ModifiedBy, formatTime(p.Audit.ModifiedAt), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return requireRow(res, "payment", string(p.ID))
}

func (s *Store) ListPaymentsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE patient_id = ? ORDER BY date ASC, created_at ASC`,
		patient)
}

func (s *Store) ListPaymentsBySession(ctx context.Context, session clinic.SessionID) ([]*clinic.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE session_id = ? ORDER BY date ASC, created_at ASC`,
		session)
}

func (s *Store) ListPaymentsByProject(ctx context.Context, project clinic.ProjectID) ([]*clinic.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE project_id = ? ORDER BY date ASC, created_at ASC`,
		project)
}

func (s *Store) ListPaymentsByPlan(ctx context.Context, plan clinic.PlanID) ([]*clinic.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE plan_id = ? ORDER BY date ASC, created_at ASC`,
		plan)
}

func (s *Store) ListCreditDrawsAfter(ctx context.Context, patient clinic.PatientID, after time.Time) ([]*clinic.Payment, error) {
	return s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE patient_id = ? AND method = 'credit_draw' AND voided = FALSE AND created_at >= ?
		 ORDER BY created_at ASC`,
		patient, formatTime(after))
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]*clinic.Payment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []*clinic.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (*clinic.Payment, error) {
	var (
		p                             clinic.Payment
		sessionID, projectID, planID  sql.NullString
		date, amount                  string
		concept, notes                sql.NullString
		voidReason, voidedBy          sql.NullString
		voidedAt                      sql.NullString
		createdBy, createdAt          string
		modifiedBy, modifiedAt        string
	)
	err := row.Scan(&p.ID, &p.ReceiptNo, &p.PatientID, &sessionID, &projectID, &planID,
		&date, &amount, &p.Method, &concept, &notes,
		&p.Voided, &voidReason, &voidedBy, &voidedAt,
		&p.TransferPending, &createdBy, &createdAt, &modifiedBy, &modifiedAt)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		id := clinic.SessionID(sessionID.String)
		p.SessionID = &id
	}
	if projectID.Valid {
		id := clinic.ProjectID(projectID.String)
		p.ProjectID = &id
	}
	if planID.Valid {
		id := clinic.PlanID(planID.String)
		p.PlanID = &id
	}
	if p.Date, err = clinic.ParseDayDate(date); err != nil {
		return nil, err
	}
	if p.Amount, err = parseMoney(amount); err != nil {
		return nil, err
	}
	p.Concept = concept.String
	p.Notes = notes.String
	p.VoidReason = voidReason.String
	p.VoidedBy = voidedBy.String
	if voidedAt.Valid {
		t, err := parseTime(voidedAt.String)
		if err != nil {
			return nil, err
		}
		p.VoidedAt = &t
	}
	p.Audit = scanAudit(createdBy, createdAt, modifiedBy, modifiedAt)
	return &p, nil
}

// =============================================================================
// REFUNDS
// =============================================================================

const refundColumns = `id, receipt_no, patient_id, project_id, plan_id, date, amount,
	reason, method, notes, created_by, created_at, modified_by, modified_at`

func (s *Store) CreateRefund(ctx context.Context, r *clinic.Refund) error {
	if r.ReceiptNo == "" {
		no, err := s.nextReceipt(ctx, "dev")
		if err != nil {
			return err
		}
		r.ReceiptNo = fmt.Sprintf("DEV-%06d", no)
	}

	query := `
		INSERT INTO refunds (` + refundColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, query,
		r.ID, r.ReceiptNo, r.PatientID, nullID(r.ProjectID), nullID(r.PlanID),
		r.Date.String(), r.Amount.String(), r.Reason, nullString(string(r.Method)), nullString(r.Notes),
		r.Audit.CreatedBy, formatTime(r.Audit.CreatedAt),
		r.Audit.ModifiedBy, formatTime(r.Audit.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	return nil
}

func (s *Store) GetRefund(ctx context.Context, id clinic.RefundID) (*clinic.Refund, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = ?`, id)
	r, err := scanRefund(row)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "refund", ID: string(id)}
	}
	return r, err
}

func (s *Store) ListRefundsByPatient(ctx context.Context, patient clinic.PatientID) ([]*clinic.Refund, error) {
	return s.queryRefunds(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE patient_id = ? ORDER BY date ASC, created_at ASC`,
		patient)
}

func (s *Store) ListRefundsByProject(ctx context.Context, project clinic.ProjectID) ([]*clinic.Refund, error) {
	return s.queryRefunds(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE project_id = ? ORDER BY date ASC, created_at ASC`,
		project)
}

func (s *Store) ListRefundsByPlan(ctx context.Context, plan clinic.PlanID) ([]*clinic.Refund, error) {
	return s.queryRefunds(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE plan_id = ? ORDER BY date ASC, created_at ASC`,
		plan)
}

func (s *Store) queryRefunds(ctx context.Context, query string, args ...any) ([]*clinic.Refund, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var out []*clinic.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRefund(row rowScanner) (*clinic.Refund, error) {
	var (
		r                      clinic.Refund
		projectID, planID      sql.NullString
		date, amount           string
		method, notes          sql.NullString
		createdBy, createdAt   string
		modifiedBy, modifiedAt string
	)
	err := row.Scan(&r.ID, &r.ReceiptNo, &r.PatientID, &projectID, &planID,
		&date, &amount, &r.Reason, &method, &notes,
		&createdBy, &createdAt, &modifiedBy, &modifiedAt)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		id := clinic.ProjectID(projectID.String)
		r.ProjectID = &id
	}
	if planID.Valid {
		id := clinic.PlanID(planID.String)
		r.PlanID = &id
	}
	if r.Date, err = clinic.ParseDayDate(date); err != nil {
		return nil, err
	}
	if r.Amount, err = parseMoney(amount); err != nil {
		return nil, err
	}
	r.Method = clinic.FundingMethod(method.String)
	r.Notes = notes.String
	r.Audit = scanAudit(createdBy, createdAt, modifiedBy, modifiedAt)
	return &r, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) PutPatient(ctx context.Context, p *clinic.Patient) error {
	branches, _ := json.Marshal(p.Branches)
	prices := "{}"
	if p.PriceOverrides != nil {
		raw, err := json.Marshal(p.PriceOverrides)
		if err != nil {
			return fmt.Errorf("failed to encode patient prices: %w", err)
		}
		prices = string(raw)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO patients (id, name, active, branches_json, prices_json) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active,
			branches_json = excluded.branches_json, prices_json = excluded.prices_json
	`, p.ID, p.Name, p.Active, string(branches), prices)
	if err != nil {
		return fmt.Errorf("failed to save patient: %w", err)
	}
	return nil
}

func scanPatient(branches, prices string, p *clinic.Patient) error {
	if err := json.Unmarshal([]byte(branches), &p.Branches); err != nil {
		return fmt.Errorf("failed to decode patient branches: %w", err)
	}
	var overrides map[clinic.ServiceID]clinic.Money
	if err := json.Unmarshal([]byte(prices), &overrides); err != nil {
		return fmt.Errorf("failed to decode patient prices: %w", err)
	}
	if len(overrides) > 0 {
		p.PriceOverrides = overrides
	}
	return nil
}

func (s *Store) GetPatient(ctx context.Context, id clinic.PatientID) (*clinic.Patient, error) {
	var p clinic.Patient
	var branches, prices string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, active, branches_json, prices_json FROM patients WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Active, &branches, &prices)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "patient", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}
	if err := scanPatient(branches, prices, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPatients(ctx context.Context) ([]*clinic.Patient, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, active, branches_json, prices_json FROM patients ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var out []*clinic.Patient
	for rows.Next() {
		var p clinic.Patient
		var branches, prices string
		if err := rows.Scan(&p.ID, &p.Name, &p.Active, &branches, &prices); err != nil {
			return nil, err
		}
		if err := scanPatient(branches, prices, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *Store) PutProfessional(ctx context.Context, p *clinic.Professional) error {
	branches, _ := json.Marshal(p.Branches)
	services, _ := json.Marshal(p.Services)
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO professionals (id, name, active, branches_json, services_json) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active,
			branches_json = excluded.branches_json, services_json = excluded.services_json
	`, p.ID, p.Name, p.Active, string(branches), string(services))
	if err != nil {
		return fmt.Errorf("failed to save professional: %w", err)
	}
	return nil
}

func (s *Store) GetProfessional(ctx context.Context, id clinic.ProfessionalID) (*clinic.Professional, error) {
	var p clinic.Professional
	var branches, services string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, active, branches_json, services_json FROM professionals WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Active, &branches, &services)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "professional", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load professional: %w", err)
	}
	if err := json.Unmarshal([]byte(branches), &p.Branches); err != nil {
		return nil, fmt.Errorf("failed to decode professional branches: %w", err)
	}
	if err := json.Unmarshal([]byte(services), &p.Services); err != nil {
		return nil, fmt.Errorf("failed to decode professional services: %w", err)
	}
	return &p, nil
}

func (s *Store) PutBranch(ctx context.Context, b *clinic.Branch) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO branches (id, name, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
	`, b.ID, b.Name, b.Active)
	if err != nil {
		return fmt.Errorf("failed to save branch: %w", err)
	}
	return nil
}

func (s *Store) GetBranch(ctx context.Context, id clinic.BranchID) (*clinic.Branch, error) {
	var b clinic.Branch
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, active FROM branches WHERE id = ?`, id).
		Scan(&b.ID, &b.Name, &b.Active)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "branch", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load branch: %w", err)
	}
	return &b, nil
}

func (s *Store) PutService(ctx context.Context, sv *clinic.Service) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO services (id, name, duration_minutes, active, default_price) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			duration_minutes = excluded.duration_minutes, active = excluded.active,
			default_price = excluded.default_price
	`, sv.ID, sv.Name, sv.DurationMinutes, sv.Active, nullMoney(sv.DefaultPrice))
	if err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

func (s *Store) GetService(ctx context.Context, id clinic.ServiceID) (*clinic.Service, error) {
	var sv clinic.Service
	var price sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, duration_minutes, active, default_price FROM services WHERE id = ?`, id).
		Scan(&sv.ID, &sv.Name, &sv.DurationMinutes, &sv.Active, &price)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "service", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load service: %w", err)
	}
	if price.Valid {
		m, err := parseMoney(price.String)
		if err != nil {
			return nil, err
		}
		sv.DefaultPrice = &m
	}
	return &sv, nil
}

// =============================================================================
// LEDGER SNAPSHOTS
// =============================================================================

func (s *Store) PutSnapshot(ctx context.Context, snap *clinic.AccountSnapshot) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO snapshots (patient_id, total_consumed, total_paid, available_credit, debt, balance, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(patient_id) DO UPDATE SET
			total_consumed = excluded.total_consumed,
			total_paid = excluded.total_paid,
			available_credit = excluded.available_credit,
			debt = excluded.debt,
			balance = excluded.balance,
			computed_at = excluded.computed_at
	`, snap.PatientID, snap.TotalConsumed.String(), snap.TotalPaid.String(),
		snap.AvailableCredit.String(), snap.Debt.String(), snap.Balance.String(),
		formatTime(snap.ComputedAt))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, patient clinic.PatientID) (*clinic.AccountSnapshot, error) {
	var (
		snap                           clinic.AccountSnapshot
		consumed, paid, credit         string
		debt, balance, computedAt      string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT patient_id, total_consumed, total_paid, available_credit, debt, balance, computed_at
		FROM snapshots WHERE patient_id = ?
	`, patient).Scan(&snap.PatientID, &consumed, &paid, &credit, &debt, &balance, &computedAt)
	if err == sql.ErrNoRows {
		return nil, &clinic.NotFoundError{Kind: "account snapshot", ID: string(patient)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap.TotalConsumed, err = parseMoney(consumed); err != nil {
		return nil, err
	}
	if snap.TotalPaid, err = parseMoney(paid); err != nil {
		return nil, err
	}
	if snap.AvailableCredit, err = parseMoney(credit); err != nil {
		return nil, err
	}
	if snap.Debt, err = parseMoney(debt); err != nil {
		return nil, err
	}
	if snap.Balance, err = parseMoney(balance); err != nil {
		return nil, err
	}
	if snap.ComputedAt, err = parseTime(computedAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// nextReceipt bumps and returns the sequence for one receipt kind.
func (s *Store) nextReceipt(ctx context.Context, kind string) (int64, error) {
	var value int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO receipts (kind, value) VALUES (?, 1)
		ON CONFLICT(kind) DO UPDATE SET value = value + 1
		RETURNING value
	`, kind).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to advance receipt sequence %s: %w", kind, err)
	}
	return value, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &clinic.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID[T ~string](id *T) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullMoney(m *clinic.Money) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: m.String(), Valid: true}
}

func nullDate(d *clinic.DayDate) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullClock(c *clinic.ClockTime) sql.NullInt64 {
	if c == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*c), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseMoney(s string) (clinic.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return clinic.MoneyZero, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	return d, nil
}

func scanAudit(createdBy, createdAt, modifiedBy, modifiedAt string) clinic.Audit {
	a := clinic.Audit{CreatedBy: createdBy, ModifiedBy: modifiedBy}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modifiedAt)
	return a
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
