/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence port of the engine (hr.Store, hr.AuditLog)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.BalanceStore:   Versioned balances (compare-and-apply)
  timeoff.Store:          Categories, requests, attendance, WithTx
  tenancy.Store:          Workspaces, users, memberships
  hr.EmployeeStore:       Employment status
  hr.AuditLog:            Append-only audit entries

COMPARE-AND-APPLY:
  Balances, requests, users and employees carry a version column. Updates are issued as
  UPDATE ... WHERE version = ? and a zero row count becomes ErrConflict,
  so a stale writer can never overwrite a newer commit.

KEY TABLES:
  workspaces, users, memberships:  tenancy
  leave_categories:                catalog, UNIQUE(workspace_id, code)
  leave_balances:                  UNIQUE(user_id, category_id, year)
  leave_requests:                  request state machine
  attendance:                      PRIMARY KEY(user_id, date)
  employees:                       employment status
  audit_entries:                   append-only audit log

CONCURRENCY:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate) so two
  writers never both read before either writes. A busy timeout makes the
  second writer wait instead of failing. For ":memory:" the pool is pinned
  to one connection, since every connection would otherwise see its own
  empty database. Code running inside WithTx must only use the Tx it is
  handed.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: BalanceStore contract
  - timeoff/store.go: Tx and Store interfaces
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

const timeLayout = time.RFC3339Nano

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var (
	_ hr.Store        = (*Store)(nil)
	_ hr.AuditLog     = (*Store)(nil)
	_ timeoff.Tx      = (*txStore)(nil)
	_ hr.MembershipTx = (*txStore)(nil)
)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func dsn(dbPath string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if dbPath != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + params
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		system_role TEXT NOT NULL DEFAULT '',
		legacy_workspace_id TEXT NOT NULL DEFAULT '',
		legacy_role TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);

	-- Memberships are the only source of a user's role in a workspace
	CREATE TABLE IF NOT EXISTS memberships (
		user_id TEXT NOT NULL REFERENCES users(id),
		workspace_id TEXT NOT NULL,
		role TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		is_current INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		PRIMARY KEY (user_id, workspace_id)
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_workspace
		ON memberships(workspace_id, active);

	CREATE TABLE IF NOT EXISTS employees (
		user_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leave_categories (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		annual_quota TEXT NOT NULL,
		carry_forward_allowed INTEGER NOT NULL DEFAULT 0,
		max_carry_forward TEXT NOT NULL DEFAULT '0',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		UNIQUE (workspace_id, code)
	);

	-- CRITICAL: exactly one balance per (user, category, year)
	CREATE TABLE IF NOT EXISTS leave_balances (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		total_quota TEXT NOT NULL,
		used TEXT NOT NULL,
		pending TEXT NOT NULL,
		carried_forward TEXT NOT NULL,
		available TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (user_id, category_id, year)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		time_period TEXT NOT NULL,
		days TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		hr_notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_workspace_status
		ON leave_requests(workspace_id, status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_requests_user
		ON leave_requests(user_id, created_at DESC);

	-- One attendance row per user per day
	CREATE TABLE IF NOT EXISTS attendance (
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		marker TEXT NOT NULL DEFAULT '',
		check_in TEXT,
		check_out TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, date)
	);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		workspace_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		details_json TEXT,
		source_ip TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_workspace
		ON audit_entries(workspace_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addMissingColumns()
}

// addedColumns lists columns introduced after their table was first
// created, for databases migrated by an older build.
var addedColumns = []struct{ table, column, definition string }{
	{"users", "version", "INTEGER NOT NULL DEFAULT 1"},
	{"employees", "version", "INTEGER NOT NULL DEFAULT 1"},
}

func (s *Store) addMissingColumns() error {
	for _, c := range addedColumns {
		var n int
		err := s.db.QueryRow(
			`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, c.table, c.column,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("inspect %s.%s: %w", c.table, c.column, err)
		}
		if n > 0 {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, c.table, c.column, c.definition)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn
// rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(timeoff.Tx) error) error {
	return s.inTx(ctx, func(tx *txStore) error { return fn(tx) })
}

// WithMembershipTx is WithTx for membership changes. BEGIN IMMEDIATE
// serializes it with every other writer.
func (s *Store) WithMembershipTx(ctx context.Context, fn func(hr.MembershipTx) error) error {
	return s.inTx(ctx, func(tx *txStore) error { return fn(tx) })
}

func (s *Store) inTx(ctx context.Context, fn func(*txStore) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the view handed to WithTx callbacks.
type txStore struct {
	queries
}

// UpdateUser writes the user and its memberships if the stored version is
// still expectedVersion. The enclosing transaction makes it atomic.
func (t *txStore) UpdateUser(ctx context.Context, u tenancy.User, expectedVersion int64) error {
	return t.updateUser(ctx, u, expectedVersion)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; it runs against the pool or a Tx.
type queries struct {
	q querier
}

// =============================================================================
// BALANCES (generic.BalanceStore)
// =============================================================================

const balanceColumns = `id, workspace_id, user_id, category_id, year, total_quota, used,
	pending, carried_forward, available, version, updated_at`

func (s queries) GetBalance(ctx context.Context, key generic.BalanceKey) (*generic.Balance, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM leave_balances WHERE user_id = ? AND category_id = ? AND year = ?`,
		key.UserID, key.CategoryID, key.Year)

	var (
		b                                        generic.Balance
		total, used, pending, carried, available string
		updatedAt                                string
	)
	err := row.Scan(&b.ID, &b.WorkspaceID, &b.Key.UserID, &b.Key.CategoryID, &b.Key.Year,
		&total, &used, &pending, &carried, &available, &b.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance %s: %w", key, err)
	}

	b.TotalQuota = generic.MustParseDays(total)
	b.Used = generic.MustParseDays(used)
	b.Pending = generic.MustParseDays(pending)
	b.CarriedForward = generic.MustParseDays(carried)
	b.Available = generic.MustParseDays(available)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (s queries) InsertBalance(ctx context.Context, b generic.Balance) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leave_balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.WorkspaceID, b.Key.UserID, b.Key.CategoryID, b.Key.Year,
		b.TotalQuota.String(), b.Used.String(), b.Pending.String(),
		b.CarriedForward.String(), b.Available.String(), b.Version,
		formatTime(b.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.Conflict("balance %s already exists", b.Key)
	}
	if err != nil {
		return fmt.Errorf("failed to insert balance %s: %w", b.Key, err)
	}
	return nil
}

func (s queries) UpdateBalance(ctx context.Context, b generic.Balance, expectedVersion int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE leave_balances
		SET total_quota = ?, used = ?, pending = ?, carried_forward = ?, available = ?,
			version = ?, updated_at = ?
		WHERE user_id = ? AND category_id = ? AND year = ? AND version = ?`,
		b.TotalQuota.String(), b.Used.String(), b.Pending.String(),
		b.CarriedForward.String(), b.Available.String(), b.Version, formatTime(b.UpdatedAt),
		b.Key.UserID, b.Key.CategoryID, b.Key.Year, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance %s: %w", b.Key, err)
	}
	return requireOneRow(res, func() error {
		return generic.Conflict("balance %s was modified concurrently", b.Key)
	})
}

// =============================================================================
// CATEGORIES (timeoff.CategoryStore)
// =============================================================================

const categoryColumns = `id, workspace_id, name, code, annual_quota, carry_forward_allowed,
	max_carry_forward, active, created_at`

func (s queries) GetCategory(ctx context.Context, id generic.CategoryID) (*timeoff.Category, error) {
	cats, err := s.queryCategories(ctx, `SELECT `+categoryColumns+` FROM leave_categories WHERE id = ?`, id)
	if err != nil || len(cats) == 0 {
		return nil, err
	}
	return &cats[0], nil
}

func (s queries) ListCategories(ctx context.Context, workspaceID generic.WorkspaceID) ([]timeoff.Category, error) {
	return s.queryCategories(ctx,
		`SELECT `+categoryColumns+` FROM leave_categories WHERE workspace_id = ? ORDER BY code ASC`, workspaceID)
}

func (s queries) InsertCategory(ctx context.Context, c timeoff.Category) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leave_categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Name, c.Code, c.AnnualQuota.String(), c.CarryForwardAllowed,
		c.MaxCarryForward.String(), c.Active, formatTime(c.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.Conflict("leave category %s already exists in workspace %s", c.Code, c.WorkspaceID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert category %s: %w", c.ID, err)
	}
	return nil
}

func (s queries) queryCategories(ctx context.Context, query string, args ...any) ([]timeoff.Category, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var cats []timeoff.Category
	for rows.Next() {
		var (
			c               timeoff.Category
			quota, maxCarry string
			createdAt       string
		)
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Code, &quota,
			&c.CarryForwardAllowed, &maxCarry, &c.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.AnnualQuota = generic.MustParseDays(quota)
		c.MaxCarryForward = generic.MustParseDays(maxCarry)
		c.CreatedAt = parseTime(createdAt)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `id, workspace_id, user_id, category_id, start_date, end_date, time_period,
	days, reason, status, created_by, approved_by, approved_at, rejection_reason, hr_notes,
	version, created_at, updated_at`

func (s queries) GetRequest(ctx context.Context, id generic.RequestID) (*timeoff.LeaveRequest, error) {
	reqs, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	if err != nil || len(reqs) == 0 {
		return nil, err
	}
	return &reqs[0], nil
}

func (s queries) InsertRequest(ctx context.Context, r timeoff.LeaveRequest) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkspaceID, r.UserID, r.CategoryID, r.StartDate.String(), r.EndDate.String(),
		r.TimePeriod, r.Days.String(), r.Reason, r.Status, r.CreatedBy, r.ApprovedBy,
		nullTime(r.ApprovedAt), r.RejectionReason, r.HRNotes, r.Version,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.Conflict("leave request %s already exists", r.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert request %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRequest writes the mutable fields of r if the stored version is
// still expectedVersion.
func (s queries) UpdateRequest(ctx context.Context, r timeoff.LeaveRequest, expectedVersion int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE leave_requests
		SET status = ?, approved_by = ?, approved_at = ?, rejection_reason = ?, hr_notes = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		r.Status, r.ApprovedBy, nullTime(r.ApprovedAt), r.RejectionReason, r.HRNotes,
		r.Version, formatTime(r.UpdatedAt), r.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update request %s: %w", r.ID, err)
	}
	return requireOneRow(res, func() error {
		return generic.Conflict("leave request %s was modified concurrently", r.ID)
	})
}

// ListRequests returns matching requests, newest first.
func (s queries) ListRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM leave_requests WHERE 1 = 1`
	var args []any
	if f.WorkspaceID != "" {
		query += ` AND workspace_id = ?`
		args = append(args, f.WorkspaceID)
	}
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	return s.queryRequests(ctx, query, args...)
}

func (s queries) queryRequests(ctx context.Context, query string, args ...any) ([]timeoff.LeaveRequest, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var requests []timeoff.LeaveRequest
	for rows.Next() {
		var (
			r                    timeoff.LeaveRequest
			start, end, days     string
			approvedAt           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(
			&r.ID, &r.WorkspaceID, &r.UserID, &r.CategoryID, &start, &end, &r.TimePeriod,
			&days, &r.Reason, &r.Status, &r.CreatedBy, &r.ApprovedBy, &approvedAt,
			&r.RejectionReason, &r.HRNotes, &r.Version, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}

		r.StartDate = parseDate(start)
		r.EndDate = parseDate(end)
		r.Days = generic.MustParseDays(days)
		r.ApprovedAt = parseNullTime(approvedAt)
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		requests = append(requests, r)
	}

	return requests, rows.Err()
}

// =============================================================================
// ATTENDANCE
// =============================================================================

const attendanceColumns = `user_id, date, workspace_id, status, notes, marker, check_in, check_out, updated_at`

func (s queries) GetAttendance(ctx context.Context, userID generic.UserID, date generic.TimePoint) (*timeoff.AttendanceRecord, error) {
	recs, err := s.queryAttendance(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE user_id = ? AND date = ?`, userID, date.String())
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// UpsertAttendance writes the full record for (user, date).
func (s queries) UpsertAttendance(ctx context.Context, rec timeoff.AttendanceRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO attendance (`+attendanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			status = excluded.status,
			notes = excluded.notes,
			marker = excluded.marker,
			check_in = excluded.check_in,
			check_out = excluded.check_out,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.Date.String(), rec.WorkspaceID, rec.Status, rec.Notes, rec.Marker,
		nullTime(rec.CheckIn), nullTime(rec.CheckOut), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attendance %s/%s: %w", rec.UserID, rec.Date, err)
	}
	return nil
}

// ListAttendance returns a user's records within the period, by date.
func (s queries) ListAttendance(ctx context.Context, userID generic.UserID, period generic.Period) ([]timeoff.AttendanceRecord, error) {
	return s.queryAttendance(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		userID, period.Start.String(), period.End.String())
}

func (s queries) queryAttendance(ctx context.Context, query string, args ...any) ([]timeoff.AttendanceRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var recs []timeoff.AttendanceRecord
	for rows.Next() {
		var (
			rec               timeoff.AttendanceRecord
			date, updatedAt   string
			checkIn, checkOut sql.NullString
		)
		if err := rows.Scan(&rec.UserID, &date, &rec.WorkspaceID, &rec.Status, &rec.Notes,
			&rec.Marker, &checkIn, &checkOut, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		rec.Date = parseDate(date)
		rec.CheckIn = parseNullTime(checkIn)
		rec.CheckOut = parseNullTime(checkOut)
		rec.UpdatedAt = parseTime(updatedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// TENANCY (tenancy.Store)
// =============================================================================

func (s queries) GetWorkspace(ctx context.Context, id generic.WorkspaceID) (*tenancy.Workspace, error) {
	var (
		w                    tenancy.Workspace
		createdAt, updatedAt string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, kind, active, created_at, updated_at FROM workspaces WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name, &w.Kind, &w.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", id, err)
	}
	w.Limits = tenancy.LimitsFor(w.Kind)
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// SaveWorkspace upserts a workspace. Limits are not stored; they are
// derived from the kind on every read.
func (s queries) SaveWorkspace(ctx context.Context, w tenancy.Workspace) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, kind, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		w.ID, w.Name, w.Kind, w.Active, formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save workspace %s: %w", w.ID, err)
	}
	return nil
}

func (s queries) GetUser(ctx context.Context, id generic.UserID) (*tenancy.User, error) {
	var u tenancy.User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, name, system_role, legacy_workspace_id, legacy_role, version
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.SystemRole, &u.LegacyWorkspaceID, &u.LegacyRole, &u.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", id, err)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT workspace_id, role, joined_at, active, is_current
		FROM memberships WHERE user_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m        tenancy.Membership
			joinedAt string
		)
		if err := rows.Scan(&m.WorkspaceID, &m.Role, &joinedAt, &m.Active, &m.Current); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		m.JoinedAt = parseTime(joinedAt)
		u.Memberships = append(u.Memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}

// CountMembers counts active memberships in the workspace.
func (s queries) CountMembers(ctx context.Context, workspaceID generic.WorkspaceID) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE workspace_id = ? AND active = 1`, workspaceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count members of %s: %w", workspaceID, err)
	}
	return n, nil
}

// SaveUser upserts the user, bumping its version, and replaces its
// membership set atomically.
func (s *Store) SaveUser(ctx context.Context, u tenancy.User) error {
	return s.inTx(ctx, func(tx *txStore) error { return tx.saveUser(ctx, u) })
}

func (s queries) saveUser(ctx context.Context, u tenancy.User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, system_role, legacy_workspace_id, legacy_role, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			system_role = excluded.system_role,
			legacy_workspace_id = excluded.legacy_workspace_id,
			legacy_role = excluded.legacy_role,
			version = users.version + 1`,
		u.ID, u.Email, u.Name, u.SystemRole, u.LegacyWorkspaceID, u.LegacyRole,
	)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return s.replaceMemberships(ctx, u)
}

func (s queries) updateUser(ctx context.Context, u tenancy.User, expectedVersion int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET email = ?, name = ?, system_role = ?, legacy_workspace_id = ?, legacy_role = ?, version = ?
		WHERE id = ? AND version = ?`,
		u.Email, u.Name, u.SystemRole, u.LegacyWorkspaceID, u.LegacyRole, u.Version,
		u.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", u.ID, err)
	}
	err = requireOneRow(res, func() error {
		return generic.Conflict("user %s was modified concurrently", u.ID)
	})
	if err != nil {
		return err
	}
	return s.replaceMemberships(ctx, u)
}

func (s queries) replaceMemberships(ctx context.Context, u tenancy.User) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = ?`, u.ID); err != nil {
		return fmt.Errorf("failed to clear memberships of %s: %w", u.ID, err)
	}
	for i, m := range u.Memberships {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO memberships (user_id, workspace_id, role, joined_at, active, is_current, position)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, m.WorkspaceID, m.Role, formatTime(m.JoinedAt), m.Active, m.Current, i,
		)
		if err != nil {
			return fmt.Errorf("failed to save membership %s/%s: %w", u.ID, m.WorkspaceID, err)
		}
	}
	return nil
}

// =============================================================================
// EMPLOYEES (hr.EmployeeStore)
// =============================================================================

func (s queries) GetEmployee(ctx context.Context, userID generic.UserID) (*hr.Employee, error) {
	var (
		e         hr.Employee
		updatedAt string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT user_id, status, version, updated_at FROM employees WHERE user_id = ?`, userID,
	).Scan(&e.UserID, &e.Status, &e.Version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load employee %s: %w", userID, err)
	}
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// SaveEmployee creates or replaces the record, bumping its version.
func (s queries) SaveEmployee(ctx context.Context, e hr.Employee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employees (user_id, status, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			status = excluded.status,
			version = employees.version + 1,
			updated_at = excluded.updated_at`,
		e.UserID, e.Status, formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee %s: %w", e.UserID, err)
	}
	return nil
}

func (s queries) UpdateEmployee(ctx context.Context, e hr.Employee, expectedVersion int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE employees SET status = ?, version = ?, updated_at = ?
		WHERE user_id = ? AND version = ?`,
		e.Status, e.Version, formatTime(e.UpdatedAt), e.UserID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update employee %s: %w", e.UserID, err)
	}
	return requireOneRow(res, func() error {
		return generic.Conflict("employee %s was modified concurrently", e.UserID)
	})
}

// =============================================================================
// AUDIT LOG (hr.AuditLog)
// =============================================================================

func (s queries) Record(ctx context.Context, entry hr.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, actor_id, workspace_id, action, entity_type, entity_id,
			details_json, source_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorID, entry.WorkspaceID, entry.Action, entry.EntityType, entry.EntityID,
		string(details), entry.SourceIP, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// AuditEntries returns a workspace's audit trail, oldest first.
func (s queries) AuditEntries(ctx context.Context, workspaceID generic.WorkspaceID) ([]hr.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, actor_id, workspace_id, action, entity_type, entity_id, details_json, source_ip, created_at
		FROM audit_entries WHERE workspace_id = ?
		ORDER BY created_at ASC, rowid ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []hr.AuditEntry
	for rows.Next() {
		var (
			e         hr.AuditEntry
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.WorkspaceID, &e.Action, &e.EntityType,
			&e.EntityID, &details, &e.SourceIP, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if details.Valid && details.String != "" {
			json.Unmarshal([]byte(details.String), &e.Details)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func requireOneRow(res sql.Result, conflict func() error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return conflict()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDate(s string) generic.TimePoint {
	tp, _ := generic.ParseDate(s)
	return tp
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
