// Package memory provides an in-memory Store for tests and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/hr"
	"github.com/warp/leave-engine/tenancy"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	workspaces map[generic.WorkspaceID]tenancy.Workspace
	users      map[generic.UserID]tenancy.User
	employees  map[generic.UserID]hr.Employee
	categories map[generic.CategoryID]timeoff.Category
	balances   map[generic.BalanceKey]generic.Balance
	requests   map[generic.RequestID]timeoff.LeaveRequest
	attendance map[attendanceKey]timeoff.AttendanceRecord
	audit      []hr.AuditEntry
}

type attendanceKey struct {
	UserID generic.UserID
	Date   string
}

func keyOf(userID generic.UserID, date generic.TimePoint) attendanceKey {
	return attendanceKey{UserID: userID, Date: date.String()}
}

func New() *Memory {
	return &Memory{state: state{
		workspaces: make(map[generic.WorkspaceID]tenancy.Workspace),
		users:      make(map[generic.UserID]tenancy.User),
		employees:  make(map[generic.UserID]hr.Employee),
		categories: make(map[generic.CategoryID]timeoff.Category),
		balances:   make(map[generic.BalanceKey]generic.Balance),
		requests:   make(map[generic.RequestID]timeoff.LeaveRequest),
		attendance: make(map[attendanceKey]timeoff.AttendanceRecord),
	}}
}

var (
	_ hr.Store        = (*Memory)(nil)
	_ hr.AuditLog     = (*Memory)(nil)
	_ hr.MembershipTx = (*txView)(nil)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are fully
// serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(timeoff.Tx) error) error {
	return m.atomically(ctx, func(v *txView) error { return fn(v) })
}

// WithMembershipTx is WithTx for membership changes.
func (m *Memory) WithMembershipTx(ctx context.Context, fn func(hr.MembershipTx) error) error {
	return m.atomically(ctx, func(v *txView) error { return fn(v) })
}

func (m *Memory) atomically(ctx context.Context, fn func(*txView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := state{
		workspaces: make(map[generic.WorkspaceID]tenancy.Workspace, len(s.workspaces)),
		users:      make(map[generic.UserID]tenancy.User, len(s.users)),
		employees:  make(map[generic.UserID]hr.Employee, len(s.employees)),
		categories: make(map[generic.CategoryID]timeoff.Category, len(s.categories)),
		balances:   make(map[generic.BalanceKey]generic.Balance, len(s.balances)),
		requests:   make(map[generic.RequestID]timeoff.LeaveRequest, len(s.requests)),
		attendance: make(map[attendanceKey]timeoff.AttendanceRecord, len(s.attendance)),
		audit:      append([]hr.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.workspaces {
		c.workspaces[k] = v
	}
	for k, v := range s.users {
		c.users[k] = copyUser(v)
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	return c
}

func copyUser(u tenancy.User) tenancy.User {
	u.Memberships = append([]tenancy.Membership(nil), u.Memberships...)
	return u
}

// txView is the transactional view handed to WithTx callbacks. The parent
// lock is already held.
type txView struct {
	s *state
}

func (t *txView) GetBalance(_ context.Context, key generic.BalanceKey) (*generic.Balance, error) {
	return t.s.getBalance(key), nil
}

func (t *txView) InsertBalance(_ context.Context, b generic.Balance) error {
	return t.s.insertBalance(b)
}

func (t *txView) UpdateBalance(_ context.Context, b generic.Balance, expected int64) error {
	return t.s.updateBalance(b, expected)
}

func (t *txView) GetCategory(_ context.Context, id generic.CategoryID) (*timeoff.Category, error) {
	return t.s.getCategory(id), nil
}

func (t *txView) GetRequest(_ context.Context, id generic.RequestID) (*timeoff.LeaveRequest, error) {
	return t.s.getRequest(id), nil
}

func (t *txView) InsertRequest(_ context.Context, r timeoff.LeaveRequest) error {
	return t.s.insertRequest(r)
}

func (t *txView) UpdateRequest(_ context.Context, r timeoff.LeaveRequest, expected int64) error {
	return t.s.updateRequest(r, expected)
}

func (t *txView) GetAttendance(_ context.Context, userID generic.UserID, date generic.TimePoint) (*timeoff.AttendanceRecord, error) {
	return t.s.getAttendance(userID, date), nil
}

func (t *txView) UpsertAttendance(_ context.Context, rec timeoff.AttendanceRecord) error {
	t.s.attendance[keyOf(rec.UserID, rec.Date)] = rec
	return nil
}

func (t *txView) GetUser(_ context.Context, id generic.UserID) (*tenancy.User, error) {
	return t.s.getUser(id), nil
}

func (t *txView) CountMembers(_ context.Context, workspaceID generic.WorkspaceID) (int, error) {
	return t.s.countMembers(workspaceID), nil
}

func (t *txView) UpdateUser(_ context.Context, u tenancy.User, expected int64) error {
	return t.s.updateUser(u, expected)
}

// =============================================================================
// STATE OPERATIONS - caller holds the lock
// =============================================================================

func (s *state) getBalance(key generic.BalanceKey) *generic.Balance {
	b, ok := s.balances[key]
	if !ok {
		return nil
	}
	return &b
}

func (s *state) insertBalance(b generic.Balance) error {
	if _, ok := s.balances[b.Key]; ok {
		return generic.Conflict("balance %s already exists", b.Key)
	}
	s.balances[b.Key] = b
	return nil
}

func (s *state) updateBalance(b generic.Balance, expected int64) error {
	cur, ok := s.balances[b.Key]
	if !ok || cur.Version != expected {
		return generic.Conflict("balance %s was modified concurrently", b.Key)
	}
	s.balances[b.Key] = b
	return nil
}

func (s *state) getCategory(id generic.CategoryID) *timeoff.Category {
	c, ok := s.categories[id]
	if !ok {
		return nil
	}
	return &c
}

func (s *state) getRequest(id generic.RequestID) *timeoff.LeaveRequest {
	r, ok := s.requests[id]
	if !ok {
		return nil
	}
	return &r
}

func (s *state) insertRequest(r timeoff.LeaveRequest) error {
	if _, ok := s.requests[r.ID]; ok {
		return generic.Conflict("request %s already exists", r.ID)
	}
	s.requests[r.ID] = r
	return nil
}

func (s *state) updateRequest(r timeoff.LeaveRequest, expected int64) error {
	cur, ok := s.requests[r.ID]
	if !ok || cur.Version != expected {
		return generic.Conflict("request %s was modified concurrently", r.ID)
	}
	s.requests[r.ID] = r
	return nil
}

func (s *state) getUser(id generic.UserID) *tenancy.User {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	u = copyUser(u)
	return &u
}

func (s *state) updateUser(u tenancy.User, expected int64) error {
	cur, ok := s.users[u.ID]
	if !ok || cur.Version != expected {
		return generic.Conflict("user %s was modified concurrently", u.ID)
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *state) countMembers(workspaceID generic.WorkspaceID) int {
	n := 0
	for _, u := range s.users {
		if mem, ok := u.MembershipFor(workspaceID); ok && mem.Active {
			n++
		}
	}
	return n
}

func (s *state) getAttendance(userID generic.UserID, date generic.TimePoint) *timeoff.AttendanceRecord {
	a, ok := s.attendance[keyOf(userID, date)]
	if !ok {
		return nil
	}
	return &a
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, key generic.BalanceKey) (*generic.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalance(key), nil
}

func (m *Memory) InsertBalance(_ context.Context, b generic.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBalance(b)
}

func (m *Memory) UpdateBalance(_ context.Context, b generic.Balance, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalance(b, expected)
}

func (m *Memory) GetCategory(_ context.Context, id generic.CategoryID) (*timeoff.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCategory(id), nil
}

func (m *Memory) ListCategories(_ context.Context, workspaceID generic.WorkspaceID) ([]timeoff.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []timeoff.Category
	for _, c := range m.categories {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) InsertCategory(_ context.Context, c timeoff.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.categories {
		if e.WorkspaceID == c.WorkspaceID && e.Code == c.Code {
			return generic.Conflict("leave category code %s already exists", c.Code)
		}
	}
	if _, ok := m.categories[c.ID]; ok {
		return generic.Conflict("leave category %s already exists", c.ID)
	}
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id generic.RequestID) (*timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRequest(id), nil
}

func (m *Memory) InsertRequest(_ context.Context, r timeoff.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRequest(r)
}

func (m *Memory) UpdateRequest(_ context.Context, r timeoff.LeaveRequest, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRequest(r, expected)
}

// ListRequests returns matching requests, newest first.
func (m *Memory) ListRequests(_ context.Context, f timeoff.RequestFilter) ([]timeoff.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []timeoff.LeaveRequest
	for _, r := range m.requests {
		if f.WorkspaceID != "" && r.WorkspaceID != f.WorkspaceID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetAttendance(_ context.Context, userID generic.UserID, date generic.TimePoint) (*timeoff.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAttendance(userID, date), nil
}

func (m *Memory) UpsertAttendance(_ context.Context, rec timeoff.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attendance[keyOf(rec.UserID, rec.Date)] = rec
	return nil
}

// ListAttendance returns a user's records within the period, by date.
func (m *Memory) ListAttendance(_ context.Context, userID generic.UserID, period generic.Period) ([]timeoff.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []timeoff.AttendanceRecord
	for _, a := range m.attendance {
		if a.UserID == userID && period.Contains(a.Date) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// TENANCY & EMPLOYEES
// =============================================================================

func (m *Memory) GetWorkspace(_ context.Context, id generic.WorkspaceID) (*tenancy.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workspaces[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *Memory) SaveWorkspace(_ context.Context, w tenancy.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspaces[w.ID] = w
	return nil
}

func (m *Memory) GetUser(_ context.Context, id generic.UserID) (*tenancy.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUser(id), nil
}

// SaveUser creates or replaces the user, bumping its version.
func (m *Memory) SaveUser(_ context.Context, u tenancy.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Version = m.users[u.ID].Version + 1
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, u tenancy.User, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateUser(u, expected)
}

// CountMembers counts active memberships in the workspace.
func (m *Memory) CountMembers(_ context.Context, workspaceID generic.WorkspaceID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countMembers(workspaceID), nil
}

func (m *Memory) GetEmployee(_ context.Context, userID generic.UserID) (*hr.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[userID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// SaveEmployee creates or replaces the record, bumping its version.
func (m *Memory) SaveEmployee(_ context.Context, e hr.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Version = m.employees[e.UserID].Version + 1
	m.employees[e.UserID] = e
	return nil
}

func (m *Memory) UpdateEmployee(_ context.Context, e hr.Employee, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.employees[e.UserID]
	if !ok || cur.Version != expected {
		return generic.Conflict("employee %s was modified concurrently", e.UserID)
	}
	m.employees[e.UserID] = e
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) Record(_ context.Context, entry hr.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries returns a copy of everything recorded, oldest first.
func (m *Memory) AuditEntries() []hr.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]hr.AuditEntry(nil), m.audit...)
}
