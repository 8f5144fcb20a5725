// Package store provides an in-memory Gateway implementation for tests
// and dev mode.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY GATEWAY - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements billing.Gateway and billing.AuditSink with plain maps.
// Entities are stored and returned as copies, so callers never alias
// internal state; this is what makes snapshot/rollback in WithTx cheap.
type Memory struct {
	mu             sync.RWMutex
	tenants        map[billing.TenantID]*billing.Tenant
	projects       map[billing.ProjectID]*billing.Project
	expenses       map[billing.ExpenseID]*billing.Expense
	reimbursements map[billing.ReimbursementID]*billing.Reimbursement
	invoices       map[billing.InvoiceID]*billing.Invoice
	audits         []billing.AuditEvent
}

func NewMemory() *Memory {
	return &Memory{
		tenants:        make(map[billing.TenantID]*billing.Tenant),
		projects:       make(map[billing.ProjectID]*billing.Project),
		expenses:       make(map[billing.ExpenseID]*billing.Expense),
		reimbursements: make(map[billing.ReimbursementID]*billing.Reimbursement),
		invoices:       make(map[billing.InvoiceID]*billing.Invoice),
	}
}

// =============================================================================
// CLONING - Entities never escape by reference
// =============================================================================

func cloneTenant(t *billing.Tenant) *billing.Tenant {
	c := *t
	return &c
}

func cloneProject(p *billing.Project) *billing.Project {
	c := *p
	if p.IndicatorOverridePct != nil {
		pct := *p.IndicatorOverridePct
		c.IndicatorOverridePct = &pct
	}
	return &c
}

func cloneExpense(e *billing.Expense) *billing.Expense {
	c := *e
	if e.InvoiceID != nil {
		id := *e.InvoiceID
		c.InvoiceID = &id
	}
	return &c
}

func cloneReimbursement(r *billing.Reimbursement) *billing.Reimbursement {
	c := *r
	return &c
}

func cloneInvoice(i *billing.Invoice) *billing.Invoice {
	c := *i
	c.Items = append([]billing.InvoiceItem(nil), i.Items...)
	c.ExpenseIDs = append([]billing.ExpenseID(nil), i.ExpenseIDs...)
	return &c
}

// =============================================================================
// TENANTS
// =============================================================================

func (m *Memory) Tenant(_ context.Context, id billing.TenantID) (*billing.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenantLocked(id)
}

func (m *Memory) tenantLocked(id billing.TenantID) (*billing.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return cloneTenant(t), nil
}

func (m *Memory) PutTenant(_ context.Context, t *billing.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = cloneTenant(t)
	return nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (m *Memory) Project(_ context.Context, tenantID billing.TenantID, id billing.ProjectID) (*billing.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projectLocked(tenantID, id)
}

func (m *Memory) projectLocked(tenantID billing.TenantID, id billing.ProjectID) (*billing.Project, error) {
	p, ok := m.projects[id]
	if !ok || p.TenantID != tenantID {
		return nil, billing.ErrNotFound
	}
	return cloneProject(p), nil
}

func (m *Memory) ProjectsByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projectsByTenantLocked(tenantID), nil
}

func (m *Memory) projectsByTenantLocked(tenantID billing.TenantID) []*billing.Project {
	var out []*billing.Project
	for _, p := range m.projects {
		if p.TenantID == tenantID {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) PutProject(_ context.Context, p *billing.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putProjectLocked(p)
}

func (m *Memory) putProjectLocked(p *billing.Project) error {
	existing, ok := m.projects[p.ID]
	if err := checkVersion(ok, versionOf(existing, func(x *billing.Project) int { return x.Version }), p.Version); err != nil {
		return err
	}
	p.Version++
	m.projects[p.ID] = cloneProject(p)
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (m *Memory) Expense(_ context.Context, tenantID billing.TenantID, id billing.ExpenseID) (*billing.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expenseLocked(tenantID, id)
}

func (m *Memory) expenseLocked(tenantID billing.TenantID, id billing.ExpenseID) (*billing.Expense, error) {
	e, ok := m.expenses[id]
	if !ok || e.TenantID != tenantID {
		return nil, billing.ErrNotFound
	}
	return cloneExpense(e), nil
}

func (m *Memory) ExpensesByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expensesByTenantLocked(tenantID), nil
}

func (m *Memory) expensesByTenantLocked(tenantID billing.TenantID) []*billing.Expense {
	var out []*billing.Expense
	for _, e := range m.expenses {
		if e.TenantID == tenantID {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ExpensesByProject(_ context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*billing.Expense
	for _, e := range m.expenses {
		if e.TenantID == tenantID && e.ProjectID == projectID {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutExpense(_ context.Context, e *billing.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putExpenseLocked(e)
}

func (m *Memory) putExpenseLocked(e *billing.Expense) error {
	existing, ok := m.expenses[e.ID]
	if err := checkVersion(ok, versionOf(existing, func(x *billing.Expense) int { return x.Version }), e.Version); err != nil {
		return err
	}
	e.Version++
	m.expenses[e.ID] = cloneExpense(e)
	return nil
}

// =============================================================================
// REIMBURSEMENTS
// =============================================================================

func (m *Memory) Reimbursement(_ context.Context, tenantID billing.TenantID, id billing.ReimbursementID) (*billing.Reimbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reimbursementLocked(tenantID, id)
}

func (m *Memory) reimbursementLocked(tenantID billing.TenantID, id billing.ReimbursementID) (*billing.Reimbursement, error) {
	r, ok := m.reimbursements[id]
	if !ok || r.TenantID != tenantID {
		return nil, billing.ErrNotFound
	}
	return cloneReimbursement(r), nil
}

func (m *Memory) ReimbursementsByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Reimbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*billing.Reimbursement
	for _, r := range m.reimbursements {
		if r.TenantID == tenantID {
			out = append(out, cloneReimbursement(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReimbursementsByProject(_ context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Reimbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*billing.Reimbursement
	for _, r := range m.reimbursements {
		if r.TenantID == tenantID && r.ProjectID == projectID {
			out = append(out, cloneReimbursement(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutReimbursement(_ context.Context, r *billing.Reimbursement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putReimbursementLocked(r)
}

func (m *Memory) putReimbursementLocked(r *billing.Reimbursement) error {
	existing, ok := m.reimbursements[r.ID]
	if err := checkVersion(ok, versionOf(existing, func(x *billing.Reimbursement) int { return x.Version }), r.Version); err != nil {
		return err
	}
	r.Version++
	m.reimbursements[r.ID] = cloneReimbursement(r)
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) Invoice(_ context.Context, tenantID billing.TenantID, id billing.InvoiceID) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invoiceLocked(tenantID, id)
}

func (m *Memory) invoiceLocked(tenantID billing.TenantID, id billing.InvoiceID) (*billing.Invoice, error) {
	i, ok := m.invoices[id]
	if !ok || i.TenantID != tenantID {
		return nil, billing.ErrNotFound
	}
	return cloneInvoice(i), nil
}

func (m *Memory) InvoicesByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*billing.Invoice
	for _, i := range m.invoices {
		if i.TenantID == tenantID {
			out = append(out, cloneInvoice(i))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutInvoice(_ context.Context, i *billing.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putInvoiceLocked(i)
}

func (m *Memory) putInvoiceLocked(i *billing.Invoice) error {
	existing, ok := m.invoices[i.ID]
	if err := checkVersion(ok, versionOf(existing, func(x *billing.Invoice) int { return x.Version }), i.Version); err != nil {
		return err
	}
	i.Version++
	m.invoices[i.ID] = cloneInvoice(i)
	return nil
}

func (m *Memory) DeleteInvoice(_ context.Context, tenantID billing.TenantID, id billing.InvoiceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteInvoiceLocked(tenantID, id)
}

func (m *Memory) deleteInvoiceLocked(tenantID billing.TenantID, id billing.InvoiceID) error {
	i, ok := m.invoices[id]
	if !ok || i.TenantID != tenantID {
		return billing.ErrNotFound
	}
	delete(m.invoices, id)
	return nil
}

// =============================================================================
// OPTIMISTIC VERSION CHECK
// =============================================================================

// checkVersion enforces compare-and-swap semantics:
// version 0 inserts (conflict if the row exists), version N updates only
// if the stored row still has version N.
func checkVersion(exists bool, stored, incoming int) error {
	if incoming == 0 {
		if exists {
			return billing.ErrConflict
		}
		return nil
	}
	if !exists {
		return billing.ErrNotFound
	}
	if stored != incoming {
		return billing.ErrConflict
	}
	return nil
}

func versionOf[T any](v *T, f func(*T) int) int {
	if v == nil {
		return 0
	}
	return f(v)
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback
// =============================================================================

// WithTx executes fn against a view of the store under the write lock.
// On error every map is restored to its pre-call snapshot, so partial
// writes are never observable.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Gateway) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	tenants        map[billing.TenantID]*billing.Tenant
	projects       map[billing.ProjectID]*billing.Project
	expenses       map[billing.ExpenseID]*billing.Expense
	reimbursements map[billing.ReimbursementID]*billing.Reimbursement
	invoices       map[billing.InvoiceID]*billing.Invoice
}

// snapshot is a shallow map copy: stored values are immutable (puts always
// replace, never mutate in place), so copying the maps is enough.
func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		tenants:        make(map[billing.TenantID]*billing.Tenant, len(m.tenants)),
		projects:       make(map[billing.ProjectID]*billing.Project, len(m.projects)),
		expenses:       make(map[billing.ExpenseID]*billing.Expense, len(m.expenses)),
		reimbursements: make(map[billing.ReimbursementID]*billing.Reimbursement, len(m.reimbursements)),
		invoices:       make(map[billing.InvoiceID]*billing.Invoice, len(m.invoices)),
	}
	for k, v := range m.tenants {
		s.tenants[k] = v
	}
	for k, v := range m.projects {
		s.projects[k] = v
	}
	for k, v := range m.expenses {
		s.expenses[k] = v
	}
	for k, v := range m.reimbursements {
		s.reimbursements[k] = v
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.tenants = s.tenants
	m.projects = s.projects
	m.expenses = s.expenses
	m.reimbursements = s.reimbursements
	m.invoices = s.invoices
}

// txView routes Gateway calls back to the parent while its write lock is
// already held. Nested WithTx joins the ambient unit.
type txView struct {
	m *Memory
}

func (v *txView) Tenant(_ context.Context, id billing.TenantID) (*billing.Tenant, error) {
	return v.m.tenantLocked(id)
}

func (v *txView) PutTenant(_ context.Context, t *billing.Tenant) error {
	v.m.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (v *txView) Project(_ context.Context, tenantID billing.TenantID, id billing.ProjectID) (*billing.Project, error) {
	return v.m.projectLocked(tenantID, id)
}

func (v *txView) ProjectsByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Project, error) {
	return v.m.projectsByTenantLocked(tenantID), nil
}

func (v *txView) PutProject(_ context.Context, p *billing.Project) error {
	return v.m.putProjectLocked(p)
}

func (v *txView) Expense(_ context.Context, tenantID billing.TenantID, id billing.ExpenseID) (*billing.Expense, error) {
	return v.m.expenseLocked(tenantID, id)
}

func (v *txView) ExpensesByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Expense, error) {
	return v.m.expensesByTenantLocked(tenantID), nil
}

func (v *txView) ExpensesByProject(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Expense, error) {
	var out []*billing.Expense
	for _, e := range v.m.expenses {
		if e.TenantID == tenantID && e.ProjectID == projectID {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) PutExpense(_ context.Context, e *billing.Expense) error {
	return v.m.putExpenseLocked(e)
}

func (v *txView) Reimbursement(_ context.Context, tenantID billing.TenantID, id billing.ReimbursementID) (*billing.Reimbursement, error) {
	return v.m.reimbursementLocked(tenantID, id)
}

func (v *txView) ReimbursementsByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Reimbursement, error) {
	var out []*billing.Reimbursement
	for _, r := range v.m.reimbursements {
		if r.TenantID == tenantID {
			out = append(out, cloneReimbursement(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) ReimbursementsByProject(_ context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Reimbursement, error) {
	var out []*billing.Reimbursement
	for _, r := range v.m.reimbursements {
		if r.TenantID == tenantID && r.ProjectID == projectID {
			out = append(out, cloneReimbursement(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) PutReimbursement(_ context.Context, r *billing.Reimbursement) error {
	return v.m.putReimbursementLocked(r)
}

func (v *txView) Invoice(_ context.Context, tenantID billing.TenantID, id billing.InvoiceID) (*billing.Invoice, error) {
	return v.m.invoiceLocked(tenantID, id)
}

func (v *txView) InvoicesByTenant(_ context.Context, tenantID billing.TenantID) ([]*billing.Invoice, error) {
	var out []*billing.Invoice
	for _, i := range v.m.invoices {
		if i.TenantID == tenantID {
			out = append(out, cloneInvoice(i))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) PutInvoice(_ context.Context, i *billing.Invoice) error {
	return v.m.putInvoiceLocked(i)
}

func (v *txView) DeleteInvoice(_ context.Context, tenantID billing.TenantID, id billing.InvoiceID) error {
	return v.m.deleteInvoiceLocked(tenantID, id)
}

func (v *txView) WithTx(_ context.Context, fn func(billing.Gateway) error) error {
	return fn(v)
}

// =============================================================================
// AUDIT SINK
// =============================================================================

// Record implements billing.AuditSink, retaining events for inspection.
func (m *Memory) Record(_ context.Context, ev billing.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, ev)
	return nil
}

// AuditEvents returns a copy of all recorded events.
func (m *Memory) AuditEvents() []billing.AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.AuditEvent(nil), m.audits...)
}
