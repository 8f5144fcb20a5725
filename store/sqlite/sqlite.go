/*
Package sqlite provides a SQLite-backed implementation of the billing
Gateway and AuditSink.

PURPOSE:
  Persists tenants, projects, expenses, reimbursements and invoices using
  SQLite. The same patterns apply to PostgreSQL in production - only minor
  SQL dialect differences.

INTERFACES IMPLEMENTED:
  billing.Gateway:   Tenant-scoped entity persistence + WithTx
  billing.AuditSink: Append-only audit log

OPTIMISTIC CONCURRENCY:
  Every mutable row carries a version column. Updates are
  "UPDATE ... WHERE id=? AND version=?"; zero rows affected means either
  the row vanished (NotFound) or someone else won the race (Conflict).
  Inserts use version 0 and rely on the primary key to reject duplicates.

KEY TABLES:
  tenants, projects, expenses, reimbursements, invoices, invoice_items,
  audit_log

ENCODING:
  Money and percentages are stored as TEXT (exact decimal strings),
  never as REAL. Purchase dates are stored as "2006-01-02", months as
  "YYYY-MM", timestamps as RFC3339.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers,
  single writer, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions and CAS contract
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/money"
)

const (
	dateLayout = "2006-01-02"
	tsLayout   = time.RFC3339Nano
)

// Store implements billing.Gateway and billing.AuditSink using SQLite.
type Store struct {
	gateway
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The sqlite driver is not safe for concurrent writes on one handle.
	db.SetMaxOpenConns(1)

	s := &Store{gateway: gateway{q: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		indicator_default_pct TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		client_id TEXT,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		value_total TEXT NOT NULL,
		cost_planned_nf TEXT NOT NULL,
		cost_planned_other TEXT NOT NULL,
		cost_planned TEXT NOT NULL,
		indicator_override_pct TEXT,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_tenant ON projects(tenant_id);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		service_id TEXT,
		service_name TEXT,
		complement TEXT,
		value TEXT NOT NULL,
		date_buy TEXT NOT NULL,
		status TEXT NOT NULL,
		invoice_id TEXT,
		created_by TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_expenses_tenant ON expenses(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_expenses_project ON expenses(tenant_id, project_id);
	CREATE INDEX IF NOT EXISTS idx_expenses_invoice ON expenses(invoice_id) WHERE invoice_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS reimbursements (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		project_id TEXT,
		requester TEXT NOT NULL,
		description TEXT,
		value TEXT NOT NULL,
		date_buy TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reimbursements_tenant ON reimbursements(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_reimbursements_project ON reimbursements(tenant_id, project_id);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		month_competency TEXT NOT NULL,
		month_issue TEXT NOT NULL,
		status TEXT NOT NULL,
		total TEXT NOT NULL,
		file_ref TEXT,
		created_by TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_tenant ON invoices(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_issue ON invoices(tenant_id, month_issue);

	CREATE TABLE IF NOT EXISTS invoice_items (
		invoice_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		project_id TEXT NOT NULL,
		expense_id TEXT NOT NULL,
		description TEXT,
		value TEXT NOT NULL,
		PRIMARY KEY (invoice_id, position)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		meta_json TEXT,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one database transaction. Rolled back on error.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Gateway) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	g := &txGateway{gateway{q: tx}}
	if err := fn(g); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txGateway joins the ambient transaction on nested WithTx.
type txGateway struct {
	gateway
}

func (g *txGateway) WithTx(_ context.Context, fn func(billing.Gateway) error) error {
	return fn(g)
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// gateway holds the shared query implementations.
type gateway struct {
	q dbtx
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

func encMoney(m money.Money) string { return m.Decimal().String() }

func decMoney(s string) (money.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return money.Zero, fmt.Errorf("corrupt money column %q: %w", s, err)
	}
	return money.FromDecimal(d), nil
}

func encNullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func decTime(s, layout string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(layout, s)
}

// casUpdate interprets an UPDATE ... WHERE version=? result: zero rows
// means either a lost race or a missing row.
func (g gateway) casUpdate(ctx context.Context, res sql.Result, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = g.q.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return billing.ErrNotFound
	}
	if err != nil {
		return err
	}
	return billing.ErrConflict
}

// =============================================================================
// TENANTS
// =============================================================================

func (g gateway) Tenant(ctx context.Context, id billing.TenantID) (*billing.Tenant, error) {
	row := g.q.QueryRowContext(ctx,
		`SELECT id, name, indicator_default_pct FROM tenants WHERE id = ?`, id)

	var t billing.Tenant
	var pct string
	if err := row.Scan(&t.ID, &t.Name, &pct); err != nil {
		if err == sql.ErrNoRows {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	d, err := decimal.NewFromString(pct)
	if err != nil {
		return nil, fmt.Errorf("corrupt threshold for tenant %s: %w", id, err)
	}
	t.IndicatorDefaultPct = d
	return &t, nil
}

func (g gateway) PutTenant(ctx context.Context, t *billing.Tenant) error {
	_, err := g.q.ExecContext(ctx, `
		INSERT INTO tenants (id, name, indicator_default_pct) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name,
			indicator_default_pct=excluded.indicator_default_pct`,
		t.ID, t.Name, t.IndicatorDefaultPct.String())
	return err
}

// =============================================================================
// PROJECTS
// =============================================================================

const projectCols = `id, tenant_id, client_id, code, name, value_total,
	cost_planned_nf, cost_planned_other, cost_planned, indicator_override_pct,
	version, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*billing.Project, error) {
	var p billing.Project
	var clientID, overridePct sql.NullString
	var valueTotal, plannedNF, plannedOther, planned string
	var createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.TenantID, &clientID, &p.Code, &p.Name,
		&valueTotal, &plannedNF, &plannedOther, &planned, &overridePct,
		&p.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}

	p.ClientID = billing.ClientID(clientID.String)
	if p.ValueTotal, err = decMoney(valueTotal); err != nil {
		return nil, err
	}
	if p.CostPlannedNF, err = decMoney(plannedNF); err != nil {
		return nil, err
	}
	if p.CostPlannedOther, err = decMoney(plannedOther); err != nil {
		return nil, err
	}
	if p.CostPlanned, err = decMoney(planned); err != nil {
		return nil, err
	}
	if overridePct.Valid {
		d, err := decimal.NewFromString(overridePct.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt override pct for project %s: %w", p.ID, err)
		}
		p.IndicatorOverridePct = &d
	}
	if p.CreatedAt, err = decTime(createdAt, tsLayout); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = decTime(updatedAt, tsLayout); err != nil {
		return nil, err
	}
	return &p, nil
}

func (g gateway) Project(ctx context.Context, tenantID billing.TenantID, id billing.ProjectID) (*billing.Project, error) {
	row := g.q.QueryRowContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanProject(row)
}

func (g gateway) ProjectsByTenant(ctx context.Context, tenantID billing.TenantID) ([]*billing.Project, error) {
	rows, err := g.q.QueryContext(ctx,
		`SELECT `+projectCols+` FROM projects WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (g gateway) PutProject(ctx context.Context, p *billing.Project) error {
	var overridePct sql.NullString
	if p.IndicatorOverridePct != nil {
		overridePct = sql.NullString{String: p.IndicatorOverridePct.String(), Valid: true}
	}

	if p.Version == 0 {
		_, err := g.q.ExecContext(ctx, `
			INSERT INTO projects (`+projectCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			p.ID, p.TenantID, encNullStr(string(p.ClientID)), p.Code, p.Name,
			encMoney(p.ValueTotal), encMoney(p.CostPlannedNF), encMoney(p.CostPlannedOther),
			encMoney(p.CostPlanned), overridePct,
			p.CreatedAt.Format(tsLayout), p.UpdatedAt.Format(tsLayout))
		if err != nil {
			return fmt.Errorf("insert project: %w", billing.ErrConflict)
		}
		p.Version = 1
		return nil
	}

	res, err := g.q.ExecContext(ctx, `
		UPDATE projects SET client_id=?, code=?, name=?, value_total=?,
			cost_planned_nf=?, cost_planned_other=?, cost_planned=?,
			indicator_override_pct=?, version=version+1, updated_at=?
		WHERE id = ? AND tenant_id = ? AND version = ?`,
		encNullStr(string(p.ClientID)), p.Code, p.Name, encMoney(p.ValueTotal),
		encMoney(p.CostPlannedNF), encMoney(p.CostPlannedOther), encMoney(p.CostPlanned),
		overridePct, p.UpdatedAt.Format(tsLayout),
		p.ID, p.TenantID, p.Version)
	if err != nil {
		return err
	}
	if err := g.casUpdate(ctx, res, `SELECT 1 FROM projects WHERE id = ?`, p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseCols = `id, tenant_id, project_id, service_id, service_name,
	complement, value, date_buy, status, invoice_id, created_by, version,
	created_at, updated_at`

func scanExpense(row interface{ Scan(...any) error }) (*billing.Expense, error) {
	var e billing.Expense
	var serviceID, invoiceID sql.NullString
	var serviceName, complement sql.NullString
	var value, dateBuy, createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.TenantID, &e.ProjectID, &serviceID, &serviceName,
		&complement, &value, &dateBuy, &e.Status, &invoiceID, &e.CreatedBy,
		&e.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}

	e.ServiceID = billing.ServiceID(serviceID.String)
	e.ServiceName = serviceName.String
	e.Complement = complement.String
	if invoiceID.Valid {
		id := billing.InvoiceID(invoiceID.String)
		e.InvoiceID = &id
	}
	if e.Value, err = decMoney(value); err != nil {
		return nil, err
	}
	if e.DateBuy, err = decTime(dateBuy, dateLayout); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = decTime(createdAt, tsLayout); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = decTime(updatedAt, tsLayout); err != nil {
		return nil, err
	}
	return &e, nil
}

func (g gateway) Expense(ctx context.Context, tenantID billing.TenantID, id billing.ExpenseID) (*billing.Expense, error) {
	row := g.q.QueryRowContext(ctx,
		`SELECT `+expenseCols+` FROM expenses WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanExpense(row)
}

func (g gateway) queryExpenses(ctx context.Context, query string, args ...any) ([]*billing.Expense, error) {
	rows, err := g.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g gateway) ExpensesByTenant(ctx context.Context, tenantID billing.TenantID) ([]*billing.Expense, error) {
	return g.queryExpenses(ctx,
		`SELECT `+expenseCols+` FROM expenses WHERE tenant_id = ? ORDER BY id`, tenantID)
}

func (g gateway) ExpensesByProject(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Expense, error) {
	return g.queryExpenses(ctx,
		`SELECT `+expenseCols+` FROM expenses WHERE tenant_id = ? AND project_id = ? ORDER BY id`,
		tenantID, projectID)
}

func (g gateway) PutExpense(ctx context.Context, e *billing.Expense) error {
	var invoiceID sql.NullString
	if e.InvoiceID != nil {
		invoiceID = sql.NullString{String: string(*e.InvoiceID), Valid: true}
	}

	if e.Version == 0 {
		_, err := g.q.ExecContext(ctx, `
			INSERT INTO expenses (`+expenseCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			e.ID, e.TenantID, e.ProjectID, encNullStr(string(e.ServiceID)),
			encNullStr(e.ServiceName), encNullStr(e.Complement), encMoney(e.Value),
			e.DateBuy.Format(dateLayout), e.Status, invoiceID, e.CreatedBy,
			e.CreatedAt.Format(tsLayout), e.UpdatedAt.Format(tsLayout))
		if err != nil {
			return fmt.Errorf("insert expense: %w", billing.ErrConflict)
		}
		e.Version = 1
		return nil
	}

	res, err := g.q.ExecContext(ctx, `
		UPDATE expenses SET project_id=?, service_id=?, service_name=?,
			complement=?, value=?, date_buy=?, status=?, invoice_id=?,
			version=version+1, updated_at=?
		WHERE id = ? AND tenant_id = ? AND version = ?`,
		e.ProjectID, encNullStr(string(e.ServiceID)), encNullStr(e.ServiceName),
		encNullStr(e.Complement), encMoney(e.Value), e.DateBuy.Format(dateLayout),
		e.Status, invoiceID, e.UpdatedAt.Format(tsLayout),
		e.ID, e.TenantID, e.Version)
	if err != nil {
		return err
	}
	if err := g.casUpdate(ctx, res, `SELECT 1 FROM expenses WHERE id = ?`, e.ID); err != nil {
		return err
	}
	e.Version++
	return nil
}

// =============================================================================
// REIMBURSEMENTS
// =============================================================================

const reimbursementCols = `id, tenant_id, project_id, requester, description,
	value, date_buy, status, version, created_at, updated_at`

func scanReimbursement(row interface{ Scan(...any) error }) (*billing.Reimbursement, error) {
	var r billing.Reimbursement
	var projectID, description sql.NullString
	var value, dateBuy, createdAt, updatedAt string

	err := row.Scan(&r.ID, &r.TenantID, &projectID, &r.Requester, &description,
		&value, &dateBuy, &r.Status, &r.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}

	r.ProjectID = billing.ProjectID(projectID.String)
	r.Description = description.String
	if r.Value, err = decMoney(value); err != nil {
		return nil, err
	}
	if r.DateBuy, err = decTime(dateBuy, dateLayout); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = decTime(createdAt, tsLayout); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = decTime(updatedAt, tsLayout); err != nil {
		return nil, err
	}
	return &r, nil
}

func (g gateway) Reimbursement(ctx context.Context, tenantID billing.TenantID, id billing.ReimbursementID) (*billing.Reimbursement, error) {
	row := g.q.QueryRowContext(ctx,
		`SELECT `+reimbursementCols+` FROM reimbursements WHERE id = ? AND tenant_id = ?`, id, tenantID)
	return scanReimbursement(row)
}

func (g gateway) queryReimbursements(ctx context.Context, query string, args ...any) ([]*billing.Reimbursement, error) {
	rows, err := g.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Reimbursement
	for rows.Next() {
		r, err := scanReimbursement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g gateway) ReimbursementsByTenant(ctx context.Context, tenantID billing.TenantID) ([]*billing.Reimbursement, error) {
	return g.queryReimbursements(ctx,
		`SELECT `+reimbursementCols+` FROM reimbursements WHERE tenant_id = ? ORDER BY id`, tenantID)
}

func (g gateway) ReimbursementsByProject(ctx context.Context, tenantID billing.TenantID, projectID billing.ProjectID) ([]*billing.Reimbursement, error) {
	return g.queryReimbursements(ctx,
		`SELECT `+reimbursementCols+` FROM reimbursements WHERE tenant_id = ? AND project_id = ? ORDER BY id`,
		tenantID, projectID)
}

func (g gateway) PutReimbursement(ctx context.Context, r *billing.Reimbursement) error {
	if r.Version == 0 {
		_, err := g.q.ExecContext(ctx, `
			INSERT INTO reimbursements (`+reimbursementCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			r.ID, r.TenantID, encNullStr(string(r.ProjectID)), r.Requester,
			encNullStr(r.Description), encMoney(r.Value), r.DateBuy.Format(dateLayout),
			r.Status, r.CreatedAt.Format(tsLayout), r.UpdatedAt.Format(tsLayout))
		if err != nil {
			return fmt.Errorf("insert reimbursement: %w", billing.ErrConflict)
		}
		r.Version = 1
		return nil
	}

	res, err := g.q.ExecContext(ctx, `
		UPDATE reimbursements SET project_id=?, description=?, value=?,
			date_buy=?, status=?, version=version+1, updated_at=?
		WHERE id = ? AND tenant_id = ? AND version = ?`,
		encNullStr(string(r.ProjectID)), encNullStr(r.Description), encMoney(r.Value),
		r.DateBuy.Format(dateLayout), r.Status, r.UpdatedAt.Format(tsLayout),
		r.ID, r.TenantID, r.Version)
	if err != nil {
		return err
	}
	if err := g.casUpdate(ctx, res, `SELECT 1 FROM reimbursements WHERE id = ?`, r.ID); err != nil {
		return err
	}
	r.Version++
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceCols = `id, tenant_id, month_competency, month_issue, status,
	total, file_ref, created_by, version, created_at, updated_at`

func scanInvoice(row interface{ Scan(...any) error }) (*billing.Invoice, error) {
	var i billing.Invoice
	var monthCompetency, monthIssue, total string
	var fileRef sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&i.ID, &i.TenantID, &monthCompetency, &monthIssue, &i.Status,
		&total, &fileRef, &i.CreatedBy, &i.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}

	if i.MonthCompetency, err = money.ParseMonth(monthCompetency); err != nil {
		return nil, err
	}
	if i.MonthIssue, err = money.ParseMonth(monthIssue); err != nil {
		return nil, err
	}
	if i.Total, err = decMoney(total); err != nil {
		return nil, err
	}
	i.FileRef = fileRef.String
	if i.CreatedAt, err = decTime(createdAt, tsLayout); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = decTime(updatedAt, tsLayout); err != nil {
		return nil, err
	}
	return &i, nil
}

func (g gateway) loadItems(ctx context.Context, inv *billing.Invoice) error {
	rows, err := g.q.QueryContext(ctx, `
		SELECT project_id, expense_id, description, value
		FROM invoice_items WHERE invoice_id = ? ORDER BY position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item billing.InvoiceItem
		var description sql.NullString
		var value string
		if err := rows.Scan(&item.ProjectID, &item.ExpenseID, &description, &value); err != nil {
			return err
		}
		item.Description = description.String
		if item.Value, err = decMoney(value); err != nil {
			return err
		}
		inv.Items = append(inv.Items, item)
		inv.ExpenseIDs = append(inv.ExpenseIDs, item.ExpenseID)
	}
	return rows.Err()
}

func (g gateway) Invoice(ctx context.Context, tenantID billing.TenantID, id billing.InvoiceID) (*billing.Invoice, error) {
	row := g.q.QueryRowContext(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE id = ? AND tenant_id = ?`, id, tenantID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	if err := g.loadItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (g gateway) InvoicesByTenant(ctx context.Context, tenantID billing.TenantID) ([]*billing.Invoice, error) {
	rows, err := g.q.QueryContext(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for _, inv := range out {
		if err := g.loadItems(ctx, inv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (g gateway) PutInvoice(ctx context.Context, i *billing.Invoice) error {
	if i.Version == 0 {
		_, err := g.q.ExecContext(ctx, `
			INSERT INTO invoices (`+invoiceCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			i.ID, i.TenantID, i.MonthCompetency.String(), i.MonthIssue.String(),
			i.Status, encMoney(i.Total), encNullStr(i.FileRef), i.CreatedBy,
			i.CreatedAt.Format(tsLayout), i.UpdatedAt.Format(tsLayout))
		if err != nil {
			return fmt.Errorf("insert invoice: %w", billing.ErrConflict)
		}
		i.Version = 1
		return g.replaceItems(ctx, i)
	}

	res, err := g.q.ExecContext(ctx, `
		UPDATE invoices SET month_competency=?, month_issue=?, status=?,
			total=?, file_ref=?, version=version+1, updated_at=?
		WHERE id = ? AND tenant_id = ? AND version = ?`,
		i.MonthCompetency.String(), i.MonthIssue.String(), i.Status,
		encMoney(i.Total), encNullStr(i.FileRef), i.UpdatedAt.Format(tsLayout),
		i.ID, i.TenantID, i.Version)
	if err != nil {
		return err
	}
	if err := g.casUpdate(ctx, res, `SELECT 1 FROM invoices WHERE id = ?`, i.ID); err != nil {
		return err
	}
	i.Version++
	return g.replaceItems(ctx, i)
}

func (g gateway) replaceItems(ctx context.Context, i *billing.Invoice) error {
	if _, err := g.q.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, i.ID); err != nil {
		return err
	}
	for pos, item := range i.Items {
		_, err := g.q.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, project_id, expense_id, description, value)
			VALUES (?, ?, ?, ?, ?, ?)`,
			i.ID, pos, item.ProjectID, item.ExpenseID, encNullStr(item.Description), encMoney(item.Value))
		if err != nil {
			return err
		}
	}
	return nil
}

func (g gateway) DeleteInvoice(ctx context.Context, tenantID billing.TenantID, id billing.InvoiceID) error {
	res, err := g.q.ExecContext(ctx,
		`DELETE FROM invoices WHERE id = ? AND tenant_id = ?`, id, tenantID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrNotFound
	}
	_, err = g.q.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = ?`, id)
	return err
}

// =============================================================================
// AUDIT SINK
// =============================================================================

// Record appends an audit entry. Append-only: no update or delete paths.
func (s *Store) Record(ctx context.Context, ev billing.AuditEvent) error {
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, actor_id, tenant_id, meta_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Action, ev.ActorID, ev.TenantID, string(meta), time.Now().UTC().Format(tsLayout))
	return err
}
