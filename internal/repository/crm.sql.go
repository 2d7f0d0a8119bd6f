package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Statements in this file read the CRM tables. The only writes are task
// creation, the notification opt-out flag and the opportunity stage.

type rowScanner interface {
	Scan(...interface{}) error
}

// =============================================================================
// Companies & contacts
// =============================================================================

const companyColumns = `id, name, country, status, seasonal_opt_in, account_manager_id, created_at`

func scanCompany(row rowScanner) (Company, error) {
	var i Company
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Country,
		&i.Status,
		&i.SeasonalOptIn,
		&i.AccountManagerID,
		&i.CreatedAt,
	)
	return i, err
}

const getCompany = `-- name: GetCompany :one
SELECT ` + companyColumns + ` FROM companies WHERE id = $1
`

func (q *Queries) GetCompany(ctx context.Context, id uuid.UUID) (Company, error) {
	return scanCompany(q.db.QueryRowContext(ctx, getCompany, id))
}

const listSeasonalCompanies = `-- name: ListSeasonalCompanies :many
SELECT ` + companyColumns + `
FROM companies
WHERE status = 'active' AND seasonal_opt_in AND upper(country) = ANY($1::text[])
ORDER BY name
`

func (q *Queries) ListSeasonalCompanies(ctx context.Context, countries []string) ([]Company, error) {
	rows, err := q.db.QueryContext(ctx, listSeasonalCompanies, pq.Array(countries))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Company
	for rows.Next() {
		i, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const contactColumns = `id, company_id, first_name, last_name, email, language, is_primary,
    is_decision_maker, is_billing, receives_notifications, receives_renewal_reminders,
    receives_payment_reminders, receives_quarterly_updates, receives_seasonal_greetings,
    receives_sales_outreach, created_at`

func scanContact(row rowScanner) (Contact, error) {
	var i Contact
	err := row.Scan(
		&i.ID,
		&i.CompanyID,
		&i.FirstName,
		&i.LastName,
		&i.Email,
		&i.Language,
		&i.IsPrimary,
		&i.IsDecisionMaker,
		&i.IsBilling,
		&i.ReceivesNotifications,
		&i.ReceivesRenewalReminders,
		&i.ReceivesPaymentReminders,
		&i.ReceivesQuarterlyUpdates,
		&i.ReceivesSeasonalGreetings,
		&i.ReceivesSalesOutreach,
		&i.CreatedAt,
	)
	return i, err
}

const getContact = `-- name: GetContact :one
SELECT ` + contactColumns + ` FROM contacts WHERE id = $1
`

func (q *Queries) GetContact(ctx context.Context, id uuid.UUID) (Contact, error) {
	return scanContact(q.db.QueryRowContext(ctx, getContact, id))
}

const getContactByEmail = `-- name: GetContactByEmail :one
SELECT ` + contactColumns + `
FROM contacts
WHERE lower(email) = lower($1)
ORDER BY is_primary DESC, created_at
LIMIT 1
`

func (q *Queries) GetContactByEmail(ctx context.Context, email string) (Contact, error) {
	return scanContact(q.db.QueryRowContext(ctx, getContactByEmail, email))
}

const listCompanyContacts = `-- name: ListCompanyContacts :many
SELECT ` + contactColumns + `
FROM contacts
WHERE company_id = $1
ORDER BY is_primary DESC, created_at
`

func (q *Queries) ListCompanyContacts(ctx context.Context, companyID uuid.UUID) ([]Contact, error) {
	rows, err := q.db.QueryContext(ctx, listCompanyContacts, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Contact
	for rows.Next() {
		i, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setContactNotifications = `-- name: SetContactNotifications :exec
UPDATE contacts SET receives_notifications = $2 WHERE id = $1
`

type SetContactNotificationsParams struct {
	ID                    uuid.UUID
	ReceivesNotifications bool
}

func (q *Queries) SetContactNotifications(ctx context.Context, arg SetContactNotificationsParams) error {
	_, err := q.db.ExecContext(ctx, setContactNotifications, arg.ID, arg.ReceivesNotifications)
	return err
}

// =============================================================================
// Contracts & invoices
// =============================================================================

const contractColumns = `id, company_id, number, start_date, end_date, status, renewal_reminders,
    monthly_value_cents, currency, zone_count, document_key`

func scanContract(row rowScanner) (Contract, error) {
	var i Contract
	err := row.Scan(
		&i.ID,
		&i.CompanyID,
		&i.Number,
		&i.StartDate,
		&i.EndDate,
		&i.Status,
		&i.RenewalReminders,
		&i.MonthlyValueCents,
		&i.Currency,
		&i.ZoneCount,
		&i.DocumentKey,
	)
	return i, err
}

func scanContracts(rows *sql.Rows) ([]Contract, error) {
	defer rows.Close()
	var items []Contract
	for rows.Next() {
		i, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getContract = `-- name: GetContract :one
SELECT ` + contractColumns + ` FROM contracts WHERE id = $1
`

func (q *Queries) GetContract(ctx context.Context, id uuid.UUID) (Contract, error) {
	return scanContract(q.db.QueryRowContext(ctx, getContract, id))
}

const listRenewableContractsEndingOn = `-- name: ListRenewableContractsEndingOn :many
SELECT ` + contractColumns + `
FROM contracts
WHERE end_date = $1 AND status = 'Active' AND renewal_reminders
ORDER BY id
`

func (q *Queries) ListRenewableContractsEndingOn(ctx context.Context, endDate time.Time) ([]Contract, error) {
	rows, err := q.db.QueryContext(ctx, listRenewableContractsEndingOn, endDate)
	if err != nil {
		return nil, err
	}
	return scanContracts(rows)
}

const listActiveContracts = `-- name: ListActiveContracts :many
SELECT ` + contractColumns + `
FROM contracts
WHERE status = 'Active'
ORDER BY id
`

func (q *Queries) ListActiveContracts(ctx context.Context) ([]Contract, error) {
	rows, err := q.db.QueryContext(ctx, listActiveContracts)
	if err != nil {
		return nil, err
	}
	return scanContracts(rows)
}

const invoiceColumns = `id, company_id, contract_id, number, amount_cents, currency, due_date,
    status, document_key`

func scanInvoice(row rowScanner) (Invoice, error) {
	var i Invoice
	err := row.Scan(
		&i.ID,
		&i.CompanyID,
		&i.ContractID,
		&i.Number,
		&i.AmountCents,
		&i.Currency,
		&i.DueDate,
		&i.Status,
		&i.DocumentKey,
	)
	return i, err
}

const getInvoice = `-- name: GetInvoice :one
SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1
`

func (q *Queries) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return scanInvoice(q.db.QueryRowContext(ctx, getInvoice, id))
}

const listOutstandingInvoicesDueOn = `-- name: ListOutstandingInvoicesDueOn :many
SELECT ` + invoiceColumns + `
FROM invoices
WHERE due_date = $1 AND status IN ('Sent', 'Overdue')
ORDER BY id
`

func (q *Queries) ListOutstandingInvoicesDueOn(ctx context.Context, dueDate time.Time) ([]Invoice, error) {
	rows, err := q.db.QueryContext(ctx, listOutstandingInvoicesDueOn, dueDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Invoice
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// =============================================================================
// Opportunities & quotes
// =============================================================================

const opportunityColumns = `id, company_id, contact_id, name, stage, owner_id, value_cents,
    currency, created_at, last_activity_at`

func scanOpportunity(row rowScanner) (Opportunity, error) {
	var i Opportunity
	err := row.Scan(
		&i.ID,
		&i.CompanyID,
		&i.ContactID,
		&i.Name,
		&i.Stage,
		&i.OwnerID,
		&i.ValueCents,
		&i.Currency,
		&i.CreatedAt,
		&i.LastActivityAt,
	)
	return i, err
}

func scanOpportunities(rows *sql.Rows) ([]Opportunity, error) {
	defer rows.Close()
	var items []Opportunity
	for rows.Next() {
		i, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getOpportunity = `-- name: GetOpportunity :one
SELECT ` + opportunityColumns + ` FROM opportunities WHERE id = $1
`

func (q *Queries) GetOpportunity(ctx context.Context, id uuid.UUID) (Opportunity, error) {
	return scanOpportunity(q.db.QueryRowContext(ctx, getOpportunity, id))
}

const getOpenOpportunityForCompany = `-- name: GetOpenOpportunityForCompany :one
SELECT ` + opportunityColumns + `
FROM opportunities
WHERE company_id = $1 AND stage NOT IN ('Won', 'Lost')
ORDER BY last_activity_at DESC
LIMIT 1
`

func (q *Queries) GetOpenOpportunityForCompany(ctx context.Context, companyID uuid.UUID) (Opportunity, error) {
	return scanOpportunity(q.db.QueryRowContext(ctx, getOpenOpportunityForCompany, companyID))
}

const listNewOpportunities = `-- name: ListNewOpportunities :many
SELECT ` + opportunityColumns + `
FROM opportunities
WHERE created_at >= $1 AND stage IN ('New', 'Contacted')
ORDER BY created_at
`

func (q *Queries) ListNewOpportunities(ctx context.Context, since time.Time) ([]Opportunity, error) {
	rows, err := q.db.QueryContext(ctx, listNewOpportunities, since)
	if err != nil {
		return nil, err
	}
	return scanOpportunities(rows)
}

const listStaleOpportunities = `-- name: ListStaleOpportunities :many
SELECT ` + opportunityColumns + `
FROM opportunities
WHERE last_activity_at < $1 AND stage NOT IN ('Won', 'Lost')
ORDER BY last_activity_at
`

func (q *Queries) ListStaleOpportunities(ctx context.Context, before time.Time) ([]Opportunity, error) {
	rows, err := q.db.QueryContext(ctx, listStaleOpportunities, before)
	if err != nil {
		return nil, err
	}
	return scanOpportunities(rows)
}

const updateOpportunityStage = `-- name: UpdateOpportunityStage :exec
UPDATE opportunities SET stage = $2, last_activity_at = $3 WHERE id = $1
`

type UpdateOpportunityStageParams struct {
	ID             uuid.UUID
	Stage          string
	LastActivityAt time.Time
}

func (q *Queries) UpdateOpportunityStage(ctx context.Context, arg UpdateOpportunityStageParams) error {
	_, err := q.db.ExecContext(ctx, updateOpportunityStage, arg.ID, arg.Stage, arg.LastActivityAt)
	return err
}

const quoteColumns = `id, opportunity_id, company_id, contact_id, number, amount_cents,
    currency, status, sent_at, document_key`

func scanQuote(row rowScanner) (Quote, error) {
	var i Quote
	err := row.Scan(
		&i.ID,
		&i.OpportunityID,
		&i.CompanyID,
		&i.ContactID,
		&i.Number,
		&i.AmountCents,
		&i.Currency,
		&i.Status,
		&i.SentAt,
		&i.DocumentKey,
	)
	return i, err
}

const getQuote = `-- name: GetQuote :one
SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1
`

func (q *Queries) GetQuote(ctx context.Context, id uuid.UUID) (Quote, error) {
	return scanQuote(q.db.QueryRowContext(ctx, getQuote, id))
}

const listSentQuotes = `-- name: ListSentQuotes :many
SELECT ` + quoteColumns + `
FROM quotes
WHERE status = 'Sent' AND sent_at >= $1 AND sent_at < $2
ORDER BY sent_at
`

type ListSentQuotesParams struct {
	SentAfter  time.Time
	SentBefore time.Time
}

func (q *Queries) ListSentQuotes(ctx context.Context, arg ListSentQuotesParams) ([]Quote, error) {
	rows, err := q.db.QueryContext(ctx, listSentQuotes, arg.SentAfter, arg.SentBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Quote
	for rows.Next() {
		i, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// =============================================================================
// Tasks
// =============================================================================

const createTask = `-- name: CreateTask :one
INSERT INTO tasks (
    company_id, contact_id, opportunity_id, title, description, due_date,
    assignee_id, source, status, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open', $9)
RETURNING id, company_id, contact_id, opportunity_id, title, description, due_date,
    assignee_id, source, status, created_at
`

type CreateTaskParams struct {
	CompanyID     uuid.UUID
	ContactID     uuid.NullUUID
	OpportunityID uuid.NullUUID
	Title         string
	Description   string
	DueDate       time.Time
	AssigneeID    uuid.NullUUID
	Source        string
	CreatedAt     time.Time
}

func (q *Queries) CreateTask(ctx context.Context, arg CreateTaskParams) (Task, error) {
	row := q.db.QueryRowContext(ctx, createTask,
		arg.CompanyID,
		arg.ContactID,
		arg.OpportunityID,
		arg.Title,
		arg.Description,
		arg.DueDate,
		arg.AssigneeID,
		arg.Source,
		arg.CreatedAt,
	)
	var i Task
	err := row.Scan(
		&i.ID,
		&i.CompanyID,
		&i.ContactID,
		&i.OpportunityID,
		&i.Title,
		&i.Description,
		&i.DueDate,
		&i.AssigneeID,
		&i.Source,
		&i.Status,
		&i.CreatedAt,
	)
	return i, err
}
