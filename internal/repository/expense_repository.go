package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/database"
)

const expenseColumns = `
	e.id, e.company_id, e.submitted_by, e.amount_cents, e.currency,
	e.category_id, c.name,
	e.description, e.expense_date,
	e.receipt_url, e.merchant_name,
	e.ocr_amount_cents, e.ocr_date, e.ocr_merchant, e.ocr_text,
	e.status, e.current_approver, e.approval_flow_id,
	e.created_at, e.updated_at, e.submitted_at, e.approved_at, e.paid_at`

// ExpenseRepository handles persistence of expense claims.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

// Create inserts a new draft expense.
func (r *ExpenseRepository) Create(ctx context.Context, e *Expense) error {
	e.ID = uuid.NewString()

	query := `
		INSERT INTO expenses
		    (id, company_id, submitted_by, amount_cents, currency,
		     category_id, description, expense_date,
		     receipt_url, merchant_name,
		     ocr_amount_cents, ocr_date, ocr_merchant, ocr_text,
		     status)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8,
		        $9, $10,
		        $11, $12, $13, $14,
		        $15::expense_status)
		RETURNING created_at, updated_at
	`

	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, query,
		e.ID,
		e.CompanyID,
		e.SubmittedBy,
		e.AmountCents,
		e.Currency,
		e.CategoryID,
		e.Description,
		e.ExpenseDate,
		e.ReceiptURL,
		e.MerchantName,
		e.OCRAmount,
		e.OCRDate,
		e.OCRMerchant,
		e.OCRText,
		e.Status,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create expense")
	}
	return nil
}

// GetByID retrieves an expense with its category name joined.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		LEFT JOIN expense_categories c ON c.id = e.category_id
		WHERE e.id = $1
	`

	e, err := scanExpense(r.db.QuerierFromContext(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("expense", id)
	}
	return e, err
}

// GetByIDForUpdate retrieves an expense and takes a row lock. Must run inside
// a transaction; this is what serializes concurrent approval actions.
func (r *ExpenseRepository) GetByIDForUpdate(ctx context.Context, id string) (*Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		LEFT JOIN expense_categories c ON c.id = e.category_id
		WHERE e.id = $1
		FOR UPDATE OF e
	`

	e, err := scanExpense(r.db.QuerierFromContext(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("expense", id)
	}
	return e, err
}

// Update persists the mutable fields of an expense: the draft content fields
// and the workflow fields. Callers load the row first (usually with a lock),
// so unchanged columns are written back as-is.
func (r *ExpenseRepository) Update(ctx context.Context, e *Expense) error {
	query := `
		UPDATE expenses
		SET amount_cents     = $2,
		    currency         = $3,
		    category_id      = $4,
		    description      = $5,
		    expense_date     = $6,
		    receipt_url      = $7,
		    merchant_name    = $8,
		    status           = $9::expense_status,
		    current_approver = $10,
		    approval_flow_id = $11,
		    submitted_at     = $12,
		    approved_at      = $13,
		    paid_at          = $14,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, query,
		e.ID,
		e.AmountCents,
		e.Currency,
		e.CategoryID,
		e.Description,
		e.ExpenseDate,
		e.ReceiptURL,
		e.MerchantName,
		e.Status,
		e.CurrentApprover,
		e.ApprovalFlowID,
		e.SubmittedAt,
		e.ApprovedAt,
		e.PaidAt,
	).Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("expense", e.ID)
	}
	return err
}

// ExpenseFilter narrows List results. Zero values mean "no filter".
type ExpenseFilter struct {
	SubmittedBy *string
	Status      *ExpenseStatus
	CategoryID  *string
	Limit       int
	Offset      int
}

// List returns a page of a company's expenses, newest first, plus the total count.
func (r *ExpenseRepository) List(ctx context.Context, companyID string, f ExpenseFilter) ([]*Expense, int64, error) {
	where := " WHERE e.company_id = $1"
	args := []any{companyID}

	if f.SubmittedBy != nil {
		args = append(args, *f.SubmittedBy)
		where += ` AND e.submitted_by = $` + strconv.Itoa(len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += ` AND e.status = $` + strconv.Itoa(len(args)) + `::expense_status`
	}
	if f.CategoryID != nil {
		args = append(args, *f.CategoryID)
		where += ` AND e.category_id = $` + strconv.Itoa(len(args))
	}

	q := r.db.QuerierFromContext(ctx)

	var total int64
	countQuery := `SELECT COUNT(*) FROM expenses e` + where
	if err := q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to count expenses")
	}

	args = append(args, f.Limit, f.Offset)
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		LEFT JOIN expense_categories c ON c.id = e.category_id` +
		where + `
		ORDER BY e.created_at DESC
		LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list expenses")
	}
	defer rows.Close()

	expenses, err := scanExpenseRows(rows)
	return expenses, total, err
}

// ListPendingForApprover returns expenses currently awaiting a user's action.
func (r *ExpenseRepository) ListPendingForApprover(ctx context.Context, approverID string) ([]*Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		LEFT JOIN expense_categories c ON c.id = e.category_id
		WHERE e.current_approver = $1
		  AND e.status = 'PENDING'::expense_status
		ORDER BY e.submitted_at ASC
	`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query, approverID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	return scanExpenseRows(rows)
}

// Delete removes an expense. Callers must ensure it is still a draft.
func (r *ExpenseRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.QuerierFromContext(ctx).Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to delete expense")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("expense", id)
	}
	return nil
}

// ── categories ────────────────────────────────────────────────────────────────

// CreateCategory inserts a new expense category.
func (r *ExpenseRepository) CreateCategory(ctx context.Context, c *ExpenseCategory) error {
	c.ID = uuid.NewString()
	query := `
		INSERT INTO expense_categories (id, name, description, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, query,
		c.ID, c.Name, c.Description, c.IsActive,
	).Scan(&c.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create category")
	}
	return nil
}

// ListCategories returns all active categories ordered by name.
func (r *ExpenseRepository) ListCategories(ctx context.Context) ([]*ExpenseCategory, error) {
	query := `
		SELECT id, name, description, is_active, created_at
		FROM expense_categories
		WHERE is_active = TRUE
		ORDER BY name ASC
	`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list categories")
	}
	defer rows.Close()

	var categories []*ExpenseCategory
	for rows.Next() {
		c := &ExpenseCategory{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan category")
		}
		categories = append(categories, c)
	}
	return categories, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*Expense, error) {
	e := &Expense{}
	err := row.Scan(
		&e.ID,
		&e.CompanyID,
		&e.SubmittedBy,
		&e.AmountCents,
		&e.Currency,
		&e.CategoryID,
		&e.CategoryName,
		&e.Description,
		&e.ExpenseDate,
		&e.ReceiptURL,
		&e.MerchantName,
		&e.OCRAmount,
		&e.OCRDate,
		&e.OCRMerchant,
		&e.OCRText,
		&e.Status,
		&e.CurrentApprover,
		&e.ApprovalFlowID,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.SubmittedAt,
		&e.ApprovedAt,
		&e.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanExpenseRows(rows pgx.Rows) ([]*Expense, error) {
	var expenses []*Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan expense")
		}
		expenses = append(expenses, e)
	}
	return expenses, nil
}
