package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/database"
)

const approvalColumns = `
	id, expense_id, approver_id, step_id, status, comments,
	approved_at, created_at, updated_at`

// ApprovalRepository manages the per-(expense, approver) approval log the
// rule evaluator reads. Records are never deleted.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// GetOrCreate returns the approval record for (expense, approver), inserting
// a PENDING one when absent. Idempotent under the unique constraint.
func (r *ApprovalRepository) GetOrCreate(ctx context.Context, expenseID, approverID string, stepID *string) (*ExpenseApproval, error) {
	q := r.db.QuerierFromContext(ctx)

	insert := `
		INSERT INTO expense_approvals (id, expense_id, approver_id, step_id, status)
		VALUES ($1, $2, $3, $4, 'PENDING'::approval_status)
		ON CONFLICT (expense_id, approver_id) DO NOTHING
		RETURNING ` + approvalColumns

	a, err := scanApproval(q.QueryRow(ctx, insert, uuid.NewString(), expenseID, approverID, stepID))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval record")
	}

	query := `
		SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE expense_id = $1 AND approver_id = $2
	`
	a, err = scanApproval(q.QueryRow(ctx, query, expenseID, approverID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load approval record")
	}
	return a, nil
}

// RecordAction marks the approver's record with the action outcome. The
// approved_at timestamp is stamped only for APPROVED.
func (r *ApprovalRepository) RecordAction(ctx context.Context, expenseID, approverID string, status ApprovalStatus, comments *string) (*ExpenseApproval, error) {
	query := `
		UPDATE expense_approvals
		SET status      = $3::approval_status,
		    comments    = $4,
		    approved_at = CASE WHEN $3 = 'APPROVED' THEN NOW() ELSE approved_at END,
		    updated_at  = NOW()
		WHERE expense_id = $1 AND approver_id = $2
		RETURNING ` + approvalColumns

	a, err := scanApproval(r.db.QuerierFromContext(ctx).QueryRow(ctx, query, expenseID, approverID, status, comments))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("expense_approval", expenseID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to record approval action")
	}
	return a, nil
}

// ListByExpense returns all approval records for an expense, oldest first.
func (r *ApprovalRepository) ListByExpense(ctx context.Context, expenseID string) ([]*ExpenseApproval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE expense_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query, expenseID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list approvals")
	}
	defer rows.Close()

	var approvals []*ExpenseApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}

// CountApprovedByExpense returns how many approvers have approved the expense.
// The next required step number is this count plus one.
func (r *ApprovalRepository) CountApprovedByExpense(ctx context.Context, expenseID string) (int, error) {
	var count int
	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM expense_approvals
		WHERE expense_id = $1 AND status = 'APPROVED'::approval_status
	`, expenseID).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to count approvals")
	}
	return count, nil
}

// CountByApproverAndStatus returns how many records an approver holds in a
// given status, for the statistics endpoint.
func (r *ApprovalRepository) CountByApproverAndStatus(ctx context.Context, approverID string, status ApprovalStatus) (int, error) {
	var count int
	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM expense_approvals
		WHERE approver_id = $1 AND status = $2::approval_status
	`, approverID, status).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal, "failed to count approver records")
	}
	return count, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanApproval(row rowScanner) (*ExpenseApproval, error) {
	a := &ExpenseApproval{}
	err := row.Scan(
		&a.ID,
		&a.ExpenseID,
		&a.ApproverID,
		&a.StepID,
		&a.Status,
		&a.Comments,
		&a.ApprovedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
