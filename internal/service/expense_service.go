package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// ExpenseService handles expense CRUD, payment marking, and reporting.
type ExpenseService struct {
	tx       Transactor
	expenses ExpenseStore
	audit    AuditStore
	validate *validator.Validate
	log      zerolog.Logger
}

// NewExpenseService creates a new ExpenseService.
func NewExpenseService(tx Transactor, expenses ExpenseStore, audit AuditStore, log zerolog.Logger) *ExpenseService {
	return &ExpenseService{
		tx:       tx,
		expenses: expenses,
		audit:    audit,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// CreateExpenseRequest represents a create expense request.
type CreateExpenseRequest struct {
	CompanyID    string  `json:"company_id" validate:"required"`
	SubmittedBy  string  `json:"-"`
	AmountCents  int64   `json:"amount_cents" validate:"required,gt=0"`
	Currency     string  `json:"currency" validate:"required,len=3,alpha"`
	CategoryID   *string `json:"category_id,omitempty"`
	Description  string  `json:"description" validate:"required,max=2000"`
	ExpenseDate  string  `json:"expense_date" validate:"required"`
	ReceiptURL   *string `json:"receipt_url,omitempty"`
	MerchantName *string `json:"merchant_name,omitempty"`
}

// UpdateExpenseRequest represents an update to a draft expense. Nil fields
// are left unchanged.
type UpdateExpenseRequest struct {
	AmountCents  *int64  `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
	Currency     *string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	CategoryID   *string `json:"category_id,omitempty"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	ExpenseDate  *string `json:"expense_date,omitempty"`
	ReceiptURL   *string `json:"receipt_url,omitempty"`
	MerchantName *string `json:"merchant_name,omitempty"`
}

// CreateExpense creates a draft expense.
func (s *ExpenseService) CreateExpense(ctx context.Context, req *CreateExpenseRequest) (*repository.Expense, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, "invalid expense")
	}
	expenseDate, err := time.Parse("2006-01-02", req.ExpenseDate)
	if err != nil {
		return nil, apperrors.InvalidInput("expense_date", "invalid date format, expected YYYY-MM-DD")
	}
	if expenseDate.After(time.Now()) {
		return nil, apperrors.InvalidInput("expense_date", "cannot be in the future")
	}

	expense := &repository.Expense{
		CompanyID:    req.CompanyID,
		SubmittedBy:  req.SubmittedBy,
		AmountCents:  req.AmountCents,
		Currency:     strings.ToUpper(req.Currency),
		CategoryID:   req.CategoryID,
		Description:  req.Description,
		ExpenseDate:  expenseDate,
		ReceiptURL:   req.ReceiptURL,
		MerchantName: req.MerchantName,
		Status:       repository.ExpenseDraft,
	}

	if err := s.expenses.Create(ctx, expense); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Str("company_id", expense.CompanyID).
		Int64("amount_cents", expense.AmountCents).
		Msg("Expense draft created")

	return expense, nil
}

// GetExpense retrieves an expense by ID.
func (s *ExpenseService) GetExpense(ctx context.Context, id string) (*repository.Expense, error) {
	return s.expenses.GetByID(ctx, id)
}

// UpdateExpense modifies a draft expense. Submitted expenses are immutable
// through this path.
func (s *ExpenseService) UpdateExpense(ctx context.Context, id, actorID string, req *UpdateExpenseRequest) (*repository.Expense, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidation, "invalid expense update")
	}

	var expense *repository.Expense
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.expenses.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.SubmittedBy != actorID {
			return apperrors.PermissionDenied("only the submitter can modify this expense")
		}
		if e.Status != repository.ExpenseDraft {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"cannot modify expense in status %s", e.Status)
		}

		if req.AmountCents != nil {
			e.AmountCents = *req.AmountCents
		}
		if req.Currency != nil {
			e.Currency = strings.ToUpper(*req.Currency)
		}
		if req.CategoryID != nil {
			e.CategoryID = req.CategoryID
		}
		if req.Description != nil {
			e.Description = *req.Description
		}
		if req.ExpenseDate != nil {
			d, err := time.Parse("2006-01-02", *req.ExpenseDate)
			if err != nil {
				return apperrors.InvalidInput("expense_date", "invalid date format, expected YYYY-MM-DD")
			}
			e.ExpenseDate = d
		}
		if req.ReceiptURL != nil {
			e.ReceiptURL = req.ReceiptURL
		}
		if req.MerchantName != nil {
			e.MerchantName = req.MerchantName
		}

		if err := s.expenses.Update(ctx, e); err != nil {
			return err
		}
		expense = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expense, nil
}

// ListExpenses returns a page of a company's expenses plus the total count.
func (s *ExpenseService) ListExpenses(ctx context.Context, companyID string, filter repository.ExpenseFilter) ([]*repository.Expense, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.expenses.List(ctx, companyID, filter)
}

// DeleteDraft removes a draft expense. Any other status is refused; the
// audit trail of submitted expenses must stay intact.
func (s *ExpenseService) DeleteDraft(ctx context.Context, id, actorID string) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.expenses.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.SubmittedBy != actorID {
			return apperrors.PermissionDenied("only the submitter can delete this expense")
		}
		if e.Status != repository.ExpenseDraft {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"cannot delete expense in status %s", e.Status)
		}
		return s.expenses.Delete(ctx, id)
	})
}

// MarkPaid finalizes an approved expense after reimbursement.
func (s *ExpenseService) MarkPaid(ctx context.Context, id, actorID string) (*repository.Expense, error) {
	var expense *repository.Expense
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.expenses.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != repository.ExpenseApproved {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"cannot mark expense in status %s as paid", e.Status)
		}

		now := time.Now().UTC()
		e.Status = repository.ExpensePaid
		e.PaidAt = &now
		if err := s.expenses.Update(ctx, e); err != nil {
			return err
		}

		before, after := string(repository.ExpenseApproved), string(repository.ExpensePaid)
		if err := s.audit.Append(ctx, &repository.AuditEntry{
			ExpenseID:    e.ID,
			CompanyID:    e.CompanyID,
			Action:       "paid",
			PerformedBy:  actorID,
			StatusBefore: &before,
			StatusAfter:  &after,
		}); err != nil {
			s.log.Warn().Err(err).Str("expense_id", e.ID).Msg("Failed to write audit log entry")
		}

		expense = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("expense_id", expense.ID).Str("actor_id", actorID).Msg("Expense marked paid")
	return expense, nil
}

// PendingApprovals lists the expenses currently waiting on an approver.
func (s *ExpenseService) PendingApprovals(ctx context.Context, approverID string) ([]*repository.Expense, error) {
	return s.expenses.ListPendingForApprover(ctx, approverID)
}

// History returns the audit trail of an expense, oldest first.
func (s *ExpenseService) History(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error) {
	if _, err := s.expenses.GetByID(ctx, expenseID); err != nil {
		return nil, err
	}
	return s.audit.ListByExpense(ctx, expenseID)
}

// CreateCategory creates an expense category.
func (s *ExpenseService) CreateCategory(ctx context.Context, name string, description *string) (*repository.ExpenseCategory, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperrors.InvalidInput("name", "is required")
	}
	category := &repository.ExpenseCategory{
		Name:        strings.TrimSpace(name),
		Description: description,
		IsActive:    true,
	}
	if err := s.expenses.CreateCategory(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}

// ListCategories returns all active expense categories.
func (s *ExpenseService) ListCategories(ctx context.Context) ([]*repository.ExpenseCategory, error) {
	return s.expenses.ListCategories(ctx)
}
