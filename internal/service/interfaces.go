package service

import (
	"context"

	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// Transactor runs a function inside a database transaction. Repository calls
// made with the callback's context join that transaction; this is how an
// approval action commits its expense and approval-record mutations together.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ExpenseStore is the expense persistence surface the services consume.
type ExpenseStore interface {
	Create(ctx context.Context, e *repository.Expense) error
	GetByID(ctx context.Context, id string) (*repository.Expense, error)
	// GetByIDForUpdate locks the expense row; only valid inside a transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*repository.Expense, error)
	Update(ctx context.Context, e *repository.Expense) error
	List(ctx context.Context, companyID string, f repository.ExpenseFilter) ([]*repository.Expense, int64, error)
	ListPendingForApprover(ctx context.Context, approverID string) ([]*repository.Expense, error)
	Delete(ctx context.Context, id string) error
	CreateCategory(ctx context.Context, c *repository.ExpenseCategory) error
	ListCategories(ctx context.Context) ([]*repository.ExpenseCategory, error)
}

// FlowStore is the approval-flow persistence surface.
type FlowStore interface {
	Create(ctx context.Context, flow *repository.ApprovalFlow, steps []*repository.ApprovalStep) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalFlow, error)
	ListActiveByCompany(ctx context.Context, companyID string) ([]*repository.ApprovalFlow, error)
	GetOrCreateDefault(ctx context.Context, companyID, name, description string) (*repository.ApprovalFlow, bool, error)
	AddStep(ctx context.Context, step *repository.ApprovalStep) error
	GetSteps(ctx context.Context, flowID string) ([]*repository.ApprovalStep, error)
	GetStep(ctx context.Context, flowID string, stepNumber int) (*repository.ApprovalStep, error)
	AttachRules(ctx context.Context, flowID string, ruleIDs []string) error
}

// RuleStore is the approval-rule persistence surface.
type RuleStore interface {
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error)
	List(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error)
	ListByFlow(ctx context.Context, flowID string) ([]*repository.ApprovalRule, error)
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Delete(ctx context.Context, id string) error
}

// ApprovalStore is the per-(expense, approver) approval-record surface.
type ApprovalStore interface {
	GetOrCreate(ctx context.Context, expenseID, approverID string, stepID *string) (*repository.ExpenseApproval, error)
	RecordAction(ctx context.Context, expenseID, approverID string, status repository.ApprovalStatus, comments *string) (*repository.ExpenseApproval, error)
	ListByExpense(ctx context.Context, expenseID string) ([]*repository.ExpenseApproval, error)
	CountApprovedByExpense(ctx context.Context, expenseID string) (int, error)
	CountByApproverAndStatus(ctx context.Context, approverID string, status repository.ApprovalStatus) (int, error)
}

// AuditStore appends and reads the immutable audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByExpense(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error)
}

// DirectoryClient resolves org information from the external user directory.
type DirectoryClient interface {
	// GetUser returns a user with manager and approval-permission data.
	GetUser(ctx context.Context, userID string) (*repository.Approver, error)
	// GetActiveAdmins returns a company's active admin users.
	GetActiveAdmins(ctx context.Context, companyID string) ([]*repository.Approver, error)
}

// Notifier publishes workflow events. Implementations must be non-fatal:
// a failed publish never interrupts an approval operation.
type Notifier interface {
	PublishExpenseEvent(ctx context.Context, eventType, expenseID, companyID, actorID string, recipients []string, payload map[string]interface{})
}
