package repository

import "time"

// ── Domain types for the expense approval workflow ───────────────────────────

// ExpenseStatus is the lifecycle state of an expense claim.
type ExpenseStatus string

const (
	ExpenseDraft     ExpenseStatus = "DRAFT"
	ExpensePending   ExpenseStatus = "PENDING"
	ExpenseApproved  ExpenseStatus = "APPROVED"
	ExpenseRejected  ExpenseStatus = "REJECTED"
	ExpenseEscalated ExpenseStatus = "ESCALATED"
	ExpensePaid      ExpenseStatus = "PAID"
)

// ApprovalStatus is the state of a single approver's record on an expense.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalEscalated ApprovalStatus = "ESCALATED"
)

// RuleType selects the evaluation strategy for an approval rule.
type RuleType string

const (
	RulePercentage       RuleType = "PERCENTAGE"
	RuleSpecificApprover RuleType = "SPECIFIC_APPROVER"
	RuleHybrid           RuleType = "HYBRID"
)

// Expense is an expense claim. Amounts are minor units (cents / paise) of the
// expense's own currency; threshold comparisons happen after normalization.
type Expense struct {
	ID           string
	CompanyID    string
	SubmittedBy  string
	AmountCents  int64
	Currency     string // 3-letter ISO code
	CategoryID   *string
	CategoryName *string // joined from expense_categories, read-only
	Description  string
	ExpenseDate  time.Time

	// Receipt / OCR data, populated by the ingestion pipeline. No OCR logic
	// lives in this service.
	ReceiptURL   *string
	MerchantName *string
	OCRAmount    *int64
	OCRDate      *time.Time
	OCRMerchant  *string
	OCRText      *string

	Status          ExpenseStatus
	CurrentApprover *string // non-nil iff Status == PENDING and a step is assigned
	ApprovalFlowID  *string // set once at submission

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SubmittedAt *time.Time
	ApprovedAt  *time.Time
	PaidAt      *time.Time
}

// ExpenseCategory is a company-agnostic expense category.
type ExpenseCategory struct {
	ID          string
	Name        string
	Description *string
	IsActive    bool
	CreatedAt   time.Time
}

// ApprovalFlow is an ordered multi-step approval chain scoped to a company.
// An empty CategoryIDs set means the flow applies to all categories; nil
// amount bounds mean unbounded.
type ApprovalFlow struct {
	ID             string
	CompanyID      string
	Name           string
	Description    *string
	MinAmountCents *int64
	MaxAmountCents *int64
	CategoryIDs    []string
	RuleIDs        []string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Steps []*ApprovalStep
}

// AppliesToAmount reports whether the flow's amount range admits the amount.
func (f *ApprovalFlow) AppliesToAmount(amountCents int64) bool {
	if f.MinAmountCents != nil && amountCents < *f.MinAmountCents {
		return false
	}
	if f.MaxAmountCents != nil && amountCents > *f.MaxAmountCents {
		return false
	}
	return true
}

// AppliesToCategory reports whether the flow's category set admits the
// category. An empty set admits everything.
func (f *ApprovalFlow) AppliesToCategory(categoryID *string) bool {
	if len(f.CategoryIDs) == 0 {
		return true
	}
	if categoryID == nil {
		return false
	}
	for _, id := range f.CategoryIDs {
		if id == *categoryID {
			return true
		}
	}
	return false
}

// ApprovalStep is one designated approver at a fixed position in a flow.
// Step numbers within a flow are unique and dense (1..N).
type ApprovalStep struct {
	ID          string
	FlowID      string
	StepNumber  int
	ApproverID  string
	IsRequired  bool
	CanEscalate bool
	CreatedAt   time.Time
}

// ApprovalRule is a supplementary condition that can short-circuit a flow to
// full approval before all steps complete. Scoping semantics match
// ApprovalFlow.
type ApprovalRule struct {
	ID                  string
	CompanyID           string
	Name                string
	Description         *string
	RuleType            RuleType
	PercentageThreshold *int // 1-100, required for PERCENTAGE and HYBRID
	SpecificApproverID  *string
	MinAmountCents      *int64
	MaxAmountCents      *int64
	CategoryIDs         []string
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AppliesToAmount reports whether the rule's amount range admits the amount.
func (r *ApprovalRule) AppliesToAmount(amountCents int64) bool {
	if r.MinAmountCents != nil && amountCents < *r.MinAmountCents {
		return false
	}
	if r.MaxAmountCents != nil && amountCents > *r.MaxAmountCents {
		return false
	}
	return true
}

// AppliesToCategory reports whether the rule's category set admits the category.
func (r *ApprovalRule) AppliesToCategory(categoryID *string) bool {
	if len(r.CategoryIDs) == 0 {
		return true
	}
	if categoryID == nil {
		return false
	}
	for _, id := range r.CategoryIDs {
		if id == *categoryID {
			return true
		}
	}
	return false
}

// ExpenseApproval is one approver's record on one expense. There is at most
// one per (expense, approver) pair; it is created PENDING when the approver
// is assigned and mutated exactly once by that approver's action.
type ExpenseApproval struct {
	ID         string
	ExpenseID  string
	ApproverID string
	StepID     *string
	Status     ApprovalStatus
	Comments   *string
	ApprovedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Approver is an org-directory view of a user, supplied by the external
// user-directory collaborator. Not persisted by this service.
type Approver struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	CompanyID          string  `json:"company_id"`
	ManagerID          *string `json:"manager_id"`
	CanApproveExpenses bool    `json:"can_approve_expenses"`
	IsAdmin            bool    `json:"is_admin"`
	IsActive           bool    `json:"is_active"`
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string
	ExpenseID    string
	CompanyID    string
	Action       string // submitted | approved | rejected | escalated | advanced | paid
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]interface{}
}
