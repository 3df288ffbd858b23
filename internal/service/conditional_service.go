package service

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// Classification statuses.
const (
	ClassificationAutoApproved    = "AUTO_APPROVED"
	ClassificationPendingApproval = "PENDING_APPROVAL"
	ClassificationRejected        = "REJECTED"
	ClassificationEscalated       = "ESCALATED"
)

// Approver tiers, ordered by amount threshold.
const (
	TierAutoApproved      = "AUTO_APPROVED"
	TierDepartmentManager = "DEPARTMENT_MANAGER"
	TierFinanceHead       = "FINANCE_HEAD"
	TierManagingDirector  = "MANAGING_DIRECTOR"
)

// Amount thresholds in reference-currency units.
var (
	autoApproveLimit  = decimal.NewFromInt(5000)
	deptManagerLimit  = decimal.NewFromInt(25000)
	financeHeadLimit  = decimal.NewFromInt(100000)
	approvalNotesOver = decimal.NewFromInt(10000)
)

// Classification is the advisory result of running an expense through the
// conditional requirement checks. It never drives the approval state machine
// directly; callers use it for routing hints and pre-submission feedback.
type Classification struct {
	Status           string   `json:"status"`
	Reason           string   `json:"reason"`
	ApproverTier     string   `json:"approver_tier,omitempty"`
	EscalationNeeded bool     `json:"escalation_needed"`
	MissingDocuments []string `json:"missing_documents,omitempty"`
	NormalizedAmount string   `json:"normalized_amount"`
}

var invoiceKeywords = []string{"invoice", "bill", "receipt"}

var escalationCategoryKeywords = []string{"personal", "entertainment", "unlisted_vendor"}

var escalationMerchantKeywords = []string{"personal", "entertainment", "movie", "restaurant", "bar", "club"}

// ConditionalService classifies expenses by document completeness, escalation
// categories, and amount tiers.
type ConditionalService struct {
	converter *CurrencyConverter
	log       zerolog.Logger
}

// NewConditionalService creates a new ConditionalService.
func NewConditionalService(converter *CurrencyConverter, log zerolog.Logger) *ConditionalService {
	return &ConditionalService{converter: converter, log: log}
}

// Classify is total: it always returns a result. Any internal panic degrades
// to an amount-only tiering instead of propagating to the caller.
func (s *ConditionalService) Classify(expense *repository.Expense) (result *Classification) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("expense_id", expense.ID).
				Msg("Classification failed; falling back to amount-only tiering")
			result = s.fallbackClassify(expense)
		}
	}()

	normalized := s.converter.ToReference(expense.AmountCents, expense.Currency)

	if missing := missingDocuments(expense); len(missing) > 0 {
		return &Classification{
			Status:           ClassificationRejected,
			Reason:           "Missing required documents: " + strings.Join(missing, ", "),
			MissingDocuments: missing,
			NormalizedAmount: normalized.StringFixed(2),
		}
	}

	if reason, needed := escalationReason(expense); needed {
		return &Classification{
			Status:           ClassificationEscalated,
			Reason:           reason,
			ApproverTier:     TierFinanceHead,
			EscalationNeeded: true,
			NormalizedAmount: normalized.StringFixed(2),
		}
	}

	return tierClassification(normalized)
}

// missingDocuments infers document presence from existing expense fields:
// the receipt from the stored image reference, the invoice from description
// keywords. Approval notes are only expected above the notes threshold and
// are assumed present there, so they never appear in the missing list.
func missingDocuments(e *repository.Expense) []string {
	var missing []string
	if e.ReceiptURL == nil || *e.ReceiptURL == "" {
		missing = append(missing, "receipt")
	}
	if !containsAnyFold(e.Description, invoiceKeywords) {
		missing = append(missing, "invoice")
	}
	return missing
}

func escalationReason(e *repository.Expense) (string, bool) {
	if e.CategoryID == nil {
		return "Expense has no category", true
	}
	if e.CategoryName != nil && containsAnyFold(*e.CategoryName, escalationCategoryKeywords) {
		return fmt.Sprintf("Category %q requires finance review", *e.CategoryName), true
	}
	if e.MerchantName != nil && containsAnyFold(*e.MerchantName, escalationMerchantKeywords) {
		return fmt.Sprintf("Merchant %q matches an escalation keyword", *e.MerchantName), true
	}
	return "", false
}

func tierClassification(normalized decimal.Decimal) *Classification {
	c := &Classification{NormalizedAmount: normalized.StringFixed(2)}
	switch {
	case normalized.LessThanOrEqual(autoApproveLimit):
		c.Status = ClassificationAutoApproved
		c.ApproverTier = TierAutoApproved
		c.Reason = "Amount within auto-approval limit"
	case normalized.LessThanOrEqual(deptManagerLimit):
		c.Status = ClassificationPendingApproval
		c.ApproverTier = TierDepartmentManager
		c.Reason = "Requires department manager approval"
	case normalized.LessThanOrEqual(financeHeadLimit):
		c.Status = ClassificationPendingApproval
		c.ApproverTier = TierFinanceHead
		c.Reason = "Requires finance head approval"
	default:
		c.Status = ClassificationPendingApproval
		c.ApproverTier = TierManagingDirector
		c.Reason = "Requires managing director approval"
	}
	return c
}

// fallbackClassify tiers on the raw amount with a single hardcoded non-INR
// rate. It never inspects optional fields, so it cannot itself panic.
func (s *ConditionalService) fallbackClassify(e *repository.Expense) *Classification {
	amount := decimal.NewFromInt(e.AmountCents).Div(decimal.NewFromInt(100))
	if !strings.EqualFold(e.Currency, "INR") {
		amount = amount.Mul(decimal.NewFromInt(83))
	}
	c := tierClassification(amount)
	c.Reason = "Fallback tiering: " + c.Reason
	return c
}

// RulesSummary describes the classifier's policy for clients.
func (s *ConditionalService) RulesSummary() map[string]interface{} {
	return map[string]interface{}{
		"reference_currency": s.converter.Reference(),
		"amount_tiers": map[string]string{
			TierAutoApproved:      "<= " + autoApproveLimit.String(),
			TierDepartmentManager: "<= " + deptManagerLimit.String(),
			TierFinanceHead:       "<= " + financeHeadLimit.String(),
			TierManagingDirector:  "> " + financeHeadLimit.String(),
		},
		"required_documents":           []string{"receipt", "invoice"},
		"approval_notes_threshold":     approvalNotesOver.String(),
		"escalation_category_keywords": escalationCategoryKeywords,
		"escalation_merchant_keywords": escalationMerchantKeywords,
	}
}

func containsAnyFold(s string, keywords []string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
