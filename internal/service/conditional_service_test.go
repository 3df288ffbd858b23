package service

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

func newClassifier() *ConditionalService {
	return NewConditionalService(NewCurrencyConverter("INR", nil), zerolog.Nop())
}

func documentedExpense(amountCents int64, currency string) *repository.Expense {
	category := "cat-travel"
	categoryName := "Travel"
	receipt := "https://files.example.com/r/1.png"
	merchant := "Acme Cabs"
	return &repository.Expense{
		ID:           "exp-1",
		CompanyID:    "acme",
		SubmittedBy:  "emp-1",
		AmountCents:  amountCents,
		Currency:     currency,
		CategoryID:   &category,
		CategoryName: &categoryName,
		Description:  "Airport taxi, receipt attached",
		ReceiptURL:   &receipt,
		MerchantName: &merchant,
	}
}

func TestClassify_SmallDocumentedExpenseAutoApproves(t *testing.T) {
	c := newClassifier().Classify(documentedExpense(4_000_00, "INR"))

	require.Equal(t, ClassificationAutoApproved, c.Status)
	require.Equal(t, TierAutoApproved, c.ApproverTier)
	require.False(t, c.EscalationNeeded)
	require.Empty(t, c.MissingDocuments)
}

func TestClassify_EscalationCategoryOverridesAmountTier(t *testing.T) {
	e := documentedExpense(30_000_00, "INR")
	name := "Entertainment"
	e.CategoryName = &name

	c := newClassifier().Classify(e)
	require.Equal(t, ClassificationEscalated, c.Status)
	require.Equal(t, TierFinanceHead, c.ApproverTier)
	require.True(t, c.EscalationNeeded)
}

func TestClassify_MerchantKeywordEscalates(t *testing.T) {
	e := documentedExpense(2_000_00, "INR")
	merchant := "Starlight Bar & Grill"
	e.MerchantName = &merchant

	c := newClassifier().Classify(e)
	require.Equal(t, ClassificationEscalated, c.Status)
	require.True(t, c.EscalationNeeded)
}

func TestClassify_MissingCategoryEscalates(t *testing.T) {
	e := documentedExpense(2_000_00, "INR")
	e.CategoryID = nil
	e.CategoryName = nil

	c := newClassifier().Classify(e)
	require.Equal(t, ClassificationEscalated, c.Status)
	require.Equal(t, TierFinanceHead, c.ApproverTier)
}

func TestClassify_MissingDocumentsReject(t *testing.T) {
	e := documentedExpense(2_000_00, "INR")
	e.ReceiptURL = nil
	e.Description = "Taxi home"

	c := newClassifier().Classify(e)
	require.Equal(t, ClassificationRejected, c.Status)
	require.ElementsMatch(t, []string{"receipt", "invoice"}, c.MissingDocuments)
}

func TestClassify_AmountTiers(t *testing.T) {
	cases := []struct {
		amountCents int64
		wantStatus  string
		wantTier    string
	}{
		{5_000_00, ClassificationAutoApproved, TierAutoApproved},
		{5_000_01, ClassificationPendingApproval, TierDepartmentManager},
		{25_000_00, ClassificationPendingApproval, TierDepartmentManager},
		{100_000_00, ClassificationPendingApproval, TierFinanceHead},
		{100_000_01, ClassificationPendingApproval, TierManagingDirector},
	}
	svc := newClassifier()

	for _, tc := range cases {
		c := svc.Classify(documentedExpense(tc.amountCents, "INR"))
		require.Equal(t, tc.wantStatus, c.Status, "amount %d", tc.amountCents)
		require.Equal(t, tc.wantTier, c.ApproverTier, "amount %d", tc.amountCents)
	}
}

func TestClassify_NormalizesForeignCurrency(t *testing.T) {
	// 100 USD at the 83 seed rate is 8,300 reference units: above the
	// auto-approval limit even though the raw number is small.
	c := newClassifier().Classify(documentedExpense(100_00, "USD"))
	require.Equal(t, ClassificationPendingApproval, c.Status)
	require.Equal(t, TierDepartmentManager, c.ApproverTier)
}

func TestClassify_UnknownCurrencyTreatedAsReference(t *testing.T) {
	c := newClassifier().Classify(documentedExpense(4_000_00, "XYZ"))
	require.Equal(t, ClassificationAutoApproved, c.Status)
}

func TestClassify_IsTotalOnZeroValueExpense(t *testing.T) {
	c := newClassifier().Classify(&repository.Expense{})
	require.NotNil(t, c)
	require.Equal(t, ClassificationRejected, c.Status)
	require.NotEmpty(t, c.MissingDocuments)
}

func TestRulesSummary_NamesPolicy(t *testing.T) {
	summary := newClassifier().RulesSummary()
	require.Equal(t, "INR", summary["reference_currency"])
	require.Contains(t, summary, "amount_tiers")
	require.Contains(t, summary, "escalation_category_keywords")
}
