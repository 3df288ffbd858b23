package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

type ruleHarness struct {
	flows     *fakeFlowStore
	rules     *fakeRuleStore
	approvals *fakeApprovalStore
	evaluator *RuleEvaluator
}

func newRuleHarness() *ruleHarness {
	h := &ruleHarness{
		flows:     newFakeFlowStore(),
		rules:     newFakeRuleStore(),
		approvals: newFakeApprovalStore(),
	}
	h.evaluator = NewRuleEvaluator(h.rules, h.flows, h.approvals, zerolog.Nop())
	return h
}

func (h *ruleHarness) flowWithApprovers(t *testing.T, approvers ...string) *repository.ApprovalFlow {
	t.Helper()
	flow := &repository.ApprovalFlow{CompanyID: "acme", Name: "Chain", IsActive: true}
	steps := make([]*repository.ApprovalStep, 0, len(approvers))
	for i, a := range approvers {
		steps = append(steps, &repository.ApprovalStep{StepNumber: i + 1, ApproverID: a})
	}
	require.NoError(t, h.flows.Create(context.Background(), flow, steps))
	return flow
}

func (h *ruleHarness) approve(t *testing.T, expenseID, approverID string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.approvals.GetOrCreate(ctx, expenseID, approverID, nil)
	require.NoError(t, err)
	_, err = h.approvals.RecordAction(ctx, expenseID, approverID, repository.ApprovalApproved, nil)
	require.NoError(t, err)
}

func intPtr(n int) *int { return &n }

func TestPercentageRule_ExactBoundary(t *testing.T) {
	h := newRuleHarness()
	ctx := context.Background()

	flow := h.flowWithApprovers(t, "a1", "a2")
	expense := expenseFor("acme", "emp-1", 100_00, nil)
	expense.ApprovalFlowID = &flow.ID

	rule := &repository.ApprovalRule{
		RuleType:            repository.RulePercentage,
		PercentageThreshold: intPtr(50),
		IsActive:            true,
	}

	ok, err := h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.False(t, ok)

	// 1 of 2 is exactly 50% and must satisfy without rounding loss.
	h.approve(t, expense.ID, "a1")
	ok, err = h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPercentageRule_IgnoresApproversOutsideFlow(t *testing.T) {
	h := newRuleHarness()
	ctx := context.Background()

	flow := h.flowWithApprovers(t, "a1", "a2")
	expense := expenseFor("acme", "emp-1", 100_00, nil)
	expense.ApprovalFlowID = &flow.ID

	rule := &repository.ApprovalRule{
		RuleType:            repository.RulePercentage,
		PercentageThreshold: intPtr(50),
		IsActive:            true,
	}

	// An approval from someone not on the flow does not count.
	h.approve(t, expense.ID, "outsider")
	ok, err := h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPercentageRule_DedupesRepeatedApprover(t *testing.T) {
	h := newRuleHarness()
	ctx := context.Background()

	// The same approver at two steps still counts as one voter.
	flow := h.flowWithApprovers(t, "a1", "a1", "a2")
	expense := expenseFor("acme", "emp-1", 100_00, nil)
	expense.ApprovalFlowID = &flow.ID

	rule := &repository.ApprovalRule{
		RuleType:            repository.RulePercentage,
		PercentageThreshold: intPtr(100),
		IsActive:            true,
	}

	h.approve(t, expense.ID, "a1")
	ok, err := h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.False(t, ok)

	h.approve(t, expense.ID, "a2")
	ok, err = h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSpecificApproverRule(t *testing.T) {
	h := newRuleHarness()
	ctx := context.Background()

	flow := h.flowWithApprovers(t, "a1", "cfo")
	expense := expenseFor("acme", "emp-1", 100_00, nil)
	expense.ApprovalFlowID = &flow.ID

	rule := &repository.ApprovalRule{
		RuleType:           repository.RuleSpecificApprover,
		SpecificApproverID: strPtr("cfo"),
		IsActive:           true,
	}

	h.approve(t, expense.ID, "a1")
	ok, err := h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.False(t, ok)

	h.approve(t, expense.ID, "cfo")
	ok, err = h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHybridRule_EitherConditionSatisfies(t *testing.T) {
	h := newRuleHarness()
	ctx := context.Background()

	flow := h.flowWithApprovers(t, "a1", "a2", "a3", "cfo")
	expense := expenseFor("acme", "emp-1", 100_00, nil)
	expense.ApprovalFlowID = &flow.ID

	rule := &repository.ApprovalRule{
		RuleType:            repository.RuleHybrid,
		PercentageThreshold: intPtr(50),
		SpecificApproverID:  strPtr("cfo"),
		IsActive:            true,
	}

	// Percentage unmet (1 of 4), specific approver unmet.
	h.approve(t, expense.ID, "a1")
	ok, err := h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.False(t, ok)

	// Specific approver alone satisfies even at 2 of 4 (50% also reached
	// here, but the specific check short-circuits first).
	h.approve(t, expense.ID, "cfo")
	ok, err = h.evaluator.IsSatisfied(ctx, expense, rule)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRuleEvaluation_InvalidRules(t *testing.T) {
	h := newRuleHarness()
	ctx := context.Background()

	flow := h.flowWithApprovers(t, "a1")
	expense := expenseFor("acme", "emp-1", 100_00, nil)
	expense.ApprovalFlowID = &flow.ID

	_, err := h.evaluator.IsSatisfied(ctx, expense, &repository.ApprovalRule{RuleType: "MAJORITY_VOTE"})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = h.evaluator.IsSatisfied(ctx, expense, &repository.ApprovalRule{RuleType: repository.RulePercentage})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = h.evaluator.IsSatisfied(ctx, expense, &repository.ApprovalRule{RuleType: repository.RuleSpecificApprover})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestAnyRuleSatisfied_ScopingAndDefaults(t *testing.T) {
	h := newRuleHarness()
	ctx := context.Background()

	flow := h.flowWithApprovers(t, "cfo")
	expense := expenseFor("acme", "emp-1", 100_00, nil)
	expense.ApprovalFlowID = &flow.ID
	h.approve(t, expense.ID, "cfo")

	// No rules attached: never short-circuits.
	ok, err := h.evaluator.AnyRuleSatisfied(ctx, expense)
	require.NoError(t, err)
	require.False(t, ok)

	// A rule scoped above the expense amount is skipped.
	minBig := int64(1_000_00)
	h.rules.attach(flow.ID, &repository.ApprovalRule{
		RuleType:           repository.RuleSpecificApprover,
		SpecificApproverID: strPtr("cfo"),
		MinAmountCents:     &minBig,
		IsActive:           true,
	})
	ok, err = h.evaluator.AnyRuleSatisfied(ctx, expense)
	require.NoError(t, err)
	require.False(t, ok)

	// An in-scope rule satisfies.
	h.rules.attach(flow.ID, &repository.ApprovalRule{
		RuleType:           repository.RuleSpecificApprover,
		SpecificApproverID: strPtr("cfo"),
		IsActive:           true,
	})
	ok, err = h.evaluator.AnyRuleSatisfied(ctx, expense)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAnyRuleSatisfied_NoFlow(t *testing.T) {
	h := newRuleHarness()
	expense := expenseFor("acme", "emp-1", 100_00, nil)

	ok, err := h.evaluator.AnyRuleSatisfied(context.Background(), expense)
	require.NoError(t, err)
	require.False(t, ok)
}
