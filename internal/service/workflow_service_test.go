package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

func newWorkflowHarness() (*WorkflowService, *fakeFlowStore, *fakeRuleStore, *fakeDirectory) {
	flows := newFakeFlowStore()
	rules := newFakeRuleStore()
	directory := newFakeDirectory()
	directory.users["mgr-1"] = &repository.Approver{ID: "mgr-1", IsActive: true, CanApproveExpenses: true}
	directory.users["fin-1"] = &repository.Approver{ID: "fin-1", IsActive: true, CanApproveExpenses: true}
	directory.users["intern"] = &repository.Approver{ID: "intern", IsActive: true, CanApproveExpenses: false}
	return NewWorkflowService(flows, rules, directory, zerolog.Nop()), flows, rules, directory
}

func TestCreateFlow_PersistsOrderedSteps(t *testing.T) {
	svc, flows, _, _ := newWorkflowHarness()
	ctx := context.Background()

	flow, err := svc.CreateFlow(ctx, &CreateFlowRequest{
		CompanyID: "acme",
		Name:      "Standard",
		Steps: []FlowStepRequest{
			{StepNumber: 2, ApproverID: "fin-1", IsRequired: true},
			{StepNumber: 1, ApproverID: "mgr-1", IsRequired: true},
		},
	})
	require.NoError(t, err)
	require.True(t, flow.IsActive)

	steps, err := flows.GetSteps(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "mgr-1", steps[0].ApproverID)
	require.Equal(t, "fin-1", steps[1].ApproverID)
}

func TestCreateFlow_RejectsBadStepNumbers(t *testing.T) {
	svc, _, _, _ := newWorkflowHarness()
	ctx := context.Background()

	// Gap.
	_, err := svc.CreateFlow(ctx, &CreateFlowRequest{
		CompanyID: "acme",
		Name:      "Gappy",
		Steps: []FlowStepRequest{
			{StepNumber: 1, ApproverID: "mgr-1"},
			{StepNumber: 3, ApproverID: "fin-1"},
		},
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	// Duplicate.
	_, err = svc.CreateFlow(ctx, &CreateFlowRequest{
		CompanyID: "acme",
		Name:      "Dup",
		Steps: []FlowStepRequest{
			{StepNumber: 1, ApproverID: "mgr-1"},
			{StepNumber: 1, ApproverID: "fin-1"},
		},
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	// Empty.
	_, err = svc.CreateFlow(ctx, &CreateFlowRequest{CompanyID: "acme", Name: "Empty"})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestCreateFlow_RejectsRepeatedApprover(t *testing.T) {
	svc, _, _, _ := newWorkflowHarness()

	// A repeated approver's later step can never be reached: approval records
	// are unique per (expense, approver), so the chain would stall there.
	_, err := svc.CreateFlow(context.Background(), &CreateFlowRequest{
		CompanyID: "acme",
		Name:      "Repeat",
		Steps: []FlowStepRequest{
			{StepNumber: 1, ApproverID: "mgr-1"},
			{StepNumber: 2, ApproverID: "fin-1"},
			{StepNumber: 3, ApproverID: "mgr-1"},
		},
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestCreateFlow_RejectsNonApprovingUser(t *testing.T) {
	svc, _, _, _ := newWorkflowHarness()

	_, err := svc.CreateFlow(context.Background(), &CreateFlowRequest{
		CompanyID: "acme",
		Name:      "Standard",
		Steps:     []FlowStepRequest{{StepNumber: 1, ApproverID: "intern"}},
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestCreateFlow_RejectsInvertedAmountRange(t *testing.T) {
	svc, _, _, _ := newWorkflowHarness()

	min, max := int64(10_000_00), int64(1_000_00)
	_, err := svc.CreateFlow(context.Background(), &CreateFlowRequest{
		CompanyID:      "acme",
		Name:           "Backwards",
		MinAmountCents: &min,
		MaxAmountCents: &max,
		Steps:          []FlowStepRequest{{StepNumber: 1, ApproverID: "mgr-1"}},
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestCreateRule_TypeSpecificValidation(t *testing.T) {
	svc, _, _, _ := newWorkflowHarness()
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, &CreateRuleRequest{
		CompanyID: "acme", Name: "Majority", RuleType: "PERCENTAGE",
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	threshold := 101
	_, err = svc.CreateRule(ctx, &CreateRuleRequest{
		CompanyID: "acme", Name: "Majority", RuleType: "PERCENTAGE",
		PercentageThreshold: &threshold,
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = svc.CreateRule(ctx, &CreateRuleRequest{
		CompanyID: "acme", Name: "CFO", RuleType: "SPECIFIC_APPROVER",
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = svc.CreateRule(ctx, &CreateRuleRequest{
		CompanyID: "acme", Name: "Hybrid", RuleType: "HYBRID",
		SpecificApproverID: strPtr("fin-1"),
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	_, err = svc.CreateRule(ctx, &CreateRuleRequest{
		CompanyID: "acme", Name: "Bad", RuleType: "QUORUM",
	})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

	good := 60
	rule, err := svc.CreateRule(ctx, &CreateRuleRequest{
		CompanyID: "acme", Name: "Hybrid", RuleType: "hybrid",
		PercentageThreshold: &good,
		SpecificApproverID:  strPtr("fin-1"),
	})
	require.NoError(t, err)
	require.Equal(t, repository.RuleHybrid, rule.RuleType)
	require.True(t, rule.IsActive)
}

func TestAttachRules_RejectsCrossCompanyRules(t *testing.T) {
	svc, flows, ruleStore, _ := newWorkflowHarness()
	ctx := context.Background()

	flow := &repository.ApprovalFlow{CompanyID: "acme", Name: "Standard", IsActive: true}
	require.NoError(t, flows.Create(ctx, flow, nil))

	foreign := &repository.ApprovalRule{
		CompanyID:          "globex",
		Name:               "Foreign",
		RuleType:           repository.RuleSpecificApprover,
		SpecificApproverID: strPtr("fin-1"),
		IsActive:           true,
	}
	require.NoError(t, ruleStore.Create(ctx, foreign))

	_, err := svc.AttachRules(ctx, flow.ID, []string{foreign.ID})
	require.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestSetRuleActive_Toggles(t *testing.T) {
	svc, _, ruleStore, _ := newWorkflowHarness()
	ctx := context.Background()

	rule := &repository.ApprovalRule{
		CompanyID:          "acme",
		Name:               "CFO",
		RuleType:           repository.RuleSpecificApprover,
		SpecificApproverID: strPtr("fin-1"),
		IsActive:           true,
	}
	require.NoError(t, ruleStore.Create(ctx, rule))

	got, err := svc.SetRuleActive(ctx, rule.ID, false)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestDeleteRule(t *testing.T) {
	svc, _, ruleStore, _ := newWorkflowHarness()
	ctx := context.Background()

	rule := &repository.ApprovalRule{
		CompanyID:          "acme",
		Name:               "CFO",
		RuleType:           repository.RuleSpecificApprover,
		SpecificApproverID: strPtr("fin-1"),
		IsActive:           true,
	}
	require.NoError(t, ruleStore.Create(ctx, rule))

	require.NoError(t, svc.DeleteRule(ctx, rule.ID))

	_, err := ruleStore.GetByID(ctx, rule.ID)
	require.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))

	err = svc.DeleteRule(ctx, "missing")
	require.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}
