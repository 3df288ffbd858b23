package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// RuleEvaluator decides whether an expense's conditional approval rules are
// satisfied by the approvals recorded so far.
type RuleEvaluator struct {
	rules     RuleStore
	flows     FlowStore
	approvals ApprovalStore
	log       zerolog.Logger
}

// NewRuleEvaluator creates a new RuleEvaluator.
func NewRuleEvaluator(rules RuleStore, flows FlowStore, approvals ApprovalStore, log zerolog.Logger) *RuleEvaluator {
	return &RuleEvaluator{
		rules:     rules,
		flows:     flows,
		approvals: approvals,
		log:       log,
	}
}

// IsSatisfied evaluates one rule against the expense's recorded approvals,
// dispatching on the rule type.
func (e *RuleEvaluator) IsSatisfied(ctx context.Context, expense *repository.Expense, rule *repository.ApprovalRule) (bool, error) {
	switch rule.RuleType {
	case repository.RulePercentage:
		return e.percentageSatisfied(ctx, expense, rule)

	case repository.RuleSpecificApprover:
		return e.specificApproverSatisfied(ctx, expense, rule)

	case repository.RuleHybrid:
		// Specific-approver check first: it is O(1) against the approval log,
		// percentage scans the whole approver set.
		ok, err := e.specificApproverSatisfied(ctx, expense, rule)
		if err != nil || ok {
			return ok, err
		}
		return e.percentageSatisfied(ctx, expense, rule)

	default:
		return false, apperrors.Newf(apperrors.CodeValidation, "unknown rule type %q", rule.RuleType)
	}
}

// percentageSatisfied checks whether enough of the flow's approvers have
// approved. The comparison is integer cross-multiplication so an exact
// threshold boundary (e.g. 1 of 2 at 50%) is never lost to rounding.
func (e *RuleEvaluator) percentageSatisfied(ctx context.Context, expense *repository.Expense, rule *repository.ApprovalRule) (bool, error) {
	if rule.PercentageThreshold == nil {
		return false, apperrors.InvalidInput("percentage_threshold", "percentage rule has no threshold")
	}
	if expense.ApprovalFlowID == nil {
		return false, nil
	}

	steps, err := e.flows.GetSteps(ctx, *expense.ApprovalFlowID)
	if err != nil {
		return false, err
	}

	approverSet := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		approverSet[step.ApproverID] = struct{}{}
	}
	if len(approverSet) == 0 {
		return false, nil
	}

	approvals, err := e.approvals.ListByExpense(ctx, expense.ID)
	if err != nil {
		return false, err
	}

	approvedCount := 0
	for _, a := range approvals {
		if a.Status != repository.ApprovalApproved {
			continue
		}
		if _, ok := approverSet[a.ApproverID]; ok {
			approvedCount++
		}
	}

	return 100*approvedCount >= *rule.PercentageThreshold*len(approverSet), nil
}

// specificApproverSatisfied checks whether the rule's designated approver has
// approved this expense.
func (e *RuleEvaluator) specificApproverSatisfied(ctx context.Context, expense *repository.Expense, rule *repository.ApprovalRule) (bool, error) {
	if rule.SpecificApproverID == nil {
		return false, apperrors.InvalidInput("specific_approver_id", "specific-approver rule has no approver")
	}

	approvals, err := e.approvals.ListByExpense(ctx, expense.ID)
	if err != nil {
		return false, err
	}

	for _, a := range approvals {
		if a.ApproverID == *rule.SpecificApproverID && a.Status == repository.ApprovalApproved {
			return true, nil
		}
	}
	return false, nil
}

// AnyRuleSatisfied reports whether the expense's flow has at least one
// applicable attached rule and any one of them is satisfied. A flow with no
// attached rules never short-circuits; the plain step chain governs.
func (e *RuleEvaluator) AnyRuleSatisfied(ctx context.Context, expense *repository.Expense) (bool, error) {
	if expense.ApprovalFlowID == nil {
		return false, nil
	}

	rules, err := e.rules.ListByFlow(ctx, *expense.ApprovalFlowID)
	if err != nil {
		return false, err
	}

	for _, rule := range rules {
		if !rule.AppliesToAmount(expense.AmountCents) || !rule.AppliesToCategory(expense.CategoryID) {
			continue
		}

		ok, err := e.IsSatisfied(ctx, expense, rule)
		if err != nil {
			return false, err
		}
		if ok {
			e.log.Debug().
				Str("expense_id", expense.ID).
				Str("rule_id", rule.ID).
				Str("rule_type", string(rule.RuleType)).
				Msg("Approval rule satisfied")
			return true, nil
		}
	}
	return false, nil
}
