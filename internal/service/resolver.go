package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// DefaultFlowName identifies the synthesized fallback flow. Get-or-create is
// keyed on (company, name) so concurrent submissions cannot create duplicates.
const DefaultFlowName = "Default Approval Flow"

const defaultFlowDescription = "Default approval flow for expenses"

// FlowResolver determines which approval flow applies to an expense and who
// acts next within it.
type FlowResolver struct {
	flows     FlowStore
	approvals ApprovalStore
	directory DirectoryClient
	log       zerolog.Logger
}

// NewFlowResolver creates a new FlowResolver.
func NewFlowResolver(flows FlowStore, approvals ApprovalStore, directory DirectoryClient, log zerolog.Logger) *FlowResolver {
	return &FlowResolver{
		flows:     flows,
		approvals: approvals,
		directory: directory,
		log:       log,
	}
}

// ResolveFlow returns the first of the company's active flows (ordered by
// ascending minimum amount) whose amount range and category set both admit
// the expense, synthesizing the default flow when none matches.
func (r *FlowResolver) ResolveFlow(ctx context.Context, expense *repository.Expense) (*repository.ApprovalFlow, error) {
	flows, err := r.flows.ListActiveByCompany(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}

	for _, flow := range flows {
		if flow.AppliesToAmount(expense.AmountCents) && flow.AppliesToCategory(expense.CategoryID) {
			return flow, nil
		}
	}

	return r.createDefaultFlow(ctx, expense)
}

// createDefaultFlow get-or-creates the company's fallback flow. Steps are
// populated only by the caller that created the row: step 1 is the
// submitter's manager when that manager may approve expenses, the final step
// is the company's active admin with the lowest ID. A flow that ends up with
// zero steps is a valid, alertable "no approver available" condition.
func (r *FlowResolver) createDefaultFlow(ctx context.Context, expense *repository.Expense) (*repository.ApprovalFlow, error) {
	flow, created, err := r.flows.GetOrCreateDefault(ctx, expense.CompanyID, DefaultFlowName, defaultFlowDescription)
	if err != nil {
		return nil, err
	}
	if !created {
		return flow, nil
	}

	stepNumber := 1

	manager, err := r.lookupApprovingManager(ctx, expense.SubmittedBy)
	if err != nil {
		return nil, err
	}
	if manager != nil {
		step := &repository.ApprovalStep{
			FlowID:     flow.ID,
			StepNumber: stepNumber,
			ApproverID: manager.ID,
			IsRequired: true,
		}
		if err := r.flows.AddStep(ctx, step); err != nil {
			return nil, err
		}
		flow.Steps = append(flow.Steps, step)
		stepNumber++
	}

	admin, err := r.lookupCompanyAdmin(ctx, expense.CompanyID)
	if err != nil {
		return nil, err
	}
	if admin != nil && (manager == nil || admin.ID != manager.ID) {
		step := &repository.ApprovalStep{
			FlowID:     flow.ID,
			StepNumber: stepNumber,
			ApproverID: admin.ID,
			IsRequired: true,
		}
		if err := r.flows.AddStep(ctx, step); err != nil {
			return nil, err
		}
		flow.Steps = append(flow.Steps, step)
	}

	if len(flow.Steps) == 0 {
		r.log.Warn().
			Str("company_id", expense.CompanyID).
			Str("flow_id", flow.ID).
			Msg("Default approval flow has no steps; no approver available")
	} else {
		r.log.Info().
			Str("company_id", expense.CompanyID).
			Str("flow_id", flow.ID).
			Int("steps", len(flow.Steps)).
			Msg("Default approval flow created")
	}

	return flow, nil
}

// lookupApprovingManager returns the submitter's manager when one exists and
// is allowed to approve expenses.
func (r *FlowResolver) lookupApprovingManager(ctx context.Context, submitterID string) (*repository.Approver, error) {
	submitter, err := r.directory.GetUser(ctx, submitterID)
	if err != nil {
		return nil, err
	}
	if submitter.ManagerID == nil {
		return nil, nil
	}

	manager, err := r.directory.GetUser(ctx, *submitter.ManagerID)
	if err != nil {
		return nil, err
	}
	if !manager.IsActive || !manager.CanApproveExpenses {
		return nil, nil
	}
	return manager, nil
}

// lookupCompanyAdmin returns the company's active admin with the lowest ID,
// for deterministic selection when multiple exist.
func (r *FlowResolver) lookupCompanyAdmin(ctx context.Context, companyID string) (*repository.Approver, error) {
	admins, err := r.directory.GetActiveAdmins(ctx, companyID)
	if err != nil {
		return nil, err
	}

	var chosen *repository.Approver
	for _, admin := range admins {
		if !admin.IsActive {
			continue
		}
		if chosen == nil || admin.ID < chosen.ID {
			chosen = admin
		}
	}
	return chosen, nil
}

// NextApprover returns the step whose approver must act next, or nil when the
// chain is exhausted. The next required step number is the count of APPROVED
// records plus one.
func (r *FlowResolver) NextApprover(ctx context.Context, expense *repository.Expense) (*repository.ApprovalStep, error) {
	if expense.ApprovalFlowID == nil {
		return nil, nil
	}

	approvedCount, err := r.approvals.CountApprovedByExpense(ctx, expense.ID)
	if err != nil {
		return nil, err
	}

	return r.flows.GetStep(ctx, *expense.ApprovalFlowID, approvedCount+1)
}
