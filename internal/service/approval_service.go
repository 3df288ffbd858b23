package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// Action is an approver's decision on a pending expense.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionEscalate Action = "escalate"
)

// ParseAction validates an action string from the API layer.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	case ActionEscalate:
		return ActionEscalate, nil
	default:
		return "", apperrors.InvalidInput("action", "must be approve, reject, or escalate")
	}
}

// Notification event types.
const (
	EventExpenseSubmitted = "expense_submitted"
	EventApprovalRequired = "approval_required"
	EventExpenseApproved  = "expense_approved"
	EventExpenseRejected  = "expense_rejected"
	EventExpenseEscalated = "expense_escalated"
)

// ApprovalService is the authoritative state machine for an expense's status
// and current-approver pointer. Every transition commits the expense mutation
// and its approval-record mutation in one transaction, with the expense row
// locked so concurrent actions on the same expense serialize.
type ApprovalService struct {
	tx        Transactor
	expenses  ExpenseStore
	approvals ApprovalStore
	audit     AuditStore
	resolver  *FlowResolver
	evaluator *RuleEvaluator
	directory DirectoryClient
	notifier  Notifier
	log       zerolog.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	tx Transactor,
	expenses ExpenseStore,
	approvals ApprovalStore,
	audit AuditStore,
	resolver *FlowResolver,
	evaluator *RuleEvaluator,
	directory DirectoryClient,
	notifier Notifier,
	log zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		tx:        tx,
		expenses:  expenses,
		approvals: approvals,
		audit:     audit,
		resolver:  resolver,
		evaluator: evaluator,
		directory: directory,
		notifier:  notifier,
		log:       log,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit moves a draft expense into the approval workflow: it resolves the
// applicable flow, assigns the first approver and creates that approver's
// pending record. A resolved flow with zero steps leaves the expense PENDING
// with no current approver, a recoverable condition surfaced via logs.
func (s *ApprovalService) Submit(ctx context.Context, expenseID, actorID string) (*repository.Expense, error) {
	var expense *repository.Expense

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.expenses.GetByIDForUpdate(ctx, expenseID)
		if err != nil {
			return err
		}

		if e.SubmittedBy != actorID {
			return apperrors.PermissionDenied("only the submitter can submit this expense")
		}
		if e.Status != repository.ExpenseDraft {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"cannot submit expense in status %s", e.Status)
		}
		if err := validateForSubmission(e); err != nil {
			return err
		}

		flow, err := s.resolver.ResolveFlow(ctx, e)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		e.ApprovalFlowID = &flow.ID
		e.Status = repository.ExpensePending
		e.SubmittedAt = &now
		e.CurrentApprover = nil

		if first := firstStep(flow); first != nil {
			e.CurrentApprover = &first.ApproverID
			if _, err := s.approvals.GetOrCreate(ctx, e.ID, first.ApproverID, &first.ID); err != nil {
				return err
			}
		} else {
			s.log.Warn().
				Str("expense_id", e.ID).
				Str("flow_id", flow.ID).
				Msg("Resolved flow has no steps; expense pending with no approver")
		}

		if err := s.expenses.Update(ctx, e); err != nil {
			return err
		}

		s.appendAudit(ctx, e, "submitted", actorID,
			string(repository.ExpenseDraft), string(e.Status),
			map[string]interface{}{"flow_id": flow.ID})

		expense = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Str("submitted_by", actorID).
		Int64("amount_cents", expense.AmountCents).
		Str("currency", expense.Currency).
		Msg("Expense submitted for approval")

	s.notify(ctx, EventExpenseSubmitted, expense, actorID, []string{actorID}, nil)
	if expense.CurrentApprover != nil {
		s.notify(ctx, EventApprovalRequired, expense, actorID,
			[]string{*expense.CurrentApprover}, nil)
	}

	return expense, nil
}

// validateForSubmission enforces the submission preconditions.
func validateForSubmission(e *repository.Expense) error {
	if e.AmountCents <= 0 {
		return apperrors.InvalidInput("amount", "must be greater than zero")
	}
	if e.CategoryID == nil {
		return apperrors.InvalidInput("category", "is required")
	}
	if strings.TrimSpace(e.Description) == "" {
		return apperrors.InvalidInput("description", "is required")
	}
	if e.ExpenseDate.After(time.Now()) {
		return apperrors.InvalidInput("expense_date", "cannot be in the future")
	}
	return nil
}

func firstStep(flow *repository.ApprovalFlow) *repository.ApprovalStep {
	var first *repository.ApprovalStep
	for _, step := range flow.Steps {
		if first == nil || step.StepNumber < first.StepNumber {
			first = step
		}
	}
	return first
}

// ── Act ───────────────────────────────────────────────────────────────────────

// Act records the current approver's decision and transitions the expense.
//
//	approve: rule short-circuit → terminal APPROVED; else next step → stay
//	         PENDING; else chain exhausted → terminal APPROVED.
//	reject:  terminal REJECTED regardless of rules or remaining steps.
//	escalate: ESCALATED. The expense leaves the flow; the company's active
//	          admins are notified and take it from there.
func (s *ApprovalService) Act(ctx context.Context, expenseID, actorID string, action Action, comments string) (*repository.Expense, error) {
	var commentsPtr *string
	if comments != "" {
		commentsPtr = &comments
	}

	var (
		expense      *repository.Expense
		statusBefore repository.ExpenseStatus
		nextApprover *string
	)

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.expenses.GetByIDForUpdate(ctx, expenseID)
		if err != nil {
			return err
		}
		statusBefore = e.Status

		if e.Status != repository.ExpensePending {
			return apperrors.Newf(apperrors.CodeInvalidState,
				"cannot act on expense in status %s", e.Status)
		}
		if e.CurrentApprover == nil || *e.CurrentApprover != actorID {
			return apperrors.PermissionDenied("expense is not assigned to this approver")
		}

		// The record normally exists from assignment; get-or-create keeps the
		// action safe if assignment and action raced a flow reconfiguration.
		if _, err := s.approvals.GetOrCreate(ctx, e.ID, actorID, nil); err != nil {
			return err
		}

		switch action {
		case ActionApprove:
			if err := s.applyApprove(ctx, e, actorID, commentsPtr); err != nil {
				return err
			}
		case ActionReject:
			if _, err := s.approvals.RecordAction(ctx, e.ID, actorID, repository.ApprovalRejected, commentsPtr); err != nil {
				return err
			}
			e.Status = repository.ExpenseRejected
			e.CurrentApprover = nil
		case ActionEscalate:
			if _, err := s.approvals.RecordAction(ctx, e.ID, actorID, repository.ApprovalEscalated, commentsPtr); err != nil {
				return err
			}
			e.Status = repository.ExpenseEscalated
			e.CurrentApprover = nil
		default:
			return apperrors.InvalidInput("action", "must be approve, reject, or escalate")
		}

		if err := s.expenses.Update(ctx, e); err != nil {
			return err
		}

		metadata := map[string]interface{}{}
		if commentsPtr != nil {
			metadata["comments"] = *commentsPtr
		}
		if e.CurrentApprover != nil {
			metadata["next_approver"] = *e.CurrentApprover
		}
		s.appendAudit(ctx, e, string(action)+"d", actorID,
			string(statusBefore), string(e.Status), metadata)

		expense = e
		nextApprover = e.CurrentApprover
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Str("actor_id", actorID).
		Str("action", string(action)).
		Str("status", string(expense.Status)).
		Msg("Approval action processed")

	s.publishOutcome(ctx, expense, actorID, action, nextApprover)

	return expense, nil
}

// applyApprove marks the actor's approval and decides whether the expense is
// now fully approved: first by conditional rules (evaluated after every
// approval), then by chain exhaustion.
func (s *ApprovalService) applyApprove(ctx context.Context, e *repository.Expense, actorID string, comments *string) error {
	if _, err := s.approvals.RecordAction(ctx, e.ID, actorID, repository.ApprovalApproved, comments); err != nil {
		return err
	}

	satisfied, err := s.evaluator.AnyRuleSatisfied(ctx, e)
	if err != nil {
		return err
	}
	if satisfied {
		s.terminalApprove(e)
		s.log.Info().
			Str("expense_id", e.ID).
			Msg("Expense approved by rule short-circuit")
		return nil
	}

	next, err := s.resolver.NextApprover(ctx, e)
	if err != nil {
		return err
	}
	if next == nil {
		s.terminalApprove(e)
		return nil
	}

	e.CurrentApprover = &next.ApproverID
	if _, err := s.approvals.GetOrCreate(ctx, e.ID, next.ApproverID, &next.ID); err != nil {
		return err
	}
	return nil
}

func (s *ApprovalService) terminalApprove(e *repository.Expense) {
	now := time.Now().UTC()
	e.Status = repository.ExpenseApproved
	e.ApprovedAt = &now
	e.CurrentApprover = nil
}

// publishOutcome sends the post-transition notifications. Escalations go to
// the company's active admins so a human can re-route the expense.
func (s *ApprovalService) publishOutcome(ctx context.Context, e *repository.Expense, actorID string, action Action, nextApprover *string) {
	payload := map[string]interface{}{
		"status":       string(e.Status),
		"amount_cents": e.AmountCents,
		"currency":     e.Currency,
	}

	switch e.Status {
	case repository.ExpenseApproved:
		s.notify(ctx, EventExpenseApproved, e, actorID, []string{e.SubmittedBy}, payload)
	case repository.ExpenseRejected:
		s.notify(ctx, EventExpenseRejected, e, actorID, []string{e.SubmittedBy}, payload)
	case repository.ExpenseEscalated:
		recipients := []string{e.SubmittedBy}
		admins, err := s.directory.GetActiveAdmins(ctx, e.CompanyID)
		if err != nil {
			s.log.Warn().Err(err).
				Str("expense_id", e.ID).
				Msg("Could not resolve admins for escalation notification")
		}
		for _, admin := range admins {
			recipients = append(recipients, admin.ID)
		}
		s.notify(ctx, EventExpenseEscalated, e, actorID, recipients, payload)
	case repository.ExpensePending:
		if action == ActionApprove && nextApprover != nil {
			s.notify(ctx, EventApprovalRequired, e, actorID, []string{*nextApprover}, payload)
		}
	}
}

// ── reporting ─────────────────────────────────────────────────────────────────

// ApproverStatistics summarizes an approver's workload.
type ApproverStatistics struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// Statistics counts an approver's approval records by status.
func (s *ApprovalService) Statistics(ctx context.Context, approverID string) (*ApproverStatistics, error) {
	stats := &ApproverStatistics{}
	for _, c := range []struct {
		status repository.ApprovalStatus
		dst    *int
	}{
		{repository.ApprovalPending, &stats.Pending},
		{repository.ApprovalApproved, &stats.Approved},
		{repository.ApprovalRejected, &stats.Rejected},
	} {
		n, err := s.approvals.CountByApproverAndStatus(ctx, approverID, c.status)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	stats.Total = stats.Pending + stats.Approved + stats.Rejected
	return stats, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// appendAudit writes an audit entry and logs a warning on failure. The audit
// trail is best-effort and never fails a transition.
func (s *ApprovalService) appendAudit(ctx context.Context, e *repository.Expense, action, performedBy, before, after string, metadata map[string]interface{}) {
	entry := &repository.AuditEntry{
		ExpenseID:    e.ID,
		CompanyID:    e.CompanyID,
		Action:       action,
		PerformedBy:  performedBy,
		StatusBefore: &before,
		StatusAfter:  &after,
		Metadata:     metadata,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("expense_id", e.ID).
			Str("action", action).
			Msg("Failed to write audit log entry")
	}
}

func (s *ApprovalService) notify(ctx context.Context, eventType string, e *repository.Expense, actorID string, recipients []string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishExpenseEvent(ctx, eventType, e.ID, e.CompanyID, actorID, recipients, payload)
}
