package service

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// WorkflowService manages approval flow and rule configuration.
type WorkflowService struct {
	flows     FlowStore
	rules     RuleStore
	directory DirectoryClient
	log       zerolog.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(flows FlowStore, rules RuleStore, directory DirectoryClient, log zerolog.Logger) *WorkflowService {
	return &WorkflowService{
		flows:     flows,
		rules:     rules,
		directory: directory,
		log:       log,
	}
}

// CreateFlowRequest represents a create approval flow request.
type CreateFlowRequest struct {
	CompanyID      string            `json:"company_id"`
	Name           string            `json:"name"`
	Description    *string           `json:"description,omitempty"`
	MinAmountCents *int64            `json:"min_amount_cents,omitempty"`
	MaxAmountCents *int64            `json:"max_amount_cents,omitempty"`
	CategoryIDs    []string          `json:"category_ids,omitempty"`
	Steps          []FlowStepRequest `json:"steps"`
}

// FlowStepRequest represents one step in a create flow request.
type FlowStepRequest struct {
	StepNumber  int    `json:"step_number"`
	ApproverID  string `json:"approver_id"`
	IsRequired  bool   `json:"is_required"`
	CanEscalate bool   `json:"can_escalate"`
}

// CreateRuleRequest represents a create approval rule request.
type CreateRuleRequest struct {
	CompanyID           string   `json:"company_id"`
	Name                string   `json:"name"`
	Description         *string  `json:"description,omitempty"`
	RuleType            string   `json:"rule_type"`
	PercentageThreshold *int     `json:"percentage_threshold,omitempty"`
	SpecificApproverID  *string  `json:"specific_approver_id,omitempty"`
	MinAmountCents      *int64   `json:"min_amount_cents,omitempty"`
	MaxAmountCents      *int64   `json:"max_amount_cents,omitempty"`
	CategoryIDs         []string `json:"category_ids,omitempty"`
}

// CreateFlow creates an approval flow with its ordered steps.
func (s *WorkflowService) CreateFlow(ctx context.Context, req *CreateFlowRequest) (*repository.ApprovalFlow, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.InvalidInput("name", "is required")
	}
	if req.CompanyID == "" {
		return nil, apperrors.InvalidInput("company_id", "is required")
	}
	if req.MinAmountCents != nil && req.MaxAmountCents != nil && *req.MinAmountCents > *req.MaxAmountCents {
		return nil, apperrors.InvalidInput("min_amount_cents", "must not exceed max_amount_cents")
	}
	if len(req.Steps) == 0 {
		return nil, apperrors.InvalidInput("steps", "at least one step is required")
	}
	if err := validateStepNumbers(req.Steps); err != nil {
		return nil, err
	}

	for _, step := range req.Steps {
		user, err := s.directory.GetUser(ctx, step.ApproverID)
		if err != nil {
			return nil, err
		}
		if !user.IsActive || !user.CanApproveExpenses {
			return nil, apperrors.InvalidInput("steps", "approver "+step.ApproverID+" cannot approve expenses")
		}
	}

	flow := &repository.ApprovalFlow{
		CompanyID:      req.CompanyID,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		MinAmountCents: req.MinAmountCents,
		MaxAmountCents: req.MaxAmountCents,
		CategoryIDs:    req.CategoryIDs,
		IsActive:       true,
	}
	steps := make([]*repository.ApprovalStep, 0, len(req.Steps))
	for _, sr := range req.Steps {
		steps = append(steps, &repository.ApprovalStep{
			StepNumber:  sr.StepNumber,
			ApproverID:  sr.ApproverID,
			IsRequired:  sr.IsRequired,
			CanEscalate: sr.CanEscalate,
		})
	}

	if err := s.flows.Create(ctx, flow, steps); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("flow_id", flow.ID).
		Str("company_id", flow.CompanyID).
		Int("steps", len(steps)).
		Msg("Approval flow created")

	return flow, nil
}

// validateStepNumbers requires step numbers to be exactly 1..N with no gaps
// or duplicates; the next-approver lookup indexes steps by position. Approvers
// must be distinct too: approval records are unique per (expense, approver),
// so a repeated approver's second step could never be satisfied.
func validateStepNumbers(steps []FlowStepRequest) error {
	numbers := make([]int, 0, len(steps))
	approvers := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if s.ApproverID == "" {
			return apperrors.InvalidInput("steps", "every step needs an approver_id")
		}
		if _, ok := approvers[s.ApproverID]; ok {
			return apperrors.InvalidInput("steps", "each approver may appear in at most one step")
		}
		approvers[s.ApproverID] = struct{}{}
		numbers = append(numbers, s.StepNumber)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		if n != i+1 {
			return apperrors.InvalidInput("steps", "step numbers must be consecutive starting at 1")
		}
	}
	return nil
}

// GetFlow retrieves a flow with its steps.
func (s *WorkflowService) GetFlow(ctx context.Context, id string) (*repository.ApprovalFlow, error) {
	return s.flows.GetByID(ctx, id)
}

// ListFlows returns a company's active flows in resolution order.
func (s *WorkflowService) ListFlows(ctx context.Context, companyID string) ([]*repository.ApprovalFlow, error) {
	return s.flows.ListActiveByCompany(ctx, companyID)
}

// CreateRule creates an approval rule after type-specific validation.
func (s *WorkflowService) CreateRule(ctx context.Context, req *CreateRuleRequest) (*repository.ApprovalRule, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.InvalidInput("name", "is required")
	}
	if req.CompanyID == "" {
		return nil, apperrors.InvalidInput("company_id", "is required")
	}
	if req.MinAmountCents != nil && req.MaxAmountCents != nil && *req.MinAmountCents > *req.MaxAmountCents {
		return nil, apperrors.InvalidInput("min_amount_cents", "must not exceed max_amount_cents")
	}

	ruleType := repository.RuleType(strings.ToUpper(req.RuleType))
	switch ruleType {
	case repository.RulePercentage:
		if err := validateThreshold(req.PercentageThreshold); err != nil {
			return nil, err
		}
	case repository.RuleSpecificApprover:
		if req.SpecificApproverID == nil || *req.SpecificApproverID == "" {
			return nil, apperrors.InvalidInput("specific_approver_id", "is required for SPECIFIC_APPROVER rules")
		}
	case repository.RuleHybrid:
		if err := validateThreshold(req.PercentageThreshold); err != nil {
			return nil, err
		}
		if req.SpecificApproverID == nil || *req.SpecificApproverID == "" {
			return nil, apperrors.InvalidInput("specific_approver_id", "is required for HYBRID rules")
		}
	default:
		return nil, apperrors.InvalidInput("rule_type", "must be PERCENTAGE, SPECIFIC_APPROVER, or HYBRID")
	}

	if req.SpecificApproverID != nil && *req.SpecificApproverID != "" {
		user, err := s.directory.GetUser(ctx, *req.SpecificApproverID)
		if err != nil {
			return nil, err
		}
		if !user.IsActive || !user.CanApproveExpenses {
			return nil, apperrors.InvalidInput("specific_approver_id", "user cannot approve expenses")
		}
	}

	rule := &repository.ApprovalRule{
		CompanyID:           req.CompanyID,
		Name:                strings.TrimSpace(req.Name),
		Description:         req.Description,
		RuleType:            ruleType,
		PercentageThreshold: req.PercentageThreshold,
		SpecificApproverID:  req.SpecificApproverID,
		MinAmountCents:      req.MinAmountCents,
		MaxAmountCents:      req.MaxAmountCents,
		CategoryIDs:         req.CategoryIDs,
		IsActive:            true,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("company_id", rule.CompanyID).
		Str("rule_type", string(rule.RuleType)).
		Msg("Approval rule created")

	return rule, nil
}

func validateThreshold(threshold *int) error {
	if threshold == nil {
		return apperrors.InvalidInput("percentage_threshold", "is required for this rule type")
	}
	if *threshold < 1 || *threshold > 100 {
		return apperrors.InvalidInput("percentage_threshold", "must be between 1 and 100")
	}
	return nil
}

// ListRules returns a company's rules, optionally active only.
func (s *WorkflowService) ListRules(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	return s.rules.List(ctx, companyID, activeOnly)
}

// AttachRules associates existing rules with a flow. Rules must belong to the
// flow's company.
func (s *WorkflowService) AttachRules(ctx context.Context, flowID string, ruleIDs []string) (*repository.ApprovalFlow, error) {
	if len(ruleIDs) == 0 {
		return nil, apperrors.InvalidInput("rule_ids", "at least one rule is required")
	}
	flow, err := s.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}
	for _, ruleID := range ruleIDs {
		rule, err := s.rules.GetByID(ctx, ruleID)
		if err != nil {
			return nil, err
		}
		if rule.CompanyID != flow.CompanyID {
			return nil, apperrors.InvalidInput("rule_ids", "rule "+ruleID+" belongs to another company")
		}
	}
	if err := s.flows.AttachRules(ctx, flowID, ruleIDs); err != nil {
		return nil, err
	}
	return s.flows.GetByID(ctx, flowID)
}

// SetRuleActive toggles a rule's active flag.
func (s *WorkflowService) SetRuleActive(ctx context.Context, ruleID string, active bool) (*repository.ApprovalRule, error) {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	rule.IsActive = active
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule and its flow attachments.
func (s *WorkflowService) DeleteRule(ctx context.Context, ruleID string) error {
	if err := s.rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", ruleID).Msg("approval rule deleted")
	return nil
}
