package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/database"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger so
// this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to marshal audit metadata")
		}
	}

	entry.ID = uuid.NewString()
	query := `
		INSERT INTO expense_approval_audit_log
		    (id, expense_id, company_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING performed_at
	`

	return r.db.QuerierFromContext(ctx).QueryRow(ctx, query,
		entry.ID,
		entry.ExpenseID,
		entry.CompanyID,
		entry.Action,
		entry.PerformedBy,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.PerformedAt)
}

// ListByExpense returns the full audit trail for an expense, oldest first.
func (r *AuditRepository) ListByExpense(ctx context.Context, expenseID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, expense_id, company_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM expense_approval_audit_log
		WHERE expense_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query, expenseID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func scanAuditEntry(sc rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.ExpenseID,
		&entry.CompanyID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
