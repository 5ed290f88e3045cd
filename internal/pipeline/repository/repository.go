package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

// ErrStaleLead means the stored lead left the stage the writer expected,
// typically because another process moved it first.
var ErrStaleLead = errors.New("lead was changed by another writer")

// DBTX is satisfied by both the pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const leadColumns = `
	id, name, email, owner_id, current_stage, stage_entered_at, previous_stage,
	estimated_value, score, interaction_count, last_interaction_at, created_at,
	loss_category, loss_reason, lost_at, sample_shipped_at, sample_feedback_at,
	proposal_value, delivery_status, billed_at, repurchase_suggested_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead           domain.Lead
		email          *string
		currentStage   string
		previousStage  *string
		lossCategory   *string
		lossReason     *string
		deliveryStatus *string
	)
	err := row.Scan(
		&lead.ID, &lead.Name, &email, &lead.OwnerID, &currentStage, &lead.StageEnteredAt, &previousStage,
		&lead.EstimatedValue, &lead.Score, &lead.InteractionCount, &lead.LastInteractionAt, &lead.CreatedAt,
		&lossCategory, &lossReason, &lead.LostAt, &lead.SampleShippedAt, &lead.SampleFeedbackAt,
		&lead.ProposalValue, &deliveryStatus, &lead.BilledAt, &lead.RepurchaseSuggestedAt,
	)
	if err != nil {
		return domain.Lead{}, err
	}

	stage, err := domain.ParseStage(currentStage)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("lead %s: %w", lead.ID, err)
	}
	lead.CurrentStage = stage
	lead.Email = deref(email)
	lead.PreviousStage = domain.Stage(deref(previousStage))
	lead.LossCategory = domain.LossCategory(deref(lossCategory))
	lead.LossReason = deref(lossReason)
	lead.DeliveryStatus = deref(deliveryStatus)
	return lead, nil
}

// GetLead loads a lead with its full stage history.
func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM pipeline_leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	if err != nil {
		return domain.Lead{}, err
	}

	history, err := r.listHistory(ctx, &id)
	if err != nil {
		return domain.Lead{}, err
	}
	lead.StageHistory = history[id]
	return lead, nil
}

// ListLeads loads every lead with its stage history, oldest first.
func (r *Repository) ListLeads(ctx context.Context) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+leadColumns+` FROM pipeline_leads ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	history, err := r.listHistory(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i := range leads {
		leads[i].StageHistory = history[leads[i].ID]
	}
	return leads, nil
}

func (r *Repository) listHistory(ctx context.Context, leadID *uuid.UUID) (map[uuid.UUID][]domain.StageHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, stage, entered_at, moved_from
		FROM pipeline_stage_history
		WHERE $1::uuid IS NULL OR lead_id = $1
		ORDER BY lead_id, id ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.StageHistoryEntry)
	for rows.Next() {
		var (
			id        uuid.UUID
			stage     string
			enteredAt time.Time
			movedFrom *string
		)
		if err := rows.Scan(&id, &stage, &enteredAt, &movedFrom); err != nil {
			return nil, err
		}
		out[id] = append(out[id], domain.StageHistoryEntry{
			Stage:     domain.Stage(stage),
			EnteredAt: enteredAt,
			MovedFrom: domain.Stage(deref(movedFrom)),
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListSalesReps returns every rep with a monthly target.
func (r *Repository) ListSalesReps(ctx context.Context) ([]domain.SalesRep, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, monthly_target FROM sales_reps ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reps := make([]domain.SalesRep, 0)
	for rows.Next() {
		var rep domain.SalesRep
		if err := rows.Scan(&rep.ID, &rep.Name, &rep.MonthlyTarget); err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return reps, nil
}

// UpdateLead writes the stage fields of a lead, provided it is still in
// update.ExpectedStage.
func (r *Repository) UpdateLead(ctx context.Context, id uuid.UUID, update LeadUpdate) error {
	return updateLeadTx(ctx, r.pool, id, update)
}

// AppendStageHistory adds one entry to the lead's history.
func (r *Repository) AppendStageHistory(ctx context.Context, id uuid.UUID, entry domain.StageHistoryEntry) error {
	return appendStageHistoryTx(ctx, r.pool, id, entry)
}

// CommitTransition writes the lead row and its history entry in one
// transaction. Either both land or neither does.
func (r *Repository) CommitTransition(ctx context.Context, id uuid.UUID, update LeadUpdate, entry domain.StageHistoryEntry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := updateLeadTx(ctx, tx, id, update); err != nil {
		return err
	}
	if err := appendStageHistoryTx(ctx, tx, id, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func updateLeadTx(ctx context.Context, db DBTX, id uuid.UUID, update LeadUpdate) error {
	tag, err := db.Exec(ctx, `
		UPDATE pipeline_leads SET
			current_stage = $2,
			previous_stage = $3,
			stage_entered_at = $4,
			score = $5,
			loss_category = $6,
			loss_reason = $7,
			lost_at = $8,
			sample_shipped_at = $9,
			sample_feedback_at = $10,
			proposal_value = $11,
			delivery_status = $12,
			billed_at = $13,
			repurchase_suggested_at = $14,
			updated_at = now()
		WHERE id = $1 AND current_stage = $15
	`,
		id, string(update.CurrentStage), nullable(string(update.PreviousStage)), update.StageEnteredAt, update.Score,
		nullable(string(update.LossCategory)), nullable(update.LossReason), update.LostAt,
		update.SampleShippedAt, update.SampleFeedbackAt, update.ProposalValue,
		nullable(update.DeliveryStatus), update.BilledAt, update.RepurchaseSuggestedAt,
		string(update.ExpectedStage),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pipeline_leads WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleLead
}

func appendStageHistoryTx(ctx context.Context, db DBTX, id uuid.UUID, entry domain.StageHistoryEntry) error {
	_, err := db.Exec(ctx, `
		INSERT INTO pipeline_stage_history (lead_id, stage, entered_at, moved_from)
		VALUES ($1, $2, $3, $4)
	`, id, string(entry.Stage), entry.EnteredAt, nullable(string(entry.MovedFrom)))
	return err
}

// InsertTask stores a follow-up task.
func (r *Repository) InsertTask(ctx context.Context, task domain.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pipeline_tasks (id, lead_id, title, type, priority, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.LeadID, task.Title, task.Type, task.Priority, task.DueAt, task.CreatedAt)
	return err
}

// InsertActivity appends an audit entry.
func (r *Repository) InsertActivity(ctx context.Context, activity domain.Activity) error {
	var meta []byte
	if activity.Metadata != nil {
		var err error
		meta, err = json.Marshal(activity.Metadata)
		if err != nil {
			return err
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pipeline_activity (id, lead_id, action, meta, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, activity.ID, activity.LeadID, activity.Action, meta, activity.CreatedAt)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
