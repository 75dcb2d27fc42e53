package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/pkg/models"
)

const instanceColumns = `id, workflow_id, batch_id, name, snapshot, parent_instance_id,
	actor_kind, status, checkpointed_at, started_at, completed_at, last_error, metadata`

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateInstance persists a new instance row.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *models.WorkflowInstance) error {
	snapshot, err := marshalJSON(inst.Snapshot)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(inst.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO workflow_instances
		(id, workflow_id, batch_id, name, snapshot, parent_instance_id, actor_kind, status, checkpointed_at, started_at, completed_at, last_error, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inst.ID, inst.WorkflowID, inst.BatchID, inst.Name, snapshot, inst.ParentInstanceID,
		inst.ActorKind, inst.Status, inst.CheckpointedAt, inst.StartedAt, inst.CompletedAt,
		inst.LastError, metadata)
	return err
}

// GetInstance retrieves an instance by id.
func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)
	return scanInstance(row)
}

// ListInstances lists instances, newest first.
func (s *PostgresStore) ListInstances(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE 1=1`
	args := []any{}
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		query += fmt.Sprintf(" AND batch_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	return s.queryInstances(ctx, query, args...)
}

// UpdateInstance overwrites the mutable fields of an instance row. The
// write runs in a transaction holding a per-instance advisory lock, so two
// processes rehydrating the same actor serialize here instead of silently
// losing one snapshot (last-writer-wins).
func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *models.WorkflowInstance) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, inst.ID); err != nil {
		return err
	}
	if err := execUpdateInstance(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ApplyInstanceTransition atomically updates an instance row and appends
// its ledger row in one advisory-locked transaction.
func (s *PostgresStore) ApplyInstanceTransition(ctx context.Context, inst *models.WorkflowInstance, tr *models.StateTransition) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, inst.ID); err != nil {
		return err
	}
	if err := execUpdateInstance(ctx, tx, inst); err != nil {
		return err
	}
	if err := execInsertTransition(ctx, tx, tr); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListChildren returns instances whose parent is the given id, ordered by
// start time.
func (s *PostgresStore) ListChildren(ctx context.Context, parentID string) ([]*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE parent_instance_id = $1 ORDER BY started_at`
	return s.queryInstances(ctx, query, parentID)
}

// CountLiveInstances counts running or paused instances of a workflow.
func (s *PostgresStore) CountLiveInstances(ctx context.Context, workflowID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_instances
		WHERE workflow_id = $1 AND status IN ($2, $3)`,
		workflowID, models.InstanceStatusRunning, models.InstanceStatusPaused).Scan(&count)
	return count, err
}

func execUpdateInstance(ctx context.Context, db execer, inst *models.WorkflowInstance) error {
	snapshot, err := marshalJSON(inst.Snapshot)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(inst.Metadata)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx, `UPDATE workflow_instances
		SET snapshot = $1, status = $2, checkpointed_at = $3, completed_at = $4, last_error = $5, metadata = $6
		WHERE id = $7`,
		snapshot, inst.Status, inst.CheckpointedAt, inst.CompletedAt, inst.LastError, metadata, inst.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

func (s *PostgresStore) queryInstances(ctx context.Context, query string, args ...any) ([]*models.WorkflowInstance, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*models.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var (
		inst     models.WorkflowInstance
		snapshot []byte
		metadata []byte
	)
	err := row.Scan(&inst.ID, &inst.WorkflowID, &inst.BatchID, &inst.Name, &snapshot,
		&inst.ParentInstanceID, &inst.ActorKind, &inst.Status, &inst.CheckpointedAt,
		&inst.StartedAt, &inst.CompletedAt, &inst.LastError, &metadata)
	if err != nil {
		return nil, err
	}
	var snap machine.Snapshot
	if err := unmarshalJSON(snapshot, &snap); err != nil {
		return nil, err
	}
	inst.Snapshot = snap
	if err := unmarshalJSON(metadata, &inst.Metadata); err != nil {
		return nil, err
	}
	return &inst, nil
}
