package repository

import (
	"context"
	"fmt"

	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/pkg/models"
)

const transitionColumns = `id, entity_type, entity_id, workflow_id, instance_id, event_type,
	event_payload, event_origin, from_state, to_state, kind, guard_results, actions,
	triggered_by, state_changed, duration_ms, error, created_at`

// AppendTransition appends one ledger row.
func (s *PostgresStore) AppendTransition(ctx context.Context, tr *models.StateTransition) error {
	return execInsertTransition(ctx, s.db, tr)
}

func execInsertTransition(ctx context.Context, db execer, tr *models.StateTransition) error {
	payload, err := marshalJSON(tr.EventPayload)
	if err != nil {
		return err
	}
	fromState, err := marshalJSON(tr.From)
	if err != nil {
		return err
	}
	toState, err := marshalJSON(tr.To)
	if err != nil {
		return err
	}
	guards, err := marshalJSON(tr.GuardResults)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(tr.Actions)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO state_transitions
		(id, entity_type, entity_id, workflow_id, instance_id, event_type, event_payload, event_origin,
		 from_state, to_state, kind, guard_results, actions, triggered_by, state_changed, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		tr.ID, tr.EntityType, tr.EntityID, tr.WorkflowID, tr.InstanceID, tr.EventType, payload,
		tr.EventOrigin, fromState, toState, tr.Kind, guards, actions, tr.TriggeredBy,
		tr.StateChanged, tr.DurationMS, tr.Error, tr.CreatedAt)
	return err
}

// GetTransition retrieves a ledger row by id.
func (s *PostgresStore) GetTransition(ctx context.Context, id string) (*models.StateTransition, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transitionColumns+` FROM state_transitions WHERE id = $1`, id)
	return scanTransition(row)
}

// ListTransitions queries the ledger, newest first.
func (s *PostgresStore) ListTransitions(ctx context.Context, filter models.TransitionFilter) ([]*models.StateTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM state_transitions WHERE 1=1`
	args := []any{}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if !filter.FromDate.IsZero() {
		args = append(args, filter.FromDate)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []*models.StateTransition
	for rows.Next() {
		tr, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

func scanTransition(row rowScanner) (*models.StateTransition, error) {
	var (
		tr        models.StateTransition
		payload   []byte
		fromState []byte
		toState   []byte
		guards    []byte
		actions   []byte
	)
	err := row.Scan(&tr.ID, &tr.EntityType, &tr.EntityID, &tr.WorkflowID, &tr.InstanceID,
		&tr.EventType, &payload, &tr.EventOrigin, &fromState, &toState, &tr.Kind,
		&guards, &actions, &tr.TriggeredBy, &tr.StateChanged, &tr.DurationMS, &tr.Error,
		&tr.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &tr.EventPayload); err != nil {
		return nil, err
	}
	var from, to machine.Snapshot
	if err := unmarshalJSON(fromState, &from); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(toState, &to); err != nil {
		return nil, err
	}
	tr.From, tr.To = from, to
	if err := unmarshalJSON(guards, &tr.GuardResults); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(actions, &tr.Actions); err != nil {
		return nil, err
	}
	return &tr, nil
}
