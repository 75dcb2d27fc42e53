package repository

import (
	"context"
	"fmt"

	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/pkg/models"
)

const definitionColumns = `id, project_id, name, description, version, status, graph,
	is_template, parent_definition_id, created_by, created_at, updated_at`

// CreateDefinition persists a new definition row.
func (s *PostgresStore) CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	graph, err := marshalJSON(def.Graph)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO workflow_definitions
		(id, project_id, name, description, version, status, graph, is_template, parent_definition_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		def.ID, def.ProjectID, def.Name, def.Description, def.Version, def.Status,
		graph, def.IsTemplate, def.ParentDefinitionID, def.CreatedBy, def.CreatedAt, def.UpdatedAt)
	return err
}

// GetDefinition retrieves a definition by id.
func (s *PostgresStore) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := s.db.QueryRow(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1`, id)
	return scanDefinition(row)
}

// ListDefinitions lists definitions, newest first.
func (s *PostgresStore) ListDefinitions(ctx context.Context, status, projectID string, limit int) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if projectID != "" {
		args = append(args, projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
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

	var defs []*models.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// UpdateDefinition overwrites the mutable fields of an existing row.
func (s *PostgresStore) UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	graph, err := marshalJSON(def.Graph)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `UPDATE workflow_definitions
		SET name = $1, description = $2, version = $3, status = $4, graph = $5, is_template = $6, updated_at = $7
		WHERE id = $8`,
		def.Name, def.Description, def.Version, def.Status, graph, def.IsTemplate, def.UpdatedAt, def.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

// DeleteDefinition removes a definition row.
func (s *PostgresStore) DeleteDefinition(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def   models.WorkflowDefinition
		graph []byte
	)
	err := row.Scan(&def.ID, &def.ProjectID, &def.Name, &def.Description, &def.Version,
		&def.Status, &graph, &def.IsTemplate, &def.ParentDefinitionID, &def.CreatedBy,
		&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	var g machine.Graph
	if err := unmarshalJSON(graph, &g); err != nil {
		return nil, err
	}
	def.Graph = g
	return &def, nil
}
