package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"labelworks/orchestrator/internal/config"
	"labelworks/orchestrator/internal/logging"
	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/internal/repository"
	"labelworks/orchestrator/internal/services"
	"labelworks/orchestrator/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	store := repository.NewPostgresStore(pool)
	machines := services.NewMachineCache(store, 0)
	definitions := services.NewDefinitionService(store, machines, logger)

	// Check for existing definitions to prevent duplicates.
	existing, err := definitions.List(ctx, "", "", 0)
	if err != nil {
		log.Fatalf("Failed to list existing definitions: %v", err)
	}
	existingMap := make(map[string]bool)
	for _, def := range existing {
		existingMap[def.Name] = true
	}

	seeds := []*models.WorkflowDefinition{
		{
			Name:        "annotation-review",
			Description: "Review loop for annotated labeling tasks.",
			Status:      models.DefinitionStatusActive,
			Graph:       annotationReviewGraph(),
			CreatedBy:   "seed-script",
		},
		{
			Name:        "batch-qa",
			Description: "Sampling-based quality assurance over a completed batch.",
			Status:      models.DefinitionStatusDraft,
			Graph:       batchQAGraph(),
			CreatedBy:   "seed-script",
		},
	}

	for _, seed := range seeds {
		if existingMap[seed.Name] {
			logger.Info("Skipping existing definition", "name", seed.Name)
			continue
		}
		if _, err := definitions.Create(ctx, seed); err != nil {
			log.Printf("Failed to create definition %s: %v", seed.Name, err)
		} else {
			logger.Info("Seeded definition", "name", seed.Name, "id", seed.ID)
		}
	}
	logger.Info("Seeding complete!")
}

func annotationReviewGraph() machine.Graph {
	return machine.Graph{
		Initial: "queued",
		States: map[string]machine.StateNode{
			"queued": {
				On: map[string]machine.Transition{
					"ASSIGN": {Target: "in_progress", Actions: []string{"recordAssignee"}},
				},
			},
			"in_progress": {
				On: map[string]machine.Transition{
					"SUBMIT":   {Target: "in_review"},
					"UNASSIGN": {Target: "queued"},
				},
			},
			"in_review": {
				On: map[string]machine.Transition{
					"APPROVE": {Target: "approved", Guards: []string{"hasAnnotations"}},
					"REJECT":  {Target: "in_progress"},
				},
			},
			"approved": {Final: true, Tags: []string{"terminal"}},
		},
		Guards: map[string]string{
			"hasAnnotations": "annotation_count > 0",
		},
		Actions: map[string]string{
			"recordAssignee": "assign:assignee=@payload.assignee",
		},
	}
}

func batchQAGraph() machine.Graph {
	return machine.Graph{
		Initial: "sampling",
		States: map[string]machine.StateNode{
			"sampling": {
				On: map[string]machine.Transition{
					"SAMPLE_READY": {Target: "auditing"},
				},
			},
			"auditing": {
				On: map[string]machine.Transition{
					"PASS": {Target: "accepted"},
					"FAIL": {Target: "rework"},
				},
			},
			"rework": {
				On: map[string]machine.Transition{
					"REWORK_DONE": {Target: "sampling"},
				},
			},
			"accepted": {Final: true},
		},
	}
}
