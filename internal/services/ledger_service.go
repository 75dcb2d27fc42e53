package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/goliatone/go-errors"

	"labelworks/orchestrator/internal/repository"
	"labelworks/orchestrator/pkg/models"
)

// analyticsScanLimit bounds how many ledger rows one analytics request
// aggregates over.
const analyticsScanLimit = 10000

// LedgerService serves read-only queries and trailing-window analytics over
// the append-only transition ledger.
type LedgerService struct {
	store repository.TransitionStore
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(store repository.TransitionStore) *LedgerService {
	return &LedgerService{store: store}
}

// Get returns a single ledger row by id.
func (s *LedgerService) Get(ctx context.Context, id string) (*models.StateTransition, error) {
	tr, err := s.store.GetTransition(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrTransitionNotFound, id)
	}
	return tr, nil
}

// Find queries the ledger, newest first.
func (s *LedgerService) Find(ctx context.Context, filter models.TransitionFilter) ([]*models.StateTransition, error) {
	return s.store.ListTransitions(ctx, filter)
}

// Analytics aggregates transitions for a workflow over a trailing window:
// counts grouped by (from, to) pair, event-type frequency ranked
// descending, error count, and mean duration among rows that recorded one.
func (s *LedgerService) Analytics(ctx context.Context, workflowID, period string) (*models.WorkflowAnalytics, error) {
	window, err := parsePeriod(period)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListTransitions(ctx, models.TransitionFilter{
		WorkflowID: workflowID,
		FromDate:   time.Now().UTC().Add(-window),
		Limit:      analyticsScanLimit,
	})
	if err != nil {
		return nil, err
	}

	pairs := map[[2]string]int{}
	events := map[string]int{}
	errorCount := 0
	var durationSum, durationN int64
	for _, tr := range rows {
		pairs[[2]string{tr.From.Value, tr.To.Value}]++
		events[tr.EventType]++
		if tr.Error != nil {
			errorCount++
		}
		if tr.DurationMS != nil {
			durationSum += *tr.DurationMS
			durationN++
		}
	}

	out := &models.WorkflowAnalytics{
		WorkflowID: workflowID,
		Period:     period,
		TotalCount: len(rows),
		ErrorCount: errorCount,
	}
	for pair, count := range pairs {
		out.Transitions = append(out.Transitions, models.TransitionPair{From: pair[0], To: pair[1], Count: count})
	}
	sort.Slice(out.Transitions, func(i, j int) bool {
		a, b := out.Transitions[i], out.Transitions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	for event, count := range events {
		out.EventFrequency = append(out.EventFrequency, models.EventFrequency{EventType: event, Count: count})
	}
	sort.Slice(out.EventFrequency, func(i, j int) bool {
		a, b := out.EventFrequency[i], out.EventFrequency[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.EventType < b.EventType
	})
	if durationN > 0 {
		mean := float64(durationSum) / float64(durationN)
		out.MeanDurationMS = &mean
	}
	return out, nil
}

// parsePeriod accepts Go durations ("90m", "24h") plus a day suffix
// ("7d"). Empty defaults to 24h.
func parsePeriod(period string) (time.Duration, error) {
	if period == "" {
		return 24 * time.Hour, nil
	}
	if days, ok := strings.CutSuffix(period, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(period)
	if err != nil || d <= 0 {
		return 0, apperrors.New(fmt.Sprintf("invalid analytics period %q", period), apperrors.CategoryBadInput)
	}
	return d, nil
}
