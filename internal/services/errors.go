// Package services implements the orchestration core: definition authoring,
// compiled-machine caching, the actor runtime, the ephemeral entity path,
// and transition ledger queries.
package services

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5"
)

const (
	ErrCodeDefinitionNotFound = "WF_DEFINITION_NOT_FOUND"
	ErrCodeInstanceNotFound   = "WF_INSTANCE_NOT_FOUND"
	ErrCodeStateNotFound      = "WF_STATE_NOT_FOUND"
	ErrCodeTransitionNotFound = "WF_TRANSITION_NOT_FOUND"
	ErrCodeInvalidLifecycle   = "WF_INVALID_LIFECYCLE"
)

var (
	ErrDefinitionNotFound = apperrors.New("workflow definition not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeDefinitionNotFound)
	ErrInstanceNotFound = apperrors.New("workflow instance not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeInstanceNotFound)
	ErrStateNotFound = apperrors.New("entity state not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeStateNotFound)
	ErrTransitionNotFound = apperrors.New("state transition not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeTransitionNotFound)
	ErrInvalidLifecycle = apperrors.New("invalid lifecycle operation", apperrors.CategoryConflict).
				WithTextCode(ErrCodeInvalidLifecycle)
)

func cloneErr(base *apperrors.Error, message string, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// notFound converts a store miss into the taxonomy error for the record
// kind; other errors pass through unchanged.
func notFound(err error, base *apperrors.Error, id string) error {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return cloneErr(base, "", map[string]any{"id": id})
	}
	return err
}

// ErrorCode extracts the go-errors text code from err, or "" when err does
// not carry one.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}
