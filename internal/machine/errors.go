package machine

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeDefinitionInvalid   = "WF_DEFINITION_INVALID"
	ErrCodeEventRejected       = "WF_EVENT_REJECTED"
	ErrCodeMachineConstruction = "WF_MACHINE_CONSTRUCTION"
)

var (
	ErrDefinitionInvalid = apperrors.New("definition invalid", apperrors.CategoryValidation).
				WithTextCode(ErrCodeDefinitionInvalid)
	ErrEventRejected = apperrors.New("event rejected", apperrors.CategoryConflict).
				WithTextCode(ErrCodeEventRejected)
	ErrMachineConstruction = apperrors.New("machine construction failed", apperrors.CategoryInternal).
				WithTextCode(ErrCodeMachineConstruction)
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

// ErrorCode extracts the go-errors text code from err, or "" when err does
// not carry one.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsRejection reports whether err is an event-rejection error.
func IsRejection(err error) bool {
	return ErrorCode(err) == ErrCodeEventRejected
}
