package approval

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mmdatafocus/approvals_backend/idempotency"
	"github.com/mmdatafocus/approvals_backend/utils"
)

var (
	// ErrIdempotencyKeyMismatch is returned when a key is reused for a different
	// request. It also matches idempotency.ErrKeyMismatch.
	ErrIdempotencyKeyMismatch = fmt.Errorf("approval: %w", idempotency.ErrKeyMismatch)
	ErrNotFound               = errors.New("approval: not found")
	ErrConflict               = errors.New("approval: conflict")
)

// ValidationError lists the fields that failed validation and their rule.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+e.Fields[k])
	}
	return "approval: invalid request (" + strings.Join(parts, ", ") + ")"
}

func validate(v any) error {
	if err := utils.Validator().Struct(v); err != nil {
		fields := utils.ProcessValidationErrors(err)
		if len(fields) == 0 {
			fields = map[string]string{"request": err.Error()}
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}
