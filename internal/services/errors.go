package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/nmoreau/billing-core/internal/validation"
)

var (
	// ErrIntegrity is the loser's result in a snapshot lock race. The
	// inserted snapshot is rolled back; the caller re-reads and gets the
	// winner's snapshot through the normal regeneration path.
	ErrIntegrity = errors.New("snapshot_lock_conflict")

	// ErrInvalidTransition rejects a status change the state machine does
	// not allow from the document's current status.
	ErrInvalidTransition = errors.New("invalid_status_transition")
)

// ValidationError carries field violations back to the HTTP layer.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation_failed: " + strings.Join(fields, ", ")
}
