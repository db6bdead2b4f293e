package wiki

import (
	"fmt"

	"github.com/rotisserie/eris"

	"salvi/app/internal/permission"
)

var (
	// ErrNotFound indicates a page or revision id that does not resolve.
	ErrNotFound = eris.New("not found")
	// ErrConflict indicates a taken slug or a stale edit base.
	ErrConflict = eris.New("conflict")
	// ErrForbidden indicates the acting identity lacks a capability.
	ErrForbidden = permission.ErrForbidden
	// ErrNoPages indicates there are no persisted wiki pages to select from.
	ErrNoPages = eris.New("no wiki pages available")
	// ErrIntegrity indicates remote page data that does not add up.
	ErrIntegrity = eris.New("integrity fault")
)

// ValidationError reports malformed input. Nothing is written when it is returned.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}
