package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Store errors
	ErrStoreLocked   = fmt.Errorf("store is locked by another instance")
	ErrStoreBusy     = fmt.Errorf("store is busy")
	ErrStoreClosed   = fmt.Errorf("store is closed")
	ErrReadOnly      = fmt.Errorf("store handle is read-only")
	ErrTxDone        = fmt.Errorf("transaction has already been committed or rolled back")
	ErrConstraint    = fmt.Errorf("constraint violation")
	ErrMigration     = fmt.Errorf("migration failed")
	ErrSerialization = fmt.Errorf("record serialization failed")
	ErrNotFound      = fmt.Errorf("record not found")

	// Lifecycle errors
	ErrNotEnabled     = fmt.Errorf("plugin is not enabled")
	ErrAlreadyEnabled = fmt.Errorf("plugin is already enabled")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// MigrationError describes a schema step that could not be applied.
//
// It unwraps to both [ErrMigration] and the underlying cause.
type MigrationError struct {
	Table   string
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%v: table %s version %d: %v", ErrMigration, e.Table, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	return []error{ErrMigration, e.Err}
}
