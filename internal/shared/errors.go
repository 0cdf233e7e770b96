package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")

	// Execution errors
	ErrTimeout  = fmt.Errorf("operation timed out")
	ErrCanceled = fmt.Errorf("operation canceled")

	// Persistence errors
	ErrNotFound  = fmt.Errorf("record not found")
	ErrDuplicate = fmt.Errorf("record already exists")

	// Sync lifecycle errors
	ErrSyncInProgress    = fmt.Errorf("sync already in progress")
	ErrRetryNotAllowed   = fmt.Errorf("retry not allowed")
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	ErrLeaseHeld         = fmt.Errorf("lease held by another worker")
	ErrClaimLost         = fmt.Errorf("sync claim lost")
	ErrNoDestination     = fmt.Errorf("playlist has no destination")
	ErrNoSource          = fmt.Errorf("playlist has no source")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
