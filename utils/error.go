package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Business rule violations: rejected with no partial effect, the caller must
// supply a corrected request.
var (
	ErrInsufficientQuantity  = errors.New("insufficient quantity")
	ErrInsufficientAvailable = errors.New("insufficient available quantity")
	ErrCycleDetected         = errors.New("batch relation would create a cycle")
	ErrSequenceExhausted     = errors.New("batch number sequence exhausted")
	ErrNegativeResult        = errors.New("adjustment would result in negative quantity")
)

// ErrConflict means a lock could not be obtained or a concurrent writer won;
// the whole confirmation is safe to retry from scratch.
var ErrConflict = errors.New("concurrency conflict, retry the request")

// ErrPolicyNotFound is a configuration error: no default quantity policy is
// configured. Fatal to the confirmation until configuration is fixed.
var ErrPolicyNotFound = errors.New("no quantity policy configured")
