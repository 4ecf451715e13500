package checkout

import (
	"errors"
	"fmt"
)

// ErrEmptyBucket is returned when checkout is attempted with nothing in the bucket.
var ErrEmptyBucket = errors.New("checkout: bucket is empty")

// InsufficientFundsError is the gate's refusal. It is an expected outcome, not a failure of the system.
type InsufficientFundsError struct {
	Total     int64
	Remaining int64
	Shortfall int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("checkout: insufficient tokens: need %d, have %d (short %d)", e.Total, e.Remaining, e.Shortfall)
}

// ExtractionError is a debit the backend refused after the gate admitted it, for example because
// another tab spent the tokens first. The backend's verdict is final.
type ExtractionError struct {
	Amount  int64
	Message string
}

func (e *ExtractionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("checkout: backend refused to extract %d tokens", e.Amount)
	}
	return fmt.Sprintf("checkout: backend refused to extract %d tokens: %s", e.Amount, e.Message)
}

// ReconciliationWarning records a bucket clear that failed after tokens were already spent.
// The checkout still completes; the caller must refresh the bucket and balance.
type ReconciliationWarning struct {
	Charged int64
	Err     error
}

func (w *ReconciliationWarning) Error() string {
	return fmt.Sprintf("checkout: charged %d tokens but could not clear the bucket: %v", w.Charged, w.Err)
}

func (w *ReconciliationWarning) Unwrap() error { return w.Err }
