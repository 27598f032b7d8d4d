// Package social owns the follow graph: the follow-request state machine,
// the relationship mutator that keeps edges and counters consistent, and
// the recount-and-repair pass.
package social

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound means a referenced participant, request or edge is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the mutation would duplicate existing state.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable wraps every backend or transport failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPartialAggregation marks a fan-out where some sub-queries failed.
	ErrPartialAggregation = errors.New("partial aggregation failure")
	// ErrInvariantViolation marks counters that disagree with a recount.
	ErrInvariantViolation = errors.New("invariant violation detected")

	ErrAlreadyFollowing = fmt.Errorf("%w: already following", ErrConflict)
	ErrRequestExists    = fmt.Errorf("%w: follow request already pending", ErrConflict)
	ErrSelfFollow       = fmt.Errorf("%w: cannot follow yourself", ErrConflict)
)

// StoreErr classifies a gorm error for the operation op. Errors that are
// already classified pass through unchanged.
func StoreErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	default:
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
}

// PartialFailure reports which fan-out sub-queries failed. It is a
// diagnostic: the results of the successful sub-queries are still valid.
type PartialFailure struct {
	Total  int
	Failed map[string]error
}

func (e *PartialFailure) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%d of %d sub-queries failed: %s", len(e.Failed), e.Total, strings.Join(keys, ", "))
}

func (e *PartialFailure) Unwrap() error { return ErrPartialAggregation }

// All reports whether every sub-query failed.
func (e *PartialFailure) All() bool { return e.Total > 0 && len(e.Failed) == e.Total }

// CounterDrift describes stored counters that disagreed with the edges.
type CounterDrift struct {
	Username        string `json:"username"`
	StoredFollowers int64  `json:"stored_followers"`
	ActualFollowers int64  `json:"actual_followers"`
	StoredFollowing int64  `json:"stored_following"`
	ActualFollowing int64  `json:"actual_following"`
}

func (d *CounterDrift) Error() string {
	return fmt.Sprintf("counter drift for %s: followers %d (actual %d), following %d (actual %d)",
		d.Username, d.StoredFollowers, d.ActualFollowers, d.StoredFollowing, d.ActualFollowing)
}

func (d *CounterDrift) Unwrap() error { return ErrInvariantViolation }
