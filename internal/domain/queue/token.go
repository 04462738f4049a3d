package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/medqueue/medqueue/pkg/apperror"
)

// TokenAllocator issues human-readable per-department tokens such as
// "GM-007". Uniqueness rests on the repository's atomic increment.
type TokenAllocator struct {
	counters CounterRepository
}

func NewTokenAllocator(counters CounterRepository) *TokenAllocator {
	return &TokenAllocator{counters: counters}
}

// Next increments dept's counter and formats the new value.
func (a *TokenAllocator) Next(ctx context.Context, dept Department) (string, error) {
	if !dept.Valid() {
		return "", apperror.InvalidInput("unknown department %q", dept)
	}
	n, err := a.counters.Increment(ctx, dept)
	if err != nil {
		var ae *apperror.Error
		if errors.As(err, &ae) {
			return "", err
		}
		return "", &apperror.Error{Kind: apperror.KindConcurrencyConflict,
			Message: fmt.Sprintf("allocate token for %s", dept), Err: err}
	}
	if n <= 0 {
		return "", apperror.Internal(fmt.Sprintf("token counter for %s is corrupt", dept),
			fmt.Errorf("counter value %d", n))
	}
	return FormatToken(dept, n), nil
}

// FormatToken renders "<PREFIX>-<n zero-padded to three digits>".
func FormatToken(dept Department, n int) string {
	return fmt.Sprintf("%s-%03d", dept.Prefix(), n)
}
