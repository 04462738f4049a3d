package queue

import (
	"context"

	"github.com/google/uuid"
)

// PatientRepository persists patients. Update is optimistic: it succeeds
// only when the stored version equals p.Version, and bumps p.Version.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Patient, error)
}

// CounterRepository holds one monotonically increasing counter per
// department. Increment must be atomic with respect to concurrent callers.
type CounterRepository interface {
	Increment(ctx context.Context, dept Department) (int, error)
	// Current reads the last issued number without consuming one. Token
	// allocation never calls it; it exists for inspection, such as
	// checking that the counters have no gaps after concurrent use.
	Current(ctx context.Context, dept Department) (int, error)
}
