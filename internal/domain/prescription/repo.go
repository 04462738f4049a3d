package prescription

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists prescriptions with the same optimistic Update
// contract as queue.PatientRepository.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	List(ctx context.Context) ([]*Prescription, error)
}
