package receipt

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists receipts. Receipts are never deleted.
type Repository interface {
	Create(ctx context.Context, r *Receipt) error
	GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error)
	Update(ctx context.Context, r *Receipt) error
	List(ctx context.Context) ([]*Receipt, error)
}
