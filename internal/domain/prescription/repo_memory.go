package prescription

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

type repoMemory struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Prescription
}

func NewRepoMemory() Repository {
	return &repoMemory{rows: make(map[uuid.UUID]*Prescription)}
}

func (r *repoMemory) Create(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.ID]; ok {
		return apperror.Conflict("prescription %s already exists", p.ID)
	}
	p.Version = 1
	r.rows[p.ID] = p.Clone()
	return nil
}

func (r *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, apperror.NotFound("prescription %s not found", id)
	}
	return p.Clone(), nil
}

func (r *repoMemory) Update(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[p.ID]
	if !ok {
		return apperror.NotFound("prescription %s not found", p.ID)
	}
	if stored.Version != p.Version {
		return apperror.Conflict("prescription %s was modified concurrently", p.ID)
	}
	p.Version++
	r.rows[p.ID] = p.Clone()
	return nil
}

func (r *repoMemory) List(_ context.Context) ([]*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Prescription, 0, len(r.rows))
	for _, p := range r.rows {
		out = append(out, p.Clone())
	}
	SortByCreated(out)
	return out, nil
}

// SortByCreated orders oldest first, id as tie-break.
func SortByCreated(ps []*Prescription) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID.String() < ps[j].ID.String()
	})
}
