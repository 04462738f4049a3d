package receipt

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

type repoMemory struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*Receipt
}

func NewRepoMemory() Repository {
	return &repoMemory{rows: make(map[uuid.UUID]*Receipt)}
}

func (m *repoMemory) Create(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[r.ID]; ok {
		return apperror.Conflict("receipt %s already exists", r.ID)
	}
	for _, existing := range m.rows {
		if existing.PatientID == r.PatientID {
			return apperror.Conflict("patient %s already holds receipt %s", r.PatientID, existing.ID)
		}
	}
	r.Version = 1
	m.rows[r.ID] = r.Clone()
	return nil
}

func (m *repoMemory) GetByID(_ context.Context, id uuid.UUID) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, apperror.NotFound("receipt %s not found", id)
	}
	return r.Clone(), nil
}

func (m *repoMemory) Update(_ context.Context, r *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[r.ID]
	if !ok {
		return apperror.NotFound("receipt %s not found", r.ID)
	}
	if stored.Version != r.Version {
		return apperror.Conflict("receipt %s was modified concurrently", r.ID)
	}
	r.Version++
	m.rows[r.ID] = r.Clone()
	return nil
}

func (m *repoMemory) List(_ context.Context) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Receipt, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
