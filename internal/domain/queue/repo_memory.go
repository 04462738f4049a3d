package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

type patientRepoMemory struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
}

// NewPatientRepoMemory returns a process-local repository, used by tests
// and by STORE_DRIVER=memory.
func NewPatientRepoMemory() PatientRepository {
	return &patientRepoMemory{patients: make(map[uuid.UUID]*Patient)}
}

func (r *patientRepoMemory) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; ok {
		return apperror.Conflict("patient %s already exists", p.ID)
	}
	p.Version = 1
	r.patients[p.ID] = p.Clone()
	return nil
}

func (r *patientRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	return p.Clone(), nil
}

func (r *patientRepoMemory) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.patients[p.ID]
	if !ok {
		return apperror.NotFound("patient %s not found", p.ID)
	}
	if stored.Version != p.Version {
		return apperror.Conflict("patient %s was modified concurrently", p.ID)
	}
	p.Version++
	r.patients[p.ID] = p.Clone()
	return nil
}

func (r *patientRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[id]; !ok {
		return apperror.NotFound("patient %s not found", id)
	}
	delete(r.patients, id)
	return nil
}

func (r *patientRepoMemory) List(_ context.Context) ([]*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		out = append(out, p.Clone())
	}
	ByArrival(out)
	return out, nil
}

type counterRepoMemory struct {
	mu       sync.Mutex
	counters map[Department]int
}

// NewCounterRepoMemory seeds one zero counter per department.
func NewCounterRepoMemory() CounterRepository {
	r := &counterRepoMemory{counters: make(map[Department]int)}
	for _, d := range Departments() {
		r.counters[d] = 0
	}
	return r
}

func (r *counterRepoMemory) Increment(_ context.Context, dept Department) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.counters[dept]
	if !ok {
		return 0, apperror.NotFound("no token counter for department %q", dept)
	}
	n++
	r.counters[dept] = n
	return n, nil
}

func (r *counterRepoMemory) Current(_ context.Context, dept Department) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.counters[dept]
	if !ok {
		return 0, apperror.NotFound("no token counter for department %q", dept)
	}
	return n, nil
}
