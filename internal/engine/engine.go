// Package engine owns queue state. It keeps an in-memory snapshot of every
// patient, prescription and receipt, serializes all writes through one lock
// and a single store transaction, and publishes a domain event after each
// write is durable.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/internal/domain/receipt"
	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/internal/platform/suggest"
	"github.com/medqueue/medqueue/internal/platform/websocket"
)

// Store groups the repositories the engine persists through. Tx must make
// every repository call inside InTx part of one transaction.
type Store struct {
	Patients      queue.PatientRepository
	Counters      queue.CounterRepository
	Prescriptions prescription.Repository
	Receipts      receipt.Repository
	Tx            db.Transactor
}

// MemoryStore wires the process-local repositories.
func MemoryStore() Store {
	return Store{
		Patients:      queue.NewPatientRepoMemory(),
		Counters:      queue.NewCounterRepoMemory(),
		Prescriptions: prescription.NewRepoMemory(),
		Receipts:      receipt.NewRepoMemory(),
		Tx:            db.NoTransactor(),
	}
}

// PostgresStore wires the PostgreSQL repositories over one pool.
func PostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Patients:      queue.NewPatientRepoPG(pool),
		Counters:      queue.NewCounterRepoPG(pool),
		Prescriptions: prescription.NewRepoPG(pool),
		Receipts:      receipt.NewRepoPG(pool),
		Tx:            db.NewTransactor(pool),
	}
}

type Config struct {
	AvgConsultMinutes float64
	WaitJitterMinutes int
	NoShowAfter       time.Duration
}

func DefaultConfig() Config {
	return Config{
		AvgConsultMinutes: 12,
		WaitJitterMinutes: 2,
		NoShowAfter:       30 * time.Minute,
	}
}

const (
	baseTrustScore   = 80
	trustJitterRange = 10
)

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRandom(rng queue.RandomSource) Option {
	return func(e *Engine) { e.rng = rng }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithPublisher(pub websocket.EventPublisher) Option {
	return func(e *Engine) { e.publisher = pub }
}

func WithSuggester(s suggest.Suggester) Option {
	return func(e *Engine) { e.suggester = s }
}

type Engine struct {
	mu            sync.RWMutex
	patients      map[uuid.UUID]*queue.Patient
	prescriptions map[uuid.UUID]*prescription.Prescription
	receipts      map[uuid.UUID]*receipt.Receipt

	store     Store
	cfg       Config
	tokens    *queue.TokenAllocator
	wait      *queue.WaitEstimator
	now       func() time.Time
	rng       queue.RandomSource
	logger    zerolog.Logger
	publisher websocket.EventPublisher
	suggester suggest.Suggester
}

func New(store Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		patients:      make(map[uuid.UUID]*queue.Patient),
		prescriptions: make(map[uuid.UUID]*prescription.Prescription),
		receipts:      make(map[uuid.UUID]*receipt.Receipt),
		store:         store,
		cfg:           cfg,
		tokens:        queue.NewTokenAllocator(store.Counters),
		now:           time.Now,
		rng:           queue.DefaultRandom,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store.Tx == nil {
		e.store.Tx = db.NoTransactor()
	}
	e.wait = queue.NewWaitEstimator(cfg.AvgConsultMinutes, cfg.WaitJitterMinutes, e.rng)
	return e
}

// Load replaces the snapshot with the store's current contents. It holds
// the write lock across the reads, so a commit cannot land between the
// read and the swap and then be lost.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	patients, err := e.store.Patients.List(ctx)
	if err != nil {
		return fmt.Errorf("load patients: %w", err)
	}
	prescriptions, err := e.store.Prescriptions.List(ctx)
	if err != nil {
		return fmt.Errorf("load prescriptions: %w", err)
	}
	receipts, err := e.store.Receipts.List(ctx)
	if err != nil {
		return fmt.Errorf("load receipts: %w", err)
	}

	e.patients = make(map[uuid.UUID]*queue.Patient, len(patients))
	for _, p := range patients {
		e.patients[p.ID] = p
	}
	e.prescriptions = make(map[uuid.UUID]*prescription.Prescription, len(prescriptions))
	for _, p := range prescriptions {
		e.prescriptions[p.ID] = p
	}
	e.receipts = make(map[uuid.UUID]*receipt.Receipt, len(receipts))
	for _, r := range receipts {
		e.receipts[r.ID] = r
	}

	e.logger.Info().
		Int("patients", len(patients)).
		Int("prescriptions", len(prescriptions)).
		Int("receipts", len(receipts)).
		Msg("queue snapshot loaded")
	return nil
}

// patientList returns the snapshot in arrival order. Callers hold e.mu.
func (e *Engine) patientList() []*queue.Patient {
	out := make([]*queue.Patient, 0, len(e.patients))
	for _, p := range e.patients {
		out = append(out, p)
	}
	queue.ByArrival(out)
	return out
}

func clonePatients(ps []*queue.Patient) []*queue.Patient {
	out := make([]*queue.Patient, len(ps))
	for i, p := range ps {
		out[i] = p.Clone()
	}
	return out
}
