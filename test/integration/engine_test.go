package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/internal/domain/receipt"
	"github.com/medqueue/medqueue/internal/engine"
	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/internal/platform/websocket"
	"github.com/medqueue/medqueue/pkg/apperror"
)

type eventLog struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (l *eventLog) Publish(_ context.Context, ev websocket.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) has(typ, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == typ && ev.ResourceID == id {
			return true
		}
	}
	return false
}

func newPGEngine(t *testing.T, ctx context.Context, store engine.Store, pub websocket.EventPublisher) *engine.Engine {
	t.Helper()
	e := engine.New(store, engine.DefaultConfig(), engine.WithPublisher(pub))
	if err := e.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return e
}

func TestEngineOverPostgres_VisitFlow(t *testing.T) {
	ctx := context.Background()
	pool := newSchemaPool(t)
	events := &eventLog{}
	e := newPGEngine(t, ctx, engine.PostgresStore(pool), events)

	mild, err := e.RegisterPatient(ctx, queue.RegisterInput{
		Name: "Arjun", Age: 30, Department: queue.DeptGeneralMedicine, Severity: queue.SeverityMild,
	})
	if err != nil {
		t.Fatalf("RegisterPatient: %v", err)
	}
	severe, err := e.RegisterPatient(ctx, queue.RegisterInput{
		Name: "Lakshmi", Age: 65, Department: queue.DeptGeneralMedicine, Severity: queue.SeveritySevere,
	})
	if err != nil {
		t.Fatalf("RegisterPatient: %v", err)
	}
	if mild.Token != "GM-001" || severe.Token != "GM-002" {
		t.Fatalf("expected GM-001 and GM-002, got %s and %s", mild.Token, severe.Token)
	}

	next, err := e.CallNext(ctx, queue.DeptGeneralMedicine)
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	if next.ID != severe.ID {
		t.Fatalf("expected the severe elderly patient first, got %s", next.Token)
	}

	if _, err := e.StartConsultation(ctx, severe.ID); err != nil {
		t.Fatalf("StartConsultation: %v", err)
	}
	done, err := e.CompleteConsultation(ctx, severe.ID, ptrStr("hypertension"))
	if err != nil {
		t.Fatalf("CompleteConsultation: %v", err)
	}
	if done.ReceiptID == nil {
		t.Fatal("expected a receipt on completion")
	}

	rx, err := e.CreatePrescription(ctx, prescription.CreateInput{
		PatientID: severe.ID,
		Diagnosis: "hypertension",
		Medicines: []prescription.Medicine{{Name: "Amlodipine", Dosage: "5mg", Frequency: "once daily", Duration: "30 days"}},
	})
	if err != nil {
		t.Fatalf("CreatePrescription: %v", err)
	}
	if _, err := e.VerifyPrescription(ctx, rx.ID); err != nil {
		t.Fatalf("VerifyPrescription: %v", err)
	}
	if _, err := e.ForwardPrescription(ctx, rx.ID); err != nil {
		t.Fatalf("ForwardPrescription: %v", err)
	}
	if _, err := e.DispenseMedicine(ctx, rx.ID); err != nil {
		t.Fatalf("DispenseMedicine: %v", err)
	}
	if _, err := e.DispenseMedicine(ctx, rx.ID); apperror.KindOf(err) != apperror.KindInvalidTransition {
		t.Errorf("expected a second dispense to be refused, got %v", err)
	}

	first, err := e.ScanReceipt(ctx, *done.ReceiptID)
	if err != nil {
		t.Fatalf("ScanReceipt: %v", err)
	}
	second, err := e.ScanReceipt(ctx, *done.ReceiptID)
	if err != nil {
		t.Fatalf("ScanReceipt: %v", err)
	}
	if first.FraudSuspected || !second.FraudSuspected {
		t.Errorf("expected fraud only on the second scan, got %v then %v", first.FraudSuspected, second.FraudSuspected)
	}

	// Every write above is durable: a fresh engine over the same store sees it.
	restarted := newPGEngine(t, ctx, engine.PostgresStore(pool), &eventLog{})
	r, err := restarted.GetReceipt(ctx, *done.ReceiptID)
	if err != nil {
		t.Fatalf("GetReceipt after restart: %v", err)
	}
	if r.ScanCount != 2 || r.Status != receipt.StatusFulfilled {
		t.Errorf("receipt not restored: %+v", r)
	}
	if r.PrescriptionStatus == nil || *r.PrescriptionStatus != prescription.StatusDispensed {
		t.Errorf("expected the receipt to mirror the dispensed prescription, got %v", r.PrescriptionStatus)
	}
	waiting, err := restarted.SortedQueue(ctx, queue.DeptGeneralMedicine)
	if err != nil {
		t.Fatalf("SortedQueue: %v", err)
	}
	if len(waiting) != 1 || waiting[0].ID != mild.ID {
		t.Errorf("expected only %s waiting after restart, got %d patients", mild.Token, len(waiting))
	}
	third, err := restarted.RegisterPatient(ctx, queue.RegisterInput{
		Name: "Kiran", Age: 41, Department: queue.DeptGeneralMedicine, Severity: queue.SeverityModerate,
	})
	if err != nil {
		t.Fatalf("RegisterPatient after restart: %v", err)
	}
	if third.Token != "GM-003" {
		t.Errorf("expected the counter to continue at GM-003, got %s", third.Token)
	}
}

func TestEngineOverPostgres_FailedWriteLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	pool := newSchemaPool(t)
	e := newPGEngine(t, ctx, engine.PostgresStore(pool), &eventLog{})

	p, err := e.RegisterPatient(ctx, queue.RegisterInput{
		Name: "Farah", Age: 52, Department: queue.DeptCardiology, Severity: queue.SeverityModerate,
	})
	if err != nil {
		t.Fatalf("RegisterPatient: %v", err)
	}
	if _, err := e.TransferDepartment(ctx, p.ID, queue.DeptCardiology); err == nil {
		t.Fatal("expected a transfer to the same department to be refused")
	}

	cur, err := queue.NewCounterRepoPG(pool).Current(ctx, queue.DeptCardiology)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur != 1 {
		t.Errorf("expected the cardiology counter to stay at 1, got %d", cur)
	}
}

// Two engines share one database, as two server processes would. Writes
// made by one reach the other through the change feed.
func TestEngineOverPostgres_ChangeFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := newSchemaPool(t)

	writer := newPGEngine(t, ctx, engine.PostgresStore(pool), &eventLog{})
	readerEvents := &eventLog{}
	reader := newPGEngine(t, ctx, engine.PostgresStore(pool), readerEvents)

	listener := db.NewListener(pool, reader.HandleChange, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for !listener.Connected() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !listener.Connected() {
		t.Fatal("listener never connected")
	}

	// Delivery is asynchronous; keep writing until the reader sees one.
	var p *queue.Patient
	for time.Now().Before(deadline) {
		var err error
		p, err = writer.RegisterPatient(ctx, queue.RegisterInput{
			Name: "Rohan", Age: 9, Department: queue.DeptPediatrics, Severity: queue.SeverityMild,
		})
		if err != nil {
			t.Fatalf("RegisterPatient: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
		if _, err := reader.GetPatient(ctx, p.ID); err == nil {
			break
		}
	}
	if p == nil {
		t.Fatal("no patient registered before the deadline")
	}
	if _, err := reader.GetPatient(ctx, p.ID); err != nil {
		t.Fatalf("reader never saw %s: %v", p.Token, err)
	}
	if !readerEvents.has(engine.EventRecordReloaded, p.ID.String()) {
		t.Errorf("expected a reload event for %s", p.Token)
	}

	// The writer's snapshot is stale for a patient the reader then changes.
	if _, err := reader.MarkEmergency(ctx, p.ID); err != nil {
		t.Fatalf("MarkEmergency: %v", err)
	}
	_, err := writer.Escalate(ctx, p.ID, 1)
	if apperror.KindOf(err) != apperror.KindConcurrencyConflict {
		t.Fatalf("expected the stale writer to hit a conflict, got %v", err)
	}
	// The conflict refreshed the writer, so a retry succeeds.
	got, err := writer.Escalate(ctx, p.ID, 1)
	if err != nil {
		t.Fatalf("Escalate retry: %v", err)
	}
	if !got.IsEmergency || got.EscalationLevel != 1 {
		t.Errorf("expected the retry to build on the emergency flag, got %+v", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("listener: %v", err)
	}
}

func waitConnected(t *testing.T, l *db.Listener) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !l.Connected() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !l.Connected() {
		t.Fatal("listener never connected")
	}
}

func TestEngineOverPostgres_ResyncOnConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := newSchemaPool(t)

	reader := newPGEngine(t, ctx, engine.PostgresStore(pool), &eventLog{})
	writer := newPGEngine(t, ctx, engine.PostgresStore(pool), &eventLog{})

	// Committed after the reader loaded and before it listens, so no
	// notification will ever reach it.
	missed, err := writer.RegisterPatient(ctx, queue.RegisterInput{
		Name: "Kavya", Age: 41, Department: queue.DeptCardiology, Severity: queue.SeverityModerate,
	})
	if err != nil {
		t.Fatalf("RegisterPatient: %v", err)
	}
	if _, err := reader.GetPatient(ctx, missed.ID); apperror.KindOf(err) != apperror.KindNotFound {
		t.Fatalf("expected the reader to be stale before listening, got %v", err)
	}

	listener := db.NewListener(pool, reader.HandleChange, zerolog.Nop())
	listener.OnConnect = reader.Load
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()
	waitConnected(t, listener)

	got, err := reader.GetPatient(ctx, missed.ID)
	if err != nil {
		t.Fatalf("reader did not resync on connect: %v", err)
	}
	if got.Token != missed.Token {
		t.Errorf("token = %s, want %s", got.Token, missed.Token)
	}
	sorted, err := reader.SortedQueue(ctx, queue.DeptCardiology)
	if err != nil {
		t.Fatalf("SortedQueue: %v", err)
	}
	found := false
	for _, p := range sorted {
		if p.ID == missed.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("resynced patient %s missing from the department queue", missed.Token)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("listener: %v", err)
	}
}

func TestListener_ReturnsConnectionUnsubscribed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := newSchemaPool(t)

	listener := db.NewListener(pool, func(context.Context, db.Change) {}, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()
	waitConnected(t, listener)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("listener: %v", err)
	}
	if listener.Connected() {
		t.Error("listener still reports connected after shutdown")
	}

	conns := pool.AcquireAllIdle(context.Background())
	defer func() {
		for _, c := range conns {
			c.Release()
		}
	}()
	for _, c := range conns {
		var channels int
		if err := c.QueryRow(context.Background(), "SELECT count(*) FROM pg_listening_channels()").Scan(&channels); err != nil {
			t.Fatalf("pg_listening_channels: %v", err)
		}
		if channels != 0 {
			t.Errorf("pooled connection still listening on %d channel(s)", channels)
		}
	}
}
