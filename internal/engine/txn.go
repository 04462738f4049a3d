package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/internal/domain/receipt"
	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/internal/platform/websocket"
	"github.com/medqueue/medqueue/pkg/apperror"
)

// txn stages the records one write produces. They reach the snapshot only
// after the store transaction commits.
type txn struct {
	e             *Engine
	patients      map[uuid.UUID]*queue.Patient
	removed       map[uuid.UUID]bool
	prescriptions map[uuid.UUID]*prescription.Prescription
	receipts      map[uuid.UUID]*receipt.Receipt
	touched       []db.Change
	events        []websocket.Event
}

func (e *Engine) newTxn() *txn {
	return &txn{
		e:             e,
		patients:      make(map[uuid.UUID]*queue.Patient),
		removed:       make(map[uuid.UUID]bool),
		prescriptions: make(map[uuid.UUID]*prescription.Prescription),
		receipts:      make(map[uuid.UUID]*receipt.Receipt),
	}
}

// write runs fn under the engine lock and inside one store transaction.
// Events are published after the lock is released.
func (e *Engine) write(ctx context.Context, fn func(ctx context.Context, t *txn) error) error {
	e.mu.Lock()
	t := e.newTxn()
	err := e.store.Tx.InTx(ctx, func(ctx context.Context) error {
		return fn(ctx, t)
	})
	if err == nil {
		t.commit()
	}
	e.mu.Unlock()

	if err != nil {
		if apperror.Is(err, apperror.KindConcurrencyConflict) {
			// Another writer got there first. Pull its version so a retry
			// starts from current state.
			for _, c := range t.touched {
				e.HandleChange(ctx, c)
			}
		}
		return err
	}

	for _, ev := range t.events {
		e.publish(ctx, ev)
	}
	return nil
}

func (t *txn) commit() {
	for id := range t.removed {
		delete(t.e.patients, id)
	}
	for id, p := range t.patients {
		t.e.patients[id] = p
	}
	for id, p := range t.prescriptions {
		t.e.prescriptions[id] = p
	}
	for id, r := range t.receipts {
		t.e.receipts[id] = r
	}
}

func (t *txn) emit(ev websocket.Event) {
	t.events = append(t.events, ev)
}

// patient returns a private copy of the current record.
func (t *txn) patient(id uuid.UUID) (*queue.Patient, error) {
	if t.removed[id] {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	if p, ok := t.patients[id]; ok {
		return p.Clone(), nil
	}
	p, ok := t.e.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	return p.Clone(), nil
}

func (t *txn) prescription(id uuid.UUID) (*prescription.Prescription, error) {
	if p, ok := t.prescriptions[id]; ok {
		return p.Clone(), nil
	}
	p, ok := t.e.prescriptions[id]
	if !ok {
		return nil, apperror.NotFound("prescription %s not found", id)
	}
	return p.Clone(), nil
}

func (t *txn) receipt(id uuid.UUID) (*receipt.Receipt, error) {
	if r, ok := t.receipts[id]; ok {
		return r.Clone(), nil
	}
	r, ok := t.e.receipts[id]
	if !ok {
		return nil, apperror.NotFound("receipt %s not found", id)
	}
	return r.Clone(), nil
}

func (t *txn) createPatient(ctx context.Context, p *queue.Patient) error {
	t.touched = append(t.touched, db.Change{Entity: EntityPatient, ID: p.ID})
	if err := t.e.store.Patients.Create(ctx, p); err != nil {
		return err
	}
	t.patients[p.ID] = p.Clone()
	return nil
}

func (t *txn) savePatient(ctx context.Context, p *queue.Patient) error {
	t.touched = append(t.touched, db.Change{Entity: EntityPatient, ID: p.ID})
	p.UpdatedAt = t.e.now()
	if err := t.e.store.Patients.Update(ctx, p); err != nil {
		return err
	}
	t.patients[p.ID] = p.Clone()
	return nil
}

func (t *txn) removePatient(ctx context.Context, id uuid.UUID) error {
	t.touched = append(t.touched, db.Change{Entity: EntityPatient, ID: id})
	if err := t.e.store.Patients.Delete(ctx, id); err != nil {
		return err
	}
	delete(t.patients, id)
	t.removed[id] = true
	return nil
}

func (t *txn) createPrescription(ctx context.Context, p *prescription.Prescription) error {
	t.touched = append(t.touched, db.Change{Entity: EntityPrescription, ID: p.ID})
	if err := t.e.store.Prescriptions.Create(ctx, p); err != nil {
		return err
	}
	t.prescriptions[p.ID] = p.Clone()
	return nil
}

func (t *txn) savePrescription(ctx context.Context, p *prescription.Prescription) error {
	t.touched = append(t.touched, db.Change{Entity: EntityPrescription, ID: p.ID})
	p.UpdatedAt = t.e.now()
	if err := t.e.store.Prescriptions.Update(ctx, p); err != nil {
		return err
	}
	t.prescriptions[p.ID] = p.Clone()
	return nil
}

func (t *txn) createReceipt(ctx context.Context, r *receipt.Receipt) error {
	t.touched = append(t.touched, db.Change{Entity: EntityReceipt, ID: r.ID})
	if err := t.e.store.Receipts.Create(ctx, r); err != nil {
		return err
	}
	t.receipts[r.ID] = r.Clone()
	return nil
}

func (t *txn) saveReceipt(ctx context.Context, r *receipt.Receipt) error {
	t.touched = append(t.touched, db.Change{Entity: EntityReceipt, ID: r.ID})
	r.UpdatedAt = t.e.now()
	if err := t.e.store.Receipts.Update(ctx, r); err != nil {
		return err
	}
	t.receipts[r.ID] = r.Clone()
	return nil
}

// syncReceiptPrescription refreshes the prescription snapshot on the
// patient's receipt, if one has been minted.
func (t *txn) syncReceiptPrescription(ctx context.Context, p *prescription.Prescription) error {
	patient, err := t.patient(p.PatientID)
	if err != nil {
		// The patient may have been removed; the prescription stands alone.
		return nil
	}
	if patient.ReceiptID == nil {
		return nil
	}
	r, err := t.receipt(*patient.ReceiptID)
	if err != nil {
		return nil
	}
	r.LinkPrescription(p.ID, p.Status)
	return t.saveReceipt(ctx, r)
}
