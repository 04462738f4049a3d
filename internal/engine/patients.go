package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/internal/domain/receipt"
	"github.com/medqueue/medqueue/pkg/apperror"
)

func (e *Engine) logPatient(action string, p *queue.Patient) {
	e.logger.Info().
		Str("action", action).
		Str("patient_id", p.ID.String()).
		Str("token", p.Token).
		Str("department", string(p.Department)).
		Str("status", string(p.Status)).
		Msg("patient updated")
}

// RegisterPatient admits a new patient to the waiting queue of their
// department under a freshly allocated token.
func (e *Engine) RegisterPatient(ctx context.Context, in queue.RegisterInput) (*queue.Patient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out *queue.Patient
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		token, err := e.tokens.Next(ctx, in.Department)
		if err != nil {
			return err
		}
		trust := baseTrustScore + queue.Jitter(e.rng, trustJitterRange)
		p := queue.NewPatient(in, token, trust, e.now())
		if err := t.createPatient(ctx, p); err != nil {
			return err
		}
		t.emit(e.patientEvent(EventPatientRegistered, p))
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logPatient("register", out)
	return out.Clone(), nil
}

// mutatePatient applies transition to a copy of patient id and persists it.
func (e *Engine) mutatePatient(ctx context.Context, id uuid.UUID, action, eventType string,
	transition func(ctx context.Context, t *txn, p *queue.Patient) error,
) (*queue.Patient, error) {
	var out *queue.Patient
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		p, err := t.patient(id)
		if err != nil {
			return err
		}
		if err := transition(ctx, t, p); err != nil {
			return err
		}
		if err := t.savePatient(ctx, p); err != nil {
			return err
		}
		t.emit(e.patientEvent(eventType, p))
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logPatient(action, out)
	return out.Clone(), nil
}

func pure(fn func(p *queue.Patient) error) func(context.Context, *txn, *queue.Patient) error {
	return func(_ context.Context, _ *txn, p *queue.Patient) error { return fn(p) }
}

// UpdateStatus is the generic staff override. Completed and emergency
// targets carry side effects, so they route to the dedicated operations.
func (e *Engine) UpdateStatus(ctx context.Context, id uuid.UUID, status queue.Status) (*queue.Patient, error) {
	switch status {
	case queue.StatusCompleted:
		return e.CompleteConsultation(ctx, id, nil)
	case queue.StatusEmergency:
		return e.MarkEmergency(ctx, id)
	}
	return e.mutatePatient(ctx, id, "update_status", EventPatientStatusChanged,
		pure(func(p *queue.Patient) error { return p.SetStatus(status) }))
}

func (e *Engine) MarkEmergency(ctx context.Context, id uuid.UUID) (*queue.Patient, error) {
	return e.mutatePatient(ctx, id, "mark_emergency", EventPatientEmergencyMarked,
		pure((*queue.Patient).MarkEmergency))
}

func (e *Engine) ResolveEmergency(ctx context.Context, id uuid.UUID) (*queue.Patient, error) {
	return e.mutatePatient(ctx, id, "resolve_emergency", EventPatientEmergencyResolved,
		pure((*queue.Patient).ResolveEmergency))
}

func (e *Engine) MarkLateArrival(ctx context.Context, id uuid.UUID) (*queue.Patient, error) {
	return e.mutatePatient(ctx, id, "mark_late", EventPatientLateMarked,
		pure((*queue.Patient).MarkLate))
}

// Escalate overwrites the escalation level; lowering it is permitted.
func (e *Engine) Escalate(ctx context.Context, id uuid.UUID, level int) (*queue.Patient, error) {
	return e.mutatePatient(ctx, id, "escalate", EventPatientEscalated,
		pure(func(p *queue.Patient) error { return p.Escalate(level) }))
}

func (e *Engine) StartConsultation(ctx context.Context, id uuid.UUID) (*queue.Patient, error) {
	return e.mutatePatient(ctx, id, "start_consultation", EventPatientConsultationStarted,
		pure((*queue.Patient).StartConsultation))
}

// CompleteConsultation closes the visit and mints its receipt in the same
// transaction. Completed is terminal, so a visit yields one receipt.
func (e *Engine) CompleteConsultation(ctx context.Context, id uuid.UUID, diagnosis *string) (*queue.Patient, error) {
	return e.mutatePatient(ctx, id, "complete", EventPatientCompleted,
		func(ctx context.Context, t *txn, p *queue.Patient) error {
			now := e.now()
			if err := p.Complete(diagnosis, now); err != nil {
				return err
			}
			r := receipt.New(p, now)
			if p.PrescriptionID != nil {
				if rx, err := t.prescription(*p.PrescriptionID); err == nil {
					r.LinkPrescription(rx.ID, rx.Status)
				}
			}
			if err := t.createReceipt(ctx, r); err != nil {
				return err
			}
			p.ReceiptID = &r.ID
			t.emit(e.receiptEvent(EventReceiptCreated, r, false))
			return nil
		})
}

// TransferDepartment moves the patient to dept with a token from dept's
// sequence. The old token is abandoned.
func (e *Engine) TransferDepartment(ctx context.Context, id uuid.UUID, dept queue.Department) (*queue.Patient, error) {
	if !dept.Valid() {
		return nil, apperror.InvalidInput("unknown department %q", dept)
	}
	return e.mutatePatient(ctx, id, "transfer", EventPatientTransferred,
		func(ctx context.Context, _ *txn, p *queue.Patient) error {
			// Check before allocating so a refused transfer burns no token.
			if !queue.CanApply(queue.ActionTransfer, p.Status) {
				return apperror.InvalidTransition("cannot transfer patient %s in status %s", p.Token, p.Status)
			}
			token, err := e.tokens.Next(ctx, dept)
			if err != nil {
				return err
			}
			return p.Transfer(dept, token)
		})
}

// CallNext calls the highest ranked waiting patient of dept.
func (e *Engine) CallNext(ctx context.Context, dept queue.Department) (*queue.Patient, error) {
	if !dept.Valid() {
		return nil, apperror.InvalidInput("unknown department %q", dept)
	}

	var out *queue.Patient
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		waiting := queue.Filter(e.patientList(), func(p *queue.Patient) bool {
			return p.Department == dept && p.Status == queue.StatusWaiting
		})
		ordered := queue.Order(waiting, dept, e.now())
		if len(ordered) == 0 {
			return apperror.EmptyQueue("no patients waiting in %s", dept.DisplayName())
		}
		p := ordered[0].Clone()
		if err := p.Call(); err != nil {
			return err
		}
		if err := t.savePatient(ctx, p); err != nil {
			return err
		}
		t.emit(e.patientEvent(EventPatientCalled, p))
		out = p
		return nil
	})
	if err != nil {
		if apperror.Is(err, apperror.KindEmptyQueue) {
			e.logger.Info().Str("department", string(dept)).Msg("call next on empty queue")
		}
		return nil, err
	}
	e.logPatient("call_next", out)
	return out.Clone(), nil
}

// RemovePatient deletes the record regardless of status. Receipts and
// prescriptions that reference it are kept.
func (e *Engine) RemovePatient(ctx context.Context, id uuid.UUID) error {
	var removed *queue.Patient
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		p, err := t.patient(id)
		if err != nil {
			return err
		}
		if err := t.removePatient(ctx, id); err != nil {
			return err
		}
		t.emit(e.patientEvent(EventPatientRemoved, p))
		removed = p
		return nil
	})
	if err != nil {
		return err
	}
	e.logPatient("remove", removed)
	return nil
}

func (e *Engine) GetPatient(_ context.Context, id uuid.UUID) (*queue.Patient, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.patients[id]
	if !ok {
		return nil, apperror.NotFound("patient %s not found", id)
	}
	return p.Clone(), nil
}

// GetPatientByToken matches case-insensitively.
func (e *Engine) GetPatientByToken(_ context.Context, token string) (*queue.Patient, error) {
	want := queue.NormalizeToken(token)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, p := range e.patientList() {
		if p.Token == want {
			return p.Clone(), nil
		}
	}
	return nil, apperror.NotFound("no patient with token %s", want)
}

// SortedQueue returns the queue of dept, or every department when dept is
// empty.
func (e *Engine) SortedQueue(_ context.Context, dept queue.Department) ([]*queue.Patient, error) {
	if dept != "" && !dept.Valid() {
		return nil, apperror.InvalidInput("unknown department %q", dept)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return clonePatients(queue.Order(e.patientList(), dept, e.now())), nil
}

// EstimatedWait returns approximate minutes until id is seen.
func (e *Engine) EstimatedWait(_ context.Context, id uuid.UUID) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.patients[id]; !ok {
		return 0, apperror.NotFound("patient %s not found", id)
	}
	return e.wait.Estimate(e.patientList(), id, e.now()), nil
}

// ListNoShows returns late waiting patients past the no-show threshold, in
// queue order.
func (e *Engine) ListNoShows(_ context.Context, dept queue.Department) ([]*queue.Patient, error) {
	if !dept.Valid() {
		return nil, apperror.InvalidInput("unknown department %q", dept)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := e.now()
	ordered := queue.Order(e.patientList(), dept, now)
	return clonePatients(queue.Filter(ordered, func(p *queue.Patient) bool {
		return p.IsNoShow(now, e.cfg.NoShowAfter)
	})), nil
}
