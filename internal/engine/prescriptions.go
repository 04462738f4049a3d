package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/internal/platform/suggest"
	"github.com/medqueue/medqueue/pkg/apperror"
)

func (e *Engine) logPrescription(action string, p *prescription.Prescription) {
	e.logger.Info().
		Str("action", action).
		Str("prescription_id", p.ID.String()).
		Str("patient_id", p.PatientID.String()).
		Str("token", p.PatientToken).
		Str("status", string(p.Status)).
		Msg("prescription updated")
}

// CreatePrescription issues a pending prescription and back-links the
// patient's prescription id and diagnosis.
func (e *Engine) CreatePrescription(ctx context.Context, in prescription.CreateInput) (*prescription.Prescription, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var out *prescription.Prescription
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		patient, err := t.patient(in.PatientID)
		if err != nil {
			return err
		}
		rx := prescription.New(in, patient, e.now())
		if err := t.createPrescription(ctx, rx); err != nil {
			return err
		}

		patient.PrescriptionID = &rx.ID
		diagnosis := rx.Diagnosis
		patient.Diagnosis = &diagnosis
		if err := t.savePatient(ctx, patient); err != nil {
			return err
		}
		if err := t.syncReceiptPrescription(ctx, rx); err != nil {
			return err
		}
		t.emit(e.prescriptionEvent(EventPrescriptionCreated, rx))
		out = rx
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logPrescription("create", out)
	return out.Clone(), nil
}

func (e *Engine) mutatePrescription(ctx context.Context, id uuid.UUID, action, eventType string,
	transition func(p *prescription.Prescription, now time.Time) error,
) (*prescription.Prescription, error) {
	var out *prescription.Prescription
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		rx, err := t.prescription(id)
		if err != nil {
			return err
		}
		if err := transition(rx, e.now()); err != nil {
			return err
		}
		if err := t.savePrescription(ctx, rx); err != nil {
			return err
		}
		if err := t.syncReceiptPrescription(ctx, rx); err != nil {
			return err
		}
		t.emit(e.prescriptionEvent(eventType, rx))
		out = rx
		return nil
	})
	if err != nil {
		if apperror.Is(err, apperror.KindInvalidTransition) {
			e.logger.Warn().Err(err).Str("action", action).Str("prescription_id", id.String()).
				Msg("prescription transition refused")
		}
		return nil, err
	}
	e.logPrescription(action, out)
	return out.Clone(), nil
}

func (e *Engine) VerifyPrescription(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	return e.mutatePrescription(ctx, id, "verify", EventPrescriptionVerified,
		func(p *prescription.Prescription, _ time.Time) error { return p.Verify() })
}

func (e *Engine) ForwardPrescription(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	return e.mutatePrescription(ctx, id, "forward", EventPrescriptionForwarded,
		(*prescription.Prescription).Forward)
}

// DispenseMedicine is terminal. Retrying it reports "already dispensed"
// and changes nothing.
func (e *Engine) DispenseMedicine(ctx context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	return e.mutatePrescription(ctx, id, "dispense", EventPrescriptionDispensed,
		(*prescription.Prescription).Dispense)
}

func (e *Engine) GetPrescription(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.prescriptions[id]
	if !ok {
		return nil, apperror.NotFound("prescription %s not found", id)
	}
	return p.Clone(), nil
}

func (e *Engine) prescriptionList() []*prescription.Prescription {
	out := make([]*prescription.Prescription, 0, len(e.prescriptions))
	for _, p := range e.prescriptions {
		out = append(out, p)
	}
	prescription.SortByCreated(out)
	return out
}

// GetPrescriptionByToken returns the most recent prescription issued under
// the patient token, matched case-insensitively.
func (e *Engine) GetPrescriptionByToken(_ context.Context, token string) (*prescription.Prescription, error) {
	want := queue.NormalizeToken(token)
	e.mu.RLock()
	defer e.mu.RUnlock()
	list := e.prescriptionList()
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].PatientToken == want {
			return list[i].Clone(), nil
		}
	}
	return nil, apperror.NotFound("no prescription for token %s", want)
}

// ForwardedPrescriptions is the dispensing queue, oldest forward first.
func (e *Engine) ForwardedPrescriptions(_ context.Context) ([]*prescription.Prescription, error) {
	e.mu.RLock()
	var out []*prescription.Prescription
	for _, p := range e.prescriptionList() {
		if p.Status == prescription.StatusForwarded {
			out = append(out, p.Clone())
		}
	}
	e.mu.RUnlock()

	sortByForwarded(out)
	return out, nil
}

// SuggestTreatment consults the treatment suggester for the doctor workflow.
func (e *Engine) SuggestTreatment(_ context.Context, diagnosis string) (suggest.Suggestion, error) {
	if e.suggester == nil {
		return suggest.Suggestion{}, apperror.Upstream("treatment suggester is not configured", nil)
	}
	return e.suggester.Suggest(diagnosis), nil
}

func sortByForwarded(ps []*prescription.Prescription) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i].ForwardedAt, ps[j].ForwardedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})
}
