package prescription

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/pkg/apperror"
)

// next is the only successor of each status. Dispensed has none.
var next = map[Status]Status{
	StatusPending:   StatusVerified,
	StatusVerified:  StatusForwarded,
	StatusForwarded: StatusDispensed,
}

// ValidTransition reports whether from may move to to.
func ValidTransition(from, to Status) bool {
	n, ok := next[from]
	return ok && n == to
}

func (p *Prescription) advance(to Status, verb string) error {
	if ValidTransition(p.Status, to) {
		p.Status = to
		return nil
	}
	if p.Status == StatusDispensed {
		return apperror.InvalidTransition("prescription already dispensed")
	}
	return apperror.InvalidTransition("cannot %s prescription in status %s", verb, p.Status)
}

// CreateInput is what a doctor signs off on. Medicines usually come from
// the suggester, in which case AIGenerated is set.
type CreateInput struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	Diagnosis   string     `json:"diagnosis"`
	Medicines   []Medicine `json:"medicines"`
	AIGenerated bool       `json:"ai_generated"`
}

func (in *CreateInput) Validate() error {
	if in.PatientID == uuid.Nil {
		return apperror.InvalidInput("patient_id is required")
	}
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	if in.Diagnosis == "" {
		return apperror.InvalidInput("diagnosis is required")
	}
	if len(in.Medicines) == 0 {
		return apperror.InvalidInput("at least one medicine is required")
	}
	for i, m := range in.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return apperror.InvalidInput("medicine %d has no name", i+1)
		}
	}
	return nil
}

// New builds a pending prescription for patient.
func New(in CreateInput, patient *queue.Patient, now time.Time) *Prescription {
	return &Prescription{
		ID:           uuid.New(),
		PatientID:    patient.ID,
		PatientName:  patient.Name,
		PatientToken: patient.Token,
		Department:   patient.Department,
		IssuedBy:     patient.Department.DoctorLabel(),
		Diagnosis:    in.Diagnosis,
		Medicines:    append([]Medicine(nil), in.Medicines...),
		Status:       StatusPending,
		AIGenerated:  in.AIGenerated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Verify records the doctor's confirmation of the content.
func (p *Prescription) Verify() error {
	if err := p.advance(StatusVerified, "verify"); err != nil {
		return err
	}
	p.DoctorVerified = true
	return nil
}

// Forward sends a verified prescription to the dispensing queue.
func (p *Prescription) Forward(now time.Time) error {
	if !p.DoctorVerified && p.Status == StatusVerified {
		return apperror.InvalidTransition("prescription must be verified by a doctor before forwarding")
	}
	if err := p.advance(StatusForwarded, "forward"); err != nil {
		return err
	}
	t := now
	p.ForwardedAt = &t
	return nil
}

// Dispense is terminal. A second call fails without touching DispensedAt.
func (p *Prescription) Dispense(now time.Time) error {
	if err := p.advance(StatusDispensed, "dispense"); err != nil {
		return err
	}
	t := now
	p.DispensedAt = &t
	return nil
}
