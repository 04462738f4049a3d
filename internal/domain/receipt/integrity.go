package receipt

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/pkg/apperror"
)

// New mints the receipt for a patient whose consultation just completed.
func New(p *queue.Patient, now time.Time) *Receipt {
	r := &Receipt{
		ID:           uuid.New(),
		PatientID:    p.ID,
		PatientName:  p.Name,
		PatientToken: p.Token,
		Department:   p.Department,
		VisitDate:    now,
		DoctorLabel:  p.Department.DoctorLabel(),
		VisitType:    p.VisitType,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.Diagnosis != nil {
		d := *p.Diagnosis
		r.Diagnosis = &d
	}
	return r
}

// Scan counts one verification attempt and reports whether it looks like
// reuse. Any scan after the first marks the receipt fulfilled and raises the
// signal; scans of an invalidated receipt always raise it.
func (r *Receipt) Scan() (fraudSuspected bool) {
	prior := r.ScanCount
	r.ScanCount++
	if r.Status == StatusInvalid {
		return true
	}
	if prior >= 1 {
		r.Status = StatusFulfilled
		return true
	}
	return false
}

// Invalidate is the administrative void.
func (r *Receipt) Invalidate() error {
	if r.Status == StatusInvalid {
		return apperror.InvalidTransition("receipt already invalid")
	}
	r.Status = StatusInvalid
	return nil
}

// LinkPrescription refreshes the prescription snapshot.
func (r *Receipt) LinkPrescription(id uuid.UUID, status prescription.Status) {
	r.PrescriptionID = &id
	r.PrescriptionStatus = &status
}
