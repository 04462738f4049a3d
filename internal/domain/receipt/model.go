package receipt

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusFulfilled Status = "fulfilled"
	StatusInvalid   Status = "invalid"
)

// Receipt is the proof-of-visit minted when a consultation completes.
type Receipt struct {
	ID                 uuid.UUID            `db:"id" json:"id"`
	PatientID          uuid.UUID            `db:"patient_id" json:"patient_id"`
	PatientName        string               `db:"patient_name" json:"patient_name"`
	PatientToken       string               `db:"patient_token" json:"patient_token"`
	Department         queue.Department     `db:"department" json:"department"`
	VisitDate          time.Time            `db:"visit_date" json:"visit_date"`
	DoctorLabel        string               `db:"doctor_label" json:"doctor_label"`
	VisitType          queue.VisitType      `db:"visit_type" json:"visit_type"`
	Diagnosis          *string              `db:"diagnosis" json:"diagnosis,omitempty"`
	PrescriptionID     *uuid.UUID           `db:"prescription_id" json:"prescription_id,omitempty"`
	PrescriptionStatus *prescription.Status `db:"prescription_status" json:"prescription_status,omitempty"`
	Status             Status               `db:"status" json:"status"`
	ScanCount          int                  `db:"scan_count" json:"scan_count"`
	Version            int                  `db:"version" json:"version"`
	CreatedAt          time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time            `db:"updated_at" json:"updated_at"`
}

func (r *Receipt) Clone() *Receipt {
	c := *r
	if r.Diagnosis != nil {
		d := *r.Diagnosis
		c.Diagnosis = &d
	}
	if r.PrescriptionID != nil {
		id := *r.PrescriptionID
		c.PrescriptionID = &id
	}
	if r.PrescriptionStatus != nil {
		s := *r.PrescriptionStatus
		c.PrescriptionStatus = &s
	}
	return &c
}
