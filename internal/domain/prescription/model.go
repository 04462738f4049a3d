package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/queue"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusForwarded Status = "forwarded"
	StatusDispensed Status = "dispensed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusForwarded, StatusDispensed:
		return true
	}
	return false
}

// Medicine is free text end to end; nothing in the engine interprets it.
type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

// Prescription maps to the prescription table. Patient fields are copied at
// creation so the record reads the same after the patient moves on.
type Prescription struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	PatientID      uuid.UUID        `db:"patient_id" json:"patient_id"`
	PatientName    string           `db:"patient_name" json:"patient_name"`
	PatientToken   string           `db:"patient_token" json:"patient_token"`
	Department     queue.Department `db:"department" json:"department"`
	IssuedBy       string           `db:"issued_by" json:"issued_by"`
	Diagnosis      string           `db:"diagnosis" json:"diagnosis"`
	Medicines      []Medicine       `db:"medicines" json:"medicines"`
	Status         Status           `db:"status" json:"status"`
	AIGenerated    bool             `db:"ai_generated" json:"ai_generated"`
	DoctorVerified bool             `db:"doctor_verified" json:"doctor_verified"`
	ForwardedAt    *time.Time       `db:"forwarded_at" json:"forwarded_at,omitempty"`
	DispensedAt    *time.Time       `db:"dispensed_at" json:"dispensed_at,omitempty"`
	Version        int              `db:"version" json:"version"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

func (p *Prescription) Clone() *Prescription {
	c := *p
	c.Medicines = append([]Medicine(nil), p.Medicines...)
	if p.ForwardedAt != nil {
		t := *p.ForwardedAt
		c.ForwardedAt = &t
	}
	if p.DispensedAt != nil {
		t := *p.DispensedAt
		c.DispensedAt = &t
	}
	return &c
}
