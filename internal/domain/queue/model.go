package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Department is one of the fixed clinical units. Each has its own token
// sequence and queue.
type Department string

const (
	DeptGeneralMedicine Department = "general_medicine"
	DeptPediatrics      Department = "pediatrics"
	DeptCardiology      Department = "cardiology"
	DeptOrthopedics     Department = "orthopedics"
)

type departmentInfo struct {
	prefix  string
	display string
}

var departments = map[Department]departmentInfo{
	DeptGeneralMedicine: {prefix: "GM", display: "General Medicine"},
	DeptPediatrics:      {prefix: "PD", display: "Pediatrics"},
	DeptCardiology:      {prefix: "CA", display: "Cardiology"},
	DeptOrthopedics:     {prefix: "OR", display: "Orthopedics"},
}

// Departments lists the closed department set in a stable order.
func Departments() []Department {
	return []Department{DeptGeneralMedicine, DeptPediatrics, DeptCardiology, DeptOrthopedics}
}

func (d Department) Valid() bool {
	_, ok := departments[d]
	return ok
}

// Prefix returns the two-letter token prefix, e.g. "GM".
func (d Department) Prefix() string {
	return departments[d].prefix
}

func (d Department) DisplayName() string {
	return departments[d].display
}

// DoctorLabel is the issuing doctor's role as printed on prescriptions and
// receipts.
func (d Department) DoctorLabel() string {
	return "Doctor, " + d.DisplayName()
}

// ParseDepartment accepts either the department value or its token prefix,
// case-insensitively.
func ParseDepartment(s string) (Department, bool) {
	s = strings.TrimSpace(s)
	if d := Department(strings.ToLower(s)); d.Valid() {
		return d, true
	}
	for d, info := range departments {
		if strings.EqualFold(info.prefix, s) {
			return d, true
		}
	}
	return "", false
}

type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

func (s Severity) Valid() bool {
	return s == SeverityMild || s == SeverityModerate || s == SeveritySevere
}

type VisitType string

const (
	VisitRoutine  VisitType = "routine"
	VisitFollowup VisitType = "followup"
	VisitReferral VisitType = "referral"
)

func (v VisitType) Valid() bool {
	return v == VisitRoutine || v == VisitFollowup || v == VisitReferral
}

type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusCalled       Status = "called"
	StatusConsultation Status = "consultation"
	StatusEmergency    Status = "emergency"
	StatusCompleted    Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusCalled, StatusConsultation, StatusEmergency, StatusCompleted:
		return true
	}
	return false
}

// Vulnerabilities are independent flags, each contributing a bounded bonus.
type Vulnerabilities struct {
	Elderly          bool `json:"elderly"`
	Pregnant         bool `json:"pregnant"`
	Disabled         bool `json:"disabled"`
	ChronicCondition bool `json:"chronic_condition"`
}

const (
	MinAge             = 0
	MaxAge             = 120
	MinEscalationLevel = 0
	MaxEscalationLevel = 2
	MinTrustScore      = 0
	MaxTrustScore      = 100
)

// Patient maps to the patient table.
type Patient struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	Token             string          `db:"token" json:"token"`
	Name              string          `db:"name" json:"name"`
	Age               int             `db:"age" json:"age"`
	Department        Department      `db:"department" json:"department"`
	Symptom           string          `db:"symptom" json:"symptom"`
	Severity          Severity        `db:"severity" json:"severity"`
	Vulnerabilities   Vulnerabilities `json:"vulnerabilities"`
	VisitType         VisitType       `db:"visit_type" json:"visit_type"`
	Status            Status          `db:"status" json:"status"`
	ArrivalTime       time.Time       `db:"arrival_time" json:"arrival_time"`
	EscalationLevel   int             `db:"escalation_level" json:"escalation_level"`
	IsEmergency       bool            `db:"is_emergency" json:"is_emergency"`
	IsLate            bool            `db:"is_late" json:"is_late"`
	TrustScore        int             `db:"trust_score" json:"-"`
	ReceiptID         *uuid.UUID      `db:"receipt_id" json:"receipt_id,omitempty"`
	PrescriptionID    *uuid.UUID      `db:"prescription_id" json:"prescription_id,omitempty"`
	Diagnosis         *string         `db:"diagnosis" json:"diagnosis,omitempty"`
	ConsultationEndAt *time.Time      `db:"consultation_end_at" json:"consultation_end_at,omitempty"`
	Version           int             `db:"version" json:"version"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so snapshot entries are never shared with callers.
func (p *Patient) Clone() *Patient {
	c := *p
	if p.ReceiptID != nil {
		id := *p.ReceiptID
		c.ReceiptID = &id
	}
	if p.PrescriptionID != nil {
		id := *p.PrescriptionID
		c.PrescriptionID = &id
	}
	if p.Diagnosis != nil {
		d := *p.Diagnosis
		c.Diagnosis = &d
	}
	if p.ConsultationEndAt != nil {
		t := *p.ConsultationEndAt
		c.ConsultationEndAt = &t
	}
	return &c
}

// IsActive reports whether the patient still takes part in queue ordering.
func (p *Patient) IsActive() bool {
	return p.Status != StatusCompleted
}

// MinutesWaited is the whole-minute wait since arrival, never negative.
func (p *Patient) MinutesWaited(now time.Time) float64 {
	d := now.Sub(p.ArrivalTime)
	if d < 0 {
		return 0
	}
	return d.Minutes()
}

// NormalizeToken uppercases and trims a token for lookups.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
