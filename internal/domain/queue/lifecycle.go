package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/pkg/apperror"
)

// Action is a staff or doctor action that moves a patient's visit.
type Action string

const (
	ActionCall              Action = "call"
	ActionStartConsultation Action = "start_consultation"
	ActionComplete          Action = "complete"
	ActionMarkEmergency     Action = "mark_emergency"
	ActionResolveEmergency  Action = "resolve_emergency"
	ActionMarkLate          Action = "mark_late"
	ActionEscalate          Action = "escalate"
	ActionTransfer          Action = "transfer"
	ActionUpdateStatus      Action = "update_status"
)

var nonCompleted = []Status{StatusWaiting, StatusCalled, StatusConsultation, StatusEmergency}

// transitions lists the statuses each action may start from. The model is
// deliberately permissive: completing a waiting patient is allowed.
var transitions = map[Action][]Status{
	ActionCall:              {StatusWaiting},
	ActionStartConsultation: {StatusCalled, StatusWaiting, StatusEmergency},
	ActionComplete:          nonCompleted,
	ActionMarkEmergency:     nonCompleted,
	ActionResolveEmergency:  nonCompleted,
	ActionMarkLate:          nonCompleted,
	ActionEscalate:          nonCompleted,
	ActionTransfer:          nonCompleted,
	ActionUpdateStatus:      nonCompleted,
}

// CanApply reports whether action is allowed from status.
func CanApply(action Action, from Status) bool {
	for _, s := range transitions[action] {
		if s == from {
			return true
		}
	}
	return false
}

func (p *Patient) guard(action Action) error {
	if !CanApply(action, p.Status) {
		return apperror.InvalidTransition("cannot %s patient %s in status %s",
			strings.ReplaceAll(string(action), "_", " "), p.Token, p.Status)
	}
	return nil
}

// RegisterInput carries the fields staff supply at registration.
type RegisterInput struct {
	Name            string          `json:"name"`
	Age             int             `json:"age"`
	Department      Department      `json:"department"`
	Symptom         string          `json:"symptom"`
	Severity        Severity        `json:"severity"`
	Vulnerabilities Vulnerabilities `json:"vulnerabilities"`
	VisitType       VisitType       `json:"visit_type"`
}

// Validate checks bounds and closed sets, defaulting the visit type.
func (in *RegisterInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperror.InvalidInput("name is required")
	}
	if in.Age < MinAge || in.Age > MaxAge {
		return apperror.InvalidInput("age must be between %d and %d, got %d", MinAge, MaxAge, in.Age)
	}
	if !in.Department.Valid() {
		return apperror.InvalidInput("unknown department %q", in.Department)
	}
	if !in.Severity.Valid() {
		return apperror.InvalidInput("severity must be mild, moderate or severe, got %q", in.Severity)
	}
	if in.VisitType == "" {
		in.VisitType = VisitRoutine
	}
	if !in.VisitType.Valid() {
		return apperror.InvalidInput("visit_type must be routine, followup or referral, got %q", in.VisitType)
	}
	return nil
}

// NewPatient builds a waiting patient from validated input. Escalation
// starts at zero and every boolean flag is false.
func NewPatient(in RegisterInput, token string, trust int, now time.Time) *Patient {
	return &Patient{
		ID:              uuid.New(),
		Token:           token,
		Name:            in.Name,
		Age:             in.Age,
		Department:      in.Department,
		Symptom:         strings.TrimSpace(in.Symptom),
		Severity:        in.Severity,
		Vulnerabilities: in.Vulnerabilities,
		VisitType:       in.VisitType,
		Status:          StatusWaiting,
		ArrivalTime:     now,
		TrustScore:      clamp(trust, MinTrustScore, MaxTrustScore),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (p *Patient) Call() error {
	if err := p.guard(ActionCall); err != nil {
		return err
	}
	p.Status = StatusCalled
	return nil
}

func (p *Patient) StartConsultation() error {
	if err := p.guard(ActionStartConsultation); err != nil {
		return err
	}
	p.Status = StatusConsultation
	return nil
}

// Complete closes the visit. A nil or blank diagnosis keeps the prior one.
func (p *Patient) Complete(diagnosis *string, now time.Time) error {
	if err := p.guard(ActionComplete); err != nil {
		return err
	}
	p.Status = StatusCompleted
	end := now
	p.ConsultationEndAt = &end
	if diagnosis != nil && strings.TrimSpace(*diagnosis) != "" {
		d := strings.TrimSpace(*diagnosis)
		p.Diagnosis = &d
	}
	return nil
}

func (p *Patient) MarkEmergency() error {
	if err := p.guard(ActionMarkEmergency); err != nil {
		return err
	}
	p.IsEmergency = true
	p.Status = StatusEmergency
	return nil
}

func (p *Patient) ResolveEmergency() error {
	if err := p.guard(ActionResolveEmergency); err != nil {
		return err
	}
	p.IsEmergency = false
	p.Status = StatusWaiting
	return nil
}

func (p *Patient) MarkLate() error {
	if err := p.guard(ActionMarkLate); err != nil {
		return err
	}
	p.IsLate = true
	return nil
}

// Escalate overwrites the escalation level. Lowering is allowed.
func (p *Patient) Escalate(level int) error {
	if level < MinEscalationLevel || level > MaxEscalationLevel {
		return apperror.InvalidInput("escalation level must be between %d and %d, got %d",
			MinEscalationLevel, MaxEscalationLevel, level)
	}
	if err := p.guard(ActionEscalate); err != nil {
		return err
	}
	p.EscalationLevel = level
	return nil
}

// Transfer moves the patient to dept under a freshly issued token. The old
// token is abandoned.
func (p *Patient) Transfer(dept Department, token string) error {
	if !dept.Valid() {
		return apperror.InvalidInput("unknown department %q", dept)
	}
	if err := p.guard(ActionTransfer); err != nil {
		return err
	}
	p.Department = dept
	p.Token = token
	return nil
}

// SetStatus is the generic staff override. Completed and emergency targets
// have side effects and are routed elsewhere by the engine.
func (p *Patient) SetStatus(status Status) error {
	if !status.Valid() {
		return apperror.InvalidInput("unknown status %q", status)
	}
	if err := p.guard(ActionUpdateStatus); err != nil {
		return err
	}
	p.Status = status
	return nil
}

// IsNoShow reports a waiting, late-flagged patient whose wait exceeds after.
func (p *Patient) IsNoShow(now time.Time, after time.Duration) bool {
	return p.Status == StatusWaiting && p.IsLate && now.Sub(p.ArrivalTime) > after
}
