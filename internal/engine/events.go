package engine

import (
	"context"
	"encoding/json"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/internal/domain/receipt"
	"github.com/medqueue/medqueue/internal/platform/websocket"
)

const (
	EntityPatient      = "patient"
	EntityPrescription = "prescription"
	EntityReceipt      = "receipt"
)

const (
	TopicQueue         = "queue"
	TopicPrescriptions = "prescriptions"
	TopicReceipts      = "receipts"
)

const (
	EventPatientRegistered          = "patient.registered"
	EventPatientStatusChanged       = "patient.status_changed"
	EventPatientCalled              = "patient.called"
	EventPatientConsultationStarted = "patient.consultation_started"
	EventPatientCompleted           = "patient.completed"
	EventPatientEmergencyMarked     = "patient.emergency_marked"
	EventPatientEmergencyResolved   = "patient.emergency_resolved"
	EventPatientLateMarked          = "patient.late_marked"
	EventPatientEscalated           = "patient.escalated"
	EventPatientTransferred         = "patient.transferred"
	EventPatientRemoved             = "patient.removed"
	EventPrescriptionCreated        = "prescription.created"
	EventPrescriptionVerified       = "prescription.verified"
	EventPrescriptionForwarded      = "prescription.forwarded"
	EventPrescriptionDispensed      = "prescription.dispensed"
	EventReceiptCreated             = "receipt.created"
	EventReceiptScanned             = "receipt.scanned"
	EventReceiptFraudSuspected      = "receipt.fraud_suspected"
	EventReceiptInvalidated         = "receipt.invalidated"
	EventRecordReloaded             = "record.reloaded"
)

// DepartmentTopic is the per-department queue topic, e.g. "queue/GM". The
// hub also delivers it to "queue" subscribers.
func DepartmentTopic(dept queue.Department) string {
	return TopicQueue + "/" + dept.Prefix()
}

func (e *Engine) event(typ, topic, resourceType, resourceID string, data interface{}) websocket.Event {
	ev := websocket.Event{
		Type:         typ,
		Topic:        topic,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    e.now(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			e.logger.Error().Err(err).Str("event", typ).Msg("failed to encode event payload")
		} else {
			ev.Data = raw
		}
	}
	return ev
}

func (e *Engine) patientEvent(typ string, p *queue.Patient) websocket.Event {
	return e.event(typ, DepartmentTopic(p.Department), EntityPatient, p.ID.String(), p)
}

func (e *Engine) prescriptionEvent(typ string, p *prescription.Prescription) websocket.Event {
	return e.event(typ, TopicPrescriptions, EntityPrescription, p.ID.String(), p)
}

type receiptPayload struct {
	*receipt.Receipt
	FraudSuspected bool `json:"fraud_suspected,omitempty"`
}

func (e *Engine) receiptEvent(typ string, r *receipt.Receipt, fraud bool) websocket.Event {
	return e.event(typ, TopicReceipts, EntityReceipt, r.ID.String(), receiptPayload{Receipt: r, FraudSuspected: fraud})
}

// publish never fails the operation: the write is already durable, and
// observers resync from a full queue read.
func (e *Engine) publish(ctx context.Context, ev websocket.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Error().Err(err).
			Str("event", ev.Type).
			Str("resource_id", ev.ResourceID).
			Msg("failed to publish event")
	}
}
