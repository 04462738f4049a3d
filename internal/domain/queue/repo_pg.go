package queue

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/pkg/apperror"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientColumns = `id, token, name, age, department, symptom, severity,
	elderly, pregnant, disabled, chronic_condition, visit_type, status,
	arrival_time, escalation_level, is_emergency, is_late, trust_score,
	receipt_id, prescription_id, diagnosis, consultation_end_at,
	version, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (`+patientColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25
		)`,
		p.ID, p.Token, p.Name, p.Age, p.Department, p.Symptom, p.Severity,
		p.Vulnerabilities.Elderly, p.Vulnerabilities.Pregnant, p.Vulnerabilities.Disabled, p.Vulnerabilities.ChronicCondition,
		p.VisitType, p.Status,
		p.ArrivalTime, p.EscalationLevel, p.IsEmergency, p.IsLate, p.TrustScore,
		p.ReceiptID, p.PrescriptionID, p.Diagnosis, p.ConsultationEndAt,
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return db.MapError(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientColumns+` FROM patient WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "patient")
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			token = $3, name = $4, age = $5, department = $6, symptom = $7, severity = $8,
			elderly = $9, pregnant = $10, disabled = $11, chronic_condition = $12,
			visit_type = $13, status = $14, arrival_time = $15,
			escalation_level = $16, is_emergency = $17, is_late = $18, trust_score = $19,
			receipt_id = $20, prescription_id = $21, diagnosis = $22, consultation_end_at = $23,
			updated_at = $24, version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version,
		p.Token, p.Name, p.Age, p.Department, p.Symptom, p.Severity,
		p.Vulnerabilities.Elderly, p.Vulnerabilities.Pregnant, p.Vulnerabilities.Disabled, p.Vulnerabilities.ChronicCondition,
		p.VisitType, p.Status, p.ArrivalTime,
		p.EscalationLevel, p.IsEmergency, p.IsLate, p.TrustScore,
		p.ReceiptID, p.PrescriptionID, p.Diagnosis, p.ConsultationEndAt,
		p.UpdatedAt,
	)
	if err != nil {
		return db.MapError(err, "patient")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, p.ID)
	}
	p.Version++
	return nil
}

// missingOrStale tells a deleted row apart from a lost version race.
func (r *patientRepoPG) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&exists); err != nil {
		return db.MapError(err, "patient")
	}
	if !exists {
		return apperror.NotFound("patient %s not found", id)
	}
	return apperror.Conflict("patient %s was modified concurrently", id)
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err, "patient")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("patient %s not found", id)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientColumns+` FROM patient ORDER BY arrival_time, id`)
	if err != nil {
		return nil, db.MapError(err, "patient")
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, db.MapError(err, "patient")
		}
		out = append(out, p)
	}
	return out, db.MapError(rows.Err(), "patient")
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Token, &p.Name, &p.Age, &p.Department, &p.Symptom, &p.Severity,
		&p.Vulnerabilities.Elderly, &p.Vulnerabilities.Pregnant, &p.Vulnerabilities.Disabled, &p.Vulnerabilities.ChronicCondition,
		&p.VisitType, &p.Status,
		&p.ArrivalTime, &p.EscalationLevel, &p.IsEmergency, &p.IsLate, &p.TrustScore,
		&p.ReceiptID, &p.PrescriptionID, &p.Diagnosis, &p.ConsultationEndAt,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type counterRepoPG struct {
	pool *pgxpool.Pool
}

func NewCounterRepoPG(pool *pgxpool.Pool) CounterRepository {
	return &counterRepoPG{pool: pool}
}

// Increment relies on the row lock taken by UPDATE, so concurrent callers
// serialize and never observe the same value.
func (r *counterRepoPG) Increment(ctx context.Context, dept Department) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE token_counter SET value = value + 1 WHERE department = $1 RETURNING value`, dept,
	).Scan(&n)
	if err != nil {
		return 0, db.MapError(err, "token counter")
	}
	return n, nil
}

func (r *counterRepoPG) Current(ctx context.Context, dept Department) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT value FROM token_counter WHERE department = $1`, dept,
	).Scan(&n)
	if err != nil {
		return 0, db.MapError(err, "token counter")
	}
	return n, nil
}
