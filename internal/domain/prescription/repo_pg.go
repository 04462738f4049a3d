package prescription

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/pkg/apperror"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const columns = `id, patient_id, patient_name, patient_token, department, issued_by,
	diagnosis, medicines, status, ai_generated, doctor_verified,
	forwarded_at, dispensed_at, version, created_at, updated_at`

// Medicines travel as JSONB; pgx marshals the slice directly.
func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.Version = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (`+columns+`) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		p.ID, p.PatientID, p.PatientName, p.PatientToken, p.Department, p.IssuedBy,
		p.Diagnosis, p.Medicines, p.Status, p.AIGenerated, p.DoctorVerified,
		p.ForwardedAt, p.DispensedAt, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	return db.MapError(err, "prescription")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scan(r.conn(ctx).QueryRow(ctx, `SELECT `+columns+` FROM prescription WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "prescription")
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET
			diagnosis = $3, medicines = $4, status = $5, ai_generated = $6, doctor_verified = $7,
			forwarded_at = $8, dispensed_at = $9, updated_at = $10, version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version,
		p.Diagnosis, p.Medicines, p.Status, p.AIGenerated, p.DoctorVerified,
		p.ForwardedAt, p.DispensedAt, p.UpdatedAt,
	)
	if err != nil {
		return db.MapError(err, "prescription")
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, p.ID); err != nil {
			return err
		}
		return apperror.Conflict("prescription %s was modified concurrently", p.ID)
	}
	p.Version++
	return nil
}

func (r *repoPG) List(ctx context.Context) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+columns+` FROM prescription ORDER BY created_at, id`)
	if err != nil {
		return nil, db.MapError(err, "prescription")
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, db.MapError(err, "prescription")
		}
		out = append(out, p)
	}
	return out, db.MapError(rows.Err(), "prescription")
}

func scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(
		&p.ID, &p.PatientID, &p.PatientName, &p.PatientToken, &p.Department, &p.IssuedBy,
		&p.Diagnosis, &p.Medicines, &p.Status, &p.AIGenerated, &p.DoctorVerified,
		&p.ForwardedAt, &p.DispensedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
