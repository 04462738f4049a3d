package receipt

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

func (m *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, m.pool)
}

const columns = `id, patient_id, patient_name, patient_token, department, visit_date,
	doctor_label, visit_type, diagnosis, prescription_id, prescription_status,
	status, scan_count, version, created_at, updated_at`

// Create relies on the unique index on patient_id for one receipt per visit.
func (m *repoPG) Create(ctx context.Context, r *Receipt) error {
	r.Version = 1
	_, err := m.conn(ctx).Exec(ctx, `
		INSERT INTO visit_receipt (`+columns+`) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		r.ID, r.PatientID, r.PatientName, r.PatientToken, r.Department, r.VisitDate,
		r.DoctorLabel, r.VisitType, r.Diagnosis, r.PrescriptionID, r.PrescriptionStatus,
		r.Status, r.ScanCount, r.Version, r.CreatedAt, r.UpdatedAt,
	)
	return db.MapError(err, "receipt")
}

func (m *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	r, err := scan(m.conn(ctx).QueryRow(ctx, `SELECT `+columns+` FROM visit_receipt WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "receipt")
	}
	return r, nil
}

// Update never lowers scan_count, even if a stale copy slips through.
func (m *repoPG) Update(ctx context.Context, r *Receipt) error {
	tag, err := m.conn(ctx).Exec(ctx, `
		UPDATE visit_receipt SET
			diagnosis = $3, prescription_id = $4, prescription_status = $5,
			status = $6, scan_count = GREATEST(scan_count, $7),
			updated_at = $8, version = version + 1
		WHERE id = $1 AND version = $2`,
		r.ID, r.Version,
		r.Diagnosis, r.PrescriptionID, r.PrescriptionStatus,
		r.Status, r.ScanCount, r.UpdatedAt,
	)
	if err != nil {
		return db.MapError(err, "receipt")
	}
	if tag.RowsAffected() == 0 {
		if _, err := m.GetByID(ctx, r.ID); err != nil {
			return err
		}
		return apperror.Conflict("receipt %s was modified concurrently", r.ID)
	}
	r.Version++
	return nil
}

func (m *repoPG) List(ctx context.Context) ([]*Receipt, error) {
	rows, err := m.conn(ctx).Query(ctx, `SELECT `+columns+` FROM visit_receipt ORDER BY created_at, id`)
	if err != nil {
		return nil, db.MapError(err, "receipt")
	}
	defer rows.Close()

	var out []*Receipt
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, db.MapError(err, "receipt")
		}
		out = append(out, r)
	}
	return out, db.MapError(rows.Err(), "receipt")
}

func scan(row pgx.Row) (*Receipt, error) {
	var r Receipt
	err := row.Scan(
		&r.ID, &r.PatientID, &r.PatientName, &r.PatientToken, &r.Department, &r.VisitDate,
		&r.DoctorLabel, &r.VisitType, &r.Diagnosis, &r.PrescriptionID, &r.PrescriptionStatus,
		&r.Status, &r.ScanCount, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
