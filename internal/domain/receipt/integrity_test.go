package receipt

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medqueue/medqueue/internal/domain/prescription"
	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/pkg/apperror"
)

var t0 = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

func completedPatient() *queue.Patient {
	diag := "fracture"
	return &queue.Patient{
		ID:         uuid.New(),
		Name:       "Dev",
		Token:      "OR-007",
		Department: queue.DeptOrthopedics,
		VisitType:  queue.VisitReferral,
		Status:     queue.StatusCompleted,
		Diagnosis:  &diag,
	}
}

func TestNew(t *testing.T) {
	r := New(completedPatient(), t0)
	assert.Equal(t, StatusActive, r.Status)
	assert.Zero(t, r.ScanCount)
	assert.Equal(t, "Doctor, Orthopedics", r.DoctorLabel)
	assert.Equal(t, "OR-007", r.PatientToken)
	assert.Equal(t, queue.VisitReferral, r.VisitType)
	require.NotNil(t, r.Diagnosis)
	assert.Equal(t, "fracture", *r.Diagnosis)
	assert.Equal(t, t0, r.VisitDate)
}

func TestScan_FirstThenReuse(t *testing.T) {
	r := New(completedPatient(), t0)

	assert.False(t, r.Scan())
	assert.Equal(t, 1, r.ScanCount)
	assert.Equal(t, StatusActive, r.Status)

	assert.True(t, r.Scan())
	assert.Equal(t, 2, r.ScanCount)
	assert.Equal(t, StatusFulfilled, r.Status)

	for k := 3; k <= 6; k++ {
		assert.True(t, r.Scan())
		assert.Equal(t, k, r.ScanCount)
		assert.Equal(t, StatusFulfilled, r.Status)
	}
}

func TestScan_Invalidated(t *testing.T) {
	r := New(completedPatient(), t0)
	require.NoError(t, r.Invalidate())

	assert.True(t, r.Scan())
	assert.Equal(t, 1, r.ScanCount)
	assert.Equal(t, StatusInvalid, r.Status)
	assert.True(t, r.Scan())
	assert.Equal(t, StatusInvalid, r.Status)

	assert.True(t, apperror.Is(r.Invalidate(), apperror.KindInvalidTransition))
}

func TestLinkPrescription(t *testing.T) {
	r := New(completedPatient(), t0)
	id := uuid.New()
	r.LinkPrescription(id, prescription.StatusPending)
	r.LinkPrescription(id, prescription.StatusVerified)

	assert.Equal(t, id, *r.PrescriptionID)
	assert.Equal(t, prescription.StatusVerified, *r.PrescriptionStatus)
}

func TestRepoMemory_OneReceiptPerPatient(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	p := completedPatient()

	require.NoError(t, repo.Create(ctx, New(p, t0)))
	err := repo.Create(ctx, New(p, t0.Add(time.Minute)))
	assert.True(t, apperror.Is(err, apperror.KindConcurrencyConflict))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRepoMemory_ScanPersists(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	r := New(completedPatient(), t0)
	require.NoError(t, repo.Create(ctx, r))

	got, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	got.Scan()
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.ScanCount)
	assert.Equal(t, 2, again.Version)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}
