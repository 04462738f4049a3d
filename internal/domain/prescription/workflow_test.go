package prescription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medqueue/medqueue/internal/domain/queue"
	"github.com/medqueue/medqueue/pkg/apperror"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testPatient() *queue.Patient {
	return &queue.Patient{
		ID:         uuid.New(),
		Name:       "Kiran",
		Token:      "CA-003",
		Department: queue.DeptCardiology,
	}
}

func newPending(t *testing.T) *Prescription {
	t.Helper()
	in := CreateInput{
		PatientID:   uuid.New(),
		Diagnosis:   "hypertension",
		Medicines:   []Medicine{{Name: "Amlodipine", Dosage: "5mg", Frequency: "once daily", Duration: "30 days"}},
		AIGenerated: true,
	}
	require.NoError(t, in.Validate())
	return New(in, testPatient(), t0)
}

func TestNew_CopiesPatientFields(t *testing.T) {
	p := newPending(t)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "Kiran", p.PatientName)
	assert.Equal(t, "CA-003", p.PatientToken)
	assert.Equal(t, queue.DeptCardiology, p.Department)
	assert.Equal(t, "Doctor, Cardiology", p.IssuedBy)
	assert.True(t, p.AIGenerated)
	assert.False(t, p.DoctorVerified)
	assert.Nil(t, p.ForwardedAt)
	assert.Nil(t, p.DispensedAt)
}

func TestCreateInput_Validate(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
	}{
		{"missing patient", CreateInput{Diagnosis: "x", Medicines: []Medicine{{Name: "a"}}}},
		{"blank diagnosis", CreateInput{PatientID: uuid.New(), Diagnosis: " ", Medicines: []Medicine{{Name: "a"}}}},
		{"no medicines", CreateInput{PatientID: uuid.New(), Diagnosis: "x"}},
		{"unnamed medicine", CreateInput{PatientID: uuid.New(), Diagnosis: "x", Medicines: []Medicine{{Dosage: "1"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, apperror.Is(tt.in.Validate(), apperror.KindInvalidInput))
		})
	}
}

func TestWorkflow_Sequential(t *testing.T) {
	p := newPending(t)

	require.NoError(t, p.Verify())
	assert.True(t, p.DoctorVerified)
	assert.Equal(t, StatusVerified, p.Status)

	fwd := t0.Add(time.Minute)
	require.NoError(t, p.Forward(fwd))
	assert.Equal(t, fwd, *p.ForwardedAt)

	disp := t0.Add(2 * time.Minute)
	require.NoError(t, p.Dispense(disp))
	assert.Equal(t, StatusDispensed, p.Status)
	assert.Equal(t, disp, *p.DispensedAt)
}

func TestWorkflow_NoSkipping(t *testing.T) {
	p := newPending(t)
	assert.True(t, apperror.Is(p.Forward(t0), apperror.KindInvalidTransition))
	assert.True(t, apperror.Is(p.Dispense(t0), apperror.KindInvalidTransition))
	assert.Nil(t, p.ForwardedAt)
	assert.Nil(t, p.DispensedAt)

	require.NoError(t, p.Verify())
	assert.True(t, apperror.Is(p.Verify(), apperror.KindInvalidTransition))
	assert.True(t, apperror.Is(p.Dispense(t0), apperror.KindInvalidTransition))
}

func TestWorkflow_DispenseTwice(t *testing.T) {
	p := newPending(t)
	require.NoError(t, p.Verify())
	require.NoError(t, p.Forward(t0))
	require.NoError(t, p.Dispense(t0.Add(time.Minute)))

	err := p.Dispense(t0.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindInvalidTransition))
	assert.Contains(t, err.Error(), "already dispensed")
	assert.Equal(t, t0.Add(time.Minute), *p.DispensedAt)

	for _, op := range []func() error{p.Verify, func() error { return p.Forward(t0) }} {
		assert.Contains(t, op().Error(), "already dispensed")
	}
}

func TestWorkflow_ForwardRequiresDoctorVerified(t *testing.T) {
	p := newPending(t)
	p.Status = StatusVerified
	assert.True(t, apperror.Is(p.Forward(t0), apperror.KindInvalidTransition))
}

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(StatusPending, StatusVerified))
	assert.True(t, ValidTransition(StatusVerified, StatusForwarded))
	assert.True(t, ValidTransition(StatusForwarded, StatusDispensed))
	assert.False(t, ValidTransition(StatusPending, StatusDispensed))
	assert.False(t, ValidTransition(StatusDispensed, StatusPending))
	assert.False(t, ValidTransition(StatusVerified, StatusPending))
}

func TestRepoMemory_Optimistic(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	p := newPending(t)
	require.NoError(t, repo.Create(ctx, p))

	a, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, a.Verify())
	require.NoError(t, repo.Update(ctx, a))
	require.NoError(t, b.Verify())
	assert.True(t, apperror.Is(repo.Update(ctx, b), apperror.KindConcurrencyConflict))

	a.Medicines[0].Name = "mutated"
	stored, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Amlodipine", stored.Medicines[0].Name)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
