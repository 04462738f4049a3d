package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fixedRand always returns v, clamped into [0, n).
type fixedRand struct{ v int }

func (f fixedRand) IntN(n int) int {
	if f.v >= n {
		return n - 1
	}
	return f.v
}

func TestJitter(t *testing.T) {
	assert.Equal(t, 0, Jitter(fixedRand{0}, 0))
	assert.Equal(t, -2, Jitter(fixedRand{0}, 2))
	assert.Equal(t, 2, Jitter(fixedRand{4}, 2))
	for i := 0; i < 200; i++ {
		j := Jitter(nil, 3)
		assert.True(t, j >= -3 && j <= 3, "jitter %d out of range", j)
	}
}

func TestWaitEstimator_RankTimesAverage(t *testing.T) {
	severe := patientAt("severe", DeptGeneralMedicine, SeveritySevere, t0)
	moderate := patientAt("moderate", DeptGeneralMedicine, SeverityModerate, t0)
	mild := patientAt("mild", DeptGeneralMedicine, SeverityMild, t0)
	other := patientAt("other", DeptCardiology, SeveritySevere, t0)
	done := patientAt("done", DeptGeneralMedicine, SeveritySevere, t0)
	done.Status = StatusCompleted
	all := []*Patient{mild, other, done, moderate, severe}

	// Midpoint jitter is zero.
	w := NewWaitEstimator(12, 2, fixedRand{2})
	assert.Equal(t, 0, w.Estimate(all, severe.ID, t0))
	assert.Equal(t, 12, w.Estimate(all, moderate.ID, t0))
	assert.Equal(t, 24, w.Estimate(all, mild.ID, t0))
	assert.Equal(t, 0, w.Estimate(all, other.ID, t0))
}

func TestWaitEstimator_OutsideLine(t *testing.T) {
	p := patientAt("p", DeptGeneralMedicine, SeverityMild, t0)
	w := NewWaitEstimator(12, 2, fixedRand{4})

	assert.Equal(t, 0, w.Estimate([]*Patient{p}, uuid.New(), t0))
	p.Status = StatusCompleted
	assert.Equal(t, 0, w.Estimate([]*Patient{p}, p.ID, t0))
	p.Status = StatusEmergency
	assert.Equal(t, 0, w.Estimate([]*Patient{p}, p.ID, t0))
}

func TestWaitEstimator_NeverNegative(t *testing.T) {
	p := patientAt("p", DeptGeneralMedicine, SeverityMild, t0)
	w := NewWaitEstimator(12, 5, fixedRand{0})
	assert.Equal(t, 0, w.Estimate([]*Patient{p}, p.ID, t0.Add(time.Minute)))
}
