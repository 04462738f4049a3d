package queue

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// RandomSource supplies jitter. *rand.Rand satisfies it; the package-level
// source is used when none is given.
type RandomSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRandom is safe for concurrent use.
var DefaultRandom RandomSource = globalRand{}

// Jitter returns a uniform integer in [-spread, +spread].
func Jitter(rng RandomSource, spread int) int {
	if spread <= 0 {
		return 0
	}
	if rng == nil {
		rng = DefaultRandom
	}
	return rng.IntN(2*spread+1) - spread
}

// WaitEstimator approximates minutes until a patient is seen from their
// rank among the active patients of their department.
type WaitEstimator struct {
	perPatient float64
	jitter     int
	rng        RandomSource
}

func NewWaitEstimator(perPatientMinutes float64, jitterMinutes int, rng RandomSource) *WaitEstimator {
	if rng == nil {
		rng = DefaultRandom
	}
	return &WaitEstimator{perPatient: perPatientMinutes, jitter: jitterMinutes, rng: rng}
}

func inWaitLine(s Status) bool {
	return s == StatusWaiting || s == StatusCalled || s == StatusConsultation
}

// Estimate returns the approximate wait for id. Patients outside the wait
// line (unknown, completed, in emergency) get 0.
func (w *WaitEstimator) Estimate(patients []*Patient, id uuid.UUID, now time.Time) int {
	var target *Patient
	for _, p := range patients {
		if p.ID == id {
			target = p
			break
		}
	}
	if target == nil || !inWaitLine(target.Status) {
		return 0
	}

	line := Filter(patients, func(p *Patient) bool {
		return p.Department == target.Department && inWaitLine(p.Status)
	})
	for rank, p := range Order(line, target.Department, now) {
		if p.ID == id {
			minutes := math.Round(float64(rank)*w.perPatient + float64(Jitter(w.rng, w.jitter)))
			if minutes < 0 {
				return 0
			}
			return int(minutes)
		}
	}
	return 0
}
