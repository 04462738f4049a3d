package queue

import (
	"sort"
	"time"
)

// statusRank orders active statuses: called first, then consultation, then
// everything else.
func statusRank(s Status) int {
	switch s {
	case StatusCalled:
		return 0
	case StatusConsultation:
		return 1
	}
	return 2
}

type ranked struct {
	p     *Patient
	score float64
}

func compareRanked(a, b ranked) int {
	if ra, rb := statusRank(a.p.Status), statusRank(b.p.Status); ra != rb {
		return ra - rb
	}
	if a.p.IsEmergency != b.p.IsEmergency {
		if a.p.IsEmergency {
			return -1
		}
		return 1
	}
	if a.score != b.score {
		if a.score > b.score {
			return -1
		}
		return 1
	}
	if !a.p.ArrivalTime.Equal(b.p.ArrivalTime) {
		if a.p.ArrivalTime.Before(b.p.ArrivalTime) {
			return -1
		}
		return 1
	}
	// Identical arrival instants still need a total order.
	as, bs := a.p.ID.String(), b.p.ID.String()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

// Compare reports how a ranks against b at time now: negative when a goes
// first, positive when b goes first. Both patients are assumed active.
func Compare(a, b *Patient, now time.Time) int {
	return compareRanked(ranked{a, Score(a, now)}, ranked{b, Score(b, now)})
}

// Order returns the queue for dept (every department when dept is empty).
// Active patients are ranked; completed patients follow in the order they
// were encountered. The input slice is not modified.
func Order(patients []*Patient, dept Department, now time.Time) []*Patient {
	active := make([]ranked, 0, len(patients))
	var completed []*Patient
	for _, p := range patients {
		if dept != "" && p.Department != dept {
			continue
		}
		if !p.IsActive() {
			completed = append(completed, p)
			continue
		}
		active = append(active, ranked{p: p, score: Score(p, now)})
	}

	sort.SliceStable(active, func(i, j int) bool {
		return compareRanked(active[i], active[j]) < 0
	})

	out := make([]*Patient, 0, len(active)+len(completed))
	for _, r := range active {
		out = append(out, r.p)
	}
	return append(out, completed...)
}

// Filter keeps the patients matching keep, preserving order.
func Filter(patients []*Patient, keep func(*Patient) bool) []*Patient {
	var out []*Patient
	for _, p := range patients {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// ByArrival sorts patients by arrival time then id. The engine enumerates
// its snapshot this way so "encounter order" is stable between calls.
func ByArrival(patients []*Patient) {
	sort.Slice(patients, func(i, j int) bool {
		a, b := patients[i], patients[j]
		if !a.ArrivalTime.Equal(b.ArrivalTime) {
			return a.ArrivalTime.Before(b.ArrivalTime)
		}
		return a.ID.String() < b.ID.String()
	})
}
