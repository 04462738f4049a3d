package queue

import "time"

// Scoring weights. These stay unexported: callers only ever see the effect
// of a score on ordering, never the weights or the number itself.
const (
	severityMild     = 10.0
	severityModerate = 25.0
	severitySevere   = 40.0
	severityCap      = severitySevere

	elderlyAgeThreshold = 60
	childAgeThreshold   = 5
	elderlyAgeBonus     = 15.0
	childAgeBonus       = 10.0

	elderlyFlagBonus  = 10.0
	pregnantFlagBonus = 12.0
	disabledFlagBonus = 10.0
	chronicFlagBonus  = 8.0

	waitPerMinute = 0.5
	waitCap       = 30.0

	trustCoefficient = 0.05

	followupBonus = 3.0
	referralBonus = 6.0

	latePenalty = 10.0
)

var escalationBonus = [MaxEscalationLevel + 1]float64{0, 15, 30}

// Score computes the hidden priority of p at time now. The result is never
// negative and every term is bounded.
func Score(p *Patient, now time.Time) float64 {
	score := severityTerm(p.Severity) +
		ageTerm(p.Age) +
		vulnerabilityTerm(p.Vulnerabilities) +
		waitTerm(p.MinutesWaited(now)) +
		trustTerm(p.TrustScore) +
		escalationTerm(p.EscalationLevel) +
		visitTypeTerm(p.VisitType)

	if p.IsLate {
		score -= latePenalty
	}
	if score < 0 {
		return 0
	}
	return score
}

func severityTerm(s Severity) float64 {
	var v float64
	switch s {
	case SeveritySevere:
		v = severitySevere
	case SeverityModerate:
		v = severityModerate
	case SeverityMild:
		v = severityMild
	}
	if v > severityCap {
		v = severityCap
	}
	return v
}

func ageTerm(age int) float64 {
	switch {
	case age >= elderlyAgeThreshold:
		return elderlyAgeBonus
	case age <= childAgeThreshold:
		return childAgeBonus
	}
	return 0
}

func vulnerabilityTerm(v Vulnerabilities) float64 {
	var sum float64
	if v.Elderly {
		sum += elderlyFlagBonus
	}
	if v.Pregnant {
		sum += pregnantFlagBonus
	}
	if v.Disabled {
		sum += disabledFlagBonus
	}
	if v.ChronicCondition {
		sum += chronicFlagBonus
	}
	return sum
}

func waitTerm(minutes float64) float64 {
	v := minutes * waitPerMinute
	if v > waitCap {
		return waitCap
	}
	if v < 0 {
		return 0
	}
	return v
}

func trustTerm(trust int) float64 {
	return trustCoefficient * float64(clamp(trust, MinTrustScore, MaxTrustScore))
}

func escalationTerm(level int) float64 {
	return escalationBonus[clamp(level, MinEscalationLevel, MaxEscalationLevel)]
}

func visitTypeTerm(v VisitType) float64 {
	switch v {
	case VisitReferral:
		return referralBonus
	case VisitFollowup:
		return followupBonus
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
