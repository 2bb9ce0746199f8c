package sched

import (
	"math"
	"math/rand/v2"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
)

// FuzzRange returns the inclusive range a review interval of ivl days is
// fuzzed within. Intervals under two days are never fuzzed.
func FuzzRange(ivl int) (lo, hi int) {
	var fuzz int
	switch {
	case ivl < 2:
		return 1, 1
	case ivl == 2:
		return 2, 3
	case ivl < 7:
		fuzz = int(float64(ivl) * 0.25)
	case ivl < 30:
		fuzz = max(2, int(float64(ivl)*0.15))
	default:
		fuzz = max(4, int(float64(ivl)*0.05))
	}
	fuzz = max(fuzz, 1)
	return ivl - fuzz, ivl + fuzz
}

func fuzzedIvl(r *rand.Rand, ivl int) int {
	lo, hi := FuzzRange(ivl)
	return lo + r.IntN(hi-lo+1)
}

// constrainedIvl applies the interval modifier and fuzz, then keeps the
// result above prev and under the maximum interval.
func constrainedIvl(r *rand.Rand, ivl float64, rev deckconf.RevConfig, prev int, fuzz bool) int {
	i := int(ivl * rev.IvlFct)
	if fuzz {
		i = fuzzedIvl(r, i)
	}
	i = max(i, prev+1, 1)
	return min(i, rev.MaxIvl)
}

// nextRevIvl computes the interval for a review answered Hard, Good or
// Easy. Each button's interval is kept strictly above the one before it.
func nextRevIvl(r *rand.Rand, card *domain.Card, ease domain.Ease, rev deckconf.RevConfig, daysLate int, fuzz bool) int {
	fuzz = fuzz && rev.Fuzz
	fct := float64(card.Factor) / 1000
	hardMin := 0
	if rev.HardFactor > 1 {
		hardMin = card.Ivl
	}
	ivl2 := constrainedIvl(r, float64(card.Ivl)*rev.HardFactor, rev, hardMin, fuzz)
	if ease == domain.Hard {
		return ivl2
	}
	ivl3 := constrainedIvl(r, float64(card.Ivl+daysLate/2)*fct, rev, ivl2, fuzz)
	if ease == domain.Good {
		return ivl3
	}
	return constrainedIvl(r, float64(card.Ivl+daysLate)*fct*rev.Ease4, rev, ivl3, fuzz)
}

// earlyReviewIvl is the interval of a review card answered before its due
// date from a rescheduling filtered deck. daysEarly is how many days
// before the original due date it was answered.
func earlyReviewIvl(card *domain.Card, ease domain.Ease, rev deckconf.RevConfig, daysEarly int) int {
	elapsed := float64(card.Ivl - daysEarly)
	easyBonus := 1.0
	minNewIvl := 1.0
	var factor float64
	switch ease {
	case domain.Hard:
		factor = rev.HardFactor
		// Hard may shrink the interval by at most half the hard factor.
		minNewIvl = factor / 2
	case domain.Good:
		factor = float64(card.Factor) / 1000
	default:
		factor = float64(card.Factor) / 1000
		easyBonus = rev.Ease4 - (rev.Ease4-1)/2
	}
	ivl := math.Max(elapsed*factor, 1)
	ivl = math.Max(float64(card.Ivl)*minNewIvl, ivl) * easyBonus
	return constrainedIvl(nil, ivl, rev, 0, false)
}

// lapseIvl is the review interval kept after a lapse.
func lapseIvl(card *domain.Card, lapse deckconf.LapseConfig) int {
	return max(1, lapse.MinInt, int(float64(card.Ivl)*lapse.Mult))
}

// graduatingIvl is the first review interval of a card leaving learning.
// Relearning cards keep their interval, plus a day when graduated early.
func graduatingIvl(r *rand.Rand, card *domain.Card, nc deckconf.NewConfig, early, fuzz bool) int {
	if card.Type == domain.TypeReview || card.Type == domain.TypeRelearning {
		if early {
			return card.Ivl + 1
		}
		return card.Ivl
	}
	var ideal int
	if early {
		ideal = nc.Ints[1]
	} else {
		ideal = nc.Ints[0]
	}
	if fuzz {
		ideal = fuzzedIvl(r, ideal)
	}
	return ideal
}

// Learning steps

// delayForGrade is the delay in seconds of the step that has left steps
// remaining. Out of range step counts fall back to the first step.
func delayForGrade(delays []float64, left int) float64 {
	left %= 1000
	if len(delays) == 0 {
		return 60
	}
	i := len(delays) - left
	if left == 0 || i < 0 || i >= len(delays) {
		i = 0
	}
	return delays[i] * 60
}

// delayForRepeatingGrade is halfway between the current step and the next
// one, or one and a half times the current step when there is no next.
func delayForRepeatingGrade(delays []float64, left int) float64 {
	d1 := delayForGrade(delays, left)
	d2 := d1 * 2
	if len(delays) > 1 {
		d2 = delayForGrade(delays, left-1)
	}
	return math.Floor((d1 + math.Max(d1, d2)) / 2)
}

// leftToday counts the steps among the last left steps that can be done
// before cutoff, starting at now. It is always at least one.
func leftToday(delays []float64, left int, now, cutoff int64) int {
	if left > 0 && left < len(delays) {
		delays = delays[len(delays)-left:]
	}
	t := float64(now)
	ok := 0
	for i, d := range delays {
		t += d * 60
		if t > float64(cutoff) {
			break
		}
		ok = i
	}
	return ok + 1
}

// startingLeft packs the steps of a card entering learning.
func startingLeft(delays []float64, now, cutoff int64) int {
	total := len(delays)
	return total + leftToday(delays, total, now, cutoff)*1000
}
