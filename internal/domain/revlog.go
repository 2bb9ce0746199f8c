package domain

// RevlogType classifies a revlog row.
type RevlogType int

const (
	RevlogLearn RevlogType = iota
	RevlogReview
	RevlogRelearn
	RevlogCram
)

// RevlogEntry records a single answer. Rows are append-only and keyed by
// their millisecond timestamp.
//
// Intervals are sign-encoded: negative values are seconds (learning),
// positive values are days (review), zero means none.
type RevlogEntry struct {
	ID      int64 // Unix milliseconds
	CardID  int64
	Ease    Ease
	Reps    int
	Ivl     int
	LastIvl int
	Factor  int
	TimeMS  int
	Type    RevlogType
}
