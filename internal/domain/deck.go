package domain

import "strings"

// DeckSeparator joins the components of a hierarchical deck name.
const DeckSeparator = "::"

// DayCounter is a per-day tally stamped with the day it belongs to.
type DayCounter struct {
	Day   int
	Count int
}

// On returns the count for the given day; a stale stamp counts as zero.
func (c DayCounter) On(today int) int {
	if c.Day != today {
		return 0
	}
	return c.Count
}

// Add adds n to the counter for today, resetting it first if stale.
func (c *DayCounter) Add(today, n int) {
	if c.Day != today {
		c.Day = today
		c.Count = 0
	}
	c.Count += n
}

// Counters holds a deck's tallies for one day.
type Counters struct {
	New    int
	Review int
	// Learn counts answers to cards that were already in learning.
	Learn  int
	TimeMS int
}

// IsZero reports whether no counter is set.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// DynOrder selects how a filtered deck term orders the cards it pulls.
type DynOrder int

const (
	DynOldestReviewed DynOrder = iota
	DynRandom
	DynSmallestInterval
	DynLargestInterval
	DynMostLapses
	DynAdded
	DynDue
	DynReverseAdded
	DynDuePriority
)

// FilterTerm is one search of a filtered deck.
type FilterTerm struct {
	Search string   `json:"search"`
	Limit  int      `json:"limit"`
	Order  DynOrder `json:"order"`
}

// Deck is a named container of cards. Filtered decks carry their search
// terms and rescheduling options; normal decks reference a configuration.
type Deck struct {
	ID       int64
	Name     string
	ConfID   int64
	Filtered bool

	NewToday    DayCounter
	ReviewToday DayCounter
	LearnToday  DayCounter
	TimeToday   DayCounter

	Terms        []FilterTerm
	Resched      bool
	PreviewDelay *int // minutes, nil for the default
}

// Today returns the deck's counters for the given day.
func (d *Deck) Today(today int) Counters {
	return Counters{
		New:    d.NewToday.On(today),
		Review: d.ReviewToday.On(today),
		Learn:  d.LearnToday.On(today),
		TimeMS: d.TimeToday.On(today),
	}
}

// AddToday applies delta to the deck's counters for the given day.
func (d *Deck) AddToday(today int, delta Counters) {
	d.NewToday.Add(today, delta.New)
	d.ReviewToday.Add(today, delta.Review)
	d.LearnToday.Add(today, delta.Learn)
	d.TimeToday.Add(today, delta.TimeMS)
}

// ParentName returns the name of the deck's parent, or "" for a top-level
// deck.
func ParentName(name string) string {
	i := strings.LastIndex(name, DeckSeparator)
	if i < 0 {
		return ""
	}
	return name[:i]
}

// AncestorNames lists the names of every ancestor, nearest first.
func AncestorNames(name string) []string {
	var out []string
	for p := ParentName(name); p != ""; p = ParentName(p) {
		out = append(out, p)
	}
	return out
}

// IsDescendant reports whether name lies under ancestor.
func IsDescendant(name, ancestor string) bool {
	return strings.HasPrefix(name, ancestor+DeckSeparator)
}
