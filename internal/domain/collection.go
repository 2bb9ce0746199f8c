package domain

import (
	"fmt"
	"time"
)

// NewSpread decides how new cards are interleaved with reviews.
type NewSpread int

const (
	NewCardsDistribute NewSpread = iota
	NewCardsLast
	NewCardsFirst
)

var newSpreadNames = [...]string{
	NewCardsDistribute: "distribute",
	NewCardsLast:       "last",
	NewCardsFirst:      "first",
}

func (n NewSpread) String() string {
	if n >= NewCardsDistribute && n <= NewCardsFirst {
		return newSpreadNames[n]
	}
	return fmt.Sprintf("NewSpread(%d)", int(n))
}

// ParseNewSpread maps a spread name to its value.
func ParseNewSpread(s string) (NewSpread, error) {
	for i, name := range newSpreadNames {
		if s == name {
			return NewSpread(i), nil
		}
	}
	return 0, fmt.Errorf("unknown new card spread %q", s)
}

// Collection is the collection-wide state the scheduler reads.
type Collection struct {
	Created      time.Time
	LastUnburied int
}
