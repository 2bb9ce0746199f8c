package deckconf

// DynReportLimit stands in for "unlimited" on filtered decks.
const DynReportLimit = 99999

// DefaultPreviewDelay is the re-show delay, in minutes, for cards answered
// Again in a non-rescheduling filtered deck.
const DefaultPreviewDelay = 10

// Overrides are the options a filtered deck sets on top of the home
// configuration of the cards it holds. A nil PreviewDelay selects
// DefaultPreviewDelay; zero shows a card again right away.
type Overrides struct {
	Resched      bool
	PreviewDelay *int // minutes
}

// Effective is the resolved configuration for one card.
type Effective struct {
	New      NewConfig
	Rev      RevConfig
	Lapse    LapseConfig
	MaxTaken int

	Filtered     bool
	Resched      bool
	PreviewDelay int // minutes
}

// ForDeck resolves the options of a card in a normal deck.
func ForDeck(c Config) Effective {
	return Effective{
		New:      c.New,
		Rev:      c.Rev,
		Lapse:    c.Lapse,
		MaxTaken: c.MaxTaken,
		Resched:  true,
	}
}

// Blend resolves the options of a card sitting in a filtered deck: steps,
// intervals, factors and leech handling come from the card's home
// configuration, while daily limits and rescheduling come from the
// filtered deck.
func Blend(home Config, o Overrides) Effective {
	e := ForDeck(home)
	e.New.Delays = append([]float64(nil), home.New.Delays...)
	e.New.Ints = append([]int(nil), home.New.Ints...)
	e.New.PerDay = DynReportLimit
	e.Rev.PerDay = DynReportLimit
	e.Lapse.Delays = append([]float64(nil), home.Lapse.Delays...)
	e.Filtered = true
	e.Resched = o.Resched
	e.PreviewDelay = DefaultPreviewDelay
	if o.PreviewDelay != nil {
		e.PreviewDelay = max(0, *o.PreviewDelay)
	}
	return e
}

// Previewing reports whether answers only preview cards instead of
// rescheduling them.
func (e Effective) Previewing() bool {
	return e.Filtered && !e.Resched
}
