package domain

import (
	"fmt"
	"time"
)

// CardType is the coarse lifecycle stage of a card.
type CardType int

const (
	TypeNew CardType = iota
	TypeLearning
	TypeReview
	TypeRelearning
)

var cardTypeNames = [...]string{
	TypeNew:        "new",
	TypeLearning:   "learning",
	TypeReview:     "review",
	TypeRelearning: "relearning",
}

func (t CardType) String() string {
	if t >= TypeNew && t <= TypeRelearning {
		return cardTypeNames[t]
	}
	return fmt.Sprintf("CardType(%d)", int(t))
}

// Queue is the scheduling bucket a card currently lives in. The hidden
// queues are negative so that "queue >= 0" selects every active card.
type Queue int

const (
	QueueBuriedManual    Queue = -3
	QueueBuriedSibling   Queue = -2
	QueueSuspended       Queue = -1
	QueueNew             Queue = 0
	QueueLearning        Queue = 1
	QueueReview          Queue = 2
	QueueDayLearnRelearn Queue = 3
	QueuePreview         Queue = 4
)

func (q Queue) String() string {
	switch q {
	case QueueBuriedManual:
		return "buried-manual"
	case QueueBuriedSibling:
		return "buried-sibling"
	case QueueSuspended:
		return "suspended"
	case QueueNew:
		return "new"
	case QueueLearning:
		return "learning"
	case QueueReview:
		return "review"
	case QueueDayLearnRelearn:
		return "day-learning"
	case QueuePreview:
		return "preview"
	}
	return fmt.Sprintf("Queue(%d)", int(q))
}

// IsValid reports whether q is one of the defined queues.
func (q Queue) IsValid() bool {
	return q >= QueueBuriedManual && q <= QueuePreview
}

// IsActive reports whether q is a queue cards are served from.
func (q Queue) IsActive() bool {
	return q >= QueueNew && q <= QueuePreview
}

// IsBuried reports whether q is one of the buried queues.
func (q Queue) IsBuried() bool {
	return q == QueueBuriedManual || q == QueueBuriedSibling
}

// Card is the unit of scheduling.
type Card struct {
	ID      int64
	NoteID  int64
	DeckID  int64
	Ord     int
	Type    CardType
	Queue   Queue
	Due     Due
	Ivl     int // days for review cards
	Factor  int // permille
	Reps    int
	Lapses  int
	Left    int // stepsToday*1000 + stepsTotal
	ODue    int64
	ODeckID int64
	Mod     int64

	// LastIvl is the interval before the most recent answer. It is
	// transient and only used to write the revlog row.
	LastIvl int
	// Started is set when the card is handed out by the scheduler.
	Started time.Time
}

// Clone returns a copy of c.
func (c *Card) Clone() *Card {
	cp := *c
	return &cp
}

// InFiltered reports whether the card currently lives in a filtered deck.
func (c *Card) InFiltered() bool {
	return c.ODeckID != 0
}

// HomeDeckID is the deck the card belongs to outside of any filtered deck.
func (c *Card) HomeDeckID() int64 {
	if c.ODeckID != 0 {
		return c.ODeckID
	}
	return c.DeckID
}

// TimeTaken is the time spent on the card since it was handed out,
// capped at limit. Zero if the timer was never started.
func (c *Card) TimeTaken(now time.Time, limit time.Duration) time.Duration {
	if c.Started.IsZero() {
		return 0
	}
	d := now.Sub(c.Started)
	if d < 0 {
		return 0
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// RestoreQueue is the queue a hidden or filtered card returns to.
// Learning and relearning cards go back to the sub-day learning queue when
// their due is a timestamp and to the day-learning queue otherwise; every
// other type maps directly onto its queue.
func RestoreQueue(t CardType, due int64) Queue {
	switch t {
	case TypeLearning, TypeRelearning:
		if due > TimestampThreshold {
			return QueueLearning
		}
		return QueueDayLearnRelearn
	case TypeReview:
		return QueueReview
	default:
		return QueueNew
	}
}

// RestoreQueue applies the restore rule to the card, looking at the
// original due when the card sits in a filtered deck.
func (c *Card) RestoreQueue() Queue {
	due := c.Due.Raw()
	if c.ODue != 0 {
		due = c.ODue
	}
	return RestoreQueue(c.Type, due)
}
