package domain

import "fmt"

// TimestampThreshold separates day numbers from Unix timestamps in a raw
// due value: anything above it is a timestamp.
const TimestampThreshold = 1_000_000_000

// Due is the meaning of a card's due value. Which variant applies depends
// on the queue the card is in; use DueFromRaw at the storage boundary.
type Due interface {
	// Raw is the flat integer the value is stored as.
	Raw() int64
	fmt.Stringer
	isDue()
}

// DuePosition orders new cards.
type DuePosition int64

// DueDay is a day number counted from collection creation.
type DueDay int64

// DueTimestamp is a Unix timestamp in seconds.
type DueTimestamp int64

func (d DuePosition) Raw() int64  { return int64(d) }
func (d DueDay) Raw() int64       { return int64(d) }
func (d DueTimestamp) Raw() int64 { return int64(d) }

func (d DuePosition) String() string  { return fmt.Sprintf("pos:%d", int64(d)) }
func (d DueDay) String() string       { return fmt.Sprintf("day:%d", int64(d)) }
func (d DueTimestamp) String() string { return fmt.Sprintf("ts:%d", int64(d)) }

func (DuePosition) isDue()  {}
func (DueDay) isDue()       {}
func (DueTimestamp) isDue() {}

// DueFromRaw interprets a stored due value for a card of type t in queue q.
// Hidden queues take the meaning of the queue the card would be restored to.
func DueFromRaw(q Queue, t CardType, raw int64) Due {
	if !q.IsActive() {
		q = RestoreQueue(t, raw)
	}
	switch q {
	case QueueNew:
		return DuePosition(raw)
	case QueueLearning, QueuePreview:
		return DueTimestamp(raw)
	default:
		return DueDay(raw)
	}
}

// RawDue returns the stored form of d, treating nil as zero.
func RawDue(d Due) int64 {
	if d == nil {
		return 0
	}
	return d.Raw()
}
