package search

import (
	"fmt"

	"github.com/conorfennell/knolsched/internal/domain"
)

// OrderKind selects the ordering of a card query.
type OrderKind int

const (
	OrderNone OrderKind = iota
	OrderID
	OrderDue
	OrderDueOrd
	OrderRandom
	OrderIvl
	OrderIvlDesc
	OrderLapsesDesc
	OrderNote
	OrderNoteDesc
	OrderOldestReviewed
	OrderDuePriority
	OrderDueDesc
)

// Order is a query ordering. Today is only read by OrderDuePriority.
type Order struct {
	Kind  OrderKind
	Today int
}

// By returns an order of the given kind.
func By(kind OrderKind) Order { return Order{Kind: kind} }

// DuePriority orders overdue review cards by how overdue they are relative
// to their interval, followed by everything else in due order.
func DuePriority(today int) Order { return Order{Kind: OrderDuePriority, Today: today} }

// SQL returns the ORDER BY clause, or "" when o imposes no order.
func (o Order) SQL() string {
	var expr string
	switch o.Kind {
	case OrderNone:
		return ""
	case OrderID:
		expr = "c.id"
	case OrderDue:
		expr = "c.due, c.id"
	case OrderDueOrd:
		expr = "c.due, c.ord, c.id"
	case OrderRandom:
		expr = "random()"
	case OrderIvl:
		expr = "c.ivl, c.id"
	case OrderIvlDesc:
		expr = "c.ivl DESC, c.id"
	case OrderLapsesDesc:
		expr = "c.lapses DESC, c.id"
	case OrderNote:
		expr = "c.nid, c.ord, c.id"
	case OrderNoteDesc:
		expr = "c.nid DESC, c.ord, c.id"
	case OrderOldestReviewed:
		expr = "(SELECT max(r.id) FROM revlog r WHERE r.cid = c.id), c.id"
	case OrderDueDesc:
		expr = "c.due DESC, c.id"
	case OrderDuePriority:
		expr = fmt.Sprintf("(CASE WHEN c.queue = %d AND c.due <= %d THEN (c.ivl / CAST(%d - c.due + 0.001 AS REAL)) ELSE 100000 + c.due END), c.id",
			domain.QueueReview, o.Today, o.Today)
	default:
		expr = "c.due, c.id"
	}
	return "ORDER BY " + expr
}

// Random reports whether o shuffles its results.
func (o Order) Random() bool { return o.Kind == OrderRandom }

// Keys returns the composite sort key of r under o, compared element by
// element. lastReviewed is the newest revlog id of the card, zero if it
// was never answered. OrderNone and OrderRandom have only the id key.
func (o Order) Keys(r Row, lastReviewed int64) []float64 {
	id := float64(r.Value(FieldID))
	v := func(f Field) float64 { return float64(r.Value(f)) }
	switch o.Kind {
	case OrderDue:
		return []float64{v(FieldDue), id}
	case OrderDueOrd:
		return []float64{v(FieldDue), v(FieldOrd), id}
	case OrderDueDesc:
		return []float64{-v(FieldDue), id}
	case OrderIvl:
		return []float64{v(FieldIvl), id}
	case OrderIvlDesc:
		return []float64{-v(FieldIvl), id}
	case OrderLapsesDesc:
		return []float64{-v(FieldLapses), id}
	case OrderNote:
		return []float64{v(FieldNoteID), v(FieldOrd), id}
	case OrderNoteDesc:
		return []float64{-v(FieldNoteID), v(FieldOrd), id}
	case OrderOldestReviewed:
		return []float64{float64(lastReviewed), id}
	case OrderDuePriority:
		due := v(FieldDue)
		today := float64(o.Today)
		if r.Value(FieldQueue) == int64(domain.QueueReview) && due <= today {
			return []float64{v(FieldIvl) / (today - due + 0.001), id}
		}
		return []float64{100000 + due, id}
	default:
		return []float64{id}
	}
}

// LessKeys compares two keys produced by Keys.
func LessKeys(a, b []float64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
