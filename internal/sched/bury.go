package sched

import (
	"context"
	"fmt"
	"slices"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

// UnburyKind selects which buried cards UnburyForDeck restores.
type UnburyKind int

const (
	UnburyAll UnburyKind = iota
	UnburyManual
	UnburySiblings
)

var (
	allBuried     = []domain.Queue{domain.QueueBuriedSibling, domain.QueueBuriedManual}
	manualBuried  = []domain.Queue{domain.QueueBuriedManual}
	siblingBuried = []domain.Queue{domain.QueueBuriedSibling}
)

// ParseUnburyKind maps "all", "manual" or "siblings" to an UnburyKind.
func ParseUnburyKind(s string) (UnburyKind, error) {
	switch s {
	case "", "all":
		return UnburyAll, nil
	case "manual":
		return UnburyManual, nil
	case "siblings":
		return UnburySiblings, nil
	}
	return 0, fmt.Errorf("unknown unbury kind %q", s)
}

func removeID(ids []int64, id int64) []int64 {
	return slices.DeleteFunc(ids, func(x int64) bool { return x == id })
}

// burySiblings takes the other new and due review cards of the card's note
// out of today's queues, burying them unless the configuration only asks
// for same-session spacing.
func (s *Scheduler) burySiblings(ctx context.Context, card *domain.Card, conf deckconf.Effective) error {
	filter := search.And(
		search.Eq(search.FieldNoteID, card.NoteID),
		search.Ne(search.FieldID, card.ID),
		search.Or(queueIs(domain.QueueNew), s.reviewDue()),
	)
	siblings, err := s.store.FindCards(ctx, filter, search.By(search.OrderID), 0)
	if err != nil {
		return fmt.Errorf("failed to find siblings of card %d: %w", card.ID, err)
	}
	var toBury []int64
	for _, sib := range siblings {
		if sib.Queue == domain.QueueReview {
			if conf.Rev.Bury {
				toBury = append(toBury, sib.ID)
			}
			s.revQueue = removeID(s.revQueue, sib.ID)
		} else {
			if conf.New.Bury {
				toBury = append(toBury, sib.ID)
			}
			s.newQueue = removeID(s.newQueue, sib.ID)
		}
	}
	if len(toBury) == 0 {
		return nil
	}
	if err := s.store.BulkUpdateQueue(ctx, toBury, domain.QueueBuriedSibling); err != nil {
		return fmt.Errorf("failed to bury siblings of card %d: %w", card.ID, err)
	}
	return nil
}

// Suspend hides cards until they are unsuspended. Scheduling fields other
// than the queue are left untouched.
func (s *Scheduler) Suspend(ctx context.Context, ids []int64) error {
	if err := s.store.BulkUpdateQueue(ctx, ids, domain.QueueSuspended); err != nil {
		return fmt.Errorf("failed to suspend cards: %w", err)
	}
	s.dropFromQueues(ids)
	return nil
}

// Unsuspend returns suspended cards among ids to the queue they came from.
func (s *Scheduler) Unsuspend(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	filter := search.And(search.In(search.FieldID, ids...), queueIs(domain.QueueSuspended))
	if _, err := s.restoreQueues(ctx, filter); err != nil {
		return fmt.Errorf("failed to unsuspend cards: %w", err)
	}
	s.invalidate()
	return nil
}

// Bury hides cards until the next day. Manual burials and sibling
// burials go to separate queues so they can be unburied separately.
func (s *Scheduler) Bury(ctx context.Context, ids []int64, manual bool) error {
	queue := domain.QueueBuriedSibling
	if manual {
		queue = domain.QueueBuriedManual
	}
	if err := s.store.BulkUpdateQueue(ctx, ids, queue); err != nil {
		return fmt.Errorf("failed to bury cards: %w", err)
	}
	s.dropFromQueues(ids)
	return nil
}

// BuryNote buries every active card of a note until the next day.
func (s *Scheduler) BuryNote(ctx context.Context, noteID int64) error {
	filter := search.And(search.Eq(search.FieldNoteID, noteID), search.Ge(search.FieldQueue, int64(domain.QueueNew)))
	ids, err := s.store.FindCardIDs(ctx, filter, search.By(search.OrderID), 0)
	if err != nil {
		return fmt.Errorf("failed to find cards of note %d: %w", noteID, err)
	}
	if len(ids) == 0 {
		return nil
	}
	return s.Bury(ctx, ids, true)
}

// UnburyAll restores every buried card in the collection.
func (s *Scheduler) UnburyAll(ctx context.Context) error {
	if _, err := s.unburyWhere(ctx, nil, allBuried); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// UnburyForDeck restores buried cards of the given kind in the active
// decks.
func (s *Scheduler) UnburyForDeck(ctx context.Context, kind UnburyKind) error {
	queues := allBuried
	switch kind {
	case UnburyManual:
		queues = manualBuried
	case UnburySiblings:
		queues = siblingBuried
	}
	active, err := s.activeDecks(ctx)
	if err != nil {
		return err
	}
	if _, err := s.unburyWhere(ctx, inDecks(active...), queues); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// unburyWhere restores cards in the given buried queues, limited to scope
// when it is not nil.
func (s *Scheduler) unburyWhere(ctx context.Context, scope search.Expr, queues []domain.Queue) (int, error) {
	filter := queueIn(queues...)
	if scope != nil {
		filter = search.And(scope, filter)
	}
	n, err := s.restoreQueues(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to unbury cards: %w", err)
	}
	return n, nil
}

// restoreQueues moves every matching card to the queue the restore rule
// gives it, one bulk update per target queue.
func (s *Scheduler) restoreQueues(ctx context.Context, filter search.Expr) (int, error) {
	cards, err := s.store.FindCards(ctx, filter, search.By(search.OrderID), 0)
	if err != nil {
		return 0, err
	}
	byQueue := make(map[domain.Queue][]int64)
	for _, c := range cards {
		q := c.RestoreQueue()
		byQueue[q] = append(byQueue[q], c.ID)
	}
	for _, q := range []domain.Queue{domain.QueueNew, domain.QueueLearning, domain.QueueReview, domain.QueueDayLearnRelearn} {
		if ids := byQueue[q]; len(ids) > 0 {
			if err := s.store.BulkUpdateQueue(ctx, ids, q); err != nil {
				return 0, err
			}
		}
	}
	return len(cards), nil
}

// dropFromQueues removes cards from the in-memory queues and forces the
// counts to be rebuilt.
func (s *Scheduler) dropFromQueues(ids []int64) {
	for _, id := range ids {
		s.newQueue = removeID(s.newQueue, id)
		s.revQueue = removeID(s.revQueue, id)
		s.lrnDayQueue = removeID(s.lrnDayQueue, id)
	}
	s.invalidate()
}
