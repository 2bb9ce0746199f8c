package sched

import (
	"context"
	"fmt"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

// Forget turns cards back into new cards placed at the end of the new
// queue. Cards of the same note share a position.
func (s *Scheduler) Forget(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.RemoveFromFiltered(ctx, ids); err != nil {
		return err
	}
	last, err := s.store.FindCards(ctx, search.Eq(search.FieldType, int64(domain.TypeNew)), search.By(search.OrderDueDesc), 1)
	if err != nil {
		return fmt.Errorf("failed to find last new position: %w", err)
	}
	pos := int64(0)
	if len(last) > 0 {
		pos = domain.RawDue(last[0].Due)
	}

	cards, err := s.store.FindCards(ctx, search.In(search.FieldID, ids...), search.By(search.OrderNote), 0)
	if err != nil {
		return fmt.Errorf("failed to load cards: %w", err)
	}
	now := s.nowUnix()
	var lastNote int64
	for i, c := range cards {
		if i == 0 || c.NoteID != lastNote {
			pos++
			lastNote = c.NoteID
		}
		c.Type = domain.TypeNew
		c.Queue = domain.QueueNew
		c.Due = domain.DuePosition(pos)
		c.Ivl = 0
		c.Left = 0
		c.ODue = 0
		c.Factor = deckconf.StartingFactor
		c.Mod = now
		if err := s.store.UpdateCard(ctx, c); err != nil {
			return fmt.Errorf("failed to forget card %d: %w", c.ID, err)
		}
	}
	s.invalidate()
	return nil
}

// Reschedule puts cards in the review queue due in a random number of
// days between minDays and maxDays.
func (s *Scheduler) Reschedule(ctx context.Context, ids []int64, minDays, maxDays int) error {
	if minDays < 0 || maxDays < minDays {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidInterval, minDays, maxDays)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureQueues(ctx); err != nil {
		return err
	}
	if _, err := s.RemoveFromFiltered(ctx, ids); err != nil {
		return err
	}
	cards, err := s.store.FindCards(ctx, search.In(search.FieldID, ids...), search.By(search.OrderID), 0)
	if err != nil {
		return fmt.Errorf("failed to load cards: %w", err)
	}
	now := s.nowUnix()
	for _, c := range cards {
		r := minDays + s.rng.IntN(maxDays-minDays+1)
		c.Type = domain.TypeReview
		c.Queue = domain.QueueReview
		c.Ivl = max(1, r)
		c.Due = domain.DueDay(int64(s.today + r))
		c.ODue = 0
		c.Factor = deckconf.StartingFactor
		c.Mod = now
		if err := s.store.UpdateCard(ctx, c); err != nil {
			return fmt.Errorf("failed to reschedule card %d: %w", c.ID, err)
		}
	}
	s.invalidate()
	return nil
}

// ExtendLimits raises today's new and review limits of a deck, its
// parents and its children, for custom study sessions.
func (s *Scheduler) ExtendLimits(ctx context.Context, deckID int64, newCards, reviews int) error {
	if err := s.ensureQueues(ctx); err != nil {
		return err
	}
	idx, err := s.loadDecks(ctx)
	if err != nil {
		return err
	}
	d, ok := idx.byID[deckID]
	if !ok {
		return fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
	}
	decks := append([]*domain.Deck{d}, idx.parents(d)...)
	decks = append(decks, idx.children(d)...)
	delta := domain.Counters{New: -newCards, Review: -reviews}
	for _, g := range decks {
		if err := s.store.UpdateTodayCounters(ctx, g.ID, s.today, delta); err != nil {
			return fmt.Errorf("failed to extend limits of deck %d: %w", g.ID, err)
		}
	}
	s.invalidate()
	return nil
}
