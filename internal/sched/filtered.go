package sched

import (
	"context"
	"fmt"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

// dynStart is the due value of the first card moved into a filtered deck.
// Later cards count up from it so the deck keeps the order of its terms.
const dynStart = -100000

// TermError reports a filtered deck term that could not be used.
type TermError struct {
	Index  int
	Search string
	Err    error
}

func (e *TermError) Error() string {
	return fmt.Sprintf("term %d (%q): %v", e.Index, e.Search, e.Err)
}

func (e *TermError) Unwrap() error { return e.Err }

// RebuildResult describes a filtered deck rebuild.
type RebuildResult struct {
	Moved    int          `json:"moved"`
	Warnings []*TermError `json:"-"`
}

// RebuildFiltered empties a filtered deck and fills it again from its
// terms. A term that fails is skipped and reported in the result while the
// cards gathered by the other terms stay in the deck.
func (s *Scheduler) RebuildFiltered(ctx context.Context, deckID int64) (RebuildResult, error) {
	deck, err := s.filteredDeck(ctx, deckID)
	if err != nil {
		return RebuildResult{}, err
	}
	if err := s.ensureQueues(ctx); err != nil {
		return RebuildResult{}, err
	}
	if _, err := s.emptyFiltered(ctx, search.Eq(search.FieldDeckID, deck.ID)); err != nil {
		return RebuildResult{}, err
	}
	res, err := s.fillFiltered(ctx, deck)
	s.invalidate()
	return res, err
}

// EmptyFiltered sends every card of a filtered deck back home.
func (s *Scheduler) EmptyFiltered(ctx context.Context, deckID int64) (int, error) {
	deck, err := s.filteredDeck(ctx, deckID)
	if err != nil {
		return 0, err
	}
	n, err := s.emptyFiltered(ctx, search.Eq(search.FieldDeckID, deck.ID))
	s.invalidate()
	return n, err
}

// RemoveFromFiltered sends the given cards back home from whatever
// filtered deck they are in.
func (s *Scheduler) RemoveFromFiltered(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.emptyFiltered(ctx, search.And(search.In(search.FieldID, ids...), search.Ne(search.FieldODeckID, 0)))
	s.invalidate()
	return n, err
}

func (s *Scheduler) filteredDeck(ctx context.Context, deckID int64) (*domain.Deck, error) {
	deck, err := s.store.Deck(ctx, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deck %d: %w", deckID, err)
	}
	if !deck.Filtered {
		return nil, fmt.Errorf("%w: %s", ErrNotFiltered, deck.Name)
	}
	return deck, nil
}

func (s *Scheduler) emptyFiltered(ctx context.Context, filter search.Expr) (int, error) {
	cards, err := s.store.FindCards(ctx, filter, search.By(search.OrderID), 0)
	if err != nil {
		return 0, fmt.Errorf("failed to find filtered cards: %w", err)
	}
	now := s.nowUnix()
	for _, c := range cards {
		restoreFromFiltered(c)
		c.Mod = now
		if err := s.store.UpdateCard(ctx, c); err != nil {
			return 0, fmt.Errorf("failed to restore card %d: %w", c.ID, err)
		}
	}
	return len(cards), nil
}

// dynOrder maps a filtered deck ordering onto a card query order.
func (s *Scheduler) dynOrder(o domain.DynOrder) search.Order {
	switch o {
	case domain.DynOldestReviewed:
		return search.By(search.OrderOldestReviewed)
	case domain.DynRandom:
		return search.By(search.OrderRandom)
	case domain.DynSmallestInterval:
		return search.By(search.OrderIvl)
	case domain.DynLargestInterval:
		return search.By(search.OrderIvlDesc)
	case domain.DynMostLapses:
		return search.By(search.OrderLapsesDesc)
	case domain.DynAdded:
		return search.By(search.OrderNote)
	case domain.DynReverseAdded:
		return search.By(search.OrderNoteDesc)
	case domain.DynDuePriority:
		return search.DuePriority(s.today)
	default:
		return search.By(search.OrderDue)
	}
}

func (s *Scheduler) searchEnv(ctx context.Context) (search.Env, error) {
	idx, err := s.loadDecks(ctx)
	if err != nil {
		return search.Env{}, err
	}
	env := search.Env{Today: s.today, DayCutoff: s.dayCutoff}
	for _, d := range idx.sorted {
		env.Decks = append(env.Decks, search.DeckRef{ID: d.ID, Name: d.Name})
	}
	return env, nil
}

func (s *Scheduler) fillFiltered(ctx context.Context, deck *domain.Deck) (RebuildResult, error) {
	env, err := s.searchEnv(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	// Suspended, buried and already filtered cards are never pulled in.
	eligible := search.And(
		search.Ge(search.FieldQueue, int64(domain.QueueNew)),
		search.Eq(search.FieldODeckID, 0),
	)

	var res RebuildResult
	for i, term := range deck.Terms {
		if term.Limit <= 0 {
			continue
		}
		expr, err := search.Parse(strings.TrimSpace(term.Search), env)
		if err != nil {
			s.log.Warn("skipping filtered deck term", "deck", deck.ID, "term", i, "search", term.Search, "error", err)
			res.Warnings = append(res.Warnings, &TermError{Index: i, Search: term.Search, Err: err})
			continue
		}
		ids, err := s.store.FindCardIDs(ctx, search.And(expr, eligible), s.dynOrder(term.Order), term.Limit)
		if err != nil {
			return res, fmt.Errorf("failed to search term %d of deck %d: %w", i, deck.ID, err)
		}
		if err := s.moveToFiltered(ctx, deck, ids, int64(dynStart+res.Moved)); err != nil {
			return res, err
		}
		res.Moved += len(ids)
	}
	return res, nil
}

func (s *Scheduler) moveToFiltered(ctx context.Context, deck *domain.Deck, ids []int64, start int64) error {
	now := s.nowUnix()
	for i, id := range ids {
		c, err := s.store.GetCard(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load card %d: %w", id, err)
		}
		c.ODeckID = c.DeckID
		c.ODue = domain.RawDue(c.Due)
		c.DeckID = deck.ID
		if !deck.Resched {
			c.Queue = domain.QueueReview
		}
		c.Due = domain.DueFromRaw(c.Queue, c.Type, start+int64(i))
		c.Mod = now
		if err := s.store.UpdateCard(ctx, c); err != nil {
			return fmt.Errorf("failed to move card %d to deck %d: %w", id, deck.ID, err)
		}
	}
	return nil
}
