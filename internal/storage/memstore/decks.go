package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
)

func cloneDeck(d *domain.Deck) *domain.Deck {
	cp := *d
	cp.Terms = append([]domain.FilterTerm(nil), d.Terms...)
	if d.PreviewDelay != nil {
		delay := *d.PreviewDelay
		cp.PreviewDelay = &delay
	}
	return &cp
}

// AddDeck inserts or replaces a deck.
func (s *Store) AddDeck(d *domain.Deck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks[d.ID] = cloneDeck(d)
}

// AddConfig inserts or replaces a configuration.
func (s *Store) AddConfig(c deckconf.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.ID] = c
}

// Select makes the deck and its children the active decks.
func (s *Store) Select(deckID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = deckID
}

// Decks returns every deck ordered by name.
func (s *Store) Decks(_ context.Context) ([]*domain.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Deck, 0, len(s.decks))
	for _, d := range s.decks {
		out = append(out, cloneDeck(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Deck returns a copy of one deck.
func (s *Store) Deck(_ context.Context, id int64) (*domain.Deck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[id]
	if !ok {
		return nil, fmt.Errorf("deck %d: %w", id, domain.ErrNotFound)
	}
	return cloneDeck(d), nil
}

// SaveDeck overwrites a deck.
func (s *Store) SaveDeck(_ context.Context, d *domain.Deck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decks[d.ID] = cloneDeck(d)
	return nil
}

// ActiveDeckIDs returns the selected deck followed by its descendants in
// name order.
func (s *Store) ActiveDeckIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.decks[s.selected]
	if !ok {
		return nil, nil
	}
	var children []*domain.Deck
	for _, d := range s.decks {
		if domain.IsDescendant(d.Name, sel.Name) {
			children = append(children, d)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	ids := []int64{sel.ID}
	for _, d := range children {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// ConfigForDeck resolves the configuration of a normal deck.
func (s *Store) ConfigForDeck(_ context.Context, deckID int64) (*deckconf.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[deckID]
	if !ok {
		return nil, fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
	}
	c, ok := s.configs[d.ConfID]
	if !ok {
		return nil, fmt.Errorf("config %d of deck %d: %w", d.ConfID, deckID, domain.ErrNotFound)
	}
	return &c, nil
}

// TodayCounters returns the deck's tallies for today.
func (s *Store) TodayCounters(_ context.Context, deckID int64, today int) (domain.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[deckID]
	if !ok {
		return domain.Counters{}, fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
	}
	return d.Today(today), nil
}

// UpdateTodayCounters adds delta to the deck's tallies for today.
func (s *Store) UpdateTodayCounters(_ context.Context, deckID int64, today int, delta domain.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decks[deckID]
	if !ok {
		return fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
	}
	d.AddToday(today, delta)
	return nil
}

// Collection returns the collection-wide state.
func (s *Store) Collection(_ context.Context) (domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection, nil
}

// SetLastUnburied records the day cards were last unburied.
func (s *Store) SetLastUnburied(_ context.Context, day int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection.LastUnburied = day
	return nil
}
