// Package memstore is an in-memory card and deck store. It backs tests and
// lets the scheduler run without a database.
package memstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

// Store keeps cards, notes, decks, configurations and the revlog in maps.
// Every read returns a copy, so callers never share state with the store.
type Store struct {
	mu         sync.Mutex
	cards      map[int64]*domain.Card
	notes      map[int64][]string
	content    map[int64]domain.Note
	decks      map[int64]*domain.Deck
	configs    map[int64]deckconf.Config
	revlog     map[int64]domain.RevlogEntry
	selected   int64
	collection domain.Collection
	rng        *rand.Rand
}

// New returns an empty store whose collection was created at created. It
// holds the default configuration and a "Default" deck with id 1, which is
// selected.
func New(created time.Time) *Store {
	s := &Store{
		cards:      make(map[int64]*domain.Card),
		notes:      make(map[int64][]string),
		content:    make(map[int64]domain.Note),
		decks:      make(map[int64]*domain.Deck),
		configs:    make(map[int64]deckconf.Config),
		revlog:     make(map[int64]domain.RevlogEntry),
		selected:   1,
		collection: domain.Collection{Created: created},
		rng:        rand.New(rand.NewPCG(uint64(created.UnixNano()), 1)),
	}
	s.configs[deckconf.DefaultID] = deckconf.Default()
	s.decks[1] = &domain.Deck{ID: 1, Name: "Default", ConfID: deckconf.DefaultID}
	return s
}

type row struct {
	card *domain.Card
	tags []string
}

func (r row) Value(f search.Field) int64 {
	c := r.card
	switch f {
	case search.FieldID:
		return c.ID
	case search.FieldNoteID:
		return c.NoteID
	case search.FieldDeckID:
		return c.DeckID
	case search.FieldOrd:
		return int64(c.Ord)
	case search.FieldType:
		return int64(c.Type)
	case search.FieldQueue:
		return int64(c.Queue)
	case search.FieldDue:
		return domain.RawDue(c.Due)
	case search.FieldIvl:
		return int64(c.Ivl)
	case search.FieldFactor:
		return int64(c.Factor)
	case search.FieldReps:
		return int64(c.Reps)
	case search.FieldLapses:
		return int64(c.Lapses)
	case search.FieldLeft:
		return int64(c.Left)
	case search.FieldODue:
		return c.ODue
	case search.FieldODeckID:
		return c.ODeckID
	}
	return 0
}

func (r row) HasTag(tag string) bool {
	for _, t := range r.tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Cards

// AddCard inserts a card, replacing any card with the same id.
func (s *Store) AddCard(_ context.Context, c *domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c.Clone()
	if _, ok := s.notes[c.NoteID]; !ok {
		s.notes[c.NoteID] = nil
	}
	return nil
}

// GetCard returns a copy of the card.
func (s *Store) GetCard(_ context.Context, id int64) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
	}
	return c.Clone(), nil
}

// UpdateCard overwrites the stored card.
func (s *Store) UpdateCard(_ context.Context, c *domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[c.ID]; !ok {
		return fmt.Errorf("card %d: %w", c.ID, domain.ErrNotFound)
	}
	cp := c.Clone()
	cp.Started = time.Time{}
	s.cards[c.ID] = cp
	return nil
}

func (s *Store) match(filter search.Expr, order search.Order, limit int) []*domain.Card {
	var out []*domain.Card
	for _, c := range s.cards {
		if filter.Match(row{card: c, tags: s.notes[c.NoteID]}) {
			out = append(out, c)
		}
	}
	if order.Random() {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	} else {
		keys := make(map[int64][]float64, len(out))
		for _, c := range out {
			keys[c.ID] = order.Keys(row{card: c}, s.lastReviewed(c.ID))
		}
		sort.Slice(out, func(i, j int) bool {
			return search.LessKeys(keys[out[i].ID], keys[out[j].ID])
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) lastReviewed(cardID int64) int64 {
	var last int64
	for id, e := range s.revlog {
		if e.CardID == cardID && id > last {
			last = id
		}
	}
	return last
}

// FindCards returns copies of the matching cards. A limit of zero or less
// means no limit.
func (s *Store) FindCards(_ context.Context, filter search.Expr, order search.Order, limit int) ([]*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.match(filter, order, limit)
	out := make([]*domain.Card, len(matched))
	for i, c := range matched {
		out[i] = c.Clone()
	}
	return out, nil
}

// FindCardIDs returns the ids of the matching cards.
func (s *Store) FindCardIDs(_ context.Context, filter search.Expr, order search.Order, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.match(filter, order, limit)
	ids := make([]int64, len(matched))
	for i, c := range matched {
		ids[i] = c.ID
	}
	return ids, nil
}

// CountCards counts matching cards, stopping at limit when it is positive.
func (s *Store) CountCards(_ context.Context, filter search.Expr, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.cards {
		if filter.Match(row{card: c, tags: s.notes[c.NoteID]}) {
			n++
			if limit > 0 && n >= limit {
				break
			}
		}
	}
	return n, nil
}

// BulkUpdateQueue moves the given cards to queue, leaving every other
// field untouched. Unknown ids are skipped.
func (s *Store) BulkUpdateQueue(_ context.Context, ids []int64, queue domain.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if c, ok := s.cards[id]; ok {
			c.Queue = queue
		}
	}
	return nil
}

// Notes

// AddNote registers a note with its tags.
func (s *Store) AddNote(id int64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[id] = append([]string(nil), tags...)
}

// AddNoteTag adds tag to the note unless it is already there.
func (s *Store) AddNoteTag(_ context.Context, noteID int64, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags := s.notes[noteID]
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return nil
		}
	}
	s.notes[noteID] = append(tags, tag)
	return nil
}

// SaveNote stores a note with its content.
func (s *Store) SaveNote(_ context.Context, n domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.ID] = slices.Clone(n.Tags)
	n.Tags = nil
	s.content[n.ID] = n
	return nil
}

// Note returns a copy of a note. Notes created implicitly by AddCard have
// no content.
func (s *Store) Note(_ context.Context, id int64) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %d: %w", id, domain.ErrNotFound)
	}
	n := s.content[id]
	n.ID = id
	n.Tags = slices.Clone(tags)
	return &n, nil
}

// NoteTags returns the tags of a note.
func (s *Store) NoteTags(noteID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notes[noteID])
}

// Revlog

// AddRevlog appends a revlog row. A row with the same id is a conflict.
func (s *Store) AddRevlog(_ context.Context, e domain.RevlogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revlog[e.ID]; ok {
		return fmt.Errorf("revlog %d: %w", e.ID, domain.ErrRevlogConflict)
	}
	s.revlog[e.ID] = e
	return nil
}

// Revlog returns the rows of a card, oldest first.
func (s *Store) Revlog(_ context.Context, cardID int64) ([]domain.RevlogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RevlogEntry
	for _, e := range s.revlog {
		if e.CardID == cardID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
