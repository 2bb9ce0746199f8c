// Package sched decides which card to study next and reschedules cards
// after they are answered. A Scheduler keeps three lazily filled queues
// (new, learning and review) on top of a card store and a deck store, and
// owns the day boundary every daily limit is counted against.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/conorfennell/knolsched/internal/clock"
	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

var (
	// ErrInvalidEase is returned when an answer is outside Again..Easy.
	ErrInvalidEase = domain.ErrInvalidEase
	// ErrInvalidQueue is returned when answering a card that is not in an
	// active queue.
	ErrInvalidQueue = errors.New("card is not in an active queue")
	// ErrNotFiltered is returned by filtered deck operations on a normal deck.
	ErrNotFiltered = errors.New("deck is not a filtered deck")
	// ErrRevlogConflict is returned when a revlog row collides twice.
	ErrRevlogConflict = domain.ErrRevlogConflict
	// ErrInvalidInterval is returned by Reschedule for a bad day range.
	ErrInvalidInterval = errors.New("invalid interval range")
)

const (
	queueLimit  = 50
	reportLimit = 1000
)

// CardStore is the source of truth for cards, note tags and the revlog.
type CardStore interface {
	GetCard(ctx context.Context, id int64) (*domain.Card, error)
	UpdateCard(ctx context.Context, c *domain.Card) error
	FindCards(ctx context.Context, filter search.Expr, order search.Order, limit int) ([]*domain.Card, error)
	FindCardIDs(ctx context.Context, filter search.Expr, order search.Order, limit int) ([]int64, error)
	CountCards(ctx context.Context, filter search.Expr, limit int) (int, error)
	BulkUpdateQueue(ctx context.Context, ids []int64, queue domain.Queue) error
	AddNoteTag(ctx context.Context, noteID int64, tag string) error
	AddRevlog(ctx context.Context, e domain.RevlogEntry) error
}

// DeckStore resolves deck configurations and tracks per-day counters.
type DeckStore interface {
	Decks(ctx context.Context) ([]*domain.Deck, error)
	Deck(ctx context.Context, id int64) (*domain.Deck, error)
	SaveDeck(ctx context.Context, d *domain.Deck) error
	ActiveDeckIDs(ctx context.Context) ([]int64, error)
	ConfigForDeck(ctx context.Context, deckID int64) (*deckconf.Config, error)
	TodayCounters(ctx context.Context, deckID int64, today int) (domain.Counters, error)
	UpdateTodayCounters(ctx context.Context, deckID int64, today int, delta domain.Counters) error
	Collection(ctx context.Context) (domain.Collection, error)
	SetLastUnburied(ctx context.Context, day int) error
}

// Store is everything the scheduler reads and writes.
type Store interface {
	CardStore
	DeckStore
}

// Options tune a Scheduler. Start from DefaultOptions.
type Options struct {
	// RolloverHour is the local hour at which a new day starts.
	RolloverHour int
	// CollapseTime is how far ahead learning cards are shown early when
	// nothing else is left.
	CollapseTime time.Duration
	NewSpread    domain.NewSpread
	// DayLearnFirst shows day-learning cards before reviews.
	DayLearnFirst bool
	// BuryOnFetch buries siblings when a card is handed out instead of
	// when it is answered.
	BuryOnFetch bool
	Location    *time.Location

	Clock  clock.Clock
	Logger *slog.Logger
	// Rand drives interval and learning-step fuzz.
	Rand *rand.Rand
	// OnLeech is called after a card becomes a leech.
	OnLeech func(*domain.Card)
}

// DefaultOptions returns the options of a fresh collection.
func DefaultOptions() Options {
	return Options{
		RolloverHour: 4,
		CollapseTime: 20 * time.Minute,
		NewSpread:    domain.NewCardsDistribute,
	}
}

// Counts is the number of cards left in each queue.
type Counts struct {
	New    int `json:"new"`
	Learn  int `json:"learn"`
	Review int `json:"review"`
}

// Scheduler hands out cards and reschedules them. It is not safe for
// concurrent use.
type Scheduler struct {
	store Store
	opts  Options
	clock clock.Clock
	log   *slog.Logger
	rng   *rand.Rand

	today      int
	dayCutoff  int64
	haveQueues bool
	reps       int

	newCount       int
	newQueue       []int64
	newDids        []int64
	newCardModulus int

	lrnCount    int
	lrnCutoff   int64
	lrnQueue    lrnHeap
	lrnDayQueue []int64
	lrnDids     []int64

	revCount int
	revQueue []int64
	revDids  []int64
}

// New builds a scheduler over store. Call Reset or GetCard to load the
// queues.
func New(store Store, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Rand == nil {
		now := opts.Clock.Now()
		opts.Rand = rand.New(rand.NewPCG(uint64(now.UnixNano()), uint64(now.Unix())))
	}
	return &Scheduler{
		store: store,
		opts:  opts,
		clock: opts.Clock,
		log:   opts.Logger,
		rng:   opts.Rand,
	}
}

// Today is the current day number, counted from collection creation.
func (s *Scheduler) Today() int { return s.today }

// DayCutoff is the Unix time at which today ends.
func (s *Scheduler) DayCutoff() int64 { return s.dayCutoff }

// Reset recomputes the day and rebuilds every queue and count. Call it
// after changing cards behind the scheduler's back.
func (s *Scheduler) Reset(ctx context.Context) error {
	if err := s.updateCutoff(ctx); err != nil {
		return err
	}
	if err := s.resetLrn(ctx); err != nil {
		return err
	}
	if err := s.resetRev(ctx); err != nil {
		return err
	}
	if err := s.resetNew(ctx); err != nil {
		return err
	}
	s.haveQueues = true
	return nil
}

func (s *Scheduler) ensureQueues(ctx context.Context) error {
	if err := s.checkDay(ctx); err != nil {
		return err
	}
	if !s.haveQueues {
		return s.Reset(ctx)
	}
	return nil
}

// invalidate drops the queues so the next call rebuilds them.
func (s *Scheduler) invalidate() {
	s.haveQueues = false
}

// GetCard pops the next card to study, or returns nil when every queue is
// empty for now. The card's timer starts when it is returned.
func (s *Scheduler) GetCard(ctx context.Context) (*domain.Card, error) {
	if err := s.ensureQueues(ctx); err != nil {
		return nil, err
	}
	card, err := s.nextCard(ctx)
	if err != nil || card == nil {
		return nil, err
	}
	if s.opts.BuryOnFetch {
		conf, err := s.cardConfig(ctx, card)
		if err != nil {
			return nil, err
		}
		if err := s.burySiblings(ctx, card, conf); err != nil {
			return nil, err
		}
	}
	s.reps++
	card.Started = s.clock.Now()
	return card, nil
}

// Counts returns the cards left in each queue. When held is not nil it is
// counted too, so a card on screen is still part of its queue's count.
func (s *Scheduler) Counts(ctx context.Context, held *domain.Card) (Counts, error) {
	if err := s.ensureQueues(ctx); err != nil {
		return Counts{}, err
	}
	c := Counts{New: s.newCount, Learn: s.lrnCount, Review: s.revCount}
	if held != nil {
		switch countIndex(held) {
		case domain.QueueNew:
			c.New++
		case domain.QueueLearning:
			c.Learn++
		case domain.QueueReview:
			c.Review++
		}
	}
	return c, nil
}

func countIndex(c *domain.Card) domain.Queue {
	if c.Queue == domain.QueueDayLearnRelearn || c.Queue == domain.QueuePreview {
		return domain.QueueLearning
	}
	return c.Queue
}

// deckConfig loads the configuration of a normal deck, falling back to the
// default one when the deck or its configuration is missing.
func (s *Scheduler) deckConfig(ctx context.Context, deckID int64) (deckconf.Config, error) {
	c, err := s.store.ConfigForDeck(ctx, deckID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("deck config missing, using default", "deck", deckID, "error", err)
			return deckconf.Default(), nil
		}
		return deckconf.Config{}, err
	}
	return *c, nil
}

// cardConfig resolves the options that apply to a card, blending the
// home configuration with the filtered deck it sits in.
func (s *Scheduler) cardConfig(ctx context.Context, card *domain.Card) (deckconf.Effective, error) {
	deck, err := s.store.Deck(ctx, card.DeckID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return deckconf.Effective{}, err
		}
		s.log.Warn("card deck missing, using default config", "card", card.ID, "deck", card.DeckID)
		return deckconf.ForDeck(deckconf.Default()), nil
	}
	if !deck.Filtered {
		c, err := s.deckConfig(ctx, deck.ID)
		if err != nil {
			return deckconf.Effective{}, err
		}
		return deckconf.ForDeck(c), nil
	}
	home := deckconf.Default()
	if card.ODeckID != 0 {
		if home, err = s.deckConfig(ctx, card.ODeckID); err != nil {
			return deckconf.Effective{}, err
		}
	}
	return deckconf.Blend(home, deckconf.Overrides{Resched: deck.Resched, PreviewDelay: deck.PreviewDelay}), nil
}

// deckIndex is a snapshot of the deck tree.
type deckIndex struct {
	byID   map[int64]*domain.Deck
	byName map[string]*domain.Deck
	sorted []*domain.Deck
}

func (s *Scheduler) loadDecks(ctx context.Context) (*deckIndex, error) {
	decks, err := s.store.Decks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load decks: %w", err)
	}
	idx := &deckIndex{
		byID:   make(map[int64]*domain.Deck, len(decks)),
		byName: make(map[string]*domain.Deck, len(decks)),
		sorted: decks,
	}
	for _, d := range decks {
		idx.byID[d.ID] = d
		idx.byName[d.Name] = d
	}
	return idx, nil
}

// parents lists the existing ancestors of a deck, nearest first.
func (idx *deckIndex) parents(d *domain.Deck) []*domain.Deck {
	var out []*domain.Deck
	for _, name := range domain.AncestorNames(d.Name) {
		if p, ok := idx.byName[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// children lists every descendant of a deck.
func (idx *deckIndex) children(d *domain.Deck) []*domain.Deck {
	var out []*domain.Deck
	for _, c := range idx.sorted {
		if domain.IsDescendant(c.Name, d.Name) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Scheduler) activeDecks(ctx context.Context) ([]int64, error) {
	ids, err := s.store.ActiveDeckIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active decks: %w", err)
	}
	return ids, nil
}
