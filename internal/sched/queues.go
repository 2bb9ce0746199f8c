package sched

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

// lrnEntry is a sub-day learning card keyed by its due timestamp.
type lrnEntry struct {
	due int64
	id  int64
}

// lrnHeap is a min-heap of learning cards ordered by (due, id).
type lrnHeap []lrnEntry

func (h lrnHeap) Len() int { return len(h) }
func (h lrnHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].id < h[j].id
}
func (h lrnHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *lrnHeap) Push(x any)   { *h = append(*h, x.(lrnEntry)) }
func (h *lrnHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func queueIs(q domain.Queue) search.Expr {
	return search.Eq(search.FieldQueue, int64(q))
}

func queueIn(qs ...domain.Queue) search.Expr {
	vals := make([]int64, len(qs))
	for i, q := range qs {
		vals[i] = int64(q)
	}
	return search.In(search.FieldQueue, vals...)
}

func inDecks(ids ...int64) search.Expr {
	return search.In(search.FieldDeckID, ids...)
}

func (s *Scheduler) reviewDue() search.Expr {
	return search.And(queueIs(domain.QueueReview), search.Le(search.FieldDue, int64(s.today)))
}

func (s *Scheduler) dayLearnDue() search.Expr {
	return search.And(queueIs(domain.QueueDayLearnRelearn), search.Le(search.FieldDue, int64(s.today)))
}

// daySeededShuffle shuffles ids in an order that only depends on the day.
func (s *Scheduler) daySeededShuffle(ids []int64) {
	r := rand.New(rand.NewPCG(uint64(s.today), 0))
	r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// Walking counts

type limitFunc func(ctx context.Context, d *domain.Deck) (int, error)
type countFunc func(ctx context.Context, did int64, lim int) (int, error)

// walkingCount totals a count over the active decks while making siblings
// share what is left of their parents' limits.
func (s *Scheduler) walkingCount(ctx context.Context, limFn limitFunc, cntFn countFunc) (int, error) {
	idx, err := s.loadDecks(ctx)
	if err != nil {
		return 0, err
	}
	active, err := s.activeDecks(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	pcounts := make(map[int64]int)
	for _, did := range active {
		d, ok := idx.byID[did]
		if !ok {
			continue
		}
		lim, err := limFn(ctx, d)
		if err != nil {
			return 0, err
		}
		if lim == 0 {
			continue
		}
		parents := idx.parents(d)
		for _, p := range parents {
			if _, ok := pcounts[p.ID]; !ok {
				if pcounts[p.ID], err = limFn(ctx, p); err != nil {
					return 0, err
				}
			}
			lim = min(lim, pcounts[p.ID])
		}
		cnt, err := cntFn(ctx, did, lim)
		if err != nil {
			return 0, err
		}
		for _, p := range parents {
			pcounts[p.ID] -= cnt
		}
		pcounts[did] = lim - cnt
		total += cnt
	}
	return total, nil
}

func (s *Scheduler) newLimitSingle(ctx context.Context, d *domain.Deck) (int, error) {
	if d.Filtered {
		return deckconf.DynReportLimit, nil
	}
	c, err := s.deckConfig(ctx, d.ID)
	if err != nil {
		return 0, err
	}
	return max(0, c.New.PerDay-d.NewToday.On(s.today)), nil
}

func (s *Scheduler) revLimitSingle(ctx context.Context, d *domain.Deck) (int, error) {
	if d.Filtered {
		return deckconf.DynReportLimit, nil
	}
	c, err := s.deckConfig(ctx, d.ID)
	if err != nil {
		return 0, err
	}
	return max(0, c.Rev.PerDay-d.ReviewToday.On(s.today)), nil
}

// deckLimit is the smallest remaining limit of a deck and its parents.
func (s *Scheduler) deckLimit(ctx context.Context, did int64, fn limitFunc) (int, error) {
	idx, err := s.loadDecks(ctx)
	if err != nil {
		return 0, err
	}
	d, ok := idx.byID[did]
	if !ok {
		return 0, nil
	}
	lim, err := fn(ctx, d)
	if err != nil {
		return 0, err
	}
	for _, p := range idx.parents(d) {
		rem, err := fn(ctx, p)
		if err != nil {
			return 0, err
		}
		lim = min(lim, rem)
	}
	return lim, nil
}

// New cards

func (s *Scheduler) countNew(ctx context.Context, did int64, lim int) (int, error) {
	return s.store.CountCards(ctx, search.And(search.Eq(search.FieldDeckID, did), queueIs(domain.QueueNew)), lim)
}

func (s *Scheduler) resetNew(ctx context.Context) error {
	n, err := s.walkingCount(ctx, s.newLimitSingle, s.countNew)
	if err != nil {
		return fmt.Errorf("failed to count new cards: %w", err)
	}
	s.newCount = n
	if s.newDids, err = s.activeDecks(ctx); err != nil {
		return err
	}
	s.newQueue = nil
	s.updateNewCardRatio()
	return nil
}

func (s *Scheduler) fillNew(ctx context.Context) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if s.newCount <= 0 {
			return false, nil
		}
		if len(s.newQueue) > 0 {
			return true, nil
		}
		for len(s.newDids) > 0 {
			did := s.newDids[0]
			lim, err := s.deckLimit(ctx, did, s.newLimitSingle)
			if err != nil {
				return false, err
			}
			if lim = min(queueLimit, lim); lim > 0 {
				filter := search.And(search.Eq(search.FieldDeckID, did), queueIs(domain.QueueNew))
				ids, err := s.store.FindCardIDs(ctx, filter, search.By(search.OrderDueOrd), lim)
				if err != nil {
					return false, fmt.Errorf("failed to fill new queue: %w", err)
				}
				if len(ids) > 0 {
					slices.Reverse(ids)
					s.newQueue = ids
					return true, nil
				}
			}
			s.newDids = s.newDids[1:]
		}
		if attempt == 0 {
			// Cards may have left the queue without the count noticing.
			if err := s.resetNew(ctx); err != nil {
				return false, err
			}
		}
	}
	s.log.Error("count desync", "queue", "new", "count", s.newCount)
	s.newCount = 0
	return false, nil
}

func (s *Scheduler) getNewCard(ctx context.Context) (*domain.Card, error) {
	ok, err := s.fillNew(ctx)
	if err != nil || !ok {
		return nil, err
	}
	s.newCount--
	id := s.newQueue[len(s.newQueue)-1]
	s.newQueue = s.newQueue[:len(s.newQueue)-1]
	return s.store.GetCard(ctx, id)
}

func (s *Scheduler) updateNewCardRatio() {
	s.newCardModulus = 0
	if s.opts.NewSpread == domain.NewCardsDistribute && s.newCount > 0 {
		s.newCardModulus = (s.newCount + s.revCount) / s.newCount
		if s.revCount > 0 {
			s.newCardModulus = max(2, s.newCardModulus)
		}
	}
}

// timeForNewCard reports whether the spread policy wants a new card now.
func (s *Scheduler) timeForNewCard() bool {
	if s.newCount <= 0 {
		return false
	}
	switch s.opts.NewSpread {
	case domain.NewCardsLast:
		return false
	case domain.NewCardsFirst:
		return true
	}
	return s.newCardModulus > 0 && s.reps > 0 && s.reps%s.newCardModulus == 0
}

// Learning cards

// updateLrnCutoff moves the learning cutoff forward once it is more than a
// minute stale.
func (s *Scheduler) updateLrnCutoff(force bool) bool {
	next := s.nowUnix() + s.collapseSeconds()
	if next-s.lrnCutoff > 60 || force {
		s.lrnCutoff = next
		return true
	}
	return false
}

func (s *Scheduler) maybeResetLrn(ctx context.Context, force bool) error {
	if s.updateLrnCutoff(force) {
		return s.resetLrn(ctx)
	}
	return nil
}

func (s *Scheduler) resetLrnCount(ctx context.Context, active []int64) error {
	subDay, err := s.store.CountCards(ctx, search.And(inDecks(active...),
		queueIn(domain.QueueLearning, domain.QueuePreview), search.Lt(search.FieldDue, s.lrnCutoff)), 0)
	if err != nil {
		return fmt.Errorf("failed to count learning cards: %w", err)
	}
	day, err := s.store.CountCards(ctx, search.And(inDecks(active...), s.dayLearnDue()), 0)
	if err != nil {
		return fmt.Errorf("failed to count day learning cards: %w", err)
	}
	s.lrnCount = subDay + day
	return nil
}

func (s *Scheduler) resetLrn(ctx context.Context) error {
	s.updateLrnCutoff(true)
	active, err := s.activeDecks(ctx)
	if err != nil {
		return err
	}
	if err := s.resetLrnCount(ctx, active); err != nil {
		return err
	}
	s.lrnQueue = nil
	s.lrnDayQueue = nil
	s.lrnDids = active
	return nil
}

func (s *Scheduler) fillLrn(ctx context.Context) (bool, error) {
	if s.lrnCount <= 0 {
		return false, nil
	}
	if len(s.lrnQueue) > 0 {
		return true, nil
	}
	active, err := s.activeDecks(ctx)
	if err != nil {
		return false, err
	}
	cutoff := s.nowUnix() + s.collapseSeconds()
	filter := search.And(inDecks(active...), queueIn(domain.QueueLearning, domain.QueuePreview),
		search.Lt(search.FieldDue, cutoff))
	cards, err := s.store.FindCards(ctx, filter, search.By(search.OrderNone), reportLimit)
	if err != nil {
		return false, fmt.Errorf("failed to fill learning queue: %w", err)
	}
	q := make(lrnHeap, 0, len(cards))
	for _, c := range cards {
		q = append(q, lrnEntry{due: domain.RawDue(c.Due), id: c.ID})
	}
	heap.Init(&q)
	s.lrnQueue = q
	return len(q) > 0, nil
}

func (s *Scheduler) getLrnCard(ctx context.Context, collapse bool) (*domain.Card, error) {
	if err := s.maybeResetLrn(ctx, collapse && s.lrnCount == 0); err != nil {
		return nil, err
	}
	ok, err := s.fillLrn(ctx)
	if err != nil || !ok {
		return nil, err
	}
	cutoff := s.nowUnix()
	if collapse {
		cutoff += s.collapseSeconds()
	}
	if s.lrnQueue[0].due >= cutoff {
		return nil, nil
	}
	e := heap.Pop(&s.lrnQueue).(lrnEntry)
	s.lrnCount--
	return s.store.GetCard(ctx, e.id)
}

func (s *Scheduler) fillLrnDay(ctx context.Context) (bool, error) {
	if s.lrnCount <= 0 {
		return false, nil
	}
	if len(s.lrnDayQueue) > 0 {
		return true, nil
	}
	for len(s.lrnDids) > 0 {
		did := s.lrnDids[0]
		filter := search.And(search.Eq(search.FieldDeckID, did), s.dayLearnDue())
		ids, err := s.store.FindCardIDs(ctx, filter, search.By(search.OrderID), queueLimit)
		if err != nil {
			return false, fmt.Errorf("failed to fill day learning queue: %w", err)
		}
		if len(ids) > 0 {
			s.daySeededShuffle(ids)
			s.lrnDayQueue = ids
			if len(ids) < queueLimit {
				s.lrnDids = s.lrnDids[1:]
			}
			return true, nil
		}
		s.lrnDids = s.lrnDids[1:]
	}
	return false, nil
}

func (s *Scheduler) getLrnDayCard(ctx context.Context) (*domain.Card, error) {
	ok, err := s.fillLrnDay(ctx)
	if err != nil || !ok {
		return nil, err
	}
	s.lrnCount--
	id := s.lrnDayQueue[len(s.lrnDayQueue)-1]
	s.lrnDayQueue = s.lrnDayQueue[:len(s.lrnDayQueue)-1]
	return s.store.GetCard(ctx, id)
}

// Review cards

func (s *Scheduler) countRev(ctx context.Context, did int64, lim int) (int, error) {
	return s.store.CountCards(ctx, search.And(search.Eq(search.FieldDeckID, did), s.reviewDue()), lim)
}

func (s *Scheduler) resetRev(ctx context.Context) error {
	n, err := s.walkingCount(ctx, s.revLimitSingle, s.countRev)
	if err != nil {
		return fmt.Errorf("failed to count review cards: %w", err)
	}
	s.revCount = n
	if s.revDids, err = s.activeDecks(ctx); err != nil {
		return err
	}
	s.revQueue = nil
	return nil
}

func (s *Scheduler) fillRev(ctx context.Context) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if s.revCount <= 0 {
			return false, nil
		}
		if len(s.revQueue) > 0 {
			return true, nil
		}
		for len(s.revDids) > 0 {
			did := s.revDids[0]
			lim, err := s.deckLimit(ctx, did, s.revLimitSingle)
			if err != nil {
				return false, err
			}
			if lim = min(queueLimit, lim); lim > 0 {
				filter := search.And(search.Eq(search.FieldDeckID, did), s.reviewDue())
				ids, err := s.store.FindCardIDs(ctx, filter, search.By(search.OrderDue), lim)
				if err != nil {
					return false, fmt.Errorf("failed to fill review queue: %w", err)
				}
				if len(ids) > 0 {
					deck, err := s.store.Deck(ctx, did)
					if err != nil {
						return false, fmt.Errorf("failed to load deck %d: %w", did, err)
					}
					if deck.Filtered {
						// Filtered decks keep the order they were built in.
						slices.Reverse(ids)
					} else {
						s.daySeededShuffle(ids)
					}
					s.revQueue = ids
					if len(ids) < lim {
						s.revDids = s.revDids[1:]
					}
					return true, nil
				}
			}
			s.revDids = s.revDids[1:]
		}
		if attempt == 0 {
			if err := s.resetRev(ctx); err != nil {
				return false, err
			}
		}
	}
	s.log.Error("count desync", "queue", "review", "count", s.revCount)
	s.revCount = 0
	return false, nil
}

func (s *Scheduler) getRevCard(ctx context.Context) (*domain.Card, error) {
	ok, err := s.fillRev(ctx)
	if err != nil || !ok {
		return nil, err
	}
	s.revCount--
	id := s.revQueue[len(s.revQueue)-1]
	s.revQueue = s.revQueue[:len(s.revQueue)-1]
	return s.store.GetCard(ctx, id)
}

// nextCard picks from the queues in priority order: due learning cards,
// new cards when the spread asks for one, reviews and day learning, any
// remaining new cards, and finally learning cards due within the collapse
// window.
func (s *Scheduler) nextCard(ctx context.Context) (*domain.Card, error) {
	c, err := s.getLrnCard(ctx, false)
	if err != nil || c != nil {
		return c, err
	}
	if s.timeForNewCard() {
		if c, err = s.getNewCard(ctx); err != nil || c != nil {
			return c, err
		}
	}
	if s.opts.DayLearnFirst {
		if c, err = s.getLrnDayCard(ctx); err != nil || c != nil {
			return c, err
		}
	}
	if c, err = s.getRevCard(ctx); err != nil || c != nil {
		return c, err
	}
	if !s.opts.DayLearnFirst {
		if c, err = s.getLrnDayCard(ctx); err != nil || c != nil {
			return c, err
		}
	}
	if c, err = s.getNewCard(ctx); err != nil || c != nil {
		return c, err
	}
	return s.getLrnCard(ctx, true)
}
