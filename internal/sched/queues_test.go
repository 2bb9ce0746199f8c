package sched

import (
	"container/heap"
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
)

func TestLrnHeapOrder(t *testing.T) {
	h := &lrnHeap{}
	for _, e := range []lrnEntry{{due: 30, id: 1}, {due: 10, id: 5}, {due: 10, id: 2}, {due: 20, id: 9}} {
		heap.Push(h, e)
	}
	var ids []int64
	for h.Len() > 0 {
		ids = append(ids, heap.Pop(h).(lrnEntry).id)
	}
	assert.Equal(t, []int64{2, 5, 9, 1}, ids)
}

// addLangDecks builds "Lang" with two subdecks sharing a configuration of
// ten new cards a day. Lang::A already saw seven new cards today.
func addLangDecks(f *fixture) {
	conf := deckconf.Default()
	conf.ID = 2
	conf.Name = "Ten a day"
	conf.New.PerDay = 10
	f.store.AddConfig(conf)
	f.store.AddDeck(&domain.Deck{ID: 10, Name: "Lang", ConfID: 2})
	f.store.AddDeck(&domain.Deck{ID: 11, Name: "Lang::A", ConfID: 2, NewToday: domain.DayCounter{Day: today, Count: 7}})
	f.store.AddDeck(&domain.Deck{ID: 12, Name: "Lang::B", ConfID: 2})
}

func TestParentLimitIsShared(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addLangDecks(f)
	for i := int64(1); i <= 10; i++ {
		c := newCard(i)
		c.DeckID = 11
		f.add(t, c)
	}
	for i := int64(11); i <= 25; i++ {
		c := newCard(i)
		c.DeckID = 12
		f.add(t, c)
	}
	f.store.Select(10)

	counts, err := f.sched.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, counts.New)

	perDeck := map[int64]int{}
	for i := 0; i < 30; i++ {
		card, err := f.sched.GetCard(ctx)
		require.NoError(t, err)
		if card == nil {
			break
		}
		perDeck[card.DeckID]++
		f.clock.Advance(time.Second)
		require.NoError(t, f.sched.AnswerCard(ctx, card, domain.Easy))
	}
	assert.Equal(t, map[int64]int{11: 3, 12: 7}, perDeck)

	parent, err := f.store.TodayCounters(ctx, 10, today)
	require.NoError(t, err)
	assert.Equal(t, 10, parent.New)
}

func TestNewSpread(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name   string
		spread domain.NewSpread
		want   []domain.Queue
	}{
		{
			name:   "distribute",
			spread: domain.NewCardsDistribute,
			want:   []domain.Queue{domain.QueueReview, domain.QueueReview, domain.QueueReview, domain.QueueNew, domain.QueueReview, domain.QueueNew},
		},
		{
			name:   "first",
			spread: domain.NewCardsFirst,
			want:   []domain.Queue{domain.QueueNew, domain.QueueNew, domain.QueueReview, domain.QueueReview, domain.QueueReview, domain.QueueReview},
		},
		{
			name:   "last",
			spread: domain.NewCardsLast,
			want:   []domain.Queue{domain.QueueReview, domain.QueueReview, domain.QueueReview, domain.QueueReview, domain.QueueNew, domain.QueueNew},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(o *Options) { o.NewSpread = tc.spread })
			f.add(t, newCard(1))
			f.add(t, newCard(2))
			for i := int64(3); i <= 6; i++ {
				f.add(t, reviewCard(i, 5, today))
			}

			var got []domain.Queue
			for {
				card, err := f.sched.GetCard(ctx)
				require.NoError(t, err)
				if card == nil {
					break
				}
				got = append(got, card.Queue)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDayLearnFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.DayLearnFirst = true })
	f.add(t, reviewCard(1, 5, today))
	f.add(t, domain.Card{ID: 2, Type: domain.TypeRelearning, Queue: domain.QueueDayLearnRelearn, Due: domain.DueDay(today), Ivl: 3, Factor: 2500, Left: 1001})

	first, err := f.sched.GetCard(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, int64(2), first.ID)

	second, err := f.sched.GetCard(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, int64(1), second.ID)
}

func TestResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := int64(1); i <= 30; i++ {
		f.add(t, reviewCard(i, 5, today-i%4))
	}
	for i := int64(31); i <= 40; i++ {
		f.add(t, domain.Card{ID: i, Type: domain.TypeLearning, Queue: domain.QueueDayLearnRelearn, Due: domain.DueDay(today), Left: 1001})
	}
	for i := int64(41); i <= 45; i++ {
		f.add(t, newCard(i))
	}

	type snapshot struct {
		counts            Counts
		rev, lrnDay, news []int64
	}
	take := func() snapshot {
		require.NoError(t, f.sched.Reset(ctx))
		_, err := f.sched.fillRev(ctx)
		require.NoError(t, err)
		_, err = f.sched.fillLrnDay(ctx)
		require.NoError(t, err)
		_, err = f.sched.fillNew(ctx)
		require.NoError(t, err)
		counts, err := f.sched.Counts(ctx, nil)
		require.NoError(t, err)
		return snapshot{
			counts: counts,
			rev:    slices.Clone(f.sched.revQueue),
			lrnDay: slices.Clone(f.sched.lrnDayQueue),
			news:   slices.Clone(f.sched.newQueue),
		}
	}

	first := take()
	second := take()
	assert.Equal(t, first, second)
	assert.Equal(t, Counts{New: 5, Learn: 10, Review: 30}, first.counts)
	assert.Len(t, first.rev, 30)
	assert.Len(t, first.lrnDay, 10)
	assert.Equal(t, []int64{45, 44, 43, 42, 41}, first.news)
}

func TestStaleCountHeals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, newCard(1))
	f.add(t, newCard(2))
	require.NoError(t, f.sched.Reset(ctx))

	// Hide the cards without telling the scheduler.
	require.NoError(t, f.store.BulkUpdateQueue(ctx, []int64{1, 2}, domain.QueueSuspended))

	card, err := f.sched.GetCard(ctx)
	require.NoError(t, err)
	assert.Nil(t, card)

	counts, err := f.sched.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)
}

func TestLearningCollapse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	due := f.clock.Now().Add(5 * time.Minute).Unix()
	f.add(t, domain.Card{ID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: domain.DueTimestamp(due), Left: 1001})

	// Nothing else to study, so the card is shown ahead of time.
	card, err := f.sched.GetCard(ctx)
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, int64(1), card.ID)

	later := newFixture(t)
	later.add(t, domain.Card{ID: 2, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: domain.DueTimestamp(due + 3600), Left: 1001})
	card, err = later.sched.GetCard(ctx)
	require.NoError(t, err)
	assert.Nil(t, card, "cards past the collapse window wait")
}
