package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
)

func TestDueForecast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, reviewCard(1, 5, today-3))
	f.add(t, reviewCard(2, 5, today))
	f.add(t, reviewCard(3, 5, today+1))
	f.add(t, reviewCard(4, 5, today+3))
	f.add(t, reviewCard(5, 5, today+3))
	f.add(t, reviewCard(6, 5, today+9))

	forecast, err := f.sched.DueForecast(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 0, 2}, forecast)

	none, err := f.sched.DueForecast(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeckDueList(t *testing.T) {
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
	for i := int64(26); i <= 27; i++ {
		c := reviewCard(i, 5, today)
		c.DeckID = 11
		f.add(t, c)
	}
	due := f.clock.Now().Add(time.Minute).Unix()
	f.add(t, domain.Card{ID: 28, DeckID: 12, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: domain.DueTimestamp(due), Left: 1001})

	list, err := f.sched.DeckDueList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []DeckDue{
		{Name: "Default", ID: 1},
		{Name: "Lang", ID: 10, Review: 2},
		{Name: "Lang::A", ID: 11, Review: 2, New: 3},
		{Name: "Lang::B", ID: 12, Learn: 1, New: 10},
	}, list)
}

func TestCongratulationsInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conf := deckconf.Default()
	conf.New.PerDay = 0
	f.setConfig(conf)
	f.add(t, newCard(1))
	f.add(t, reviewCard(2, 5, today+1))

	info, err := f.sched.CongratulationsInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, CongratsInfo{NewDueTomorrow: true, ReviewDueTomorrow: true}, info)

	counts, err := f.sched.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	t.Run("reviews held back today are not due tomorrow", func(t *testing.T) {
		f := newFixture(t)
		conf := deckconf.Default()
		conf.Rev.PerDay = 0
		f.setConfig(conf)
		f.add(t, reviewCard(1, 5, today))
		f.add(t, reviewCard(2, 5, today+2))

		info, err := f.sched.CongratulationsInfo(ctx)
		require.NoError(t, err)
		assert.False(t, info.ReviewDueTomorrow)
	})
}

func TestNextInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("new card", func(t *testing.T) {
		card := f.add(t, newCard(1))
		want := map[domain.Ease]time.Duration{
			domain.Again: time.Minute,
			domain.Hard:  330 * time.Second,
			domain.Good:  10 * time.Minute,
			domain.Easy:  4 * 24 * time.Hour,
		}
		for ease, d := range want {
			got, err := f.sched.NextInterval(ctx, card, ease)
			require.NoError(t, err)
			assert.Equal(t, d, got, "ease %d", ease)
		}
		assert.Equal(t, domain.QueueNew, f.card(t, 1).Queue, "preview changes nothing")
	})

	t.Run("review card", func(t *testing.T) {
		card := f.add(t, reviewCard(2, 10, today))
		want := map[domain.Ease]time.Duration{
			domain.Again: 10 * time.Minute,
			domain.Hard:  12 * 24 * time.Hour,
			domain.Good:  25 * 24 * time.Hour,
			domain.Easy:  32 * 24 * time.Hour,
		}
		for ease, d := range want {
			got, err := f.sched.NextInterval(ctx, card, ease)
			require.NoError(t, err)
			assert.Equal(t, d, got, "ease %d", ease)
		}
	})

	t.Run("invalid ease", func(t *testing.T) {
		_, err := f.sched.NextInterval(ctx, f.card(t, 1), 7)
		assert.ErrorIs(t, err, ErrInvalidEase)
	})
}

func TestAnswerButtons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	card := f.add(t, reviewCard(1, 10, today))
	n, err := f.sched.AnswerButtons(ctx, card)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, reviewCard(1, 30, today+4))
	f.add(t, domain.Card{ID: 2, NoteID: 1, Ord: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: domain.DueDay(today), Ivl: 8, Factor: 2100})
	f.add(t, domain.Card{ID: 3, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(7)})

	require.NoError(t, f.sched.Forget(ctx, []int64{1, 2}))

	for _, id := range []int64{1, 2} {
		got := f.card(t, id)
		assert.Equal(t, domain.TypeNew, got.Type)
		assert.Equal(t, domain.QueueNew, got.Queue)
		assert.Equal(t, domain.DuePosition(8), got.Due, "siblings share a position")
		assert.Zero(t, got.Ivl)
		assert.Equal(t, deckconf.StartingFactor, got.Factor)
	}
}

func TestReschedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, newCard(1))
	f.add(t, reviewCard(2, 10, today))

	require.NoError(t, f.sched.Reschedule(ctx, []int64{1}, 3, 3))
	got := f.card(t, 1)
	assert.Equal(t, domain.TypeReview, got.Type)
	assert.Equal(t, domain.QueueReview, got.Queue)
	assert.Equal(t, domain.DueDay(today+3), got.Due)
	assert.Equal(t, 3, got.Ivl)

	require.NoError(t, f.sched.Reschedule(ctx, []int64{2}, 0, 5))
	got = f.card(t, 2)
	due := got.Due.Raw()
	assert.GreaterOrEqual(t, due, int64(today))
	assert.LessOrEqual(t, due, int64(today+5))

	assert.ErrorIs(t, f.sched.Reschedule(ctx, []int64{1}, 5, 2), ErrInvalidInterval)
	assert.ErrorIs(t, f.sched.Reschedule(ctx, []int64{1}, -1, 2), ErrInvalidInterval)
}

func TestExtendLimits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addLangDecks(f)
	for i := int64(1); i <= 10; i++ {
		c := newCard(i)
		c.DeckID = 11
		f.add(t, c)
	}
	f.store.Select(11)

	counts, err := f.sched.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.New)

	require.NoError(t, f.sched.ExtendLimits(ctx, 11, 5, 0))

	counts, err = f.sched.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, counts.New)

	parent, err := f.store.TodayCounters(ctx, 10, today)
	require.NoError(t, err)
	assert.Equal(t, -5, parent.New)

	assert.ErrorIs(t, f.sched.ExtendLimits(ctx, 99, 1, 1), domain.ErrNotFound)
}
