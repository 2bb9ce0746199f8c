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

func TestSiblingsBuriedOnAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, domain.Card{ID: 1, NoteID: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(1)})
	f.add(t, domain.Card{ID: 2, NoteID: 1, Ord: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(2)})
	f.add(t, newCard(3))

	card, err := f.sched.GetCard(ctx)
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, int64(1), card.ID)
	assert.Equal(t, domain.QueueNew, f.card(t, 2).Queue, "siblings stay until the card is answered")

	require.NoError(t, f.sched.AnswerCard(ctx, card, domain.Good))
	assert.Equal(t, domain.QueueBuriedSibling, f.card(t, 2).Queue)

	var seen []int64
	for i := 0; i < 10; i++ {
		f.clock.Advance(time.Second)
		card, err := f.sched.GetCard(ctx)
		require.NoError(t, err)
		if card == nil {
			break
		}
		seen = append(seen, card.ID)
		require.NoError(t, f.sched.AnswerCard(ctx, card, domain.Easy))
	}
	assert.Equal(t, []int64{3, 1}, seen)
}

func TestSiblingsBuriedOnFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.BuryOnFetch = true })
	f.add(t, domain.Card{ID: 1, NoteID: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(1)})
	f.add(t, domain.Card{ID: 2, NoteID: 1, Ord: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(2)})

	card, err := f.sched.GetCard(ctx)
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, domain.QueueBuriedSibling, f.card(t, 2).Queue)
}

func TestSiblingsOnlySpacedWhenBuryIsOff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conf := deckconf.Default()
	conf.New.Bury = false
	f.setConfig(conf)
	f.add(t, domain.Card{ID: 1, NoteID: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(1)})
	f.add(t, domain.Card{ID: 2, NoteID: 1, Ord: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(2)})

	card, err := f.sched.GetCard(ctx)
	require.NoError(t, err)
	require.NoError(t, f.sched.AnswerCard(ctx, card, domain.Easy))

	assert.Equal(t, domain.QueueNew, f.card(t, 2).Queue)
	assert.NotContains(t, f.sched.newQueue, int64(2))
}

func TestSuspendRoundTrip(t *testing.T) {
	ctx := context.Background()
	learningDue := created.AddDate(0, 0, today).Add(10 * time.Minute).Unix()
	testCases := []struct {
		name string
		card domain.Card
	}{
		{name: "new", card: newCard(1)},
		{name: "review", card: reviewCard(1, 5, today)},
		{name: "learning", card: domain.Card{ID: 1, Type: domain.TypeLearning, Queue: domain.QueueLearning, Due: domain.DueTimestamp(learningDue), Left: 1001}},
		{name: "day learning", card: domain.Card{ID: 1, Type: domain.TypeRelearning, Queue: domain.QueueDayLearnRelearn, Due: domain.DueDay(today + 1), Ivl: 4, Left: 1001}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			orig := f.add(t, tc.card)

			require.NoError(t, f.sched.Suspend(ctx, []int64{1}))
			suspended := f.card(t, 1)
			assert.Equal(t, domain.QueueSuspended, suspended.Queue)
			assert.Equal(t, orig.Due, suspended.Due)

			require.NoError(t, f.sched.Unsuspend(ctx, []int64{1}))
			assert.Equal(t, orig, f.card(t, 1))
		})
	}
}

func TestBuryAndUnbury(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// The first reset of the day unburies everything, so get it out of the way.
	require.NoError(t, f.sched.Reset(ctx))
	f.add(t, reviewCard(1, 5, today))
	f.add(t, reviewCard(2, 5, today))
	f.add(t, domain.Card{ID: 3, NoteID: 3, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(3)})
	f.add(t, domain.Card{ID: 4, NoteID: 3, Ord: 1, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(4)})

	require.NoError(t, f.sched.Bury(ctx, []int64{1}, true))
	require.NoError(t, f.sched.Bury(ctx, []int64{2}, false))
	require.NoError(t, f.sched.BuryNote(ctx, 3))

	counts, err := f.sched.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)

	info, err := f.sched.CongratulationsInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.HasBuriedManual)
	assert.True(t, info.HasBuriedSiblings)

	require.NoError(t, f.sched.UnburyForDeck(ctx, UnburySiblings))
	assert.Equal(t, domain.QueueBuriedManual, f.card(t, 1).Queue)
	assert.Equal(t, domain.QueueReview, f.card(t, 2).Queue)

	require.NoError(t, f.sched.UnburyForDeck(ctx, UnburyManual))
	assert.Equal(t, domain.QueueReview, f.card(t, 1).Queue)
	assert.Equal(t, domain.QueueNew, f.card(t, 3).Queue)
	assert.Equal(t, domain.QueueNew, f.card(t, 4).Queue)

	counts, err = f.sched.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Counts{New: 2, Review: 2}, counts)
}

func TestUnburyAllIgnoresSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.AddDeck(&domain.Deck{ID: 2, Name: "Other", ConfID: 1})
	c := reviewCard(1, 5, today)
	c.DeckID = 2
	f.add(t, c)
	require.NoError(t, f.sched.Bury(ctx, []int64{1}, true))

	require.NoError(t, f.sched.UnburyForDeck(ctx, UnburyAll))
	assert.Equal(t, domain.QueueBuriedManual, f.card(t, 1).Queue, "deck is not selected")

	require.NoError(t, f.sched.UnburyAll(ctx))
	assert.Equal(t, domain.QueueReview, f.card(t, 1).Queue)
}

func TestParseUnburyKind(t *testing.T) {
	for in, want := range map[string]UnburyKind{"": UnburyAll, "all": UnburyAll, "manual": UnburyManual, "siblings": UnburySiblings} {
		got, err := ParseUnburyKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseUnburyKind("everything")
	assert.Error(t, err)
}
