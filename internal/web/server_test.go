package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolsched/internal/clock"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/sched"
	"github.com/conorfennell/knolsched/internal/storage/memstore"
)

var created = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cards ...domain.Card) (*Server, *memstore.Store) {
	t.Helper()
	st := memstore.New(created)
	for _, c := range cards {
		if c.NoteID == 0 {
			c.NoteID = c.ID
		}
		if c.DeckID == 0 {
			c.DeckID = 1
		}
		require.NoError(t, st.AddCard(context.Background(), &c))
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := sched.DefaultOptions()
	opts.Clock = clock.Fake(created.AddDate(0, 0, 10))
	opts.Location = time.UTC
	opts.Rand = rand.New(rand.NewPCG(1, 2))
	opts.Logger = log
	return NewServer(sched.New(st, opts), st, log), st
}

func newCard(id int64) domain.Card {
	return domain.Card{ID: id, Type: domain.TypeNew, Queue: domain.QueueNew, Due: domain.DuePosition(id)}
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestStudyLoop(t *testing.T) {
	srv, st := newTestServer(t, newCard(1), newCard(2))
	require.NoError(t, st.SaveNote(context.Background(), domain.Note{ID: 1, Question: "2+2?", Answer: "4", Tags: []string{"maths"}}))

	rec := do(t, srv, http.MethodGet, "/api/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	next := decode[nextResponse](t, rec)
	require.NotNil(t, next.Card)
	assert.Equal(t, int64(1), next.Card.ID)
	assert.Equal(t, "new", next.Card.Queue)
	assert.Equal(t, 4, next.Card.Buttons)
	assert.Equal(t, "2+2?", next.Card.Question)
	assert.Equal(t, "4", next.Card.Answer)
	assert.Equal(t, []string{"maths"}, next.Card.Tags)
	assert.Equal(t, sched.Counts{New: 2}, next.Counts)

	rec = do(t, srv, http.MethodPost, "/api/answer", `{"card_id": 2, "ease": 3}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "only the held card can be answered")

	rec = do(t, srv, http.MethodPost, "/api/answer", `{"card_id": 1, "ease": 9}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/answer", `{"card_id": 1, "ease": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sched.Counts{New: 1, Learn: 1}, decode[sched.Counts](t, rec))

	card, err := st.GetCard(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueLearning, card.Queue)

	rec = do(t, srv, http.MethodPost, "/api/answer", `{"card_id": 1, "ease": 3}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "an answered card is no longer held")

	rec = do(t, srv, http.MethodPost, "/api/answer", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNextWhenFinished(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode[nextResponse](t, rec)
	assert.Nil(t, next.Card)
	assert.Equal(t, sched.Counts{}, next.Counts)

	rec = do(t, srv, http.MethodGet, "/api/congrats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sched.CongratsInfo{}, decode[sched.CongratsInfo](t, rec))
}

func TestPreview(t *testing.T) {
	srv, _ := newTestServer(t, newCard(1))

	rec := do(t, srv, http.MethodGet, "/api/preview/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []previewButton{
		{Ease: "again", Seconds: 60},
		{Ease: "hard", Seconds: 330},
		{Ease: "good", Seconds: 600},
		{Ease: "easy", Seconds: 4 * 86400},
	}, decode[[]previewButton](t, rec))

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/preview/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/preview/x", "").Code)
}

func TestForecastAndDecks(t *testing.T) {
	review := domain.Card{ID: 2, Type: domain.TypeReview, Queue: domain.QueueReview, Due: domain.DueDay(11), Ivl: 5, Factor: 2500}
	srv, _ := newTestServer(t, newCard(1), review)

	rec := do(t, srv, http.MethodGet, "/api/forecast?days=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{0, 1, 0}, decode[[]int](t, rec))

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/forecast?days=-1", "").Code)

	rec = do(t, srv, http.MethodGet, "/api/decks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []sched.DeckDue{{Name: "Default", ID: 1, New: 1}}, decode[[]sched.DeckDue](t, rec))
}

func TestSuspendAndBury(t *testing.T) {
	srv, st := newTestServer(t, newCard(1), newCard(2))
	ctx := context.Background()

	// The first fetch of the day unburies everything, so load the queues first.
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/counts", "").Code)

	rec := do(t, srv, http.MethodPost, "/api/suspend", `{"ids": [1]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	card, err := st.GetCard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueSuspended, card.Queue)

	rec = do(t, srv, http.MethodPost, "/api/bury", `{"ids": [2]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	card, err = st.GetCard(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueBuriedManual, card.Queue)

	rec = do(t, srv, http.MethodGet, "/api/counts", "")
	assert.Equal(t, sched.Counts{}, decode[sched.Counts](t, rec))

	require.Equal(t, http.StatusNoContent, do(t, srv, http.MethodPost, "/api/unsuspend", `{"ids": [1]}`).Code)
	require.Equal(t, http.StatusNoContent, do(t, srv, http.MethodPost, "/api/unbury?kind=manual", "").Code)

	rec = do(t, srv, http.MethodGet, "/api/counts", "")
	assert.Equal(t, sched.Counts{New: 2}, decode[sched.Counts](t, rec))

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/suspend", `{"ids": []}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/unbury?kind=some", "").Code)
}

func TestFilteredDecks(t *testing.T) {
	review := domain.Card{ID: 1, Type: domain.TypeReview, Queue: domain.QueueReview, Due: domain.DueDay(10), Ivl: 5, Factor: 2500}
	srv, st := newTestServer(t, review)
	st.AddDeck(&domain.Deck{
		ID:       20,
		Name:     "Cram",
		Filtered: true,
		Resched:  true,
		Terms: []domain.FilterTerm{
			{Search: "is:due", Limit: 10, Order: domain.DynDue},
			{Search: "is:nonsense", Limit: 10, Order: domain.DynDue},
		},
	})

	rec := do(t, srv, http.MethodPost, "/api/filtered/20/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[rebuildResponse](t, rec)
	assert.Equal(t, 1, res.Moved)
	assert.Len(t, res.Warnings, 1)

	rec = do(t, srv, http.MethodPost, "/api/filtered/20/empty", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"returned": 1}, decode[map[string]int](t, rec))

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/filtered/1/rebuild", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/filtered/99/empty", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodGet, "/api/filtered/20/empty", "").Code)
}
