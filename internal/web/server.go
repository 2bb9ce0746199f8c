// Package web serves the scheduler as a small JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/sched"
)

// Store loads cards and the notes they show.
type Store interface {
	GetCard(ctx context.Context, id int64) (*domain.Card, error)
	Note(ctx context.Context, id int64) (*domain.Note, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	store  Store
	router *http.ServeMux
	log    *slog.Logger

	// mu serialises access to the scheduler.
	mu    sync.Mutex
	sched *sched.Scheduler
	held  *domain.Card
}

// NewServer creates and configures a new server.
func NewServer(s *sched.Scheduler, store Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{
		store:  store,
		router: http.NewServeMux(),
		log:    log,
		sched:  s,
	}
	srv.routes()
	return srv
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /api/next", s.handleNext())
	s.router.HandleFunc("POST /api/answer", s.handleAnswer())
	s.router.HandleFunc("GET /api/counts", s.handleCounts())
	s.router.HandleFunc("GET /api/preview/{id}", s.handlePreview())
	s.router.HandleFunc("GET /api/congrats", s.handleCongrats())
	s.router.HandleFunc("GET /api/forecast", s.handleForecast())
	s.router.HandleFunc("GET /api/decks", s.handleDecks())

	s.router.HandleFunc("POST /api/suspend", s.handleIDs("suspend", s.sched.Suspend))
	s.router.HandleFunc("POST /api/unsuspend", s.handleIDs("unsuspend", s.sched.Unsuspend))
	s.router.HandleFunc("POST /api/bury", s.handleIDs("bury", func(ctx context.Context, ids []int64) error {
		return s.sched.Bury(ctx, ids, true)
	}))
	s.router.HandleFunc("POST /api/unbury", s.handleUnbury())

	s.router.HandleFunc("POST /api/filtered/{id}/rebuild", s.handleRebuild())
	s.router.HandleFunc("POST /api/filtered/{id}/empty", s.handleEmpty())
}

type cardView struct {
	ID       int64    `json:"id"`
	NoteID   int64    `json:"note_id"`
	DeckID   int64    `json:"deck_id"`
	Ord      int      `json:"ord"`
	Type     string   `json:"type"`
	Queue    string   `json:"queue"`
	Ivl      int      `json:"ivl"`
	Factor   int      `json:"factor"`
	Reps     int      `json:"reps"`
	Lapses   int      `json:"lapses"`
	Buttons  int      `json:"buttons"`
	Question string   `json:"question,omitempty"`
	Answer   string   `json:"answer,omitempty"`
	Context  string   `json:"context,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type nextResponse struct {
	Card   *cardView    `json:"card"`
	Counts sched.Counts `json:"counts"`
}

// handleNext fetches the next card and holds it until it is answered.
func (s *Server) handleNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		card, err := s.sched.GetCard(r.Context())
		if err != nil {
			s.fail(w, "fetching next card", err)
			return
		}
		s.held = card

		var resp nextResponse
		if card != nil {
			buttons, err := s.sched.AnswerButtons(r.Context(), card)
			if err != nil {
				s.fail(w, "counting answer buttons", err)
				return
			}
			resp.Card = &cardView{
				ID:      card.ID,
				NoteID:  card.NoteID,
				DeckID:  card.DeckID,
				Ord:     card.Ord,
				Type:    card.Type.String(),
				Queue:   card.Queue.String(),
				Ivl:     card.Ivl,
				Factor:  card.Factor,
				Reps:    card.Reps,
				Lapses:  card.Lapses,
				Buttons: buttons,
			}
			note, err := s.store.Note(r.Context(), card.NoteID)
			switch {
			case err == nil:
				resp.Card.Question = note.Question
				resp.Card.Answer = note.Answer
				resp.Card.Context = note.Context
				resp.Card.Tags = note.Tags
			case !errors.Is(err, domain.ErrNotFound):
				s.fail(w, "loading note", err)
				return
			}
		}
		if resp.Counts, err = s.sched.Counts(r.Context(), card); err != nil {
			s.fail(w, "counting cards", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type answerRequest struct {
	CardID int64 `json:"card_id"`
	Ease   int   `json:"ease"`
}

// handleAnswer answers the held card.
func (s *Server) handleAnswer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.held == nil || s.held.ID != req.CardID {
			http.Error(w, "Card is not the current card", http.StatusConflict)
			return
		}
		if err := s.sched.AnswerCard(r.Context(), s.held, domain.Ease(req.Ease)); err != nil {
			s.fail(w, "answering card", err)
			return
		}
		s.log.Debug("card answered", "card", req.CardID, "ease", domain.Ease(req.Ease))
		s.held = nil

		counts, err := s.sched.Counts(r.Context(), nil)
		if err != nil {
			s.fail(w, "counting cards", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func (s *Server) handleCounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		counts, err := s.sched.Counts(r.Context(), s.held)
		if err != nil {
			s.fail(w, "counting cards", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

type previewButton struct {
	Ease    string `json:"ease"`
	Seconds int64  `json:"seconds"`
}

// handlePreview reports the next interval of every button of a card.
func (s *Server) handlePreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid card id", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		card, err := s.store.GetCard(r.Context(), id)
		if err != nil {
			s.fail(w, "loading card", err)
			return
		}
		buttons, err := s.sched.AnswerButtons(r.Context(), card)
		if err != nil {
			s.fail(w, "counting answer buttons", err)
			return
		}
		eases := []domain.Ease{domain.Again, domain.Hard, domain.Good, domain.Easy}
		if buttons == 2 {
			eases = []domain.Ease{domain.Again, domain.Good}
		}
		out := make([]previewButton, 0, len(eases))
		for _, e := range eases {
			d, err := s.sched.NextInterval(r.Context(), card, e)
			if err != nil {
				s.fail(w, "previewing interval", err)
				return
			}
			out = append(out, previewButton{Ease: e.String(), Seconds: int64(d / time.Second)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCongrats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		info, err := s.sched.CongratulationsInfo(r.Context())
		if err != nil {
			s.fail(w, "building congratulations info", err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) handleForecast() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 365 {
				http.Error(w, "Invalid days", http.StatusBadRequest)
				return
			}
			days = n
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		forecast, err := s.sched.DueForecast(r.Context(), days)
		if err != nil {
			s.fail(w, "building forecast", err)
			return
		}
		writeJSON(w, http.StatusOK, forecast)
	}
}

func (s *Server) handleDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		list, err := s.sched.DeckDueList(r.Context())
		if err != nil {
			s.fail(w, "listing decks", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

// handleIDs applies op to the card ids in the request body. The held card
// is dropped since op may move it out of its queue.
func (s *Server) handleIDs(name string, op func(context.Context, []int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req idsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if err := op(r.Context(), req.IDs); err != nil {
			s.fail(w, name, err)
			return
		}
		s.held = nil
		s.log.Info("cards updated", "op", name, "count", len(req.IDs))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleUnbury() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := sched.ParseUnburyKind(r.URL.Query().Get("kind"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.sched.UnburyForDeck(r.Context(), kind); err != nil {
			s.fail(w, "unburying cards", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type rebuildResponse struct {
	Moved    int      `json:"moved"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) handleRebuild() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid deck id", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		res, err := s.sched.RebuildFiltered(r.Context(), id)
		if err != nil {
			s.fail(w, "rebuilding filtered deck", err)
			return
		}
		s.held = nil
		resp := rebuildResponse{Moved: res.Moved}
		for _, warn := range res.Warnings {
			s.log.Warn("filtered deck term skipped", "deck", id, "term", warn.Index, "search", warn.Search, "err", warn.Err)
			resp.Warnings = append(resp.Warnings, warn.Error())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleEmpty() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid deck id", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		n, err := s.sched.EmptyFiltered(r.Context(), id)
		if err != nil {
			s.fail(w, "emptying filtered deck", err)
			return
		}
		s.held = nil
		writeJSON(w, http.StatusOK, map[string]int{"returned": n})
	}
}

// fail maps scheduler errors onto HTTP statuses. Unexpected errors are
// logged and hidden from the client.
func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidEase), errors.Is(err, sched.ErrNotFiltered), errors.Is(err, sched.ErrInvalidInterval):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, sched.ErrInvalidQueue):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("request failed", "action", action, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
