package sched

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
)

// LeechTag is added to the note of a card that keeps lapsing.
const LeechTag = "leech"

var factorAdjust = map[domain.Ease]int{
	domain.Hard: -150,
	domain.Good: 0,
	domain.Easy: 150,
}

// AnswerCard grades a card and persists the result: the card itself, a
// revlog row and the daily counters of its deck and the deck's parents.
// Invalid input is rejected before anything is written. The caller's card
// and the learning queue only change once the revlog and the card are
// saved.
func (s *Scheduler) AnswerCard(ctx context.Context, card *domain.Card, ease domain.Ease) error {
	if !ease.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidEase, int(ease))
	}
	if !card.Queue.IsActive() {
		return fmt.Errorf("%w: card %d is %s", ErrInvalidQueue, card.ID, card.Queue)
	}
	if err := s.ensureQueues(ctx); err != nil {
		return err
	}
	conf, err := s.cardConfig(ctx, card)
	if err != nil {
		return err
	}
	if card.Queue == domain.QueuePreview && !conf.Previewing() {
		return fmt.Errorf("%w: card %d is previewed outside a preview deck", ErrInvalidQueue, card.ID)
	}

	lrnCount, lrnQueue := s.lrnCount, slices.Clone(s.lrnQueue)
	rollback := func() {
		s.lrnCount, s.lrnQueue = lrnCount, lrnQueue
	}

	answered := card.Clone()
	statsDeck := card.DeckID
	var delta domain.Counters
	entry, err := s.answer(ctx, answered, ease, conf, &delta)
	if err != nil {
		rollback()
		return err
	}

	now := s.clock.Now()
	taken := answered.TimeTaken(now, time.Duration(conf.MaxTaken)*time.Second)
	entry.TimeMS = int(taken.Milliseconds())
	delta.TimeMS += entry.TimeMS
	if err := s.writeRevlog(ctx, entry); err != nil {
		rollback()
		return err
	}

	answered.Mod = now.Unix()
	if err := s.store.UpdateCard(ctx, answered); err != nil {
		rollback()
		return fmt.Errorf("failed to save card %d: %w", card.ID, err)
	}
	*card = *answered

	if !s.opts.BuryOnFetch {
		if err := s.burySiblings(ctx, card, conf); err != nil {
			return err
		}
	}
	return s.updateStats(ctx, statsDeck, delta)
}

func (s *Scheduler) answer(ctx context.Context, card *domain.Card, ease domain.Ease, conf deckconf.Effective, delta *domain.Counters) (domain.RevlogEntry, error) {
	if conf.Previewing() {
		return s.answerPreview(card, ease, conf), nil
	}

	card.Reps++
	if card.Queue == domain.QueueNew {
		card.Queue = domain.QueueLearning
		card.Type = domain.TypeLearning
		card.Left = startingLeft(lrnDelays(card, conf), s.nowUnix(), s.dayCutoff)
		delta.New++
	} else if card.Queue != domain.QueueReview {
		delta.Learn++
	}

	var entry domain.RevlogEntry
	var err error
	switch card.Queue {
	case domain.QueueLearning, domain.QueueDayLearnRelearn:
		entry = s.answerLrnCard(card, ease, conf)
	case domain.QueueReview:
		entry, err = s.answerRevCard(ctx, card, ease, conf)
		delta.Review++
	default:
		return entry, fmt.Errorf("%w: card %d is %s", ErrInvalidQueue, card.ID, card.Queue)
	}
	if err != nil {
		return entry, err
	}

	// Once answered, the due date the card had before entering a
	// filtered deck no longer applies.
	card.ODue = 0
	return entry, nil
}

// lrnDelays are the steps of a card in learning: lapse steps for cards
// that have been reviewed before, new card steps otherwise.
func lrnDelays(card *domain.Card, conf deckconf.Effective) []float64 {
	if card.Type == domain.TypeReview || card.Type == domain.TypeRelearning {
		return conf.Lapse.Delays
	}
	return conf.New.Delays
}

func (s *Scheduler) answerLrnCard(card *domain.Card, ease domain.Ease, conf deckconf.Effective) domain.RevlogEntry {
	delays := lrnDelays(card, conf)
	typ := domain.RevlogLearn
	if card.Type == domain.TypeReview || card.Type == domain.TypeRelearning {
		typ = domain.RevlogRelearn
	}
	lastLeft := card.Left
	leaving := false

	switch ease {
	case domain.Easy:
		s.rescheduleAsRev(card, conf, true)
		leaving = true
	case domain.Good:
		if card.Left%1000-1 <= 0 {
			s.rescheduleAsRev(card, conf, false)
			leaving = true
		} else {
			s.moveToNextStep(card, delays)
		}
	case domain.Hard:
		s.rescheduleLrnCard(card, delayForRepeatingGrade(delays, card.Left))
	default:
		s.moveToFirstStep(card, conf)
	}

	ivl := card.Ivl
	if !leaving {
		ivl = -int(delayForGrade(delays, card.Left))
	}
	return domain.RevlogEntry{
		CardID:  card.ID,
		Ease:    ease,
		Reps:    card.Reps,
		Ivl:     ivl,
		LastIvl: -int(delayForGrade(delays, lastLeft)),
		Factor:  card.Factor,
		Type:    typ,
	}
}

// moveToFirstStep restarts the learning steps. A relearning card also
// takes its post-lapse interval. It returns the delay in seconds.
func (s *Scheduler) moveToFirstStep(card *domain.Card, conf deckconf.Effective) float64 {
	delays := lrnDelays(card, conf)
	card.Left = startingLeft(delays, s.nowUnix(), s.dayCutoff)
	if card.Type == domain.TypeRelearning {
		card.LastIvl = card.Ivl
		card.Ivl = lapseIvl(card, conf.Lapse)
	}
	return s.rescheduleLrnCard(card, delayForGrade(delays, card.Left))
}

func (s *Scheduler) moveToNextStep(card *domain.Card, delays []float64) {
	left := card.Left%1000 - 1
	card.Left = leftToday(delays, left, s.nowUnix(), s.dayCutoff)*1000 + left
	s.rescheduleLrnCard(card, delayForGrade(delays, card.Left))
}

// rescheduleLrnCard schedules the card delay seconds from now. Cards due
// before the day cutoff stay in the learning queue with a little fuzz;
// later ones move to the day-learning queue.
func (s *Scheduler) rescheduleLrnCard(card *domain.Card, delay float64) float64 {
	now := s.clock.Now()
	due := int64(float64(now.UnixNano())/1e9 + delay)
	if due < s.dayCutoff {
		// Up to five minutes or a quarter of the delay.
		if maxExtra := min(300, int(delay*0.25)); maxExtra > 0 {
			due += int64(s.rng.IntN(maxExtra))
		}
		due = min(s.dayCutoff-1, due)
		card.Queue = domain.QueueLearning
		if due < now.Unix()+s.collapseSeconds() {
			s.lrnCount++
			// With nothing else left, don't show the same card twice in a row.
			if len(s.lrnQueue) > 0 && s.revCount == 0 && s.newCount == 0 {
				due = max(due, s.lrnQueue[0].due+1)
			}
			heap.Push(&s.lrnQueue, lrnEntry{due: due, id: card.ID})
		}
		card.Due = domain.DueTimestamp(due)
		return delay
	}
	ahead := (due-s.dayCutoff)/secondsPerDay + 1
	card.Due = domain.DueDay(int64(s.today) + ahead)
	card.Queue = domain.QueueDayLearnRelearn
	return delay
}

// rescheduleAsRev moves a card out of learning into the review queue and,
// when it sits in a filtered deck, back to its home deck.
func (s *Scheduler) rescheduleAsRev(card *domain.Card, conf deckconf.Effective, early bool) {
	if card.Type == domain.TypeReview || card.Type == domain.TypeRelearning {
		if early {
			card.Ivl++
		}
		card.Due = domain.DueDay(int64(s.today + card.Ivl))
	} else {
		card.Ivl = graduatingIvl(s.rng, card, conf.New, early, true)
		card.Due = domain.DueDay(int64(s.today + card.Ivl))
		card.Factor = conf.New.InitialFactor
	}
	card.Type = domain.TypeReview
	card.Queue = domain.QueueReview
	removeFromFiltered(card)
}

func (s *Scheduler) daysLate(card *domain.Card) int {
	due := domain.RawDue(card.Due)
	if card.InFiltered() {
		due = card.ODue
	}
	return max(0, s.today-int(due))
}

func (s *Scheduler) answerRevCard(ctx context.Context, card *domain.Card, ease domain.Ease, conf deckconf.Effective) (domain.RevlogEntry, error) {
	early := card.InFiltered() && card.ODue > int64(s.today)
	typ := domain.RevlogReview
	if early {
		typ = domain.RevlogCram
	}

	var delay float64
	if ease == domain.Again {
		var err error
		if delay, err = s.rescheduleLapse(ctx, card, conf); err != nil {
			return domain.RevlogEntry{}, err
		}
	} else {
		s.rescheduleRev(card, ease, conf, early)
	}

	ivl := card.Ivl
	if delay != 0 {
		ivl = -int(delay)
	}
	return domain.RevlogEntry{
		CardID:  card.ID,
		Ease:    ease,
		Reps:    card.Reps,
		Ivl:     ivl,
		LastIvl: card.LastIvl,
		Factor:  card.Factor,
		Type:    typ,
	}, nil
}

// rescheduleLapse handles a failed review. It returns the relearning delay
// in seconds, or zero when the card goes straight back to review.
func (s *Scheduler) rescheduleLapse(ctx context.Context, card *domain.Card, conf deckconf.Effective) (float64, error) {
	card.Lapses++
	card.Factor = max(deckconf.MinFactor, card.Factor-200)

	leech, err := s.checkLeech(ctx, card, conf.Lapse)
	if err != nil {
		return 0, err
	}
	suspended := leech && card.Queue == domain.QueueSuspended

	if len(conf.Lapse.Delays) > 0 && !suspended {
		card.Type = domain.TypeRelearning
		return s.moveToFirstStep(card, conf), nil
	}
	card.LastIvl = card.Ivl
	card.Ivl = lapseIvl(card, conf.Lapse)
	s.rescheduleAsRev(card, conf, false)
	if suspended {
		card.Queue = domain.QueueSuspended
	}
	return 0, nil
}

func (s *Scheduler) rescheduleRev(card *domain.Card, ease domain.Ease, conf deckconf.Effective, early bool) {
	card.LastIvl = card.Ivl
	if early {
		card.Ivl = earlyReviewIvl(card, ease, conf.Rev, int(card.ODue)-s.today)
	} else {
		card.Ivl = nextRevIvl(s.rng, card, ease, conf.Rev, s.daysLate(card), true)
	}
	card.Factor = max(deckconf.MinFactor, card.Factor+factorAdjust[ease])
	card.Due = domain.DueDay(int64(s.today + card.Ivl))
	removeFromFiltered(card)
}

// checkLeech tags the note of a card that reached the leech threshold, or
// every half threshold after it, and suspends the card when configured to.
func (s *Scheduler) checkLeech(ctx context.Context, card *domain.Card, lapse deckconf.LapseConfig) (bool, error) {
	lf := lapse.LeechFails
	if lf == 0 {
		return false, nil
	}
	if card.Lapses < lf || (card.Lapses-lf)%max(lf/2, 1) != 0 {
		return false, nil
	}
	if err := s.store.AddNoteTag(ctx, card.NoteID, LeechTag); err != nil {
		return false, fmt.Errorf("failed to tag leech %d: %w", card.ID, err)
	}
	if lapse.LeechAction == deckconf.LeechSuspend {
		card.Queue = domain.QueueSuspended
	}
	s.log.Info("leech", "card", card.ID, "note", card.NoteID, "lapses", card.Lapses)
	if s.opts.OnLeech != nil {
		s.opts.OnLeech(card)
	}
	return true, nil
}

// answerPreview handles a card in a filtered deck that does not
// reschedule: Again shows it again after the preview delay, anything else
// sends it home untouched.
func (s *Scheduler) answerPreview(card *domain.Card, ease domain.Ease, conf deckconf.Effective) domain.RevlogEntry {
	ivl := card.Ivl
	if ease == domain.Again {
		delay := conf.PreviewDelay * 60
		card.Queue = domain.QueuePreview
		card.Due = domain.DueTimestamp(s.nowUnix() + int64(delay))
		s.lrnCount++
		ivl = -delay
	} else {
		restoreFromFiltered(card)
	}
	return domain.RevlogEntry{
		CardID:  card.ID,
		Ease:    ease,
		Reps:    card.Reps,
		Ivl:     ivl,
		LastIvl: card.Ivl,
		Factor:  card.Factor,
		Type:    domain.RevlogCram,
	}
}

// removeFromFiltered sends a card back to its home deck, keeping the
// scheduling it has now.
func removeFromFiltered(card *domain.Card) {
	if card.ODeckID != 0 {
		card.DeckID = card.ODeckID
		card.ODue = 0
		card.ODeckID = 0
	}
}

// restoreFromFiltered sends a card back to its home deck with the due
// date and queue it had before it was moved.
func restoreFromFiltered(card *domain.Card) {
	if card.ODeckID == 0 {
		return
	}
	due := domain.RawDue(card.Due)
	if card.ODue > 0 {
		due = card.ODue
	}
	card.Queue = domain.RestoreQueue(card.Type, due)
	card.Due = domain.DueFromRaw(card.Queue, card.Type, due)
	card.DeckID = card.ODeckID
	card.ODue = 0
	card.ODeckID = 0
}

func (s *Scheduler) writeRevlog(ctx context.Context, e domain.RevlogEntry) error {
	e.ID = s.clock.Now().UnixMilli()
	err := s.store.AddRevlog(ctx, e)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrRevlogConflict) {
		return fmt.Errorf("failed to write revlog for card %d: %w", e.CardID, err)
	}
	s.log.Warn("revlog timestamp collision, retrying", "card", e.CardID, "id", e.ID)
	s.clock.Sleep(10*time.Millisecond + time.Duration(s.rng.IntN(5000))*time.Microsecond)
	e.ID = s.clock.Now().UnixMilli()
	if err := s.store.AddRevlog(ctx, e); err != nil {
		return fmt.Errorf("failed to write revlog for card %d: %w", e.CardID, err)
	}
	return nil
}

// updateStats adds delta to today's counters of a deck and its parents.
func (s *Scheduler) updateStats(ctx context.Context, deckID int64, delta domain.Counters) error {
	if delta.IsZero() {
		return nil
	}
	idx, err := s.loadDecks(ctx)
	if err != nil {
		return err
	}
	d, ok := idx.byID[deckID]
	if !ok {
		s.log.Warn("answered card in missing deck", "deck", deckID)
		return nil
	}
	for _, g := range append([]*domain.Deck{d}, idx.parents(d)...) {
		if err := s.store.UpdateTodayCounters(ctx, g.ID, s.today, delta); err != nil {
			return fmt.Errorf("failed to update counters of deck %d: %w", g.ID, err)
		}
	}
	return nil
}
