package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

// CongratsInfo explains why no card is left to study.
type CongratsInfo struct {
	HasBuriedSiblings bool `json:"has_buried_siblings"`
	HasBuriedManual   bool `json:"has_buried_manual"`
	// NewDueTomorrow is set when new cards are held back by today's limit.
	NewDueTomorrow bool `json:"new_due_tomorrow"`
	// ReviewDueTomorrow is set when reviews fall due on the next day.
	ReviewDueTomorrow bool `json:"review_due_tomorrow"`
}

// CongratulationsInfo reports buried cards, new cards left over by the
// daily limit and reviews due tomorrow in the active decks.
func (s *Scheduler) CongratulationsInfo(ctx context.Context) (CongratsInfo, error) {
	if err := s.ensureQueues(ctx); err != nil {
		return CongratsInfo{}, err
	}
	active, err := s.activeDecks(ctx)
	if err != nil {
		return CongratsInfo{}, err
	}
	exists := func(e search.Expr) (bool, error) {
		n, err := s.store.CountCards(ctx, search.And(inDecks(active...), e), 1)
		return n > 0, err
	}
	var info CongratsInfo
	if info.HasBuriedSiblings, err = exists(queueIs(domain.QueueBuriedSibling)); err != nil {
		return info, fmt.Errorf("failed to check buried cards: %w", err)
	}
	if info.HasBuriedManual, err = exists(queueIs(domain.QueueBuriedManual)); err != nil {
		return info, fmt.Errorf("failed to check buried cards: %w", err)
	}
	if info.NewDueTomorrow, err = exists(queueIs(domain.QueueNew)); err != nil {
		return info, fmt.Errorf("failed to check new cards: %w", err)
	}
	tomorrow := search.And(queueIs(domain.QueueReview), search.Eq(search.FieldDue, int64(s.today+1)))
	if info.ReviewDueTomorrow, err = exists(tomorrow); err != nil {
		return info, fmt.Errorf("failed to check review cards: %w", err)
	}
	return info, nil
}

// DueForecast returns the number of reviews due in the active decks on
// each of the next days, today first.
func (s *Scheduler) DueForecast(ctx context.Context, days int) ([]int, error) {
	if days <= 0 {
		return nil, nil
	}
	if err := s.ensureQueues(ctx); err != nil {
		return nil, err
	}
	active, err := s.activeDecks(ctx)
	if err != nil {
		return nil, err
	}
	filter := search.And(inDecks(active...), queueIs(domain.QueueReview),
		search.Ge(search.FieldDue, int64(s.today)), search.Le(search.FieldDue, int64(s.today+days-1)))
	cards, err := s.store.FindCards(ctx, filter, search.By(search.OrderDue), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast: %w", err)
	}
	out := make([]int, days)
	for _, c := range cards {
		out[int(domain.RawDue(c.Due))-s.today]++
	}
	return out, nil
}

// DeckDue is one row of the deck list.
type DeckDue struct {
	Name   string `json:"name"`
	ID     int64  `json:"id"`
	Review int    `json:"review"`
	Learn  int    `json:"learn"`
	New    int    `json:"new"`
}

// DeckDueList returns the due counts of every deck in name order. Parent
// limits cap their children's counts.
func (s *Scheduler) DeckDueList(ctx context.Context) ([]DeckDue, error) {
	if err := s.ensureQueues(ctx); err != nil {
		return nil, err
	}
	idx, err := s.loadDecks(ctx)
	if err != nil {
		return nil, err
	}
	type limits struct{ newLim, revLim int }
	lims := make(map[string]limits)
	var out []DeckDue
	for _, d := range idx.sorted {
		parent, hasParent := lims[domain.ParentName(d.Name)]

		nlim, err := s.newLimitSingle(ctx, d)
		if err != nil {
			return nil, err
		}
		rlim, err := s.revLimitSingle(ctx, d)
		if err != nil {
			return nil, err
		}
		if hasParent {
			nlim = min(nlim, parent.newLim)
			rlim = min(rlim, parent.revLim)
		}

		row := DeckDue{Name: d.Name, ID: d.ID}
		if nlim > 0 {
			if row.New, err = s.countNew(ctx, d.ID, min(nlim, reportLimit)); err != nil {
				return nil, err
			}
		}
		if row.Learn, err = s.learnForDeck(ctx, d.ID); err != nil {
			return nil, err
		}
		if rlim > 0 {
			ids := []int64{d.ID}
			for _, c := range idx.children(d) {
				ids = append(ids, c.ID)
			}
			filter := search.And(inDecks(ids...), s.reviewDue())
			if row.Review, err = s.store.CountCards(ctx, filter, min(rlim, reportLimit)); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
		lims[d.Name] = limits{newLim: nlim, revLim: rlim}
	}
	return out, nil
}

func (s *Scheduler) learnForDeck(ctx context.Context, did int64) (int, error) {
	deck := search.Eq(search.FieldDeckID, did)
	subDay, err := s.store.CountCards(ctx, search.And(deck, queueIs(domain.QueueLearning),
		search.Lt(search.FieldDue, s.nowUnix()+s.collapseSeconds())), reportLimit)
	if err != nil {
		return 0, err
	}
	day, err := s.store.CountCards(ctx, search.And(deck, s.dayLearnDue()), reportLimit)
	if err != nil {
		return 0, err
	}
	return subDay + day, nil
}

// AnswerButtons is the number of answer buttons to show for a card: two
// for previews in filtered decks that do not reschedule, four otherwise.
func (s *Scheduler) AnswerButtons(ctx context.Context, card *domain.Card) (int, error) {
	conf, err := s.cardConfig(ctx, card)
	if err != nil {
		return 0, err
	}
	if conf.Previewing() {
		return 2, nil
	}
	return 4, nil
}

// NextInterval is the delay until the card would be shown again if it
// were answered with ease now. It changes nothing and ignores fuzz. Zero
// means the card leaves a preview deck.
func (s *Scheduler) NextInterval(ctx context.Context, card *domain.Card, ease domain.Ease) (time.Duration, error) {
	if !ease.IsValid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEase, int(ease))
	}
	if err := s.ensureQueues(ctx); err != nil {
		return 0, err
	}
	conf, err := s.cardConfig(ctx, card)
	if err != nil {
		return 0, err
	}
	return s.nextInterval(card.Clone(), ease, conf), nil
}

func seconds(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func days(n int) time.Duration {
	return time.Duration(n) * secondsPerDay * time.Second
}

func (s *Scheduler) nextInterval(c *domain.Card, ease domain.Ease, conf deckconf.Effective) time.Duration {
	if conf.Previewing() {
		if ease == domain.Again {
			return time.Duration(conf.PreviewDelay) * time.Minute
		}
		return 0
	}
	switch c.Queue {
	case domain.QueueNew, domain.QueueLearning, domain.QueueDayLearnRelearn:
		return s.nextLrnInterval(c, ease, conf)
	}
	if ease == domain.Again {
		if len(conf.Lapse.Delays) > 0 {
			return seconds(conf.Lapse.Delays[0] * 60)
		}
		return days(lapseIvl(c, conf.Lapse))
	}
	if c.InFiltered() && c.ODue > int64(s.today) {
		return days(earlyReviewIvl(c, ease, conf.Rev, int(c.ODue)-s.today))
	}
	return days(nextRevIvl(s.rng, c, ease, conf.Rev, s.daysLate(c), false))
}

func (s *Scheduler) nextLrnInterval(c *domain.Card, ease domain.Ease, conf deckconf.Effective) time.Duration {
	delays := lrnDelays(c, conf)
	if c.Queue == domain.QueueNew {
		c.Left = startingLeft(delays, s.nowUnix(), s.dayCutoff)
	}
	switch ease {
	case domain.Again:
		return seconds(delayForGrade(delays, len(delays)))
	case domain.Hard:
		return seconds(delayForRepeatingGrade(delays, c.Left))
	case domain.Easy:
		return days(graduatingIvl(nil, c, conf.New, true, false))
	}
	left := c.Left%1000 - 1
	if left <= 0 {
		return days(graduatingIvl(nil, c, conf.New, false, false))
	}
	return seconds(delayForGrade(delays, left))
}
