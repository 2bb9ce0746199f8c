package sched

import (
	"context"
	"fmt"
	"time"
)

const secondsPerDay = 86400

// daysSinceCreation counts the calendar days in loc between the scheduling
// day of the creation time and the scheduling day of now. A scheduling day
// starts at rolloverHour, so a time before it belongs to the previous date.
func daysSinceCreation(created, now time.Time, rolloverHour int, loc *time.Location) int {
	return int(floorDiv(schedDate(now, rolloverHour, loc)-schedDate(created, rolloverHour, loc), secondsPerDay))
}

// schedDate is the civil date of t's scheduling day as a UTC midnight in
// Unix seconds, so that date differences ignore offset changes.
func schedDate(t time.Time, rolloverHour int, loc *time.Location) int64 {
	l := t.In(loc)
	if l.Hour() < rolloverHour {
		l = l.AddDate(0, 0, -1)
	}
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// dayCutoff is the next rollover instant after now.
func dayCutoff(now time.Time, rolloverHour int, loc *time.Location) int64 {
	n := now.In(loc)
	cut := time.Date(n.Year(), n.Month(), n.Day(), rolloverHour, 0, 0, 0, loc)
	if !cut.After(n) {
		cut = cut.AddDate(0, 0, 1)
	}
	return cut.Unix()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func (s *Scheduler) rolloverHour() int {
	h := s.opts.RolloverHour
	if h < 0 {
		h += 24
	}
	return h
}

// updateCutoff recomputes today and the day cutoff and unburies cards the
// first time a new day is seen.
func (s *Scheduler) updateCutoff(ctx context.Context) error {
	col, err := s.store.Collection(ctx)
	if err != nil {
		return fmt.Errorf("failed to read collection: %w", err)
	}
	now := s.clock.Now()
	old := s.today
	s.today = daysSinceCreation(col.Created, now, s.rolloverHour(), s.opts.Location)
	s.dayCutoff = dayCutoff(now, s.rolloverHour(), s.opts.Location)
	if old != s.today {
		s.log.Info("day rollover", "today", s.today, "cutoff", time.Unix(s.dayCutoff, 0))
	}
	if col.LastUnburied < s.today {
		n, err := s.unburyWhere(ctx, nil, allBuried)
		if err != nil {
			return err
		}
		if err := s.store.SetLastUnburied(ctx, s.today); err != nil {
			return fmt.Errorf("failed to record unbury day: %w", err)
		}
		if n > 0 {
			s.log.Info("unburied cards at rollover", "count", n, "today", s.today)
		}
	}
	return nil
}

// checkDay resets the queues once the day cutoff has passed.
func (s *Scheduler) checkDay(ctx context.Context) error {
	if s.dayCutoff != 0 && s.clock.Now().Unix() >= s.dayCutoff {
		return s.Reset(ctx)
	}
	return nil
}

func (s *Scheduler) nowUnix() int64 {
	return s.clock.Now().Unix()
}

func (s *Scheduler) collapseSeconds() int64 {
	return int64(s.opts.CollapseTime / time.Second)
}
