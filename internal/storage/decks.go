package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/conorfennell/knolsched/internal/domain"
)

const deckColumns = `id, name, conf_id, filtered, new_day, new_count, rev_day, rev_count,
	lrn_day, lrn_count, time_day, time_count, terms, resched, preview_delay`

func scanDeck(s scanner) (*domain.Deck, error) {
	var d domain.Deck
	var terms string
	var delay sql.NullInt64
	err := s.Scan(&d.ID, &d.Name, &d.ConfID, &d.Filtered,
		&d.NewToday.Day, &d.NewToday.Count, &d.ReviewToday.Day, &d.ReviewToday.Count,
		&d.LearnToday.Day, &d.LearnToday.Count, &d.TimeToday.Day, &d.TimeToday.Count,
		&terms, &d.Resched, &delay)
	if err != nil {
		return nil, err
	}
	if delay.Valid {
		v := int(delay.Int64)
		d.PreviewDelay = &v
	}
	if err := json.Unmarshal([]byte(terms), &d.Terms); err != nil {
		return nil, fmt.Errorf("failed to decode terms of deck %d: %w", d.ID, err)
	}
	return &d, nil
}

// SaveDeck inserts or replaces a deck.
func (db *DB) SaveDeck(ctx context.Context, d *domain.Deck) error {
	terms := d.Terms
	if terms == nil {
		terms = []domain.FilterTerm{}
	}
	blob, err := json.Marshal(terms)
	if err != nil {
		return fmt.Errorf("failed to encode terms of deck %d: %w", d.ID, err)
	}
	var delay sql.NullInt64
	if d.PreviewDelay != nil {
		delay = sql.NullInt64{Int64: int64(*d.PreviewDelay), Valid: true}
	}
	query := `INSERT OR REPLACE INTO decks (` + deckColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.conn.ExecContext(ctx, query, d.ID, d.Name, d.ConfID, d.Filtered,
		d.NewToday.Day, d.NewToday.Count, d.ReviewToday.Day, d.ReviewToday.Count,
		d.LearnToday.Day, d.LearnToday.Count, d.TimeToday.Day, d.TimeToday.Count,
		string(blob), d.Resched, delay)
	if err != nil {
		return fmt.Errorf("failed to save deck %d: %w", d.ID, err)
	}
	return nil
}

// Deck loads one deck.
func (db *DB) Deck(ctx context.Context, id int64) (*domain.Deck, error) {
	d, err := scanDeck(db.conn.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("deck %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load deck %d: %w", id, err)
	}
	return d, nil
}

// Decks returns every deck ordered by name.
func (db *DB) Decks(ctx context.Context) ([]*domain.Deck, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+deckColumns+` FROM decks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query decks: %w", err)
	}
	defer rows.Close()

	var decks []*domain.Deck
	for rows.Next() {
		d, err := scanDeck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deck: %w", err)
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// ActiveDeckIDs returns the selected deck followed by its descendants in
// name order.
func (db *DB) ActiveDeckIDs(ctx context.Context) ([]int64, error) {
	var selected int64
	if err := db.conn.QueryRowContext(ctx, `SELECT selected_deck FROM col WHERE id = 1`).Scan(&selected); err != nil {
		return nil, fmt.Errorf("failed to read selected deck: %w", err)
	}
	decks, err := db.Decks(ctx)
	if err != nil {
		return nil, err
	}
	var sel *domain.Deck
	for _, d := range decks {
		if d.ID == selected {
			sel = d
		}
	}
	if sel == nil {
		return nil, nil
	}
	ids := []int64{sel.ID}
	for _, d := range decks {
		if domain.IsDescendant(d.Name, sel.Name) {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// TodayCounters returns the deck's tallies for today.
func (db *DB) TodayCounters(ctx context.Context, deckID int64, today int) (domain.Counters, error) {
	d, err := db.Deck(ctx, deckID)
	if err != nil {
		return domain.Counters{}, err
	}
	return d.Today(today), nil
}

// UpdateTodayCounters adds delta to the deck's tallies for today.
func (db *DB) UpdateTodayCounters(ctx context.Context, deckID int64, today int, delta domain.Counters) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	d, err := scanDeck(tx.QueryRowContext(ctx, `SELECT `+deckColumns+` FROM decks WHERE id = ?`, deckID))
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to load deck %d: %w", deckID, err)
	}
	d.AddToday(today, delta)
	query := `UPDATE decks SET new_day = ?, new_count = ?, rev_day = ?, rev_count = ?,
		lrn_day = ?, lrn_count = ?, time_day = ?, time_count = ? WHERE id = ?`
	_, err = tx.ExecContext(ctx, query, d.NewToday.Day, d.NewToday.Count, d.ReviewToday.Day, d.ReviewToday.Count,
		d.LearnToday.Day, d.LearnToday.Count, d.TimeToday.Day, d.TimeToday.Count, deckID)
	if err != nil {
		return fmt.Errorf("failed to update counters of deck %d: %w", deckID, err)
	}
	return tx.Commit()
}
