package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/search"
)

const cardColumns = `c.id, c.nid, c.did, c.ord, c.type, c.queue, c.due, c.ivl, c.factor,
	c.reps, c.lapses, c.left_steps, c.odue, c.odid, c.mod`

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (*domain.Card, error) {
	var c domain.Card
	var due int64
	err := s.Scan(&c.ID, &c.NoteID, &c.DeckID, &c.Ord, &c.Type, &c.Queue, &due, &c.Ivl, &c.Factor,
		&c.Reps, &c.Lapses, &c.Left, &c.ODue, &c.ODeckID, &c.Mod)
	if err != nil {
		return nil, err
	}
	c.Due = domain.DueFromRaw(c.Queue, c.Type, due)
	return &c, nil
}

// AddCard inserts a card, replacing any card with the same id. The card's
// note is created without tags if it does not exist yet.
func (db *DB) AddCard(ctx context.Context, c *domain.Card) error {
	if _, err := db.conn.ExecContext(ctx, `INSERT OR IGNORE INTO notes (id) VALUES (?)`, c.NoteID); err != nil {
		return fmt.Errorf("failed to insert note %d: %w", c.NoteID, err)
	}
	query := `INSERT OR REPLACE INTO cards (id, nid, did, ord, type, queue, due, ivl, factor,
		reps, lapses, left_steps, odue, odid, mod) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, c.ID, c.NoteID, c.DeckID, c.Ord, c.Type, c.Queue,
		domain.RawDue(c.Due), c.Ivl, c.Factor, c.Reps, c.Lapses, c.Left, c.ODue, c.ODeckID, c.Mod)
	if err != nil {
		return fmt.Errorf("failed to insert card %d: %w", c.ID, err)
	}
	return nil
}

// GetCard loads one card.
func (db *DB) GetCard(ctx context.Context, id int64) (*domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards c WHERE c.id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("card %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load card %d: %w", id, err)
	}
	return c, nil
}

// UpdateCard writes every scheduling field of the card.
func (db *DB) UpdateCard(ctx context.Context, c *domain.Card) error {
	query := `UPDATE cards SET nid = ?, did = ?, ord = ?, type = ?, queue = ?, due = ?, ivl = ?, factor = ?,
		reps = ?, lapses = ?, left_steps = ?, odue = ?, odid = ?, mod = ? WHERE id = ?`
	res, err := db.conn.ExecContext(ctx, query, c.NoteID, c.DeckID, c.Ord, c.Type, c.Queue,
		domain.RawDue(c.Due), c.Ivl, c.Factor, c.Reps, c.Lapses, c.Left, c.ODue, c.ODeckID, c.Mod, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update card %d: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("card %d: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

func selectCards(what string, filter search.Expr, order search.Order, limit int) (string, []any) {
	where, args := search.SQL(filter)
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(what)
	b.WriteString(" FROM cards c WHERE ")
	b.WriteString(where)
	if o := order.SQL(); o != "" {
		b.WriteString(" ")
		b.WriteString(o)
	}
	if limit <= 0 {
		// SQLite treats a negative limit as no limit.
		limit = -1
	}
	b.WriteString(" LIMIT ?")
	return b.String(), append(args, limit)
}

// FindCards returns the matching cards. A limit of zero or less means no
// limit.
func (db *DB) FindCards(ctx context.Context, filter search.Expr, order search.Order, limit int) ([]*domain.Card, error) {
	query, args := selectCards(cardColumns, filter, order, limit)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []*domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// FindCardIDs returns the ids of the matching cards.
func (db *DB) FindCardIDs(ctx context.Context, filter search.Expr, order search.Order, limit int) ([]int64, error) {
	query, args := selectCards("c.id", filter, order, limit)
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query card ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountCards counts matching cards, stopping at limit when it is positive.
func (db *DB) CountCards(ctx context.Context, filter search.Expr, limit int) (int, error) {
	inner, args := selectCards("1", filter, search.By(search.OrderNone), limit)
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT count() FROM ("+inner+")", args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// BulkUpdateQueue moves the given cards to queue, leaving every other
// field untouched.
func (db *DB) BulkUpdateQueue(ctx context.Context, ids []int64, queue domain.Queue) error {
	if len(ids) == 0 {
		return nil
	}
	where, args := search.SQL(search.In(search.FieldID, ids...))
	args = append([]any{queue, time.Now().Unix()}, args...)
	query := "UPDATE cards SET queue = ?, mod = ? WHERE id IN (SELECT c.id FROM cards c WHERE " + where + ")"
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to move %d cards to queue %s: %w", len(ids), queue, err)
	}
	return nil
}

// AddNote inserts a note with its tags, replacing an existing one.
func (db *DB) AddNote(ctx context.Context, id int64, tags ...string) error {
	_, err := db.conn.ExecContext(ctx, `INSERT OR REPLACE INTO notes (id, tags) VALUES (?, ?)`, id, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("failed to insert note %d: %w", id, err)
	}
	return nil
}

// SaveNote inserts or replaces a note with its content.
func (db *DB) SaveNote(ctx context.Context, n domain.Note) error {
	query := `INSERT OR REPLACE INTO notes (id, tags, question, answer, context) VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, n.ID, strings.Join(n.Tags, " "), n.Question, n.Answer, n.Context)
	if err != nil {
		return fmt.Errorf("failed to save note %d: %w", n.ID, err)
	}
	return nil
}

// Note loads a note with its content.
func (db *DB) Note(ctx context.Context, id int64) (*domain.Note, error) {
	n := domain.Note{ID: id}
	var tags string
	err := db.conn.QueryRowContext(ctx, `SELECT tags, question, answer, context FROM notes WHERE id = ?`, id).
		Scan(&tags, &n.Question, &n.Answer, &n.Context)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("note %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load note %d: %w", id, err)
	}
	n.Tags = strings.Fields(tags)
	return &n, nil
}

// NoteTags returns the tags of a note.
func (db *DB) NoteTags(ctx context.Context, noteID int64) ([]string, error) {
	var tags string
	err := db.conn.QueryRowContext(ctx, `SELECT tags FROM notes WHERE id = ?`, noteID).Scan(&tags)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("note %d: %w", noteID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load note %d: %w", noteID, err)
	}
	return strings.Fields(tags), nil
}

// AddNoteTag adds tag to the note unless it is already there.
func (db *DB) AddNoteTag(ctx context.Context, noteID int64, tag string) error {
	tags, err := db.NoteTags(ctx, noteID)
	if err != nil {
		return err
	}
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return nil
		}
	}
	tags = append(tags, tag)
	if _, err := db.conn.ExecContext(ctx, `UPDATE notes SET tags = ? WHERE id = ?`, strings.Join(tags, " "), noteID); err != nil {
		return fmt.Errorf("failed to tag note %d: %w", noteID, err)
	}
	return nil
}

// AddRevlog appends a revlog row. A row with the same id is a conflict.
func (db *DB) AddRevlog(ctx context.Context, e domain.RevlogEntry) error {
	query := `INSERT OR IGNORE INTO revlog (id, cid, ease, reps, ivl, last_ivl, factor, time, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.conn.ExecContext(ctx, query, e.ID, e.CardID, e.Ease, e.Reps, e.Ivl, e.LastIvl, e.Factor, e.TimeMS, e.Type)
	if err != nil {
		return fmt.Errorf("failed to insert revlog for card %d: %w", e.CardID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert revlog for card %d: %w", e.CardID, err)
	}
	if n == 0 {
		return fmt.Errorf("revlog %d: %w", e.ID, domain.ErrRevlogConflict)
	}
	return nil
}

// Revlog returns the rows of a card, oldest first.
func (db *DB) Revlog(ctx context.Context, cardID int64) ([]domain.RevlogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, cid, ease, reps, ivl, last_ivl, factor, time, type
		FROM revlog WHERE cid = ? ORDER BY id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revlog: %w", err)
	}
	defer rows.Close()

	var out []domain.RevlogEntry
	for rows.Next() {
		var e domain.RevlogEntry
		if err := rows.Scan(&e.ID, &e.CardID, &e.Ease, &e.Reps, &e.Ivl, &e.LastIvl, &e.Factor, &e.TimeMS, &e.Type); err != nil {
			return nil, fmt.Errorf("failed to scan revlog: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
