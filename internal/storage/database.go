package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

var (
	// ErrNotFound is returned when a card, deck, note or configuration
	// does not exist.
	ErrNotFound = domain.ErrNotFound
	// ErrRevlogConflict is returned when a revlog id is already taken.
	ErrRevlogConflict = domain.ErrRevlogConflict
)

// DB is the SQLite card store and deck configuration store.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection, ensures the schema is up to date
// and seeds the collection row, the default configuration and the default
// deck on first use.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The scheduler is single threaded; one connection also keeps an
	// in-memory database alive across calls.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.seed(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) seed() error {
	if _, err := db.conn.Exec(`INSERT OR IGNORE INTO col (id, crt) VALUES (1, ?)`, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to seed collection: %w", err)
	}
	var n int
	if err := db.conn.QueryRow(`SELECT count() FROM deck_config WHERE id = ?`, deckconf.DefaultID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check default config: %w", err)
	}
	if n == 0 {
		if err := db.SaveConfig(context.Background(), deckconf.Default()); err != nil {
			return err
		}
	}
	if _, err := db.conn.Exec(`INSERT OR IGNORE INTO decks (id, name, conf_id) VALUES (1, 'Default', ?)`, deckconf.DefaultID); err != nil {
		return fmt.Errorf("failed to seed default deck: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Collection returns the collection-wide state.
func (db *DB) Collection(ctx context.Context) (domain.Collection, error) {
	var crt int64
	var col domain.Collection
	err := db.conn.QueryRowContext(ctx, `SELECT crt, last_unburied FROM col WHERE id = 1`).Scan(&crt, &col.LastUnburied)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("failed to read collection: %w", err)
	}
	col.Created = time.Unix(crt, 0)
	return col, nil
}

// SetCreated overrides the collection creation time.
func (db *DB) SetCreated(ctx context.Context, t time.Time) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE col SET crt = ? WHERE id = 1`, t.Unix()); err != nil {
		return fmt.Errorf("failed to set collection creation time: %w", err)
	}
	return nil
}

// SetLastUnburied records the day cards were last unburied.
func (db *DB) SetLastUnburied(ctx context.Context, day int) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE col SET last_unburied = ? WHERE id = 1`, day); err != nil {
		return fmt.Errorf("failed to update last unburied day: %w", err)
	}
	return nil
}

// Select makes the deck and its children the active decks.
func (db *DB) Select(ctx context.Context, deckID int64) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE col SET selected_deck = ? WHERE id = 1`, deckID); err != nil {
		return fmt.Errorf("failed to select deck %d: %w", deckID, err)
	}
	return nil
}

// SaveConfig inserts or replaces a deck configuration.
func (db *DB) SaveConfig(ctx context.Context, c deckconf.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config %d: %w", c.ID, err)
	}
	_, err = db.conn.ExecContext(ctx, `INSERT OR REPLACE INTO deck_config (id, config) VALUES (?, ?)`, c.ID, string(blob))
	if err != nil {
		return fmt.Errorf("failed to save config %d: %w", c.ID, err)
	}
	return nil
}

// Config loads a deck configuration by id.
func (db *DB) Config(ctx context.Context, id int64) (*deckconf.Config, error) {
	var blob string
	err := db.conn.QueryRowContext(ctx, `SELECT config FROM deck_config WHERE id = ?`, id).Scan(&blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("config %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load config %d: %w", id, err)
	}
	var c deckconf.Config
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return nil, fmt.Errorf("failed to decode config %d: %w", id, err)
	}
	c.ID = id
	return &c, nil
}

// ConfigForDeck resolves the configuration of a normal deck.
func (db *DB) ConfigForDeck(ctx context.Context, deckID int64) (*deckconf.Config, error) {
	var confID int64
	err := db.conn.QueryRowContext(ctx, `SELECT conf_id FROM decks WHERE id = ?`, deckID).Scan(&confID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("deck %d: %w", deckID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find config of deck %d: %w", deckID, err)
	}
	return db.Config(ctx, confID)
}
