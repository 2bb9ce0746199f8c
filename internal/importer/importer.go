// Package importer turns note files into notes and new cards. Every
// markdown file becomes a deck named after its path, and every note in it
// becomes one new card at the end of the new queue. Notes are identified
// by their content, so importing the same files again only refreshes tags.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/conorfennell/knolsched/internal/deckconf"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/gitsource"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/parser"
	"github.com/conorfennell/knolsched/internal/search"
)

// ErrFilteredDeck is returned for a file whose deck name belongs to a
// filtered deck.
var ErrFilteredDeck = errors.New("cannot import into a filtered deck")

// Store is where imported notes, cards and decks are written.
type Store interface {
	Decks(ctx context.Context) ([]*domain.Deck, error)
	SaveDeck(ctx context.Context, d *domain.Deck) error
	Note(ctx context.Context, id int64) (*domain.Note, error)
	SaveNote(ctx context.Context, n domain.Note) error
	AddCard(ctx context.Context, c *domain.Card) error
	FindCards(ctx context.Context, filter search.Expr, order search.Order, limit int) ([]*domain.Card, error)
}

// Result summarises an import.
type Result struct {
	Files   int
	Added   int
	Updated int
	// Errors holds per-file and per-note failures. They do not stop the
	// import.
	Errors []error
}

// Importer writes notes into a store.
type Importer struct {
	store Store
	log   *slog.Logger

	decks  map[string]*domain.Deck
	nextID int64
	pos    int64
}

// New returns an importer over store.
func New(store Store, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{store: store, log: log}
}

func (im *Importer) load(ctx context.Context) error {
	decks, err := im.store.Decks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load decks: %w", err)
	}
	im.decks = make(map[string]*domain.Deck, len(decks))
	im.nextID = 1
	for _, d := range decks {
		im.decks[strings.ToLower(d.Name)] = d
		im.nextID = max(im.nextID, d.ID+1)
	}

	last, err := im.store.FindCards(ctx, search.Eq(search.FieldType, int64(domain.TypeNew)), search.By(search.OrderDueDesc), 1)
	if err != nil {
		return fmt.Errorf("failed to find last new position: %w", err)
	}
	im.pos = 0
	if len(last) > 0 {
		im.pos = domain.RawDue(last[0].Due)
	}
	return nil
}

// Source imports a local directory, or a git repository cloned or pulled
// into reposDir first. Decks are named below root.
func (im *Importer) Source(ctx context.Context, src, reposDir, root string) (Result, error) {
	dir := src
	if gitsource.IsURL(src) {
		local, err := gitsource.LocalPath(reposDir, src)
		if err != nil {
			return Result{}, err
		}
		if err := gitsource.Sync(ctx, src, local, im.log); err != nil {
			return Result{}, err
		}
		dir = local
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open source %s: %w", src, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("source %s is not a directory", src)
	}
	return im.FS(ctx, os.DirFS(dir), root)
}

// FS imports every .md file of fsys. A file a/b.md becomes the deck
// "root::a::b", or "a::b" when root is empty.
func (im *Importer) FS(ctx context.Context, fsys fs.FS, root string) (Result, error) {
	if err := im.load(ctx); err != nil {
		return Result{}, err
	}
	var res Result
	seen := make(map[int64]bool)

	walkErr := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(path.Ext(p), ".md") {
			return nil
		}
		res.Files++

		notes, err := parser.ParseFS(fsys, p)
		if err != nil {
			res.Errors = append(res.Errors, err)
			return nil
		}
		deck, err := im.ensureDeck(ctx, deckName(root, p))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", p, err))
			return nil
		}
		for _, n := range notes {
			n.ID = knol.NoteID(n)
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			added, err := im.note(ctx, n, deck.ID)
			switch {
			case err != nil:
				res.Errors = append(res.Errors, fmt.Errorf("%s: %w", p, err))
			case added:
				res.Added++
			default:
				res.Updated++
			}
		}
		return nil
	})
	if walkErr != nil {
		return res, fmt.Errorf("failed to walk notes: %w", walkErr)
	}

	im.log.Info("import complete",
		"root", root,
		"files", res.Files,
		"added", res.Added,
		"updated", res.Updated,
		"errors", len(res.Errors),
	)
	return res, nil
}

// note stores n and gives it a card when it is new. Known notes only get
// their tags refreshed; their cards keep their scheduling state.
func (im *Importer) note(ctx context.Context, n domain.Note, deckID int64) (bool, error) {
	_, err := im.store.Note(ctx, n.ID)
	switch {
	case err == nil:
		return false, im.store.SaveNote(ctx, n)
	case !errors.Is(err, domain.ErrNotFound):
		return false, err
	}

	if err := im.store.SaveNote(ctx, n); err != nil {
		return false, err
	}
	im.pos++
	card := &domain.Card{
		ID:     n.ID,
		NoteID: n.ID,
		DeckID: deckID,
		Type:   domain.TypeNew,
		Queue:  domain.QueueNew,
		Due:    domain.DuePosition(im.pos),
	}
	if err := im.store.AddCard(ctx, card); err != nil {
		return false, err
	}
	im.log.Debug("note added", "note", n.ID, "deck", deckID)
	return true, nil
}

// ensureDeck returns the normal deck called name, creating it and any
// missing parents.
func (im *Importer) ensureDeck(ctx context.Context, name string) (*domain.Deck, error) {
	if d, ok := im.decks[strings.ToLower(name)]; ok {
		if d.Filtered {
			return nil, fmt.Errorf("%w: %s", ErrFilteredDeck, name)
		}
		return d, nil
	}
	if parent := domain.ParentName(name); parent != "" {
		if _, err := im.ensureDeck(ctx, parent); err != nil {
			return nil, err
		}
	}
	d := &domain.Deck{ID: im.nextID, Name: name, ConfID: deckconf.DefaultID}
	if err := im.store.SaveDeck(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create deck %s: %w", name, err)
	}
	im.nextID++
	im.decks[strings.ToLower(name)] = d
	return d, nil
}

func deckName(root, p string) string {
	parts := strings.Split(strings.TrimSuffix(p, path.Ext(p)), "/")
	if root != "" {
		parts = append([]string{root}, parts...)
	}
	return strings.Join(parts, domain.DeckSeparator)
}
