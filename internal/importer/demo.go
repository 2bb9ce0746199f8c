package importer

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
)

//go:embed demo
var demoFiles embed.FS

const (
	demoRoot        = "Demo"
	demoPreviewName = "Demo Preview"
)

// Demo imports the bundled demo notes below the "Demo" deck and adds a
// filtered deck previewing its new cards.
func (im *Importer) Demo(ctx context.Context) (Result, error) {
	sub, err := fs.Sub(demoFiles, "demo")
	if err != nil {
		return Result{}, err
	}
	res, err := im.FS(ctx, sub, demoRoot)
	if err != nil {
		return res, err
	}
	if _, ok := im.decks[strings.ToLower(demoPreviewName)]; ok {
		return res, nil
	}
	preview := &domain.Deck{
		ID:       im.nextID,
		Name:     demoPreviewName,
		Filtered: true,
		Terms:    []domain.FilterTerm{{Search: "deck:" + demoRoot + " is:new", Limit: 20, Order: domain.DynAdded}},
	}
	if err := im.store.SaveDeck(ctx, preview); err != nil {
		return res, fmt.Errorf("failed to create deck %s: %w", demoPreviewName, err)
	}
	im.nextID++
	im.decks[strings.ToLower(demoPreviewName)] = preview
	return res, nil
}
