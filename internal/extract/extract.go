// Package extract reads the live cell grid of a tracked table.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/tablesniff/internal/dom"
	"github.com/hazyhaar/tablesniff/table"
)

// Resolver looks up a table element by snapshot id.
type Resolver interface {
	Resolve(id int) (dom.Element, bool)
}

// Extract resolves id against the current snapshot and reads its grid.
func Extract(ctx context.Context, r Resolver, id int) (table.Grid, error) {
	el, ok := r.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("extract: table %d: %w", id, table.ErrNotFound)
	}
	return Element(ctx, el)
}

// Element reads every row of el top to bottom, cells left to right, as
// trimmed visible text. A detached element is reported as table.ErrNotFound.
func Element(ctx context.Context, el dom.Element) (table.Grid, error) {
	rows, err := el.Rows(ctx, 0)
	if errors.Is(err, dom.ErrDetached) {
		return nil, fmt.Errorf("extract: %w", table.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("extract: read rows: %w", err)
	}
	if rows == nil {
		rows = [][]string{}
	}
	return table.Grid(rows), nil
}
