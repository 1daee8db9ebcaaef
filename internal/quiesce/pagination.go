package quiesce

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/hazyhaar/tablesniff/internal/dom"
)

// Pagination is a parsed "<start>-<shown> of <total>" readout.
type Pagination struct {
	Start    int
	Showing  int
	Total    int
	Complete bool // Showing >= Total
}

var paginationPattern = regexp.MustCompile(`(?i)(\d[\d,.]*)\s*(?:[-–]|to)\s*(\d[\d,.]*)\s+of\s+(\d[\d,.]*)`)

// readoutSelectors locate pagination status text of common table widgets.
var readoutSelectors = []string{
	".q-table__bottom-item",
	".MuiTablePagination-displayedRows",
	".dataTables_info",
	".pagination-info",
	"[aria-live]",
}

// ParsePagination extracts a readout such as "1-10 of 2701",
// "1–2,701 of 2,701" or "Showing 1 to 10 of 57 entries" from text.
func ParsePagination(text string) (Pagination, bool) {
	m := paginationPattern.FindStringSubmatch(text)
	if m == nil {
		return Pagination{}, false
	}
	start, ok1 := atoi(m[1])
	shown, ok2 := atoi(m[2])
	total, ok3 := atoi(m[3])
	if !ok1 || !ok2 || !ok3 {
		return Pagination{}, false
	}
	return Pagination{Start: start, Showing: shown, Total: total, Complete: shown >= total}, true
}

func atoi(s string) (int, bool) {
	s = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// findReadout returns the first pagination readout in the document.
func findReadout(ctx context.Context, doc dom.Document) (Pagination, bool, error) {
	for _, sel := range readoutSelectors {
		els, err := doc.QueryAll(ctx, sel)
		if err != nil {
			return Pagination{}, false, err
		}
		for _, el := range els {
			text, err := el.Text(ctx)
			if errors.Is(err, dom.ErrDetached) {
				continue
			}
			if err != nil {
				return Pagination{}, false, err
			}
			if p, ok := ParsePagination(text); ok {
				return p, true, nil
			}
		}
	}
	return Pagination{}, false, nil
}
