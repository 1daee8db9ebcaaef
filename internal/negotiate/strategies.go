package negotiate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/tablesniff/internal/dom"
)

// ShowAll clicks an explicit "show all" / "load all" / "all" control.
type ShowAll struct{}

const showAllSelector = `button, a, [role="button"], input[type="button"], input[type="submit"]`

func (ShowAll) Name() string { return "show_all" }

func (ShowAll) Attempt(ctx context.Context, doc dom.Document, _ dom.Element) (bool, error) {
	els, err := doc.QueryAll(ctx, showAllSelector)
	if err != nil {
		return false, err
	}
	for _, el := range els {
		ok, err := isShowAll(ctx, el)
		if errors.Is(err, dom.ErrDetached) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if err := el.Click(ctx); err != nil {
			return false, fmt.Errorf("click show-all: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func isShowAll(ctx context.Context, el dom.Element) (bool, error) {
	box, err := el.Box(ctx)
	if err != nil || !box.Visible() {
		return false, err
	}
	if title, ok, err := el.Attr(ctx, "title"); err != nil {
		return false, err
	} else if ok && showAllLabel(title) {
		return true, nil
	}
	text, err := el.Text(ctx)
	if err != nil {
		return false, err
	}
	if text == "" {
		// input buttons carry their label in value
		if v, ok, err := el.Attr(ctx, "value"); err == nil && ok {
			text = v
		}
	}
	return showAllLabel(text), nil
}

func showAllLabel(s string) bool {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return s == "all" || strings.Contains(s, "show all") || strings.Contains(s, "load all")
}

// NativeSelect picks the best page size across every native select on the
// page and switches only that one control.
type NativeSelect struct{}

func (NativeSelect) Name() string { return "native_select" }

func (NativeSelect) Attempt(ctx context.Context, doc dom.Document, _ dom.Element) (bool, error) {
	selects, err := doc.QueryAll(ctx, "select")
	if err != nil {
		return false, err
	}

	var (
		best      dom.Element
		bestIdx   = -1
		bestVal   Value
		bestIsSet bool
	)
	for _, sel := range selects {
		opts, err := sel.Options(ctx)
		if errors.Is(err, dom.ErrDetached) {
			continue
		}
		if err != nil {
			return false, err
		}
		texts := make([]string, len(opts))
		for i, o := range opts {
			texts[i] = o.Text
		}
		idx, val := Rank(texts)
		if idx < 0 {
			continue
		}
		if best == nil || val.Greater(bestVal) {
			best, bestIdx, bestVal, bestIsSet = sel, idx, val, opts[idx].Selected
		}
		if val.All {
			break
		}
	}
	if best == nil {
		return false, nil
	}
	if bestIsSet {
		return true, nil
	}
	if err := best.SelectOption(ctx, bestIdx); err != nil {
		return false, fmt.Errorf("select option %d: %w", bestIdx, err)
	}
	return true, nil
}

// trigger is a dropdown opener. popup locates the listbox it opens; empty
// means the trigger names it through aria-controls.
type trigger struct {
	selector string
	popup    string
}

var listboxTriggers = []trigger{
	{selector: `[role="combobox"][aria-controls]`},
	{selector: `[aria-haspopup="listbox"][aria-controls]`},
	// Quasar
	{selector: `.q-table__bottom .q-select`, popup: `.q-menu`},
	{selector: `.q-table__select .q-select__dropdown-icon`, popup: `.q-menu`},
	{selector: `.q-field--borderless.q-select .q-select__dropdown-icon`, popup: `.q-menu`},
	// MUI
	{selector: `.MuiTablePagination-select`, popup: `.MuiMenu-list, .MuiPopover-paper [role="listbox"]`},
	// Ant Design
	{selector: `.ant-pagination-options .ant-select-selector`, popup: `.ant-select-dropdown`},
}

const listboxOptionSelector = `[role="option"], li, div`

// Listbox opens a popup dropdown and clicks its best option.
type Listbox struct {
	// Wait bounds the wait for the popup after clicking its trigger.
	Wait time.Duration
}

func (Listbox) Name() string { return "listbox" }

func (l Listbox) Attempt(ctx context.Context, doc dom.Document, _ dom.Element) (bool, error) {
	wait := l.Wait
	if wait <= 0 {
		wait = time.Second
	}
	for _, tr := range listboxTriggers {
		els, err := doc.QueryAll(ctx, tr.selector)
		if err != nil {
			return false, err
		}
		for _, el := range els {
			ok, err := l.try(ctx, doc, el, tr, wait)
			if errors.Is(err, dom.ErrDetached) || errors.Is(err, dom.ErrTimeout) {
				continue
			}
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func (l Listbox) try(ctx context.Context, doc dom.Document, el dom.Element, tr trigger, wait time.Duration) (bool, error) {
	popup := tr.popup
	if popup == "" {
		id, ok, err := el.Attr(ctx, "aria-controls")
		if err != nil {
			return false, err
		}
		if !ok || strings.TrimSpace(id) == "" {
			return false, nil
		}
		popup = idSelector(strings.TrimSpace(id))
	}

	if err := el.Click(ctx); err != nil {
		return false, err
	}
	box, err := dom.WaitFor(ctx, doc, popup, wait)
	if err != nil {
		return false, err
	}

	opts, err := listboxOptions(ctx, box)
	if err != nil {
		return false, err
	}
	texts := make([]string, len(opts))
	for i, o := range opts {
		if texts[i], err = o.Text(ctx); err != nil {
			return false, err
		}
	}
	idx, _ := Rank(texts)
	if idx < 0 {
		// close the popup again before the next trigger opens its own
		if err := el.Click(ctx); err != nil {
			return false, err
		}
		return false, nil
	}

	current, _ := el.Text(ctx)
	if current != "" && current == texts[idx] {
		return true, nil
	}
	if err := opts[idx].Click(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// listboxOptions returns the option-like children of a popup. Elements with
// role="option" are used when present; otherwise the innermost li/div
// elements, whose clicks bubble up to the item wrapper.
func listboxOptions(ctx context.Context, box dom.Element) ([]dom.Element, error) {
	opts, err := box.QueryAll(ctx, `[role="option"]`)
	if err != nil || len(opts) > 0 {
		return opts, err
	}
	all, err := box.QueryAll(ctx, listboxOptionSelector)
	if err != nil {
		return nil, err
	}
	leaves := all[:0]
	for _, el := range all {
		n, err := el.Count(ctx, listboxOptionSelector)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			leaves = append(leaves, el)
		}
	}
	return leaves, nil
}

var plainID = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// idSelector builds a selector matching an element id, quoting ids that
// are not valid CSS identifiers.
func idSelector(id string) string {
	if plainID.MatchString(id) {
		return "#" + id
	}
	return `[id="` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(id) + `"]`
}
