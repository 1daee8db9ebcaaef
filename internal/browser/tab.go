package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is one browser page opened for table extraction.
type Tab struct {
	Page    *rod.Page
	PageURL string
	Stealth StealthLevel

	doc    *Document
	router *rod.HijackRouter
}

// OpenTab creates a tab, navigates to pageURL and waits for the load event.
// Levels at or above LevelHeadless get the stealth evasions.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, level StealthLevel) (*Tab, error) {
	b, err := mgr.Browser(ctx)
	if err != nil {
		return nil, err
	}
	log := mgr.cfg.Logger

	var page *rod.Page
	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	if level == LevelHeadful && !mgr.cfg.Headful {
		log.Warn("browser: headful requested but chrome runs headless", "url", pageURL)
	}

	t := &Tab{Page: page, PageURL: pageURL, Stealth: level}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if t.router, err = blockResources(page, mgr.cfg.ResourceBlocking); err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	t.doc = newDocument(page, pageURL, log)
	return t, nil
}

// Document returns the tab's live DOM.
func (t *Tab) Document() *Document { return t.doc }

// HTML serialises the current DOM.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Close stops interception and mutation forwarding, then closes the page.
func (t *Tab) Close() error {
	if t.doc != nil {
		t.doc.close()
	}
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
