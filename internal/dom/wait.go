package dom

import (
	"context"
	"time"
)

// waitPoll rechecks the selector even without mutations, for popups that
// appear through attribute or style changes only.
const waitPoll = 50 * time.Millisecond

// WaitFor returns the first element matching selector, waiting up to timeout
// for it to appear. It returns ErrTimeout when nothing matched in time.
func WaitFor(ctx context.Context, doc Document, selector string, timeout time.Duration) (Element, error) {
	if el, err := first(ctx, doc, selector); el != nil || err != nil {
		return el, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	muts, err := doc.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	tick := time.NewTicker(waitPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		case _, ok := <-muts:
			if !ok {
				muts = nil
				continue
			}
		case <-tick.C:
		}
		if el, err := first(ctx, doc, selector); el != nil || err != nil {
			return el, err
		}
	}
}

func first(ctx context.Context, doc Document, selector string) (Element, error) {
	els, err := doc.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	return els[0], nil
}
