package tablesniff

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/tablesniff/internal/config"
	"github.com/hazyhaar/tablesniff/internal/delivery"
	"github.com/hazyhaar/tablesniff/kit"
	"github.com/hazyhaar/tablesniff/table"
)

// Target names where an export goes.
type Target string

const (
	TargetDownload  Target = "download"
	TargetClipboard Target = "clipboard"
	TargetNone      Target = "none"
)

// ParseTarget maps a request value to a Target. Empty means download.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case "":
		return TargetDownload, nil
	case TargetDownload, TargetClipboard, TargetNone:
		return Target(s), nil
	}
	return "", fmt.Errorf("%w: target %q", ErrInvalidInput, s)
}

func (e *Engine) deliver(ctx context.Context, pageID string, exp table.Export, target Target) error {
	ctx = kit.WithPageID(ctx, pageID)
	switch target {
	case TargetNone:
		return nil
	case TargetClipboard:
		return e.clipboard.Deliver(ctx, exp)
	default:
		return e.downloads.Deliver(ctx, exp)
	}
}

func defaultDownloadTargets(cfg *config.Config, logger *slog.Logger) []delivery.Target {
	targets := []delivery.Target{delivery.NewFile(cfg.Delivery.Dir)}
	if cfg.Delivery.Webhook != "" {
		targets = append(targets, delivery.NewWebhook(cfg.Delivery.Webhook, delivery.WithWebhookLogger(logger)))
	}
	return targets
}
