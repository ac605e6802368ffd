package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/postmill/internal/domain"
)

// DryRun — адаптер без сетевых вызовов: пишет в лог и возвращает
// синтетическую ссылку. Включается PUBLISHER_DRY_RUN=true.
type DryRun struct {
	platform domain.Platform
	logger   *slog.Logger
}

// NewDryRun создаёт DryRun для платформы.
func NewDryRun(platform domain.Platform, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{platform: platform, logger: logger.With("publisher", "dry_run", "platform", platform)}
}

func (d *DryRun) Platform() domain.Platform { return d.platform }

func (d *DryRun) Publish(_ context.Context, c Content) (*Result, error) {
	ref := fmt.Sprintf("dryrun-%s-%s", d.platform, c.PostID)
	d.logger.Info("dry run publish",
		"post_id", c.PostID,
		"account", c.AccountID,
		"image_url", c.ImageURL,
		"text", preview(c.Text, 50),
	)
	return &Result{PostRef: ref, URL: "https://dry-run.invalid/" + string(d.platform) + "/" + ref}, nil
}

func (d *DryRun) Analytics(_ context.Context, postRef string) (*domain.Metrics, error) {
	d.logger.Debug("dry run analytics", "post_ref", postRef)
	return &domain.Metrics{}, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
