package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice/backend/internal/domain"
)

// SpoolPrinter prints a finalized week by dropping its HTML sheet into a
// spool directory watched by the store's print agent.
type SpoolPrinter struct {
	dir      string
	currency string
	logger   *zap.Logger
	now      func() time.Time
}

func NewSpoolPrinter(dir string, currency string, logger *zap.Logger) *SpoolPrinter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpoolPrinter{dir: dir, currency: currency, logger: logger, now: time.Now}
}

func (p *SpoolPrinter) Print(ctx context.Context, detail domain.WeekDetail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := RenderHTML(&buf, detail, p.currency); err != nil {
		return err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.html",
		safeName(detail.Week.StoreID),
		detail.Week.StartDate,
		p.now().UTC().Format("20060102T150405"),
	)
	path := filepath.Join(p.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	// The agent only picks up *.html, so the rename publishes the job.
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish spool file: %w", err)
	}
	p.logger.Info("week sheet spooled", zap.String("week_id", detail.Week.ID), zap.String("path", path))
	return nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
