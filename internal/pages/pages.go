// Package pages turns titled crawl records into the normalized page index of a container.
package pages

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// TimestampLayout is the normalized page timestamp: second precision, UTC, trailing Z.
const TimestampLayout = "2006-01-02T15:04:05Z"

// NormalizeTimestamp converts a platform timestamp such as "2021-04-30 20:04:57.635000" into
// TimestampLayout. The first space becomes the date/time separator and a missing zone is read as
// UTC; an explicit zone is honoured and converted.
func NormalizeTimestamp(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty timestamp", archive.ErrData)
	}
	s = strings.Replace(s, " ", "T", 1)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// No zone designator: the platform's zoneless form is UTC.
		t, err = time.Parse(time.RFC3339Nano, s+"Z")
	}
	if err != nil {
		return "", fmt.Errorf("%w: timestamp %q: %w", archive.ErrData, raw, err)
	}
	return t.UTC().Format(TimestampLayout), nil
}

// Build lists one entry per titled page of every non-patch file, in file then page order. Pages
// without a title or with an unparseable timestamp are left out.
func Build(files []*archive.FileReference, logger *zap.Logger) []archive.PageEntry {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		entries []archive.PageEntry
		dropped int
	)
	for _, f := range files {
		if f.IsPatchBatch() {
			continue
		}
		for _, p := range f.CrawledPages {
			if p.Title == "" {
				continue
			}
			ts, err := NormalizeTimestamp(p.Timestamp)
			if err != nil {
				dropped++
				logger.Debug("dropping page with unparseable timestamp", zap.String("url", p.URL), zap.Error(err))
				continue
			}
			entries = append(entries, archive.PageEntry{URL: p.URL, Title: p.Title, Timestamp: ts})
		}
	}
	logger.Info("page index built", zap.Int("entries", len(entries)), zap.Int("dropped", dropped))
	return entries
}
