package archiveit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
	"github.com/JakeFAU/collection-sync/internal/batch"
)

type seedRecord struct {
	SeedID    int64  `json:"seed_id"`
	Seed      string `json:"seed"`
	Timestamp string `json:"timestamp"`
}

func (e *Extractor) crawlReportURL(crawlID int64) string {
	return e.apiURL("/reports/seed/"+strconv.FormatInt(crawlID, 10),
		url.Values{"format": {"json"}, "limit": {"-1"}})
}

// EnrichCrawlInfo fetches each distinct crawl's seed report once and appends one CrawledPage per
// seed record to every file of that crawl. Failed reports are logged and leave the files untouched.
func (e *Extractor) EnrichCrawlInfo(ctx context.Context, files []*archive.FileReference, concurrency int) error {
	var crawlIDs []int64
	byCrawl := make(map[int64][]*archive.FileReference)
	for _, f := range files {
		if !f.HasCrawl() {
			continue
		}
		if _, ok := byCrawl[f.CrawlID]; !ok {
			crawlIDs = append(crawlIDs, f.CrawlID)
		}
		byCrawl[f.CrawlID] = append(byCrawl[f.CrawlID], f)
	}
	if len(crawlIDs) == 0 {
		return nil
	}

	reports := make([][]seedRecord, len(crawlIDs))
	indexes := make([]int, len(crawlIDs))
	for i := range indexes {
		indexes[i] = i
	}
	outcomes := batch.Run(ctx, indexes, concurrency, func(ctx context.Context, i int) error {
		var records []seedRecord
		if err := e.client.GetJSON(ctx, e.crawlReportURL(crawlIDs[i]), &records); err != nil {
			return fmt.Errorf("crawl %d report: %w", crawlIDs[i], err)
		}
		reports[i] = records
		return nil
	}, batch.WithLogger(e.logger), batch.WithLabel("crawl-info"))

	for i, out := range outcomes {
		if out.Err != nil {
			e.logger.Warn("crawl info unavailable", zap.Int64("crawl_id", crawlIDs[i]), zap.Error(out.Err))
			continue
		}
		for _, f := range byCrawl[crawlIDs[i]] {
			for _, rec := range reports[i] {
				f.CrawledPages = append(f.CrawledPages, &archive.CrawledPage{
					SeedID:    rec.SeedID,
					URL:       rec.Seed,
					Timestamp: rec.Timestamp,
				})
			}
		}
	}
	e.logger.Info("crawl info enriched",
		zap.Int("crawls", len(crawlIDs)),
		zap.Int("failed", batch.Failed(outcomes)),
	)
	return nil
}
