package archiveit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
	"github.com/JakeFAU/collection-sync/internal/batch"
)

// PlaceholderTitle is what replay serves when no real title was captured.
const PlaceholderTitle = "Wayback Machine"

type seedDetail struct {
	ID       int64          `json:"id"`
	Metadata metadataFields `json:"metadata"`
}

func (e *Extractor) seedURL(seedID int64) string {
	return e.apiURL("/seed/"+strconv.FormatInt(seedID, 10), nil)
}

// ResolveTitles fills titles for the pages of every non-patch file. Seed metadata is tried first,
// once per distinct seed; pages still untitled fall back to scraping their replay rendering. Both
// strategies are best-effort and never fail the stage.
func (e *Extractor) ResolveTitles(ctx context.Context, files []*archive.FileReference, concurrency int) error {
	var (
		pages      []*archive.CrawledPage
		seedIDs    []int64
		seedsSeen  = make(map[int64]struct{})
		seedTitles []string
	)
	for _, f := range files {
		if f.IsPatchBatch() {
			continue
		}
		for _, p := range f.CrawledPages {
			if p.Title != "" {
				continue
			}
			pages = append(pages, p)
			if p.HasSeed() {
				if _, ok := seedsSeen[p.SeedID]; !ok {
					seedsSeen[p.SeedID] = struct{}{}
					seedIDs = append(seedIDs, p.SeedID)
				}
			}
		}
	}
	if len(pages) == 0 {
		return nil
	}

	seedTitles = make([]string, len(seedIDs))
	seedIdx := make([]int, len(seedIDs))
	for i := range seedIdx {
		seedIdx[i] = i
	}
	batch.Run(ctx, seedIdx, concurrency, func(ctx context.Context, i int) error {
		title, err := e.seedTitle(ctx, seedIDs[i])
		if err != nil {
			e.logger.Debug("seed metadata unavailable", zap.Int64("seed_id", seedIDs[i]), zap.Error(err))
			return err
		}
		seedTitles[i] = title
		return nil
	}, batch.WithLabel("seed-titles"))

	titleBySeed := make(map[int64]string, len(seedIDs))
	for i, id := range seedIDs {
		if seedTitles[i] != "" {
			titleBySeed[id] = seedTitles[i]
		}
	}

	var fallback []*archive.CrawledPage
	for _, p := range pages {
		if title, ok := titleBySeed[p.SeedID]; ok && p.HasSeed() {
			p.Title = title
			continue
		}
		fallback = append(fallback, p)
	}

	if e.scraper != nil && len(fallback) > 0 {
		batch.Run(ctx, fallback, concurrency, func(ctx context.Context, p *archive.CrawledPage) error {
			title, err := e.replayTitle(ctx, p)
			if err != nil {
				e.logger.Debug("replay title unavailable", zap.String("url", p.URL), zap.Error(err))
				return err
			}
			p.Title = title
			return nil
		}, batch.WithLabel("replay-titles"))
	}

	unresolved := 0
	for _, p := range pages {
		if p.Title == "" {
			unresolved++
			e.logger.Warn("no title found for page", zap.String("url", p.URL), zap.String("timestamp", p.Timestamp))
		}
	}
	e.logger.Info("titles resolved",
		zap.Int("pages", len(pages)),
		zap.Int("from_seeds", len(pages)-len(fallback)),
		zap.Int("unresolved", unresolved),
	)
	return nil
}

func (e *Extractor) seedTitle(ctx context.Context, seedID int64) (string, error) {
	var detail seedDetail
	if err := e.client.GetJSON(ctx, e.seedURL(seedID), &detail); err != nil {
		return "", err
	}
	return strings.TrimSpace(detail.Metadata.first("Title")), nil
}

func (e *Extractor) replayTitle(ctx context.Context, p *archive.CrawledPage) (string, error) {
	if p.URL == "" {
		return "", fmt.Errorf("%w: page has no url", archive.ErrData)
	}
	replayURL, err := ReplayURL(e.cfg.Endpoints.Replay, e.cfg.CollectionID, p.Timestamp, p.URL)
	if err != nil {
		return "", err
	}
	title, err := e.scraper.Title(ctx, replayURL)
	if err != nil {
		return "", err
	}
	if title == PlaceholderTitle {
		return "", nil
	}
	return title, nil
}

// ReplayURL builds the replay address of a capture: base/collection/ts14/escaped-url, where ts14 is
// the first 19 characters of the raw timestamp without spaces, dashes or colons.
func ReplayURL(base, collectionID, timestamp, pageURL string) (string, error) {
	if len(timestamp) < 19 {
		return "", fmt.Errorf("%w: timestamp %q too short for replay", archive.ErrData, timestamp)
	}
	ts := strings.NewReplacer(" ", "", "-", "", ":", "").Replace(timestamp[:19])
	escaped := strings.ReplaceAll(url.QueryEscape(pageURL), "+", "%20")
	return strings.TrimRight(base, "/") + "/" + collectionID + "/" + ts + "/" + escaped, nil
}
