package archiveit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

type wasapiPage struct {
	Count int          `json:"count"`
	Next  *string      `json:"next"`
	Files []wasapiFile `json:"files"`
}

type wasapiFile struct {
	Filename  string `json:"filename"`
	Checksums struct {
		SHA1 string `json:"sha1"`
		MD5  string `json:"md5"`
	} `json:"checksums"`
	Locations []string `json:"locations"`
	Crawl     *int64   `json:"crawl"`
	Size      int64    `json:"size"`
}

func (f wasapiFile) reference() *archive.FileReference {
	ref := &archive.FileReference{
		Filename:       f.Filename,
		RemoteChecksum: f.Checksums.SHA1,
		Size:           f.Size,
	}
	if len(f.Locations) > 0 {
		ref.DownloadURL = f.Locations[0]
	}
	if f.Crawl != nil {
		ref.CrawlID = *f.Crawl
	}
	return ref
}

func (e *Extractor) listingURL(page int) string {
	query := url.Values{
		"collection": {e.cfg.CollectionID},
		"page":       {strconv.Itoa(page)},
		"page_size":  {strconv.Itoa(e.cfg.PageSize)},
	}
	return e.cfg.Endpoints.WASAPI + "/webdata?" + query.Encode()
}

// ListFiles pages through the WASAPI listing. Any failed page fails the whole listing: a partial
// index would make the reconciler delete files that are still wanted.
func (e *Extractor) ListFiles(ctx context.Context) ([]*archive.FileReference, error) {
	var (
		files []*archive.FileReference
		seen  = make(map[string]struct{})
	)
	for page := 1; ; page++ {
		var body wasapiPage
		if err := e.client.GetJSON(ctx, e.listingURL(page), &body); err != nil {
			return nil, fmt.Errorf("list files page %d: %w", page, err)
		}
		for _, f := range body.Files {
			if f.Filename == "" {
				e.logger.Warn("skipping listing entry without filename", zap.Int("page", page))
				continue
			}
			if !archive.IsPlainFilename(f.Filename) {
				e.logger.Warn("skipping listing entry with unsafe filename",
					zap.Int("page", page),
					zap.String("filename", f.Filename),
				)
				continue
			}
			if _, dup := seen[f.Filename]; dup {
				e.logger.Warn("duplicate filename in listing", zap.String("filename", f.Filename))
				continue
			}
			seen[f.Filename] = struct{}{}
			files = append(files, f.reference())
		}
		e.logger.Debug("listing page fetched",
			zap.Int("page", page),
			zap.Int("files", len(body.Files)),
			zap.Int("total", body.Count),
		)
		if body.Next == nil || *body.Next == "" {
			break
		}
	}
	return files, nil
}
