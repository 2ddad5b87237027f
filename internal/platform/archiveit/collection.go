package archiveit

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// metadataFields is the platform's free-form metadata: each key maps to a list of values.
type metadataFields map[string][]metadataValue

type metadataValue struct {
	Value string `json:"value"`
}

func (m metadataFields) first(key string) string {
	for _, v := range m[key] {
		if v.Value != "" {
			return v.Value
		}
	}
	return ""
}

type collectionRecord struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Metadata metadataFields `json:"metadata"`
}

func (e *Extractor) collectionURL() string {
	return e.apiURL("/collection", url.Values{"id": {e.cfg.CollectionID}, "limit": {"1"}})
}

// CheckAccess verifies the credentials can see the collection.
func (e *Extractor) CheckAccess(ctx context.Context) error {
	if err := e.client.Head(ctx, e.collectionURL()); err != nil {
		return fmt.Errorf("check collection access: %w", err)
	}
	e.logger.Debug("collection access confirmed")
	return nil
}

// CollectionInfo reads title and description from the first matching collection record. Missing
// fields are left empty.
func (e *Extractor) CollectionInfo(ctx context.Context) (archive.CollectionInfo, error) {
	var records []collectionRecord
	if err := e.client.GetJSON(ctx, e.collectionURL(), &records); err != nil {
		return archive.CollectionInfo{}, fmt.Errorf("fetch collection info: %w", err)
	}
	if len(records) == 0 {
		e.logger.Warn("collection record not found; continuing without metadata")
		return archive.CollectionInfo{}, nil
	}
	rec := records[0]
	info := archive.CollectionInfo{
		Title:       rec.Name,
		Description: rec.Metadata.first("Description"),
	}
	if info.Title == "" {
		info.Title = rec.Metadata.first("Title")
	}
	e.logger.Debug("collection info fetched",
		zap.String("title", info.Title),
		zap.Bool("has_description", info.Description != ""),
	)
	return info, nil
}
