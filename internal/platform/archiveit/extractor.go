package archiveit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// DefaultPageSize is the WASAPI listing page size.
const DefaultPageSize = 500

// Endpoints are the base URLs of the three platform services.
type Endpoints struct {
	API    string
	WASAPI string
	Replay string
}

// Config identifies the collection an Extractor works on.
type Config struct {
	CollectionID string
	PageSize     int
	Endpoints    Endpoints
}

// TitleScraper fetches a rendered replay page and returns its <title>.
type TitleScraper interface {
	Title(ctx context.Context, pageURL string) (string, error)
}

// Extractor implements archive.Extractor for Archive-It collections.
type Extractor struct {
	client  *Client
	cfg     Config
	scraper TitleScraper
	logger  *zap.Logger
}

var _ archive.Extractor = (*Extractor)(nil)

// NewExtractor wires an Extractor. A nil scraper disables the replay title fallback.
func NewExtractor(client *Client, cfg Config, scraper TitleScraper, logger *zap.Logger) (*Extractor, error) {
	if client == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if strings.TrimSpace(cfg.CollectionID) == "" {
		return nil, fmt.Errorf("%w: collection id is required", archive.ErrConfig)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	cfg.Endpoints.API = strings.TrimRight(cfg.Endpoints.API, "/")
	cfg.Endpoints.WASAPI = strings.TrimRight(cfg.Endpoints.WASAPI, "/")
	cfg.Endpoints.Replay = strings.TrimRight(cfg.Endpoints.Replay, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		client:  client,
		cfg:     cfg,
		scraper: scraper,
		logger:  logger.With(zap.String("collection_id", cfg.CollectionID)),
	}, nil
}

func (e *Extractor) apiURL(path string, query url.Values) string {
	u := e.cfg.Endpoints.API + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
