package archiveit

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// ReplayConfig controls the replay collector.
type ReplayConfig struct {
	UserAgent     string
	Authorization string
	Timeout       time.Duration
	Transport     http.RoundTripper
	// Pace, when set, is called before each visit so replay shares the platform request budget.
	Pace func(ctx context.Context) error
}

// ReplayScraper fetches rendered replay pages with Colly and extracts their <title>.
type ReplayScraper struct {
	cfg           ReplayConfig
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

var _ TitleScraper = (*ReplayScraper)(nil)

// NewReplayScraper builds a ReplayScraper.
func NewReplayScraper(cfg ReplayConfig) *ReplayScraper {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &ReplayScraper{cfg: cfg, baseCollector: c}
}

// Title visits replayURL and returns its trimmed <title>. Non-HTML responses yield an empty title.
func (s *ReplayScraper) Title(ctx context.Context, replayURL string) (string, error) {
	if s.cfg.Pace != nil {
		if err := s.cfg.Pace(ctx); err != nil {
			return "", err
		}
	}
	var (
		title    string
		parseErr error
		fetchErr error
	)
	collector := s.baseCollector.Clone()
	s.configureHooks(collector, &title, &parseErr, &fetchErr)
	if err := runCollector(ctx, collector, replayURL, &fetchErr); err != nil {
		return "", err
	}
	if parseErr != nil {
		return "", parseErr
	}
	return title, nil
}

func (s *ReplayScraper) configureHooks(hooks collectorHooks, title *string, parseErr, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		if s.cfg.Authorization != "" {
			r.Headers.Set("Authorization", s.cfg.Authorization)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		if !isHTML(r.Headers.Get("Content-Type")) {
			return
		}
		*title, *parseErr = ExtractTitle(r.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("replay fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("replay visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("replay response failed: %w", *fetchErr)
		}
		return nil
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ExtractTitle returns the trimmed text of the document's first <title>.
func ExtractTitle(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}
