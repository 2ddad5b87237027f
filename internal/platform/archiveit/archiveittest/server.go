// Package archiveittest provides an in-process fake of the Archive-It services for tests.
package archiveittest

import (
	"crypto/sha1" //nolint:gosec // mirrors the platform's published checksums
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// File is one capture file served by the fake.
type File struct {
	Name    string
	Content []byte
	// SHA1 overrides the advertised checksum; empty means the digest of Content.
	SHA1    string
	CrawlID int64
	// NoLocation advertises the file without a download location.
	NoLocation bool
}

// Seed is one record of a crawl's seed report.
type Seed struct {
	ID        int64
	URL       string
	Timestamp string
	// Title is the seed metadata title; empty means the seed has none.
	Title string
}

// Fixture describes the collection the fake serves.
type Fixture struct {
	CollectionID string
	Title        string
	Description  string
	Username     string
	Password     string
	Files        []File
	Crawls       map[int64][]Seed
	// ReplayTitles maps a page URL to the <title> its replay rendering carries.
	ReplayTitles map[string]string
	// FailCrawls makes the listed crawl reports answer 500.
	FailCrawls map[int64]bool
	// FailListingPage makes the given listing page answer 500 (0 disables).
	FailListingPage int
}

// Server is a running fake.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	fixture Fixture
	hits    map[string]int
}

// NewServer starts a fake serving f.
func NewServer(f Fixture) *Server {
	s := &Server{fixture: f, hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// APIBase is the partner API base URL.
func (s *Server) APIBase() string { return s.URL + "/api" }

// WASAPIBase is the WASAPI base URL.
func (s *Server) WASAPIBase() string { return s.URL + "/wasapi/v1" }

// ReplayBase is the replay base URL.
func (s *Server) ReplayBase() string { return s.URL + "/replay" }

// Hits returns how often an endpoint kind was requested: collection, listing, crawl, seed,
// download or replay.
func (s *Server) Hits(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[kind]
}

// ResetHits zeroes all counters.
func (s *Server) ResetHits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
}

// Update mutates the fixture under the server lock.
func (s *Server) Update(fn func(f *Fixture)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.fixture)
}

// Checksum returns the hex SHA-1 of content.
func Checksum(content []byte) string {
	sum := sha1.Sum(content) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

func (s *Server) hit(kind string) Fixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[kind]++
	return s.fixture
}

func (s *Server) authorized(r *http.Request, f Fixture) bool {
	if f.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == f.Username && pass == f.Password
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/collection":
		s.serveCollection(w, r, s.hit("collection"))
	case path == "/wasapi/v1/webdata":
		s.serveListing(w, r, s.hit("listing"))
	case strings.HasPrefix(path, "/api/reports/seed/"):
		s.serveCrawl(w, r, s.hit("crawl"), strings.TrimPrefix(path, "/api/reports/seed/"))
	case strings.HasPrefix(path, "/api/seed/"):
		s.serveSeed(w, r, s.hit("seed"), strings.TrimPrefix(path, "/api/seed/"))
	case strings.HasPrefix(path, "/download/"):
		s.serveDownload(w, r, s.hit("download"), strings.TrimPrefix(path, "/download/"))
	case strings.HasPrefix(path, "/replay/"):
		s.serveReplay(w, r, s.hit("replay"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveCollection(w http.ResponseWriter, r *http.Request, f Fixture) {
	if !s.authorized(r, f) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("id") != f.CollectionID {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	record := map[string]any{"name": f.Title, "metadata": map[string]any{}}
	if f.Description != "" {
		record["metadata"] = map[string]any{"Description": []map[string]string{{"value": f.Description}}}
	}
	writeJSON(w, []any{record})
}

func (s *Server) serveListing(w http.ResponseWriter, r *http.Request, f Fixture) {
	if !s.authorized(r, f) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	if page < 1 || size < 1 || q.Get("collection") != f.CollectionID {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if page == f.FailListingPage {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	start := min((page-1)*size, len(f.Files))
	end := min(start+size, len(f.Files))
	entries := make([]map[string]any, 0, end-start)
	for _, file := range f.Files[start:end] {
		sum := file.SHA1
		if sum == "" {
			sum = Checksum(file.Content)
		}
		entry := map[string]any{
			"filename":  file.Name,
			"checksums": map[string]string{"sha1": sum, "md5": "ignored"},
			"locations": []string{},
			"size":      len(file.Content),
		}
		if !file.NoLocation {
			entry["locations"] = []string{
				s.URL + "/download/" + url.PathEscape(file.Name),
				"https://mirror.invalid/" + file.Name,
			}
		}
		if file.CrawlID > 0 {
			entry["crawl"] = file.CrawlID
		}
		entries = append(entries, entry)
	}
	var next any
	if end < len(f.Files) {
		nq := url.Values{"collection": {f.CollectionID}, "page": {strconv.Itoa(page + 1)}, "page_size": {strconv.Itoa(size)}}
		next = s.WASAPIBase() + "/webdata?" + nq.Encode()
	}
	writeJSON(w, map[string]any{"count": len(f.Files), "next": next, "files": entries})
}

func (s *Server) serveCrawl(w http.ResponseWriter, r *http.Request, f Fixture, rawID string) {
	if !s.authorized(r, f) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if f.FailCrawls[id] {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	seeds, ok := f.Crawls[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	records := make([]map[string]any, 0, len(seeds))
	for _, seed := range seeds {
		rec := map[string]any{"seed": seed.URL, "timestamp": seed.Timestamp}
		if seed.ID > 0 {
			rec["seed_id"] = seed.ID
		}
		records = append(records, rec)
	}
	writeJSON(w, records)
}

func (s *Server) serveSeed(w http.ResponseWriter, r *http.Request, f Fixture, rawID string) {
	if !s.authorized(r, f) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, seeds := range f.Crawls {
		for _, seed := range seeds {
			if seed.ID != id {
				continue
			}
			metadata := map[string]any{}
			if seed.Title != "" {
				metadata["Title"] = []map[string]string{{"value": seed.Title}}
			}
			writeJSON(w, map[string]any{"id": id, "url": seed.URL, "metadata": metadata})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request, f Fixture, rawName string) {
	if !s.authorized(r, f) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	for _, file := range f.Files {
		if file.Name == rawName {
			w.Header().Set("Content-Type", "application/warc")
			_, _ = w.Write(file.Content)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) serveReplay(w http.ResponseWriter, r *http.Request, f Fixture) {
	// /replay/<collection>/<ts14>/<escaped page url>
	parts := strings.SplitN(strings.TrimPrefix(r.URL.EscapedPath(), "/replay/"), "/", 3)
	if len(parts) != 3 || parts[0] != f.CollectionID || len(parts[1]) != 14 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	pageURL, err := url.PathUnescape(parts[2])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	title, ok := f.ReplayTitles[pageURL]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<html><head><title>%s</title></head><body>replay</body></html>", html.EscapeString(title))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
