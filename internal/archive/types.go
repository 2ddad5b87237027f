// Package archive defines the collection model shared by the sync pipeline stages.
package archive

import "strings"

// MissingURLsPatchMarker tags synthetic platform batches that carry no meaningful page titles.
const MissingURLsPatchMarker = "MISSING_URLS_PATCH"

// LocalState records what the reconciler learned about a file's local copy.
type LocalState int

// Local states, in the order a reference moves through them.
const (
	LocalUnknown LocalState = iota
	LocalValid
	LocalMissing
)

func (s LocalState) String() string {
	switch s {
	case LocalValid:
		return "valid"
	case LocalMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// FileReference is one remote capture file in a collection listing.
type FileReference struct {
	// Filename is the join key between the listing, disk state and every later stage.
	Filename string
	// DownloadURL is the first location advertised by the listing; empty when none was given.
	DownloadURL string
	// RemoteChecksum is the hex SHA-1 reported by the platform.
	RemoteChecksum string
	// LocalChecksum is the hex SHA-1 of the copy on disk, set by checksum verification.
	LocalChecksum string
	// CrawlID links the file to its crawl report; zero when unknown.
	CrawlID int64
	// Size is the advertised size in bytes.
	Size int64
	// Local is the outcome of the last checksum pass.
	Local LocalState
	// CrawledPages are the candidate pages of the file's crawl.
	CrawledPages []*CrawledPage
}

// IsPatchBatch reports whether the file belongs to a synthetic missing-URLs batch.
func (f *FileReference) IsPatchBatch() bool {
	return strings.Contains(f.Filename, MissingURLsPatchMarker)
}

// HasCrawl reports whether the listing linked the file to a crawl.
func (f *FileReference) HasCrawl() bool {
	return f.CrawlID > 0
}

// CrawledPage is one candidate archived page of a crawl.
type CrawledPage struct {
	SeedID    int64
	URL       string
	Timestamp string
	// Title stays empty when no resolution strategy produced one.
	Title string
}

// HasSeed reports whether the page carries a platform seed id.
func (p *CrawledPage) HasSeed() bool {
	return p.SeedID > 0
}

// PageEntry is one normalized entry of the final page manifest.
type PageEntry struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Timestamp string `json:"ts"`
}

// CollectionInfo is the descriptive metadata of a remote collection.
type CollectionInfo struct {
	Title       string
	Description string
}

// CollectionState is the aggregate the orchestrator builds up over one run.
type CollectionState struct {
	CollectionID  string
	Title         string
	Description   string
	ContainerPath string
	WorkDir       string
	Files         []*FileReference
	Pages         []PageEntry
}

// CountLocal returns how many references are in the given local state.
func CountLocal(files []*FileReference, state LocalState) int {
	n := 0
	for _, f := range files {
		if f.Local == state {
			n++
		}
	}
	return n
}
