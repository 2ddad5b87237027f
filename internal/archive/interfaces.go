package archive

import (
	"context"
	"io"
	"time"
)

// Extractor is the capability set a platform backend provides to the pipeline.
type Extractor interface {
	// CheckAccess fails when the credentials cannot see the collection.
	CheckAccess(ctx context.Context) error
	// CollectionInfo fetches the collection's descriptive metadata.
	CollectionInfo(ctx context.Context) (CollectionInfo, error)
	// ListFiles returns the complete remote file listing or an error; never a partial listing.
	ListFiles(ctx context.Context) ([]*FileReference, error)
	// EnrichCrawlInfo attaches crawled pages to files. Item failures are logged, not returned.
	EnrichCrawlInfo(ctx context.Context, files []*FileReference, concurrency int) error
	// ResolveTitles fills page titles where possible. Item failures are logged, not returned.
	ResolveTitles(ctx context.Context, files []*FileReference, concurrency int) error
}

// Downloader streams a remote capture file.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Assembler packages a working directory and page manifest into a container.
type Assembler interface {
	Assemble(ctx context.Context, req AssembleRequest) error
}

// AssembleRequest carries everything the container collaborator needs.
type AssembleRequest struct {
	WorkDir     string
	InputGlob   string
	OutputPath  string
	Title       string
	Description string
	Pages       []PageEntry
}

// Hasher computes content digests for integrity checks.
type Hasher interface {
	HashReader(r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}
