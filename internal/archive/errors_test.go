package archive

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code      int
		target    error
		retryable bool
	}{
		{http.StatusUnauthorized, ErrAuth, false},
		{http.StatusForbidden, ErrAuth, false},
		{http.StatusNotFound, ErrNetwork, false},
		{http.StatusTooManyRequests, ErrNetwork, true},
		{http.StatusBadGateway, ErrNetwork, true},
	}
	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", &StatusError{Method: http.MethodGet, URL: "https://x", StatusCode: tc.code})
		require.ErrorIs(t, err, tc.target, "status %d", tc.code)

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		require.Equal(t, tc.retryable, statusErr.Retryable(), "status %d", tc.code)
	}
}

func TestFileReferenceHelpers(t *testing.T) {
	t.Parallel()

	patch := &FileReference{Filename: "ARCHIVEIT-MISSING_URLS_PATCH-0001.warc.gz"}
	plain := &FileReference{Filename: "capture1.warc.gz", CrawlID: 99}
	require.True(t, patch.IsPatchBatch())
	require.False(t, patch.HasCrawl())
	require.False(t, plain.IsPatchBatch())
	require.True(t, plain.HasCrawl())

	plain.Local = LocalValid
	require.Equal(t, 1, CountLocal([]*FileReference{patch, plain}, LocalValid))
	require.Equal(t, 1, CountLocal([]*FileReference{patch, plain}, LocalUnknown))
	require.Equal(t, "valid", LocalValid.String())
}
