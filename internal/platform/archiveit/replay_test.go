package archiveit

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestReplayHooks(t *testing.T) {
	t.Parallel()

	s := NewReplayScraper(ReplayConfig{Authorization: "Basic abc"})
	var (
		title    string
		parseErr error
		fetchErr error
	)
	hooks := &stubHooks{}
	s.configureHooks(hooks, &title, &parseErr, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	assert.Equal(t, "Basic abc", req.Headers.Get("Authorization"))

	hooks.onResponse(&colly.Response{
		Body:    []byte(`{"title":"not html"}`),
		Headers: &http.Header{"Content-Type": {"application/json"}},
	})
	assert.Empty(t, title)

	hooks.onResponse(&colly.Response{
		Body:    []byte("<html><head><title> Hello </title></head></html>"),
		Headers: &http.Header{"Content-Type": {"text/html; charset=utf-8"}},
	})
	assert.Equal(t, "Hello", title)
	assert.NoError(t, parseErr)

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	assert.True(t, isHTML("text/html"))
	assert.True(t, isHTML("application/xhtml+xml; charset=utf-8"))
	assert.True(t, isHTML("TEXT/HTML;;"))
	assert.False(t, isHTML("application/warc"))
}

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	title, err := ExtractTitle([]byte("<html><head><title>First</title><title>Second</title></head></html>"))
	require.NoError(t, err)
	assert.Equal(t, "First", title)

	title, err = ExtractTitle([]byte("<html><body>no title</body></html>"))
	require.NoError(t, err)
	assert.Empty(t, title)
}

func TestReplayURL(t *testing.T) {
	t.Parallel()

	got, err := ReplayURL("https://wayback.archive-it.org/", "12345", "2021-04-30 20:04:57.635000", "https://example.com/a b?x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://wayback.archive-it.org/12345/20210430200457/https%3A%2F%2Fexample.com%2Fa%20b%3Fx%3D1", got)

	_, err = ReplayURL("https://wayback.archive-it.org", "12345", "2021-04-30", "https://example.com/")
	require.ErrorIs(t, err, archive.ErrData)
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newRetryPolicy(2, 0, 0)
	assert.True(t, p.ShouldRetry(ctx, &archive.StatusError{StatusCode: http.StatusTooManyRequests}, 0))
	assert.True(t, p.ShouldRetry(ctx, &archive.StatusError{StatusCode: http.StatusBadGateway}, 1))
	assert.False(t, p.ShouldRetry(ctx, &archive.StatusError{StatusCode: http.StatusBadGateway}, 2))
	assert.False(t, p.ShouldRetry(ctx, &archive.StatusError{StatusCode: http.StatusNotFound}, 0))
	assert.False(t, p.ShouldRetry(ctx, errors.New("decode failure"), 0))
	assert.True(t, p.ShouldRetry(ctx, timeoutError{}, 0))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, p.ShouldRetry(canceled, timeoutError{}, 0))
	assert.False(t, p.ShouldRetry(ctx, context.Canceled, 0))
	for attempt := range 5 {
		delay := p.Backoff(attempt)
		assert.LessOrEqual(t, delay, p.maxDelay)
		assert.GreaterOrEqual(t, delay, p.maxDelay/2)
	}
}

// timeoutError mimics the net.Error an http.Client returns when its Timeout elapses.
type timeoutError struct{}

func (timeoutError) Error() string { return "Client.Timeout exceeded while awaiting headers" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }
func (timeoutError) Unwrap() error { return context.DeadlineExceeded }
