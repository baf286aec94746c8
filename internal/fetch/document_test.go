package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/courseware-agent/internal/types"
)

func servePage(t *testing.T, html string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDocument_StaticPage(t *testing.T) {
	page := "<html><head><title>Data Analytics Course</title></head><body><main>" +
		strings.Repeat("<p>Learn to analyse data.</p>", 40) + "</main></body></html>"
	server := servePage(t, page)

	opts := DefaultOptions()
	opts.UseBrowser = true
	opts.Render = func(context.Context, string) (string, error) {
		t.Fatal("renderer must not run for a complete page")
		return "", nil
	}

	doc, err := Document(context.Background(), server.URL+"/courses/data", opts)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "Data Analytics Course", doc.Name)
	assert.Equal(t, types.MediaHTML, doc.Kind)
	assert.Equal(t, types.OriginScrape, doc.Origin)
	assert.Equal(t, server.URL+"/courses/data", doc.URL)
	assert.Equal(t, page, string(doc.Content))
}

func TestDocument_BrowserFallback(t *testing.T) {
	server := servePage(t, `<html><body><div id="app"></div></body></html>`)

	rendered := "<html><body><h1>Rendered Course</h1></body></html>"
	opts := DefaultOptions()
	opts.UseBrowser = true
	opts.Render = func(_ context.Context, url string) (string, error) {
		assert.Equal(t, server.URL, url)
		return rendered, nil
	}

	doc, err := Document(context.Background(), server.URL, opts)
	require.NoError(t, err)
	assert.Equal(t, rendered, string(doc.Content))
	assert.Equal(t, "Rendered Course", doc.Name)
}

func TestDocument_BrowserFailureKeepsHTTPContent(t *testing.T) {
	page := `<html><body><p>Thin page</p></body></html>`
	server := servePage(t, page)

	opts := DefaultOptions()
	opts.UseBrowser = true
	opts.Render = func(context.Context, string) (string, error) {
		return "", errors.New("chrome not installed")
	}

	doc, err := Document(context.Background(), server.URL+"/thin/", opts)
	require.NoError(t, err)
	assert.Equal(t, page, string(doc.Content))
	assert.True(t, strings.HasSuffix(doc.Name, "/thin"), doc.Name)
}

func TestDocument_FetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := Document(context.Background(), server.URL, nil)
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "HTTP status 500")
}

func TestDocumentName(t *testing.T) {
	assert.Equal(t, "example.com", documentName("https://example.com/", ""))
	assert.Equal(t, "example.com/course-a", documentName("https://example.com/x/course-a", "<html></html>"))
}
