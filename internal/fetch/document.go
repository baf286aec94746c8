package fetch

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/courseware-agent/internal/types"
)

// Document fetches a course page and returns it as a scrape-origin source
// document. When the HTTP page carries too little text and opts.UseBrowser is
// set, the page is rendered headless; a failed render keeps the HTTP content.
func Document(ctx context.Context, urlStr string, opts *Options) (types.SourceDocument, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	result, err := URL(ctx, urlStr, opts)
	if err != nil {
		return types.SourceDocument{}, err
	}

	html := result.HTML
	platform := DetectPlatform(urlStr)
	text, err := ExtractMainText(html, PlatformContentSelectors(platform), PlatformNoiseSelectors(platform)...)
	if err != nil {
		return types.SourceDocument{}, &Error{URL: urlStr, Message: "content extraction failed", Cause: err}
	}

	if opts.UseBrowser && ShouldUseBrowser(text) {
		if rendered, renderErr := render(ctx, opts, urlStr); renderErr == nil {
			html = rendered
		} else if ctx.Err() != nil {
			return types.SourceDocument{}, ctx.Err()
		}
	}

	return types.SourceDocument{
		ID:      uuid.NewString(),
		Name:    documentName(urlStr, html),
		Kind:    types.MediaHTML,
		Origin:  types.OriginScrape,
		URL:     urlStr,
		Content: []byte(html),
	}, nil
}

func documentName(urlStr, html string) string {
	if title := Title(html); title != "" {
		return title
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	base := path.Base(strings.TrimSuffix(parsed.Path, "/"))
	if base == "." || base == "/" || base == "" {
		return parsed.Hostname()
	}
	return parsed.Hostname() + "/" + base
}
