// Package tools provides the side-channel capabilities a turn may invoke:
// URL content extraction and molecule lookup, plus the router that decides
// which (if any) runs and rewrites the effective prompt.
package tools

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ===========================================================================
// URL READER TOOL
// ===========================================================================

const (
	// DefaultMaxURLContentBytes caps how much fetched page text survives
	// into the prompt.
	DefaultMaxURLContentBytes = 64 * 1024

	// DefaultURLFetchTimeout bounds a single page fetch.
	DefaultURLFetchTimeout = 30 * time.Second

	// DefaultURLCacheTTL bounds how long extracted page text is reused.
	DefaultURLCacheTTL = 5 * time.Minute
)

// URLReaderTool fetches a web page and reduces it to clean prompt text.
type URLReaderTool struct {
	httpClient *http.Client
	maxBytes   int
	cache      *ttlCache[string]

	stripPatterns []*regexp.Regexp
}

// URLReaderOption configures the URLReaderTool.
type URLReaderOption func(*URLReaderTool)

// WithURLHTTPClient sets a custom HTTP client.
func WithURLHTTPClient(client *http.Client) URLReaderOption {
	return func(u *URLReaderTool) {
		u.httpClient = client
	}
}

// WithMaxContentBytes caps the extracted content size.
func WithMaxContentBytes(n int) URLReaderOption {
	return func(u *URLReaderTool) {
		u.maxBytes = n
	}
}

// WithURLCacheTTL sets the extracted-content cache TTL.
func WithURLCacheTTL(ttl time.Duration) URLReaderOption {
	return func(u *URLReaderTool) {
		u.cache.ttl = ttl
	}
}

// NewURLReaderTool creates a URL reader.
func NewURLReaderTool(opts ...URLReaderOption) *URLReaderTool {
	u := &URLReaderTool{
		httpClient: &http.Client{Timeout: DefaultURLFetchTimeout},
		maxBytes:   DefaultMaxURLContentBytes,
		cache:      newTTLCache[string](100, DefaultURLCacheTTL),
	}
	u.compileStripPatterns()
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// compileStripPatterns compiles the patterns removed from fetched markup
// before it reaches the prompt.
func (u *URLReaderTool) compileStripPatterns() {
	patterns := []string{
		`<script[^>]*>[\s\S]*?</script>`,
		`<style[^>]*>[\s\S]*?</style>`,
		`<head[^>]*>[\s\S]*?</head>`,
		`<!--[\s\S]*?-->`,
		`<nav[^>]*>[\s\S]*?</nav>`,
		`<footer[^>]*>[\s\S]*?</footer>`,
		`<[^>]+>`,
		`javascript:`,
		"\x00",
	}
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			u.stripPatterns = append(u.stripPatterns, re)
		}
	}
}

var whitespaceRE = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)
var spacesRE = regexp.MustCompile(`[ \t]{2,}`)

// Fetch retrieves the page at rawURL and returns cleaned text content.
func (u *URLReaderTool) Fetch(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("invalid url %q", rawURL)
	}

	cacheKey := parsed.String()
	if cached, ok := u.cache.get(cacheKey); ok {
		log.Debug().Str("url", cacheKey).Msg("url content cache hit")
		return cached, nil
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "GET", parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "converse/1.0")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: status %d", resp.StatusCode)
	}

	// Read more than the cap so tag stripping has material to work with,
	// then cap the cleaned text.
	raw, err := readLimitedBody(resp.Body, int64(u.maxBytes)*4)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	content := u.clean(string(raw))
	if content == "" {
		return "", fmt.Errorf("no readable content at %s", parsed.String())
	}
	if len(content) > u.maxBytes {
		content = content[:u.maxBytes]
	}
	u.cache.set(cacheKey, content)

	log.Debug().
		Str("url", parsed.String()).
		Int("bytes", len(content)).
		Dur("elapsed", time.Since(start)).
		Msg("url content extracted")
	return content, nil
}

func (u *URLReaderTool) clean(page string) string {
	for _, re := range u.stripPatterns {
		page = re.ReplaceAllString(page, " ")
	}
	page = html.UnescapeString(page)
	page = whitespaceRE.ReplaceAllString(page, "\n")
	page = spacesRE.ReplaceAllString(page, " ")
	return strings.TrimSpace(page)
}

func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}
