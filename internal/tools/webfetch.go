package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	fetchMaxChars    = 50000
	fetchMaxRedirect = 3
	fetchTimeout     = 30 * time.Second
	fetchUserAgent   = "docsage/1.0 (+https://github.com/docsage/docsage)"
)

// WebFetchTool fetches a URL and returns its readable text. Used by the
// agent loop when the corpus lacks an answer and live documentation is
// allowed.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = fetchMaxChars
	}
	t := &WebFetchTool{maxChars: maxChars}
	t.client = &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirect)
			}
			return checkPrivateTarget(req.URL)
		},
	}
	return t
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch an HTTP or HTTPS URL and return its text content. HTML is stripped to readable text."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if err := checkPrivateTarget(parsed); err != nil {
		return ErrorResult(fmt.Sprintf("blocked: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("create request: %v", err)).WithError(err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars*4)))
	if err != nil {
		return ErrorResult(fmt.Sprintf("read body: %v", err)).WithError(err)
	}

	text := string(body)
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "html") {
		text = StripHTML(text)
	}
	truncated := false
	if len(text) > t.maxChars {
		text = text[:t.maxChars]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nStatus: %d\n", resp.Request.URL, resp.StatusCode)
	if truncated {
		fmt.Fprintf(&b, "Truncated: true (limit: %d chars)\n", t.maxChars)
	}
	b.WriteString("\n")
	b.WriteString(text)
	return NewResult(b.String())
}

// checkPrivateTarget rejects URLs whose host resolves only to loopback,
// link-local, or RFC1918 addresses.
func checkPrivateTarget(u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified() {
			return nil
		}
	}
	return fmt.Errorf("%s resolves to a private address", host)
}
