package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
)

const (
	defaultCrawlDepth = 0
	defaultMaxPages   = 200
	crawlTimeout      = 30 * time.Second
	crawlUserAgent    = "docsage-scraper/1.0"
)

var (
	reHref  = regexp.MustCompile(`(?i)<a[^>]+href="([^"#]+)"`)
	reTitle = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// WebCollector crawls a seed list of pages. Crawling is same-origin,
// breadth-first, bounded by depth and max_pages, and rate-limited across
// all sources sharing the limiter. URLs prefixed "sso-" are fetched through
// the authenticated browser session instead of plain HTTP.
type WebCollector struct {
	src     config.LinkSource
	limiter *rate.Limiter
	sso     *SSOSession
	client  *http.Client
}

func NewWebCollector(src config.LinkSource, limiter *rate.Limiter, sso config.SSOConfig) *WebCollector {
	c := &WebCollector{
		src:     src,
		limiter: limiter,
		client:  &http.Client{Timeout: crawlTimeout},
	}
	if sso.Enabled {
		c.sso = NewSSOSession(sso)
	}
	return c
}

func (c *WebCollector) Name() string   { return "links:" + c.src.Name }
func (c *WebCollector) Subdir() string { return subdirWeb }
func (c *WebCollector) Reset() bool    { return c.src.Reset }
func (c *WebCollector) Cron() string   { return c.src.Cron }

type crawlItem struct {
	url   string
	depth int
	sso   bool
}

func (c *WebCollector) Collect(ctx context.Context, cat *catalog.Store) (CollectStats, error) {
	maxPages := c.src.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	var (
		stats CollectStats
		queue []crawlItem
		seen  = make(map[string]bool)
	)
	for _, raw := range c.src.URLs {
		item := crawlItem{url: raw, depth: 0}
		if u, ok := strings.CutPrefix(raw, "sso-"); ok {
			item.url, item.sso = u, true
		}
		queue = append(queue, item)
	}

	for len(queue) > 0 && len(seen) < maxPages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		item := queue[0]
		queue = queue[1:]
		norm := normalizeURL(item.url)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true

		if err := c.limiter.Wait(ctx); err != nil {
			return stats, err
		}

		body, err := c.fetch(ctx, item)
		if err != nil {
			slog.Warn("page fetch failed", "source", c.Name(), "url", norm, "error", err)
			stats.Failed++
			continue
		}

		sourceType := catalog.SourceWeb
		if item.sso {
			sourceType = catalog.SourceSSO
		}
		res := catalog.Resource{
			Hash:       catalog.HashURL(norm),
			SourceType: sourceType,
			URL:        norm,
			Suffix:     ".html",
			Content:    body,
			Metadata: &catalog.Metadata{
				SourceURL:   norm,
				SourceType:  sourceType,
				CollectedAt: time.Now().UTC(),
				Title:       pageTitle(body),
			},
		}
		if _, err := cat.Persist(res, subdirWeb); err != nil {
			slog.Warn("persist failed", "source", c.Name(), "url", norm, "error", err)
			stats.Failed++
			continue
		}
		stats.Collected++

		if item.depth < c.src.Depth {
			for _, link := range extractLinks(norm, body) {
				if !seen[link] {
					queue = append(queue, crawlItem{url: link, depth: item.depth + 1, sso: item.sso})
				}
			}
		}
	}
	return stats, nil
}

func (c *WebCollector) fetch(ctx context.Context, item crawlItem) ([]byte, error) {
	if item.sso {
		if c.sso == nil {
			return nil, fmt.Errorf("sso url but sso session disabled")
		}
		return c.sso.Fetch(ctx, item.url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", crawlUserAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

// extractLinks returns same-origin absolute URLs found in the page.
func extractLinks(pageURL string, body []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range reHref.FindAllSubmatch(body, -1) {
		ref, err := url.Parse(strings.TrimSpace(string(m[1])))
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		if abs.Host != base.Host {
			continue
		}
		if norm := normalizeURL(abs.String()); norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	s := u.String()
	return strings.TrimSuffix(s, "/")
}

func pageTitle(body []byte) string {
	m := reTitle.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}
