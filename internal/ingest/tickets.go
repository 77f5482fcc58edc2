package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
)

const (
	ticketPageSize = 100
	ticketTimeout  = 30 * time.Second
)

// TicketCollector pulls issues from a Redmine-compatible API. Resource
// hashes are deterministic ("{type}_{sanitized_id}") so re-collection
// overwrites in place instead of accumulating duplicates.
type TicketCollector struct {
	src    config.TicketSource
	client *http.Client
}

func NewTicketCollector(src config.TicketSource) *TicketCollector {
	return &TicketCollector{
		src:    src,
		client: &http.Client{Timeout: ticketTimeout},
	}
}

func (c *TicketCollector) Name() string   { return "tickets:" + c.src.Name }
func (c *TicketCollector) Subdir() string { return subdirTickets }
func (c *TicketCollector) Reset() bool    { return c.src.Reset }
func (c *TicketCollector) Cron() string   { return c.src.Cron }

type redmineIssue struct {
	ID          int    `json:"id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Status      struct {
		Name string `json:"name"`
	} `json:"status"`
	Author struct {
		Name string `json:"name"`
	} `json:"author"`
	UpdatedOn string `json:"updated_on"`
}

type redmineIssuePage struct {
	Issues     []redmineIssue `json:"issues"`
	TotalCount int            `json:"total_count"`
	Offset     int            `json:"offset"`
}

func (c *TicketCollector) Collect(ctx context.Context, cat *catalog.Store) (CollectStats, error) {
	var stats CollectStats
	offset := 0
	for {
		page, err := c.fetchPage(ctx, offset)
		if err != nil {
			return stats, fmt.Errorf("fetch issues: %w", err)
		}
		for _, issue := range page.Issues {
			if err := c.persistIssue(cat, issue); err != nil {
				slog.Warn("persist ticket failed", "source", c.Name(), "ticket", issue.ID, "error", err)
				stats.Failed++
				continue
			}
			stats.Collected++
		}
		offset += len(page.Issues)
		if len(page.Issues) == 0 || offset >= page.TotalCount {
			return stats, nil
		}
	}
}

func (c *TicketCollector) fetchPage(ctx context.Context, offset int) (*redmineIssuePage, error) {
	q := url.Values{}
	q.Set("status_id", "*")
	q.Set("limit", fmt.Sprint(ticketPageSize))
	q.Set("offset", fmt.Sprint(offset))
	if c.src.Project != "" {
		q.Set("project_id", c.src.Project)
	}
	endpoint := strings.TrimSuffix(c.src.BaseURL, "/") + "/issues.json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Redmine-API-Key", c.src.APIKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page redmineIssuePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &page, nil
}

func (c *TicketCollector) persistIssue(cat *catalog.Store, issue redmineIssue) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d: %s\nStatus: %s\n\n%s\n", issue.ID, issue.Subject, issue.Status.Name, issue.Description)

	res := catalog.Resource{
		Hash:       catalog.TicketHash(c.src.Type, fmt.Sprint(issue.ID)),
		SourceType: catalog.SourceTicket,
		URL:        strings.TrimSuffix(c.src.BaseURL, "/") + fmt.Sprintf("/issues/%d", issue.ID),
		TicketID:   fmt.Sprint(issue.ID),
		Suffix:     ".txt",
		Content:    []byte(b.String()),
		Metadata: &catalog.Metadata{
			SourceURL:   strings.TrimSuffix(c.src.BaseURL, "/") + fmt.Sprintf("/issues/%d", issue.ID),
			SourceType:  catalog.SourceTicket,
			CollectedAt: time.Now().UTC(),
			Title:       issue.Subject,
			Author:      issue.Author.Name,
			Extra:       map[string]string{"status": issue.Status.Name, "updated_on": issue.UpdatedOn},
		},
	}
	_, err := cat.Persist(res, subdirTickets)
	return err
}
