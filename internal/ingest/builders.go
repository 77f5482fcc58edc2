package ingest

import (
	"strings"

	"golang.org/x/time/rate"

	"github.com/docsage/docsage/internal/config"
)

// Catalog subdirectories per source kind.
const (
	subdirWeb     = "websites"
	subdirGit     = "git"
	subdirTickets = "tickets"
	subdirUploads = "uploads"
)

// BuildCollectors assembles the collector set from config. Link lists may
// carry "git-" prefixed URLs; those are split off into ad-hoc git collectors
// so one seed list can mix pages and repositories.
func BuildCollectors(cfg *config.Config) []Collector {
	limiter := rate.NewLimiter(rate.Limit(cfg.Utils.ScraperRPS), cfg.Utils.ScraperBurst)
	if cfg.Utils.ScraperRPS <= 0 {
		limiter = rate.NewLimiter(2, 4)
	}

	var out []Collector
	for _, src := range cfg.Sources.Links {
		web := src
		web.URLs = nil
		for _, u := range src.URLs {
			if repo, ok := strings.CutPrefix(u, "git-"); ok {
				out = append(out, NewGitCollector(config.GitSource{
					Name:  src.Name + ":" + repoShortName(repo),
					URL:   repo,
					Cron:  src.Cron,
					Reset: false, // reset of the shared git subdir belongs to explicit git sources
				}))
				continue
			}
			web.URLs = append(web.URLs, u)
		}
		if len(web.URLs) > 0 {
			out = append(out, NewWebCollector(web, limiter, cfg.Utils.SSO))
		}
	}
	for _, src := range cfg.Sources.Git {
		out = append(out, NewGitCollector(src))
	}
	for _, src := range cfg.Sources.Tickets {
		out = append(out, NewTicketCollector(src))
	}
	if cfg.Sources.Uploads.Dir != "" {
		out = append(out, NewUploadCollector(cfg.Sources.Uploads))
	}
	return out
}

func repoShortName(url string) string {
	url = strings.TrimSuffix(url, ".git")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
