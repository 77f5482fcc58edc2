package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsage/docsage/internal/catalog"
	"github.com/docsage/docsage/internal/config"
)

func testCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	cat, err := catalog.NewStore(t.TempDir())
	require.NoError(t, err)
	return cat
}

func TestUploadCollectorDeduplicatesByContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("same body"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "copy.txt"), []byte("same body"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.md"), []byte("different"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip me"), 0o644))

	cat := testCatalog(t)
	c := NewUploadCollector(config.UploadsConfig{Dir: dir})
	stats, err := c.Collect(context.Background(), cat)
	require.NoError(t, err)

	// Both copies are collected, but hash by content lands them on one row.
	assert.Equal(t, 3, stats.Collected)
	assert.Len(t, cat.LiveHashes(), 2)
	assert.True(t, cat.LiveHashes()[catalog.HashContent([]byte("same body"))])
}

func TestUploadCollectorMissingDir(t *testing.T) {
	cat := testCatalog(t)
	c := NewUploadCollector(config.UploadsConfig{Dir: filepath.Join(t.TempDir(), "nope")})
	stats, err := c.Collect(context.Background(), cat)
	require.NoError(t, err)
	assert.Equal(t, CollectStats{}, stats)
}

func TestTicketCollectorPagination(t *testing.T) {
	pageOne := map[string]any{
		"issues": []map[string]any{
			{"id": 1, "subject": "Magnet quench", "description": "details one",
				"status": map[string]string{"name": "Open"}},
		},
		"total_count": 2,
		"offset":      0,
	}
	pageTwo := map[string]any{
		"issues": []map[string]any{
			{"id": 2, "subject": "Vacuum leak", "description": "details two",
				"status": map[string]string{"name": "Closed"}},
		},
		"total_count": 2,
		"offset":      1,
	}

	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Redmine-API-Key")
		assert.Equal(t, "/issues.json", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("status_id"))
		if r.URL.Query().Get("offset") == "0" {
			json.NewEncoder(w).Encode(pageOne)
		} else {
			json.NewEncoder(w).Encode(pageTwo)
		}
	}))
	defer srv.Close()

	cat := testCatalog(t)
	c := NewTicketCollector(config.TicketSource{
		Name: "ops", Type: "redmine", BaseURL: srv.URL, APIKey: "key-123",
	})
	stats, err := c.Collect(context.Background(), cat)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Collected)
	assert.Equal(t, "key-123", gotKey)

	// Deterministic ticket hashes: re-collection overwrites in place.
	_, content, meta, err := cat.Lookup(catalog.TicketHash("redmine", "1"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Ticket #1: Magnet quench")
	assert.Contains(t, string(content), "Status: Open")
	require.NotNil(t, meta)
	assert.Equal(t, "Magnet quench", meta.Title)

	stats, err = c.Collect(context.Background(), cat)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Collected)
	assert.Len(t, cat.LiveHashes(), 2)
}

func TestTicketCollectorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	cat := testCatalog(t)
	c := NewTicketCollector(config.TicketSource{Name: "ops", Type: "redmine", BaseURL: srv.URL})
	_, err := c.Collect(context.Background(), cat)
	assert.ErrorContains(t, err, "status 403")
}
