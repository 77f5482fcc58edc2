package catalog

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func webResource(url, body string) Resource {
	return Resource{
		Hash:       HashURL(url),
		SourceType: SourceWeb,
		URL:        url,
		Suffix:     ".html",
		Content:    []byte(body),
		Metadata: &Metadata{
			SourceURL:   url,
			SourceType:  SourceWeb,
			CollectedAt: time.Now().UTC(),
			Title:       "page",
		},
	}
}

func TestPersistLookupRoundTrip(t *testing.T) {
	s := openTestStore(t)
	res := webResource("https://example.org/docs", "<html>hello</html>")

	rel, err := s.Persist(res, "websites")
	require.NoError(t, err)
	assert.Equal(t, "websites/"+res.Hash+".html", rel)

	path, content, meta, err := s.Lookup(res.Hash)
	require.NoError(t, err)
	assert.Equal(t, rel, path)
	assert.Equal(t, res.Content, content)
	require.NotNil(t, meta)
	assert.Equal(t, "https://example.org/docs", meta.SourceURL)
	assert.Equal(t, "page", meta.Title)
}

func TestLookupUnknownHash(t *testing.T) {
	s := openTestStore(t)
	_, _, _, err := s.Lookup("deadbeef")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRepersistClearsTombstone(t *testing.T) {
	s := openTestStore(t)
	res := webResource("https://example.org/a", "v1")
	_, err := s.Persist(res, "websites")
	require.NoError(t, err)

	s.SoftDelete(res.Hash)
	assert.False(t, s.LiveHashes()[res.Hash])

	res.Content = []byte("v2")
	_, err = s.Persist(res, "websites")
	require.NoError(t, err)
	assert.True(t, s.LiveHashes()[res.Hash])

	_, content, _, err := s.Lookup(res.Hash)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestGCRemovesOnlyTombstoned(t *testing.T) {
	s := openTestStore(t)
	keep := webResource("https://example.org/keep", "keep")
	drop := webResource("https://example.org/drop", "drop")
	_, err := s.Persist(keep, "websites")
	require.NoError(t, err)
	_, err = s.Persist(drop, "websites")
	require.NoError(t, err)

	s.SoftDelete(drop.Hash)
	removed, err := s.GC()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, _, _, err = s.Lookup(drop.Hash)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, _, _, err = s.Lookup(keep.Hash)
	assert.NoError(t, err)
}

func TestFlushSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	res := webResource("https://example.org/persisted", "body")
	_, err = s.Persist(res, "websites")
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	s2, err := NewStore(dir)
	require.NoError(t, err)
	_, content, _, err := s2.Lookup(res.Hash)
	require.NoError(t, err)
	assert.Equal(t, "body", string(content))
}

func TestResetClearsSubdirOnly(t *testing.T) {
	s := openTestStore(t)
	web := webResource("https://example.org/w", "web")
	_, err := s.Persist(web, "websites")
	require.NoError(t, err)

	up := Resource{Hash: HashContent([]byte("upload")), Suffix: ".txt", Content: []byte("upload")}
	_, err = s.Persist(up, "uploads")
	require.NoError(t, err)

	require.NoError(t, s.Reset("websites"))

	_, _, _, err = s.Lookup(web.Hash)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, _, _, err = s.Lookup(up.Hash)
	assert.NoError(t, err)
}

func TestPersistRejectsEscapingPath(t *testing.T) {
	s := openTestStore(t)
	res := webResource("https://example.org/x", "x")
	_, err := s.Persist(res, "../outside")
	assert.Error(t, err)
}

func TestTicketHash(t *testing.T) {
	assert.Equal(t, "redmine_a_42_x", TicketHash("redmine", "A 42/x"))
	assert.Equal(t, "jira_proj_7", TicketHash("Jira", "PROJ-7"))
}

func TestShortHash(t *testing.T) {
	h := HashContent([]byte("x"))
	assert.Len(t, ShortHash(h), 12)
	assert.Equal(t, "abc", ShortHash("abc"))
}
