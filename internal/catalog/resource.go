package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Source types recognized by the catalog.
const (
	SourceWeb    = "web"
	SourceGit    = "git"
	SourceTicket = "ticket"
	SourceLocal  = "local"
	SourceSSO    = "sso"
)

// Metadata is the sidecar written next to resource content as {path}.meta.
// The field names are an external contract for backup and migration tooling.
type Metadata struct {
	SourceURL   string            `yaml:"source_url,omitempty"`
	SourceType  string            `yaml:"source_type"`
	CollectedAt time.Time         `yaml:"collected_at"`
	Title       string            `yaml:"title,omitempty"`
	Author      string            `yaml:"author,omitempty"`
	Extra       map[string]string `yaml:"extra,omitempty"`
}

// Resource is an ingested artifact addressed by a stable hash.
type Resource struct {
	Hash        string
	DisplayName string
	SourceType  string
	URL         string
	TicketID    string
	GitCommit   string
	Suffix      string
	Content     []byte
	Metadata    *Metadata
}

// HashURL derives the resource hash for a web page: sha256 over the URL.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// HashContent derives the resource hash for uploaded bytes.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

var nonWord = regexp.MustCompile(`\W+`)

// TicketHash derives the deterministic hash for a ticket resource:
// "{source_type}_{id}" lower-cased with non-word runs replaced by "_".
func TicketHash(sourceType, ticketID string) string {
	id := nonWord.ReplaceAllString(strings.ToLower(ticketID), "_")
	return strings.ToLower(sourceType) + "_" + id
}

// ShortHash returns the first 12 characters of a hash, used for upload
// filenames of the form {short_hash}.{ext}.
func ShortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
