package index

// Document is one indexed chunk of a resource.
type Document struct {
	ResourceID string            `json:"resource_id"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ScoredDocument pairs a document with a retrieval score.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// Filter restricts search results by resource metadata. A nil Filter admits
// everything.
type Filter func(resourceID string, metadata map[string]string) bool

// AllowedSet builds a filter admitting only the listed resource ids.
// An empty set admits nothing.
func AllowedSet(ids map[string]bool) Filter {
	return func(resourceID string, _ map[string]string) bool {
		return ids[resourceID]
	}
}
