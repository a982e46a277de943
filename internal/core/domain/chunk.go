package domain

import "fmt"

type ContentType string

const (
	ContentTypeProse        ContentType = "prose"
	ContentTypeCode         ContentType = "code"
	ContentTypeAPIReference ContentType = "api-reference"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeProse, ContentTypeCode, ContentTypeAPIReference:
		return true
	default:
		return false
	}
}

// Chunk is a read-only unit of indexed documentation.
type Chunk struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Section     string      `json:"section,omitempty"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	Project     string      `json:"project"`
	DocumentID  string      `json:"document_id"`
	ChunkIndex  int         `json:"chunk_index"`
	Orphaned    bool        `json:"orphaned,omitempty"`
}

// Key identifies a chunk across engines even when the backend omits the id.
func (c Chunk) Key() string {
	if c.ID != "" {
		return c.ID
	}
	if c.DocumentID != "" {
		return fmt.Sprintf("%s:%d", c.DocumentID, c.ChunkIndex)
	}
	return fmt.Sprintf("%s#%d", c.URL, c.ChunkIndex)
}

type MatchType string

const (
	MatchVector MatchType = "vector"
	MatchFTS    MatchType = "fts"
	MatchHybrid MatchType = "hybrid"
)

// ScoredResult scores are only comparable within one fused set.
type ScoredResult struct {
	Chunk     Chunk     `json:"chunk"`
	Score     float64   `json:"score"`
	MatchType MatchType `json:"match_type"`
	Neighbor  bool      `json:"neighbor,omitempty"`
}

type SearchFilter struct {
	Project     string
	ContentType ContentType
}

type SearchMode string

const (
	SearchModeHybrid SearchMode = "hybrid"
	SearchModeVector SearchMode = "vector"
	SearchModeFTS    SearchMode = "fts"
)

type SearchOptions struct {
	Limit       int
	ContentType ContentType
	Project     string
	Mode        SearchMode
	// WithRerank widens the candidate pool to 3x Limit for a later rerank pass.
	WithRerank bool
}

func (o SearchOptions) Filter() SearchFilter {
	return SearchFilter{Project: o.Project, ContentType: o.ContentType}
}
