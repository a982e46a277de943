package domain

type QueryType string

const (
	QueryTypeError        QueryType = "error"
	QueryTypeHowTo        QueryType = "howto"
	QueryTypeConcept      QueryType = "concept"
	QueryTypeCodeLookup   QueryType = "code_lookup"
	QueryTypeAPIReference QueryType = "api_reference"
	QueryTypeGeneral      QueryType = "general"
)

// CodeOriented reports whether answers to this query type are expected to carry code.
func (q QueryType) CodeOriented() bool {
	switch q {
	case QueryTypeCodeLookup, QueryTypeAPIReference, QueryTypeHowTo, QueryTypeError:
		return true
	default:
		return false
	}
}

type QueryAnalysis struct {
	Type                 QueryType           `json:"type"`
	OriginalQuery        string              `json:"original_query"`
	ExpandedQuery        string              `json:"expanded_query"`
	Keywords             []string            `json:"keywords"`
	SuggestedContentType ContentType         `json:"suggested_content_type,omitempty"`
	SuggestedLimit       int                 `json:"suggested_limit"`
	AdjacencyWindows     map[ContentType]int `json:"adjacency_windows,omitempty"`
	Rerank               bool                `json:"rerank"`
	RerankTopK           int                 `json:"rerank_top_k"`
}
