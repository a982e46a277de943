package domain

type RetrievalQuality string

const (
	QualityLow    RetrievalQuality = "low"
	QualityMedium RetrievalQuality = "medium"
	QualityHigh   RetrievalQuality = "high"
)

func (q RetrievalQuality) rank() int {
	switch q {
	case QualityHigh:
		return 2
	case QualityMedium:
		return 1
	default:
		return 0
	}
}

// Better reports whether q is strictly better than other.
func (q RetrievalQuality) Better(other RetrievalQuality) bool {
	return q.rank() > other.rank()
}

type CorrectiveResult struct {
	Results            []ScoredResult   `json:"results"`
	WasRetried         bool             `json:"was_retried"`
	RetriesUsed        int              `json:"retries_used"`
	Quality            RetrievalQuality `json:"quality"`
	InitialQuality     RetrievalQuality `json:"initial_quality"`
	AlternativeQueries []string         `json:"alternative_queries,omitempty"`
}
