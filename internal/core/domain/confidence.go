package domain

type ConfidenceFactors struct {
	Retrieval         int `json:"retrieval"`
	Coverage          int `json:"coverage"`
	AnswerQuality     int `json:"answer_quality"`
	SourceConsistency int `json:"source_consistency"`
}

type ConfidenceResult struct {
	Score            int               `json:"score"`
	Factors          ConfidenceFactors `json:"factors"`
	Explanation      string            `json:"explanation"`
	SuggestedActions []string          `json:"suggested_actions,omitempty"`
}
