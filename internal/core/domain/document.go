package domain

// SourceDocument is one crawled page handed to the loader before chunking.
type SourceDocument struct {
	DocumentID  string      `json:"document_id,omitempty"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Section     string      `json:"section,omitempty"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	Project     string      `json:"project"`
	Orphaned    bool        `json:"orphaned,omitempty"`
}

// IndexReport summarizes one load run.
type IndexReport struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Skipped   int `json:"skipped"`
}
