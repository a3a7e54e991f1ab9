package models

import "time"

type Document struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	MIMEType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	FileURL    string    `json:"-"`
	PageCount  int       `json:"page_count"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentChunk is the unit of retrieval. PageNumber is approximate and
// never decreases across a document's chunks in reading order.
type DocumentChunk struct {
	ID         string `json:"id"`
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	PageNumber int    `json:"page_number"`
	SourceID   string `json:"source_id"`
	Text       string `json:"text"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Source struct {
	Page    int    `json:"page"`
	Excerpt string `json:"excerpt"`
}

type ChatTurn struct {
	ID          string    `json:"id"`
	DocID       string    `json:"doc_id"`
	Seq         int       `json:"seq"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	SourcePages []int     `json:"source_pages,omitempty"`
	Sources     []Source  `json:"sources,omitempty"`
	CreatedAt   time.Time `json:"timestamp"`
}
