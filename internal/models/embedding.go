package models

import "fmt"

// PageDocument is the extracted text of one page of a source file
type PageDocument struct {
	Source  string // base filename, used for citations
	Path    string // path relative to the downloads dir
	Page    int
	Content string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID      string
	Source  string
	Page    int
	Ordinal int
	Content string
}

// ChunkID builds the deterministic id of the ordinal-th chunk of a page.
func ChunkID(source string, page, ordinal int) string {
	return fmt.Sprintf("%s#p%d#c%d", source, page, ordinal)
}

type RetrievalResult struct {
	Chunk Chunk
	Score float32
}

// Answer is a generated reply with the deduplicated sources it was grounded on.
type Answer struct {
	Text    string
	Sources []string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Metadata keys stored with every indexed chunk.
const (
	MetaSource  = "source"
	MetaPage    = "page"
	MetaOrdinal = "ordinal"
)
