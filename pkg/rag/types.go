// Package rag provides the retrieval-augmented generation core: the
// request/response types exchanged with clients, the provider seams for
// the three external services (embedding, vector search, generation),
// and the orchestrator that runs one query through all of them.
package rag

// Turn is a single prior message in a conversation.
type Turn struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // The message content
}

// ChatRequest represents an inbound chat query.
type ChatRequest struct {
	Message string `json:"message"`                        // The current user question
	History []Turn `json:"conversation_history,omitempty"` // Prior turns, oldest first
	Stream  *bool  `json:"stream,omitempty"`               // Stream the answer as NDJSON chunks (default: false)
}

// ChatResponse is the assembled answer for a chat query.
type ChatResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

// Passage is a single retrieved context passage, produced by a Retriever.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"` // Identifier of the originating document
	Score  float64 `json:"score"`  // Relevance, higher is better
}

// StreamChunk is one piece of a streamed answer. The final chunk has
// Done set and carries the deduplicated source list.
type StreamChunk struct {
	Content string   `json:"content"`
	Done    bool     `json:"done"`
	Sources []string `json:"sources,omitempty"`
}

// ErrorResponse is the JSON error envelope returned to clients.
type ErrorResponse struct {
	Error string `json:"error"`
}
