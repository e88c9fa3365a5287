package rag

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant. Answer the question using the provided context. If the context does not contain the answer, say so."

// BuildPrompt assembles the generation prompt from the system
// instruction, the conversation history, the retrieved passages and the
// current message. Assembly is fully deterministic: passages keep their
// retrieval order (descending relevance), each tagged with its source,
// so the model weights the most relevant context first and tests can
// assert the exact prompt text.
func BuildPrompt(system string, history []Turn, passages []Passage, message string) string {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n")

	if len(passages) > 0 {
		sb.WriteString("Context:\n")
		for _, p := range passages {
			fmt.Fprintf(&sb, "[Source: %s]\n%s\n\n", p.Source, p.Text)
		}
	}

	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(message)
	sb.WriteString("\nAnswer:")
	return sb.String()
}

// dedupeSources returns the distinct source identifiers of the passages
// in their retrieval order, keeping the first (highest relevance)
// occurrence of each.
func dedupeSources(passages []Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	sources := make([]string, 0, len(passages))
	for _, p := range passages {
		if _, ok := seen[p.Source]; ok {
			continue
		}
		seen[p.Source] = struct{}{}
		sources = append(sources, p.Source)
	}
	return sources
}
