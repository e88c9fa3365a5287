// Package chunk splits document text into overlapping sentence-based
// chunks suitable for embedding and retrieval indexing.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

// Chunk is one indexable slice of a document.
type Chunk struct {
	ID     string // "<source>:<index>"
	Text   string
	Source string
	Index  int
}

// Splitter groups sentences into chunks with a configurable overlap so
// context spanning a chunk boundary is retrievable from either side.
type Splitter struct {
	sentencesPerChunk int
	overlapSentences  int
	sentenceRe        *regexp.Regexp
}

// NewSplitter creates a Splitter. Non-positive arguments fall back to
// 5 sentences per chunk with 1 sentence of overlap.
func NewSplitter(sentencesPerChunk, overlapSentences int) *Splitter {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 || overlapSentences >= sentencesPerChunk {
		overlapSentences = 1
	}
	return &Splitter{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		sentenceRe:        regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Split chunks the content of one document. Source identifies the
// document and becomes the chunk ID prefix and the retrieval source tag.
func (s *Splitter) Split(source, content string) []Chunk {
	sentences := s.sentenceRe.FindAllString(content, -1)
	if len(sentences) == 0 {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			return nil
		}
		sentences = []string{trimmed}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	var chunks []Chunk
	step := s.sentencesPerChunk - s.overlapSentences
	if step < 1 {
		step = 1
	}
	for i, idx := 0, 0; i < len(sentences); i, idx = i+step, idx+1 {
		end := i + s.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, Chunk{
			ID:     fmt.Sprintf("%s:%d", source, idx),
			Text:   strings.Join(sentences[i:end], " "),
			Source: source,
			Index:  idx,
		})
		if end == len(sentences) {
			break
		}
	}
	return chunks
}
