package rag_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

var _ = Describe("BuildPrompt", func() {
	It("is deterministic for identical inputs", func() {
		history := []rag.Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
		passages := []rag.Passage{
			{Text: "alpha", Source: "a.md", Score: 0.9},
			{Text: "beta", Source: "b.md", Score: 0.5},
		}

		p1 := rag.BuildPrompt("sys", history, passages, "question?")
		p2 := rag.BuildPrompt("sys", history, passages, "question?")

		Expect(p1).To(Equal(p2))
	})

	It("produces the exact expected layout", func() {
		passages := []rag.Passage{{Text: "ROS2 is...", Source: "doc1", Score: 0.9}}
		history := []rag.Turn{{Role: "user", Content: "hi"}}

		prompt := rag.BuildPrompt("Be helpful.", history, passages, "What is ROS 2?")

		Expect(prompt).To(Equal("Be helpful.\n\n" +
			"Context:\n[Source: doc1]\nROS2 is...\n\n" +
			"Conversation so far:\nuser: hi\n\n" +
			"Question: What is ROS 2?\nAnswer:"))
	})

	It("keeps passages in descending relevance order", func() {
		passages := []rag.Passage{
			{Text: "most relevant", Source: "a", Score: 0.9},
			{Text: "less relevant", Source: "b", Score: 0.4},
		}

		prompt := rag.BuildPrompt("sys", nil, passages, "q")

		first := "[Source: a]\nmost relevant"
		second := "[Source: b]\nless relevant"
		Expect(prompt).To(ContainSubstring(first))
		Expect(prompt).To(ContainSubstring(second))
		Expect(strings.Index(prompt, first)).To(BeNumerically("<", strings.Index(prompt, second)))
	})

	It("omits empty sections", func() {
		prompt := rag.BuildPrompt("sys", nil, nil, "q")

		Expect(prompt).NotTo(ContainSubstring("Context:"))
		Expect(prompt).NotTo(ContainSubstring("Conversation so far:"))
		Expect(prompt).To(Equal("sys\n\nQuestion: q\nAnswer:"))
	})
})
