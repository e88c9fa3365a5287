package rag_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

// callLog records the order of provider calls across fakes.
type callLog struct {
	calls []string
}

func (l *callLog) record(name string) {
	l.calls = append(l.calls, name)
}

type fakeEmbedder struct {
	log     *callLog
	vector  []float32
	err     error
	fails   int   // fail this many calls before succeeding
	failErr error // error for those transient failures
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.log.record("embed")
	if f.fails > 0 {
		f.fails--
		if f.failErr != nil {
			return nil, f.failErr
		}
		return nil, errors.New("transient embed failure")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

// throttledError mimics a provider error carrying the server's
// requested retry delay.
type throttledError struct {
	delay time.Duration
}

func (e throttledError) Error() string {
	return "rate limited"
}

func (e throttledError) RetryDelay() time.Duration {
	return e.delay
}

type fakeRetriever struct {
	log      *callLog
	passages []rag.Passage
	err      error

	gotVector []float32
	gotK      int
}

func (f *fakeRetriever) Search(ctx context.Context, vector []float32, k int) ([]rag.Passage, error) {
	f.log.record("retrieve")
	f.gotVector = vector
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type fakeGenerator struct {
	log       *callLog
	answer    string
	err       error
	gotPrompt string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.log.record("generate")
	f.gotPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeStreamingGenerator struct {
	fakeGenerator
	tokens []string
}

func (f *fakeStreamingGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan rag.StreamToken, error) {
	f.log.record("generate")
	f.gotPrompt = prompt
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan rag.StreamToken, len(f.tokens)+1)
	for _, tok := range f.tokens {
		out <- rag.StreamToken{Content: tok}
	}
	out <- rag.StreamToken{Done: true}
	close(out)
	return out, nil
}

var _ = Describe("Orchestrator", func() {
	var (
		log       *callLog
		embedder  *fakeEmbedder
		retriever *fakeRetriever
		generator *fakeGenerator
		ctx       context.Context
	)

	newOrchestrator := func(opts rag.Options) *rag.Orchestrator {
		return rag.NewOrchestrator(embedder, retriever, generator, zap.NewNop(), opts)
	}

	BeforeEach(func() {
		ctx = context.Background()
		log = &callLog{}
		embedder = &fakeEmbedder{log: log, vector: []float32{0.1, 0.2}}
		retriever = &fakeRetriever{log: log, passages: []rag.Passage{
			{Text: "ROS2 is...", Source: "doc1", Score: 0.9},
		}}
		generator = &fakeGenerator{log: log, answer: "ROS 2 is a robotics middleware."}
	})

	Describe("Answer", func() {
		Context("with a well-formed request", func() {
			It("returns the generated answer with its sources", func() {
				o := newOrchestrator(rag.Options{})

				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Response).To(Equal("ROS 2 is a robotics middleware."))
				Expect(resp.Sources).To(Equal([]string{"doc1"}))
			})

			It("issues exactly one embed, one retrieve and one generate call, in that order", func() {
				o := newOrchestrator(rag.Options{})

				_, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(log.calls).To(Equal([]string{"embed", "retrieve", "generate"}))
			})

			It("passes the embedding and the configured top-k to the retriever", func() {
				o := newOrchestrator(rag.Options{TopK: 7})

				_, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(retriever.gotVector).To(Equal([]float32{0.1, 0.2}))
				Expect(retriever.gotK).To(Equal(7))
			})

			It("includes retrieved passages and the question in the prompt", func() {
				o := newOrchestrator(rag.Options{})

				_, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(generator.gotPrompt).To(ContainSubstring("[Source: doc1]"))
				Expect(generator.gotPrompt).To(ContainSubstring("ROS2 is..."))
				Expect(generator.gotPrompt).To(ContainSubstring("Question: What is ROS 2?"))
			})
		})

		Context("with an empty message", func() {
			It("fails with ValidationError and calls no providers", func() {
				o := newOrchestrator(rag.Options{})

				_, err := o.Answer(ctx, &rag.ChatRequest{Message: ""})

				var verr rag.ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(log.calls).To(BeEmpty())
			})

			It("treats whitespace-only messages as empty", func() {
				o := newOrchestrator(rag.Options{})

				_, err := o.Answer(ctx, &rag.ChatRequest{Message: "   \t\n"})

				var verr rag.ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(log.calls).To(BeEmpty())
			})
		})

		Context("when retrieval returns no passages", func() {
			BeforeEach(func() {
				retriever.passages = nil
			})

			It("still generates and returns an empty sources list", func() {
				o := newOrchestrator(rag.Options{})

				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(log.calls).To(Equal([]string{"embed", "retrieve", "generate"}))
				Expect(resp.Sources).To(BeEmpty())
			})

			It("omits the context section from the prompt", func() {
				o := newOrchestrator(rag.Options{})

				_, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(generator.gotPrompt).NotTo(ContainSubstring("Context:"))
			})
		})

		Context("when the retrieval result repeats a source", func() {
			BeforeEach(func() {
				retriever.passages = []rag.Passage{
					{Text: "a", Source: "doc1", Score: 0.9},
					{Text: "b", Source: "doc2", Score: 0.8},
					{Text: "c", Source: "doc1", Score: 0.7},
				}
			})

			It("dedupes sources keeping relevance order", func() {
				o := newOrchestrator(rag.Options{})

				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Sources).To(Equal([]string{"doc1", "doc2"}))
			})
		})

		Context("when a provider fails", func() {
			It("fails with UpstreamError{embed} and stops the pipeline", func() {
				embedder.err = errors.New("boom")
				o := newOrchestrator(rag.Options{})

				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(resp).To(BeNil())
				var uerr rag.UpstreamError
				Expect(errors.As(err, &uerr)).To(BeTrue())
				Expect(uerr.Stage).To(Equal(rag.StageEmbed))
				Expect(log.calls).To(Equal([]string{"embed"}))
			})

			It("fails with UpstreamError{retrieve}", func() {
				retriever.err = errors.New("boom")
				o := newOrchestrator(rag.Options{})

				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(resp).To(BeNil())
				var uerr rag.UpstreamError
				Expect(errors.As(err, &uerr)).To(BeTrue())
				Expect(uerr.Stage).To(Equal(rag.StageRetrieve))
				Expect(log.calls).To(Equal([]string{"embed", "retrieve"}))
			})

			It("fails with UpstreamError{generate} and discards the retrieved context", func() {
				generator.err = errors.New("boom")
				o := newOrchestrator(rag.Options{})

				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(resp).To(BeNil())
				var uerr rag.UpstreamError
				Expect(errors.As(err, &uerr)).To(BeTrue())
				Expect(uerr.Stage).To(Equal(rag.StageGenerate))
			})
		})

		Context("with retries enabled", func() {
			It("recovers from a transient embed failure", func() {
				embedder.fails = 1
				o := newOrchestrator(rag.Options{MaxRetries: 2, RetryBase: time.Millisecond})

				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Response).To(Equal("ROS 2 is a robotics middleware."))
				Expect(log.calls).To(Equal([]string{"embed", "embed", "retrieve", "generate"}))
			})

			It("surfaces only the final failure once attempts are exhausted", func() {
				embedder.fails = 10
				o := newOrchestrator(rag.Options{MaxRetries: 2, RetryBase: time.Millisecond})

				_, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				var uerr rag.UpstreamError
				Expect(errors.As(err, &uerr)).To(BeTrue())
				Expect(uerr.Stage).To(Equal(rag.StageEmbed))
				Expect(log.calls).To(Equal([]string{"embed", "embed", "embed"}))
			})

			It("waits out a server-requested delay before retrying", func() {
				embedder.fails = 1
				embedder.failErr = throttledError{delay: 40 * time.Millisecond}
				o := newOrchestrator(rag.Options{MaxRetries: 1, RetryBase: time.Millisecond})

				start := time.Now()
				resp, err := o.Answer(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Response).To(Equal("ROS 2 is a robotics middleware."))
				Expect(time.Since(start)).To(BeNumerically(">=", 40*time.Millisecond))
			})
		})
	})

	Describe("AnswerStream", func() {
		It("streams tokens and returns sources up front", func() {
			sg := &fakeStreamingGenerator{
				fakeGenerator: fakeGenerator{log: log},
				tokens:        []string{"ROS 2 ", "is a robotics middleware."},
			}
			o := rag.NewOrchestrator(embedder, retriever, sg, zap.NewNop(), rag.Options{})

			sources, tokens, err := o.AnswerStream(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

			Expect(err).NotTo(HaveOccurred())
			Expect(sources).To(Equal([]string{"doc1"}))

			var got []rag.StreamToken
			for tok := range tokens {
				got = append(got, tok)
			}
			Expect(got).To(HaveLen(3))
			Expect(got[0].Content).To(Equal("ROS 2 "))
			Expect(got[2].Done).To(BeTrue())
		})

		It("fails before streaming when embedding fails", func() {
			embedder.err = errors.New("boom")
			sg := &fakeStreamingGenerator{fakeGenerator: fakeGenerator{log: log}}
			o := rag.NewOrchestrator(embedder, retriever, sg, zap.NewNop(), rag.Options{})

			_, tokens, err := o.AnswerStream(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

			Expect(tokens).To(BeNil())
			var uerr rag.UpstreamError
			Expect(errors.As(err, &uerr)).To(BeTrue())
			Expect(uerr.Stage).To(Equal(rag.StageEmbed))
		})

		It("rejects an empty message even when the generator cannot stream", func() {
			o := newOrchestrator(rag.Options{})

			_, _, err := o.AnswerStream(ctx, &rag.ChatRequest{Message: "  "})

			var verr rag.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(log.calls).To(BeEmpty())
		})

		It("fails when the generator cannot stream", func() {
			o := newOrchestrator(rag.Options{})

			_, _, err := o.AnswerStream(ctx, &rag.ChatRequest{Message: "What is ROS 2?"})

			var uerr rag.UpstreamError
			Expect(errors.As(err, &uerr)).To(BeTrue())
			Expect(uerr.Stage).To(Equal(rag.StageGenerate))
		})
	})
})
