package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	// TopK is the number of passages requested from the retriever.
	TopK int

	// SystemPrompt is the fixed instruction prepended to every prompt.
	SystemPrompt string

	// Per-call timeouts for the three external dependencies.
	EmbedTimeout    time.Duration
	RetrieveTimeout time.Duration
	GenerateTimeout time.Duration

	// MaxRetries is the number of additional attempts after a failed
	// call. Only the final attempt's failure surfaces as UpstreamError.
	MaxRetries int

	// RetryBase is the initial backoff delay, doubled per attempt.
	RetryBase time.Duration
}

func (o *Options) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = 4
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 30 * time.Second
	}
	if o.RetrieveTimeout <= 0 {
		o.RetrieveTimeout = 30 * time.Second
	}
	if o.GenerateTimeout <= 0 {
		o.GenerateTimeout = 120 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
}

// Orchestrator runs one chat query through the three external providers:
// embed the question, retrieve the most relevant passages, generate an
// answer conditioned on them. It holds no state across requests; the
// three calls within a request are strictly sequential because each
// depends on the previous one's output, while concurrent requests run
// their pipelines independently.
type Orchestrator struct {
	embedder  Embedder
	retriever Retriever
	generator Generator
	logger    *zap.Logger
	opts      Options
}

// NewOrchestrator creates an Orchestrator over the given providers.
func NewOrchestrator(embedder Embedder, retriever Retriever, generator Generator, logger *zap.Logger, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		logger:    logger,
		opts:      opts,
	}
}

// Answer handles one chat query end to end. It fails with
// ValidationError for an empty message and with UpstreamError naming
// the failing stage when any provider call fails; no partial results
// are ever returned.
func (o *Orchestrator) Answer(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	prompt, sources, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var answer string
	err = o.withRetry(ctx, StageGenerate, o.opts.GenerateTimeout, func(ctx context.Context) error {
		var genErr error
		answer, genErr = o.generator.Generate(ctx, prompt)
		return genErr
	})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("generation complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int("answer_len", len(answer)),
	)

	return &ChatResponse{Response: answer, Sources: sources}, nil
}

// AnswerStream is the streaming variant of Answer. Validation and the
// embed and retrieve stages behave exactly as in Answer and fail before
// any token is produced; the deduplicated sources are returned up front
// so the caller can attach them to the final chunk. The generator must
// implement StreamingGenerator.
func (o *Orchestrator) AnswerStream(ctx context.Context, req *ChatRequest) ([]string, <-chan StreamToken, error) {
	// Validation has to win over the capability check so malformed
	// requests stay client errors.
	if strings.TrimSpace(req.Message) == "" {
		return nil, nil, ValidationError{Reason: "message must not be empty"}
	}

	sg, ok := o.generator.(StreamingGenerator)
	if !ok {
		return nil, nil, UpstreamError{Stage: StageGenerate, Err: errNoStreaming}
	}

	prompt, sources, err := o.prepare(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	tokens, err := sg.GenerateStream(ctx, prompt)
	if err != nil {
		return nil, nil, UpstreamError{Stage: StageGenerate, Err: err}
	}

	return sources, tokens, nil
}

// prepare runs the shared front half of a request: validation, the
// embed call, the retrieve call, and prompt assembly.
func (o *Orchestrator) prepare(ctx context.Context, req *ChatRequest) (prompt string, sources []string, err error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", nil, ValidationError{Reason: "message must not be empty"}
	}

	start := time.Now()
	var vector []float32
	err = o.withRetry(ctx, StageEmbed, o.opts.EmbedTimeout, func(ctx context.Context) error {
		var embErr error
		vector, embErr = o.embedder.Embed(ctx, message)
		return embErr
	})
	if err != nil {
		return "", nil, err
	}

	o.logger.Debug("query embedded",
		zap.Int("dimension", len(vector)),
		zap.Duration("duration", time.Since(start)),
	)

	start = time.Now()
	var passages []Passage
	err = o.withRetry(ctx, StageRetrieve, o.opts.RetrieveTimeout, func(ctx context.Context) error {
		var retErr error
		passages, retErr = o.retriever.Search(ctx, vector, o.opts.TopK)
		return retErr
	})
	if err != nil {
		return "", nil, err
	}

	// An empty result set is not an error; generation proceeds with no
	// retrieved-context section in the prompt.
	o.logger.Debug("passages retrieved",
		zap.Int("count", len(passages)),
		zap.Duration("duration", time.Since(start)),
	)

	prompt = BuildPrompt(o.opts.SystemPrompt, req.History, passages, message)
	return prompt, dedupeSources(passages), nil
}

// withRetry runs fn under a per-attempt timeout, retrying with
// exponential backoff. The final failure is wrapped in an UpstreamError
// naming the stage.
func (o *Orchestrator) withRetry(ctx context.Context, stage string, timeout time.Duration, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			o.logger.Warn("retrying upstream call",
				zap.String("stage", stage),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(retryDelay(lastErr, o.opts.RetryBase, attempt-1)):
			case <-ctx.Done():
				return UpstreamError{Stage: stage, Err: ctx.Err()}
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = fn(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Caller is gone, stop retrying.
			break
		}
	}
	return UpstreamError{Stage: stage, Err: lastErr}
}

// retryDelay returns the delay before the next attempt. A provider
// error carrying the server's requested delay (RetryDelayer) wins over
// the default backoff; the per-attempt context still bounds the wait.
func retryDelay(err error, base time.Duration, n int) time.Duration {
	var rd RetryDelayer
	if errors.As(err, &rd) {
		if d := rd.RetryDelay(); d > 0 {
			return d
		}
	}
	return backoff(base, n)
}

// backoff returns the delay before retry attempt n, doubling from base
// and capped at 5s.
func backoff(base time.Duration, n int) time.Duration {
	d := base << n
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
