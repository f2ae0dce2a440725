package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
)

// Fetcher retrieves a raw answer for a prompt.
type Fetcher interface {
	Generate(ctx context.Context, prompt string) (*rag.GenerateResponse, error)
}

// AnswerRenderer turns a raw answer into display markup.
type AnswerRenderer interface {
	Answer(resp rag.GenerateResponse) (string, error)
}

// Pipeline is the fetch-then-render chain behind every bot reply.
type Pipeline struct {
	chain compose.Runnable[string, string]
}

// NewPipeline compiles the fetch and render steps into one runnable chain.
func NewPipeline(ctx context.Context, fetcher Fetcher, renderer AnswerRenderer) (*Pipeline, error) {
	chain := compose.NewChain[string, string]()
	chain.AppendLambda(compose.InvokableLambda(func(ctx context.Context, prompt string) (*rag.GenerateResponse, error) {
		return fetcher.Generate(ctx, prompt)
	}))
	chain.AppendLambda(compose.InvokableLambda(func(_ context.Context, resp *rag.GenerateResponse) (string, error) {
		if resp == nil {
			return "", fmt.Errorf("render answer: %w", ErrMalformedResponse)
		}
		markup, err := renderer.Answer(*resp)
		if err != nil {
			return "", fmt.Errorf("render answer: %w", err)
		}
		return markup, nil
	}))

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer chain: %w", err)
	}

	return &Pipeline{chain: runnable}, nil
}

// NewMicroservicePipeline wires a Client for baseURL into a Pipeline.
func NewMicroservicePipeline(ctx context.Context, baseURL string, timeout time.Duration, renderer AnswerRenderer) (*Pipeline, error) {
	return NewPipeline(ctx, NewClient(baseURL, timeout), renderer)
}

// Answer runs the chain for one prompt and returns the markup of the bot reply.
func (p *Pipeline) Answer(ctx context.Context, prompt string) (string, error) {
	markup, err := p.chain.Invoke(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to run answer chain: %w", err)
	}
	return markup, nil
}
