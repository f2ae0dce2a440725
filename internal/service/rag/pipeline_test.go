package rag

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
	"github.com/zhouzirui/ragchat/backend/internal/service/render"
)

type fakeFetcher struct {
	resp *rag.GenerateResponse
	err  error
	got  string
}

func (f *fakeFetcher) Generate(_ context.Context, prompt string) (*rag.GenerateResponse, error) {
	f.got = prompt
	return f.resp, f.err
}

type failingRenderer struct{}

func (failingRenderer) Answer(rag.GenerateResponse) (string, error) {
	return "", errors.New("renderer exploded")
}

func TestPipelineRendersFetchedAnswer(t *testing.T) {
	fetcher := &fakeFetcher{resp: &rag.GenerateResponse{
		Response:      "**hi**",
		CitationLinks: []rag.CitationLink{{URL: "http://a", Title: "A"}},
	}}

	p, err := NewPipeline(context.Background(), fetcher, render.New(false))
	require.NoError(t, err)

	markup, err := p.Answer(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "hello", fetcher.got)
	assert.Contains(t, markup, "<strong>hi</strong>")
	assert.Contains(t, markup, `<a href="http://a" target="_blank">A</a>`)
}

func TestPipelinePropagatesFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}

	p, err := NewPipeline(context.Background(), fetcher, render.New(true))
	require.NoError(t, err)

	_, err = p.Answer(context.Background(), "hello")
	assert.ErrorContains(t, err, "connection refused")
}

func TestPipelineTreatsRenderErrorAsFailure(t *testing.T) {
	fetcher := &fakeFetcher{resp: &rag.GenerateResponse{Response: "x"}}

	p, err := NewPipeline(context.Background(), fetcher, failingRenderer{})
	require.NoError(t, err)

	_, err = p.Answer(context.Background(), "hello")
	assert.ErrorContains(t, err, "renderer exploded")
}

func TestMicroservicePipelineEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"response":"","citation_links":[]}`)
	}))
	defer server.Close()

	p, err := NewMicroservicePipeline(context.Background(), server.URL, time.Second, render.New(false))
	require.NoError(t, err)

	markup, err := p.Answer(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, render.FallbackAnswer+"<br /><strong>Citations:</strong><br />", markup)
}
