package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
)

// ErrMalformedResponse is returned when the microservice answers 2xx with a body
// that is not the expected JSON document.
var ErrMalformedResponse = errors.New("malformed microservice response")

// StatusError reports a non-2xx answer from the microservice.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("microservice error %d: %s", e.StatusCode, e.Body)
}

// Client talks to the RAG microservice.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// NewClient creates a Resty-backed client for the microservice at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout),
		baseURL: baseURL,
	}
}

// BaseURL returns the microservice base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type generateBody struct {
	Response      *string             `json:"response"`
	CitationLinks *[]rag.CitationLink `json:"citation_links"`
}

// Generate calls POST /generate with the prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (*rag.GenerateResponse, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(rag.GenerateRequest{Prompt: prompt}).
		Post("/generate")
	if err != nil {
		return nil, fmt.Errorf("call microservice: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var body generateBody
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.Response == nil || body.CitationLinks == nil {
		return nil, fmt.Errorf("%w: response and citation_links are required", ErrMalformedResponse)
	}

	return &rag.GenerateResponse{
		Response:      *body.Response,
		CitationLinks: *body.CitationLinks,
	}, nil
}

// Upload forwards a document to POST /upload/ so the microservice can index it.
func (c *Client) Upload(ctx context.Context, req rag.UploadRequest) (*rag.UploadResponse, error) {
	if req.Filename == "" || req.Content == nil {
		return nil, errors.New("upload requires a filename and content")
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFileReader("file", req.Filename, req.Content).
		Post("/upload/")
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var out rag.UploadResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &out, nil
}
