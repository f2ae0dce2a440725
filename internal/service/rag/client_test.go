package rag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
)

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req rag.GenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is rag?", req.Prompt)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"response":"**hi**","citation_links":[{"url":"http://a","title":"A"}]}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	resp, err := c.Generate(context.Background(), "what is rag?")
	require.NoError(t, err)

	assert.Equal(t, "**hi**", resp.Response)
	assert.Equal(t, []rag.CitationLink{{URL: "http://a", Title: "A"}}, resp.CitationLinks)
}

func TestGenerate_EmptyCitations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"response":"No relevant information found in the documents.","citation_links":[]}`)
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, time.Second).Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, resp.CitationLinks)
}

func TestGenerate_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "ollama unreachable")
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).Generate(context.Background(), "x")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "ollama unreachable")
}

func TestGenerate_MalformedBodies(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"response":"ok"}`,
		`{"citation_links":[]}`,
		`{"response":"ok","citation_links":null}`,
	}

	for _, body := range bodies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		}))

		_, err := NewClient(server.URL, time.Second).Generate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrMalformedResponse, "body %q", body)
		server.Close()
	}
}

func TestGenerate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	_, err := NewClient(server.URL, 50*time.Millisecond).Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerate_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, time.Second).Generate(context.Background(), "x")
	assert.Error(t, err)
}

func TestUpload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/", r.URL.Path)

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, _ := io.ReadAll(file)
		assert.Equal(t, "handbook.pdf", header.Filename)
		assert.Equal(t, "%PDF-1.4", string(data))

		json.NewEncoder(w).Encode(rag.UploadResponse{
			Message:      "Processed 3 chunks from handbook.pdf",
			DownloadLink: "http://host:8000/pdf/handbook.pdf",
		})
	}))
	defer server.Close()

	out, err := NewClient(server.URL, time.Second).Upload(context.Background(), rag.UploadRequest{
		Filename: "handbook.pdf",
		Content:  strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Processed 3 chunks from handbook.pdf", out.Message)
	assert.Equal(t, "http://host:8000/pdf/handbook.pdf", out.DownloadLink)
}

func TestUpload_RequiresFile(t *testing.T) {
	_, err := NewClient("http://unused", time.Second).Upload(context.Background(), rag.UploadRequest{})
	assert.Error(t, err)
}
