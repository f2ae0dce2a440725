package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMicroservice(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"**hi**","citation_links":[{"url":"http://a","title":"A"}]}`))
	})
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"message":"File uploaded successfully","download_link":"http://files/doc.pdf"}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRunAsk(t *testing.T) {
	server := fakeMicroservice(t)
	var out bytes.Buffer

	err := runAsk(context.Background(), &out, &probeOptions{host: server.URL, timeout: 5 * time.Second}, " hello ")
	require.NoError(t, err)
	assert.Equal(t,
		"<p><strong>hi</strong></p>\n<br /><strong>Citations:</strong><br /><a href=\"http://a\" target=\"_blank\">A</a>\n",
		out.String())
}

func TestRunAskRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runAsk(context.Background(), &out, &probeOptions{host: "http://localhost"}, "   "))
	assert.Error(t, runAsk(context.Background(), &out, &probeOptions{host: "http://"}, "hello"))
}

func TestRunUpload(t *testing.T) {
	server := fakeMicroservice(t)
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	var out bytes.Buffer
	err := runUpload(context.Background(), &out, &probeOptions{host: server.URL, timeout: 5 * time.Second}, path)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "File uploaded successfully")
	assert.Contains(t, out.String(), "download: http://files/doc.pdf")
	assert.Contains(t, out.String(), "knowledge source: "+server.URL+"/docs")
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"ask", "upload"}, names)
}
