package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHostAccepts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare host and port", "localhost:8000", "http://localhost:8000"},
		{"trailing slash", "http://10.0.0.2:8000/", "http://10.0.0.2:8000"},
		{"https with path", "https://rag.example.com/api/", "https://rag.example.com/api"},
		{"surrounding spaces", "  rag.internal  ", "http://rag.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeHost(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeHostRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "http://", "http://:8000", "rag host", "httpx://host"} {
		_, err := NormalizeHost(in)
		assert.ErrorIs(t, err, ErrInvalidHost, "input %q", in)
	}
}

func TestSessionKnowledgeSourceURL(t *testing.T) {
	assert.Empty(t, Session{}.KnowledgeSourceURL())
	assert.Equal(t, "http://rag:8000/docs", Session{MicroserviceHost: "http://rag:8000"}.KnowledgeSourceURL())
}
