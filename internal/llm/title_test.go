package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTitleGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"\"Vector Index Basics\""},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	g := NewTitleGenerator(srv.URL, "key", "small", zap.NewNop())
	title, err := g.Generate(context.Background(), "What is a vector index?")
	require.NoError(t, err)
	assert.Equal(t, "Vector Index Basics", title)
}

func TestTitleGenerator_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	g := NewTitleGenerator(srv.URL, "key", "small", zap.NewNop())
	title, err := g.Generate(context.Background(), "q")
	assert.Error(t, err)
	assert.Empty(t, title)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Hello World", cleanTitle("  Title: Hello World\nextra"))
	assert.Equal(t, "Quoted", cleanTitle(`"Quoted"`))
}
