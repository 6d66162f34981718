package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "3f1c2b7e-8a4d-4c6e-9b1a-2d3e4f5a6b7c"

func testSite() *SitePolicy {
	return &SitePolicy{
		ID:                 "site-1",
		Collections:        map[string]string{"docs": "Docs", "blog": "Blog"},
		DefaultSourceCount: 4,
	}
}

func validRequest() *ChatRequest {
	return &ChatRequest{
		Question:   "What is a vector index?",
		Collection: "docs",
		UUID:       testUUID,
	}
}

func TestChatRequest_Valid(t *testing.T) {
	site := testSite()
	req := validRequest()
	req.Normalize(site)

	require.NoError(t, req.Validate(site))
	assert.Equal(t, 4, req.SourceCount)
}

func TestChatRequest_QuestionLength(t *testing.T) {
	site := testSite()

	tests := []struct {
		name     string
		question string
		wantErr  bool
	}{
		{"empty", "", true},
		{"whitespace only", "   \n\t", true},
		{"single char", "a", false},
		{"at limit", strings.Repeat("a", MaxQuestionLength), false},
		{"over limit", strings.Repeat("a", MaxQuestionLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			req.Question = tt.question
			req.Normalize(site)

			err := req.Validate(site)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "question", verr.Field)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
		})
	}
}

func TestChatRequest_UUID(t *testing.T) {
	site := testSite()

	for _, id := range []string{"", "not-a-uuid", "3f1c2b7e-8a4d-1c6e-9b1a-2d3e4f5a6b7c"} {
		req := validRequest()
		req.UUID = id
		req.Normalize(site)

		var verr *ValidationError
		require.ErrorAs(t, req.Validate(site), &verr, "uuid %q", id)
		assert.Equal(t, "uuid", verr.Field)
	}
}

func TestChatRequest_Collection(t *testing.T) {
	site := testSite()

	req := validRequest()
	req.Collection = "unknown"
	req.Normalize(site)
	var verr *ValidationError
	require.ErrorAs(t, req.Validate(site), &verr)
	assert.Equal(t, "collection", verr.Field)

	req = validRequest()
	req.Collection = ""
	req.Normalize(site)
	require.ErrorAs(t, req.Validate(site), &verr)
	assert.Equal(t, "collection", verr.Field)

	// A single-collection site does not require the field
	single := &SitePolicy{Collections: map[string]string{"docs": "Docs"}}
	req = validRequest()
	req.Collection = ""
	req.Normalize(single)
	assert.NoError(t, req.Validate(single))
}

func TestChatRequest_SourceCountAndHistory(t *testing.T) {
	site := testSite()

	req := validRequest()
	req.SourceCount = MaxSourceCount + 1
	req.Normalize(site)
	var verr *ValidationError
	require.ErrorAs(t, req.Validate(site), &verr)
	assert.Equal(t, "sourceCount", verr.Field)

	req = validRequest()
	req.History = []HistoryMessage{{Role: "system", Content: "x"}}
	req.Normalize(site)
	require.ErrorAs(t, req.Validate(site), &verr)
	assert.Contains(t, verr.Field, "role")

	req = validRequest()
	req.History = make([]HistoryMessage, MaxHistoryLength+1)
	for i := range req.History {
		req.History[i] = HistoryMessage{Role: "user", Content: "hi"}
	}
	req.Normalize(site)
	require.ErrorAs(t, req.Validate(site), &verr)
	assert.Equal(t, "history", verr.Field)
}

func TestChatRequest_PrivateSessionAlias(t *testing.T) {
	req := validRequest()
	req.PrivateSession = true
	req.Normalize(testSite())

	assert.True(t, req.TemporarySession)
	assert.False(t, req.PrivateSession)
}

func TestComparisonRequest_Validate(t *testing.T) {
	site := testSite()

	req := &ComparisonRequest{ChatRequest: *validRequest(), ModelA: "gpt-4o"}
	req.Normalize(site)
	var verr *ValidationError
	require.ErrorAs(t, req.Validate(site), &verr)
	assert.Equal(t, "modelB", verr.Field)

	req.ModelB = "llama3"
	assert.NoError(t, req.Validate(site))
}
