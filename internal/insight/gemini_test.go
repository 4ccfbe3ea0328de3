package insight

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrowave/api/internal/upstream"
)

var sample = ReportContext{
	Observation:  "oily sheen near outflow",
	Condition:    "polluted",
	WaterSource:  "creek",
	LocationName: "Johnson Creek",
}

func TestBuildPromptIncludesReportFields(t *testing.T) {
	prompt := BuildPrompt(sample)
	for _, want := range []string{"oily sheen near outflow", "polluted", "creek", "Johnson Creek", "one or two sentences"} {
		assert.Contains(t, prompt, want)
	}
}

func TestSuggest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-goog-api-key"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Contains(t, string(raw), `"google_search":{}`)
		assert.Contains(t, string(raw), `"thinkingBudget":0`)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  Contact the county water board.\n"}]}}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "key", Model: "gemini-2.5-flash", BaseURL: srv.URL, Timeout: time.Second})
	got, err := c.Suggest(context.Background(), sample)
	require.NoError(t, err)
	assert.Equal(t, "Contact the county water board.", got)
}

func TestSuggestWithoutKey(t *testing.T) {
	_, err := New(Config{Model: "m", BaseURL: "http://unused"}).Suggest(context.Background(), sample)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSuggestEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL, Timeout: time.Second}).Suggest(context.Background(), sample)
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestSuggestUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL, Timeout: time.Second}).Suggest(context.Background(), sample)
	var se *upstream.StatusError
	assert.True(t, errors.As(err, &se))
}
