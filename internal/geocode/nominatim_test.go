package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrowave/api/internal/upstream"
)

func TestReverseSendsQueryAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "45.5", r.URL.Query().Get("lat"))
		assert.Equal(t, "-122.6", r.URL.Query().Get("lon"))
		assert.Equal(t, "HydroWave/1.0 (hydro-wave-app)", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"display_name":"Portland"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", UserAgent: "HydroWave/1.0 (hydro-wave-app)", Timeout: time.Second})
	body, err := c.Reverse(context.Background(), 45.5, -122.6)
	require.NoError(t, err)
	assert.JSONEq(t, `{"display_name":"Portland"}`, string(body))
}

func TestSearchLimitsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "crater lake", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	body, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}).Search(context.Background(), "crater lake")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestUpstreamStatusIsPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}).Search(context.Background(), "x")
	var se *upstream.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, Timeout: 30 * time.Millisecond}).Reverse(context.Background(), 1, 2)
	assert.ErrorIs(t, err, upstream.ErrTimeout)
}

func TestInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}).Search(context.Background(), "x")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
