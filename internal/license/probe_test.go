package license

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPProber_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.True(t, NewHTTPProber(srv.URL).Online(context.Background()))
}

func TestHTTPProber_NonSuccessStillCountsAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	// 4xx proves the network path works.
	assert.True(t, NewHTTPProber(srv.URL).Online(context.Background()))
}

func TestHTTPProber_ServerErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.False(t, NewHTTPProber(srv.URL).Online(context.Background()))
}

func TestHTTPProber_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	assert.False(t, NewHTTPProber(srv.URL).Online(context.Background()))
}

func TestHTTPProber_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, NewHTTPProber(srv.URL).Online(ctx))
}

func TestNewHTTPProber_DefaultURL(t *testing.T) {
	p := NewHTTPProber("")
	assert.Equal(t, defaultProbeURL, p.url)
}
