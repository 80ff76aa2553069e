package ksk

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kskmon/kskmon/internal/metrics"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{
		BaseURL:   server.URL,
		SiteURL:   "https://svet.kaluga.ru",
		RateLimit: 1000,
		RateBurst: 1000,
	}, newTestLogger(), metrics.New(prometheus.NewRegistry()))
}

func TestRequestSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json, text/plain, */*", r.Header.Get("Accept"))
		assert.Equal(t, "https://svet.kaluga.ru", r.Header.Get("Origin"))
		w.Write([]byte(`{"ok":true}`))
	}))

	body, err := client.Request(context.Background(), "test-op", http.MethodGet, "/api/test", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestRequestSendsSession(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-204027528", r.Header.Get("Authorization"))
		assert.Equal(t, "a=1; b=2", r.Header.Get("Cookie"))
		w.Write([]byte(`{}`))
	}))
	client.SetSession(&Session{
		Token:   "token-204027528",
		Cookies: map[string]string{"b": "2", "a": "1"},
	})

	_, err := client.Request(context.Background(), "test-op", http.MethodGet, "/api/test", nil)
	assert.NoError(t, err)
}

func TestRequestUnauthorized(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Request(context.Background(), "test-op", http.MethodGet, "/api/test", nil)
	require.Error(t, err)
	var unauthorized *UnauthorizedError
	assert.ErrorAs(t, err, &unauthorized)
	assert.True(t, IsAuthError(err))
}

func TestRequestServerError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Request(context.Background(), "test-op", http.MethodGet, "/api/test", nil)
	require.Error(t, err)
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, http.StatusInternalServerError, transport.StatusCode)
	assert.False(t, IsAuthError(err))
}

func TestRequestNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client := NewClient(ClientConfig{BaseURL: server.URL}, newTestLogger(), metrics.New(prometheus.NewRegistry()))
	server.Close()

	_, err := client.Request(context.Background(), "test-op", http.MethodGet, "/api/test", nil)
	require.Error(t, err)
	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
	assert.False(t, IsAuthError(err))
}

func TestRequestMetricsUseOperationLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	m := metrics.New(prometheus.NewRegistry())
	client := NewClient(ClientConfig{
		BaseURL:   server.URL,
		RateLimit: 1000,
		RateBurst: 1000,
	}, newTestLogger(), m)

	_, err := client.Request(context.Background(), "account-details", http.MethodGet, "/api/profile/account/204027528", nil)
	require.NoError(t, err)

	// The series is keyed by operation; a raw path would mint one series
	// per account number.
	assert.Equal(t, float64(1), testutil.ToFloat64(m.APIRequests.WithLabelValues("account-details", "ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.APIRequests.WithLabelValues("/api/profile/account/204027528", "ok")))
}

func TestClearSession(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://example.test"}, newTestLogger(), metrics.New(prometheus.NewRegistry()))
	client.SetSession(&Session{Token: "tok"})
	require.NotNil(t, client.Session())

	client.ClearSession()
	assert.Nil(t, client.Session())
}

func TestJoinCookies(t *testing.T) {
	assert.Equal(t, "", joinCookies(nil))
	assert.Equal(t, "session=abc", joinCookies(map[string]string{"session": "abc"}))
	// Deterministic order regardless of map iteration
	assert.Equal(t, "a=1; b=2; c=3", joinCookies(map[string]string{"c": "3", "a": "1", "b": "2"}))
}
