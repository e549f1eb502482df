package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookAnnouncerPosts(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := NewWebhookAnnouncer(WebhookConfig{URL: srv.URL, Token: "secret"}, zerolog.Nop())
	require.NoError(t, a.Announce(context.Background(), "hello"))
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "Bearer secret", auth)
}

func TestWebhookAnnouncerRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewWebhookAnnouncer(WebhookConfig{URL: srv.URL, Retries: 3, BaseDelay: time.Millisecond}, zerolog.Nop())
	require.NoError(t, a.Announce(context.Background(), "x"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookAnnouncerDoesNotRetryRejections(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad text", http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewWebhookAnnouncer(WebhookConfig{URL: srv.URL, Retries: 5, BaseDelay: time.Millisecond}, zerolog.Nop())
	err := a.Announce(context.Background(), "x")
	var perm *permanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, http.StatusBadRequest, perm.status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookAnnouncerOpensBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewWebhookAnnouncer(WebhookConfig{
		URL:              srv.URL,
		Retries:          0,
		FailureThreshold: 2,
		OpenPeriod:       time.Hour,
	}, zerolog.Nop())

	assert.Error(t, a.Announce(context.Background(), "x"))
	assert.Error(t, a.Announce(context.Background(), "x"))
	err := a.Announce(context.Background(), "x")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookAnnouncerGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewWebhookAnnouncer(WebhookConfig{
		URL:              srv.URL,
		Retries:          2,
		BaseDelay:        time.Millisecond,
		FailureThreshold: 10,
	}, zerolog.Nop())
	err := a.Announce(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
