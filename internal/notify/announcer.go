package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

// Announcer publishes a public announcement outside the portal, such as a
// social media post.
type Announcer interface {
	Announce(ctx context.Context, text string) error
}

type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries   uint64
	BaseDelay time.Duration
	// FailureThreshold consecutive failures open the breaker for OpenPeriod.
	FailureThreshold uint32
	OpenPeriod       time.Duration
}

func (c WebhookConfig) withDefaults() WebhookConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenPeriod <= 0 {
		c.OpenPeriod = time.Minute
	}
	return c
}

// permanentError is an answer that retrying will not change.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("announcement rejected with status %d: %s", e.status, e.body)
}

// WebhookAnnouncer POSTs {"text": ...} to a webhook. Transient failures are
// retried with exponential backoff; repeated failures open a circuit breaker
// so a dead endpoint is not hammered.
type WebhookAnnouncer struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewWebhookAnnouncer(cfg WebhookConfig, log zerolog.Logger) *WebhookAnnouncer {
	cfg = cfg.withDefaults()
	log = log.With().Str("component", "webhook_announcer").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "announcer",
		Timeout: cfg.OpenPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			var perm *permanentError
			return err == nil || errors.As(err, &perm)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("announcer circuit breaker state changed")
		},
	})
	return &WebhookAnnouncer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     log,
	}
}

func (a *WebhookAnnouncer) Announce(ctx context.Context, text string) error {
	backoff := retry.WithMaxRetries(a.cfg.Retries, retry.NewExponential(a.cfg.BaseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := a.breaker.Execute(func() (interface{}, error) {
			return nil, a.post(ctx, text)
		})
		var perm *permanentError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return err
		case errors.As(err, &perm):
			return err
		}
		a.log.Warn().Err(err).Msg("announcement failed, retrying")
		return retry.RetryableError(err)
	})
}

func (a *WebhookAnnouncer) post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("announcement endpoint returned status %d", resp.StatusCode)
	default:
		return &permanentError{status: resp.StatusCode, body: string(snippet)}
	}
}
