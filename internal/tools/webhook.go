package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Webhook defaults.
const (
	defaultWebhookTimeout  = 30 * time.Second
	defaultWebhookFailures = 5
	defaultWebhookOpen     = 30 * time.Second
	maxWebhookResponse     = 1 << 20
)

// WebhookConfig describes a tool implemented by an HTTP endpoint. The
// endpoint receives POST {"id","name","arguments"} and answers with the
// tool output as the response body.
type WebhookConfig struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	URL         string
	// Timeout bounds one request (default 30s).
	Timeout time.Duration
	// MaxFailures consecutive failures open the breaker (default 5).
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open (default 30s).
	OpenTimeout time.Duration
	// RateLimit caps calls per second; 0 means unlimited. Burst defaults to 1.
	RateLimit float64
	Burst     int
	Client    *http.Client
	Logger    zerolog.Logger
}

// NewWebhook returns a Descriptor whose callback calls cfg.URL through a
// circuit breaker so a dead endpoint fails fast instead of stalling turns.
func NewWebhook(cfg WebhookConfig) (Descriptor, error) {
	if cfg.URL == "" {
		return Descriptor{}, fmt.Errorf("webhook tool %q: url is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultWebhookFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultWebhookOpen
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "tool:" + cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || err == context.Canceled
		},
	})
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	call := func(ctx context.Context, args json.RawMessage) (string, error) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("webhook %q rate limit: %w", cfg.Name, err)
			}
		}
		out, err := cb.Execute(func() (string, error) {
			return postWebhook(ctx, client, cfg, args)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", fmt.Errorf("webhook %q circuit open: %w", cfg.Name, err)
		}
		return out, err
	}
	return Descriptor{Name: cfg.Name, Description: cfg.Description, Parameters: cfg.Parameters, Func: call}, nil
}

func postWebhook(ctx context.Context, client *http.Client, cfg WebhookConfig, args json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	body, err := json.Marshal(map[string]any{"id": NewID(), "name": cfg.Name, "arguments": args})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return "", err
	}
	cfg.Logger.Debug().Str("tool", cfg.Name).Int("status", resp.StatusCode).Dur("dur", time.Since(start)).Msg("webhook tool call")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook %q: status %d: %s", cfg.Name, resp.StatusCode, bytes.TrimSpace(b))
	}
	return string(b), nil
}
