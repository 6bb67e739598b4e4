package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/model"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/metrics"
)

const defaultRetryAfter = 60 * time.Second

// Client is the retrying REST pipeline against the ProjectX gateway. Every
// typed operation funnels through request(), which owns rate limiting,
// token attachment, retry classification and the Result boundary.
type Client struct {
	cfg        config.GatewayConfig
	auth       *CredentialAuthority
	httpClient *http.Client
	general    *RateLimiter
	historical *RateLimiter
	log        *slog.Logger

	// sleep is swapped out in tests so backoff assertions don't wait
	// wall-clock seconds.
	sleep func(ctx context.Context, d time.Duration) error

	instMu      sync.RWMutex
	instruments map[string]model.Contract

	quoteMu sync.RWMutex
	quotes  map[string]float64

	acctMu           sync.Mutex
	defaultAccountID int
}

func NewClient(cfg config.GatewayConfig, auth *CredentialAuthority) *Client {
	return &Client{
		cfg:  cfg,
		auth: auth,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		general:     NewRateLimiter("general", cfg.GeneralLane),
		historical:  NewRateLimiter("historical", cfg.HistoricalLane),
		log:         logger.Component("gateway"),
		sleep:       sleepCtx,
		instruments: make(map[string]model.Contract),
		quotes:      make(map[string]float64),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lane names for request().
const (
	laneGeneral    = "general"
	laneHistorical = "historical"
)

func (c *Client) limiterFor(lane string) *RateLimiter {
	if lane == laneHistorical {
		return c.historical
	}
	return c.general
}

// request performs one gateway call with the full retry policy:
//
//   - 429: honor Retry-After (default 60s) and retry without spending budget
//   - 5xx and transport errors: 2^attempt seconds backoff, up to MaxRetries
//   - other 4xx: fail immediately with the parsed error body
//   - 2xx: parsed JSON, or a Failure when the body isn't JSON
//
// All outcomes come back as a Result; this layer never returns an error.
func (c *Client) request(ctx context.Context, method, path, lane string, payload any) Result {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return Failure(fmt.Sprintf("marshal payload for %s: %v", path, err), http.StatusInternalServerError, 0, nil)
		}
	}

	start := time.Now()
	defer func() {
		metrics.GatewayLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	attempt := 0
	for {
		if err := c.limiterFor(lane).Acquire(ctx); err != nil {
			return Failure(fmt.Sprintf("request cancelled at rate limiter: %v", err), http.StatusServiceUnavailable, 0, nil)
		}

		headers, err := c.auth.Headers(ctx)
		if err != nil {
			// Auth failures are fatal to the call; the authority already
			// retries/refreshes on the next attempt by design.
			metrics.GatewayRequests.WithLabelValues(path, "auth_error").Inc()
			return Failure(fmt.Sprintf("authentication failed: %v", err), http.StatusUnauthorized, 0, nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return Failure(fmt.Sprintf("build request for %s: %v", path, err), http.StatusInternalServerError, 0, nil)
		}
		req.Header = headers

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transport error: same backoff schedule as 5xx.
			c.log.Warn("transport error", "path", path, "attempt", attempt+1, "error", err)
			metrics.GatewayRetries.WithLabelValues("transport").Inc()
			if attempt >= maxRetries-1 {
				metrics.GatewayRequests.WithLabelValues(path, "transport_error").Inc()
				return Failure(
					fmt.Sprintf("request failed after %d attempts: %v", maxRetries, err),
					http.StatusServiceUnavailable, 0, nil)
			}
			if err := c.sleep(ctx, backoff(attempt)); err != nil {
				return Failure("request cancelled during backoff", http.StatusServiceUnavailable, 0, nil)
			}
			attempt++
			continue
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// Throttled: wait what the gateway asked for; the attempt
			// budget is not consumed.
			wait := retryAfter(resp.Header)
			c.log.Warn("gateway throttled request", "path", path, "retry_after", wait.String())
			metrics.GatewayRetries.WithLabelValues("throttled").Inc()
			if err := c.sleep(ctx, wait); err != nil {
				return Failure("request cancelled while throttled", http.StatusServiceUnavailable, 0, nil)
			}
			continue

		case resp.StatusCode >= 500:
			c.log.Warn("gateway server error", "path", path, "status", resp.StatusCode,
				"attempt", attempt+1, "max", maxRetries)
			metrics.GatewayRetries.WithLabelValues("server_error").Inc()
			if attempt >= maxRetries-1 {
				metrics.GatewayRequests.WithLabelValues(path, "server_error").Inc()
				return Failure(
					fmt.Sprintf("gateway error %d: %s", resp.StatusCode, truncate(string(raw), 200)),
					http.StatusBadGateway, 0, nil)
			}
			if err := c.sleep(ctx, backoff(attempt)); err != nil {
				return Failure("request cancelled during backoff", http.StatusServiceUnavailable, 0, nil)
			}
			attempt++
			continue

		case resp.StatusCode >= 400:
			// Client error: never retried. Prefer the structured error
			// body when the gateway sent one.
			metrics.GatewayRequests.WithLabelValues(path, "rejected").Inc()
			var parsed struct {
				ErrorCode    int     `json:"errorCode"`
				ErrorMessage *string `json:"errorMessage"`
				Message      *string `json:"message"`
			}
			if json.Unmarshal(raw, &parsed) == nil && (parsed.ErrorMessage != nil || parsed.Message != nil) {
				msg := ""
				if parsed.ErrorMessage != nil {
					msg = *parsed.ErrorMessage
				} else {
					msg = *parsed.Message
				}
				return Failure(msg, resp.StatusCode, parsed.ErrorCode, json.RawMessage(raw))
			}
			return Failure(
				fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200)),
				resp.StatusCode, 0, nil)

		default:
			if readErr != nil {
				return Failure(fmt.Sprintf("read response body: %v", readErr), http.StatusBadGateway, 0, nil)
			}
			if !json.Valid(raw) {
				c.log.Error("gateway returned non-JSON success body", "path", path, "status", resp.StatusCode)
				metrics.GatewayRequests.WithLabelValues(path, "malformed").Inc()
				return Failure("invalid JSON response from gateway", http.StatusBadGateway, 0, nil)
			}
			metrics.GatewayRequests.WithLabelValues(path, "success").Inc()
			return Success(json.RawMessage(raw), resp.StatusCode)
		}
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

// UpdateQuote stores the latest traded price for a symbol. The realtime
// feed calls this on every quote so REST consumers can fall back to a
// cached price when the gateway is briefly unreachable.
func (c *Client) UpdateQuote(symbol string, price float64) {
	c.quoteMu.Lock()
	c.quotes[symbol] = price
	c.quoteMu.Unlock()
}

// CachedQuote returns the last seen price for a symbol, if any.
func (c *Client) CachedQuote(symbol string) (float64, bool) {
	c.quoteMu.RLock()
	defer c.quoteMu.RUnlock()
	p, ok := c.quotes[symbol]
	return p, ok
}
