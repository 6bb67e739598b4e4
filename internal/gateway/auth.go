package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/apperrors"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	AuthModeAPIKey = "api-key"
	AuthModeApp    = "app"
)

// Token is an immutable bearer credential. The authority replaces the whole
// value on refresh; nothing ever mutates a Token in place.
type Token struct {
	Value    string
	IssuedAt time.Time
	Expiry   time.Time
	Mode     string
}

// loginErrorText maps ProjectX auth errorCodes onto readable messages.
var loginErrorText = map[int]string{
	0: "unknown error",
	1: "invalid credentials",
	2: "account locked or disabled",
	3: "invalid API key or username",
	4: "rate limit exceeded",
}

type loginCall struct {
	done chan struct{}
	tok  *Token
	err  error
}

// CredentialAuthority owns the bearer token lifecycle against the ProjectX
// /Auth endpoints. Concurrent refreshers share one in-flight login; a rate
// limiter on top stops a restart loop from hammering the gateway.
type CredentialAuthority struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger

	refreshBuffer time.Duration
	tokenTTL      time.Duration

	mu      sync.Mutex
	token   *Token
	pending *loginCall

	now func() time.Time
}

func NewCredentialAuthority(cfg config.GatewayConfig) *CredentialAuthority {
	interval := time.Duration(cfg.LoginIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 1
	}
	ttl := time.Duration(cfg.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	buffer := time.Duration(cfg.RefreshBufferMinutes) * time.Minute
	if buffer <= 0 {
		buffer = 5 * time.Minute
	}
	return &CredentialAuthority{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		limiter:       rate.NewLimiter(rate.Every(interval), burst),
		log:           logger.Component("auth"),
		refreshBuffer: buffer,
		tokenTTL:      ttl,
		now:           time.Now,
	}
}

// Token returns a bearer token valid for at least the refresh buffer. With
// force it always performs a fresh login. Under concurrency exactly one
// login runs per refresh cycle; every waiter shares its outcome.
func (a *CredentialAuthority) Token(ctx context.Context, force bool) (string, error) {
	a.mu.Lock()
	if !force && a.fresh() {
		tok := a.token.Value
		a.mu.Unlock()
		return tok, nil
	}

	if a.pending != nil {
		call := a.pending
		a.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if call.err != nil {
			return "", call.err
		}
		return call.tok.Value, nil
	}

	call := &loginCall{done: make(chan struct{})}
	a.pending = call
	a.mu.Unlock()

	tok, err := a.login(ctx)

	a.mu.Lock()
	a.pending = nil
	if err == nil {
		a.token = tok
	}
	a.mu.Unlock()

	call.tok, call.err = tok, err
	close(call.done)

	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// Headers returns the per-request headers with a fresh bearer token.
func (a *CredentialAuthority) Headers(ctx context.Context) (http.Header, error) {
	tok, err := a.Token(ctx, false)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tok)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h, nil
}

// fresh reports whether the cached token is still inside its safe lifetime.
// Caller holds the mutex.
func (a *CredentialAuthority) fresh() bool {
	return a.token != nil && a.now().Before(a.token.Expiry.Add(-a.refreshBuffer))
}

func (a *CredentialAuthority) login(ctx context.Context) (*Token, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var (
		endpoint string
		payload  map[string]any
	)
	switch a.cfg.AuthMode {
	case AuthModeApp:
		endpoint = "/Auth/loginApp"
		payload = map[string]any{
			"userName":  a.cfg.AppUsername,
			"password":  a.cfg.AppPassword,
			"deviceId":  a.cfg.AppDeviceID,
			"appId":     a.cfg.AppID,
			"verifyKey": a.cfg.AppVerifyKey,
		}
	default:
		endpoint = "/Auth/loginKey"
		payload = map[string]any{
			"userName": a.cfg.Username,
			"apiKey":   a.cfg.APIKey,
		}
	}

	a.log.Info("authenticating against gateway", "mode", a.cfg.AuthMode, "endpoint", endpoint)

	value, err := a.requestToken(ctx, endpoint, payload)
	if err != nil {
		metrics.AuthLogins.WithLabelValues("failure").Inc()
		return nil, err
	}

	if a.cfg.ValidateToken {
		if err := a.validate(ctx, value); err != nil {
			metrics.AuthLogins.WithLabelValues("failure").Inc()
			return nil, err
		}
	}

	metrics.AuthLogins.WithLabelValues("success").Inc()
	issued := a.now()
	return &Token{
		Value:    value,
		IssuedAt: issued,
		Expiry:   issued.Add(a.tokenTTL),
		Mode:     a.cfg.AuthMode,
	}, nil
}

func (a *CredentialAuthority) requestToken(ctx context.Context, endpoint string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.New(apperrors.ErrInternal, "marshal login payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.New(apperrors.ErrInternal, "build login request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewAuth("login request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewAuth(
			fmt.Sprintf("login failed with HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200)), nil)
	}

	var parsed struct {
		Success      bool    `json:"success"`
		ErrorCode    int     `json:"errorCode"`
		ErrorMessage *string `json:"errorMessage"`
		Token        string  `json:"token"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apperrors.NewAuth("login response was not valid JSON", err)
	}

	if parsed.Success && parsed.ErrorCode == 0 && parsed.Token != "" {
		return parsed.Token, nil
	}

	msg := ""
	if parsed.ErrorMessage != nil {
		msg = *parsed.ErrorMessage
	}
	if msg == "" {
		if known, ok := loginErrorText[parsed.ErrorCode]; ok {
			msg = known
		} else {
			msg = fmt.Sprintf("errorCode %d", parsed.ErrorCode)
		}
	}
	return "", apperrors.NewAuth(
		fmt.Sprintf("login rejected (code=%d): %s", parsed.ErrorCode, msg), nil)
}

func (a *CredentialAuthority) validate(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/Auth/validate", bytes.NewReader([]byte("{}")))
	if err != nil {
		return apperrors.New(apperrors.ErrInternal, "build validate request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperrors.NewAuth("token validation failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewAuth(fmt.Sprintf("token validation returned HTTP %d", resp.StatusCode), nil)
	}
	return nil
}

// Current returns the cached token without refreshing, or nil.
func (a *CredentialAuthority) Current() *Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
