package entry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SheetConfig configures the remote sheet validator
type SheetConfig struct {
	URL     string
	Timeout time.Duration

	// RequestsPerSecond caps calls to the sheet script; 0 means unlimited
	RequestsPerSecond float64
}

// DefaultSheetConfig returns the default sheet settings for url
func DefaultSheetConfig(url string) SheetConfig {
	return SheetConfig{
		URL:               url,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
	}
}

// SheetValidator checks tokens against a spreadsheet script endpoint. It
// POSTs {userid, token} and falls back to a GET with query parameters when
// the POST fails.
type SheetValidator struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type sheetRequest struct {
	UserID string `json:"userid"`
	Token  string `json:"token"`
}

type sheetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewSheetValidator creates a SheetValidator
func NewSheetValidator(cfg SheetConfig, logger *slog.Logger) *SheetValidator {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &SheetValidator{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With(slog.String("component", "sheet_gate")),
	}
}

// Validate returns true if the sheet accepts the pair. An error means
// neither request method reached the sheet.
func (v *SheetValidator) Validate(ctx context.Context, userID, token string) (bool, error) {
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" || token == "" {
		return false, nil
	}

	ok, err := v.post(ctx, userID, token)
	if err == nil {
		return ok, nil
	}
	v.logger.Warn("sheet POST failed, trying GET", slog.Any("error", err))

	ok, err = v.get(ctx, userID, token)
	if err != nil {
		v.logger.Error("sheet validation failed", slog.Any("error", err))
		return false, fmt.Errorf("%w: %w", ErrGateUnavailable, err)
	}
	return ok, nil
}

func (v *SheetValidator) post(ctx context.Context, userID, token string) (bool, error) {
	body, err := json.Marshal(sheetRequest{UserID: userID, Token: token})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return v.do(req)
}

func (v *SheetValidator) get(ctx context.Context, userID, token string) (bool, error) {
	u, err := url.Parse(v.url)
	if err != nil {
		return false, fmt.Errorf("invalid sheet url: %w", err)
	}
	q := u.Query()
	q.Set("action", "validate")
	q.Set("userid", userID)
	q.Set("token", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	return v.do(req)
}

func (v *SheetValidator) do(req *http.Request) (bool, error) {
	if err := v.limiter.Wait(req.Context()); err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("%s: HTTP %d", req.Method, resp.StatusCode)
	}

	var result sheetResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Success {
		v.logger.Info("sheet rejected token", slog.String("reason", result.Error))
	}
	return result.Success, nil
}
