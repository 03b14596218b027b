package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

// Binding is the provider's representation of one granted permission,
// referenced everywhere else only by its opaque ID.
type Binding struct {
	ID              string `json:"id"`
	SubjectEmail    string `json:"subject_email"`
	AccountID       string `json:"account_id"`
	PropertyID      string `json:"property_id"`
	PermissionLevel string `json:"permission_level"`
}

// Error is a classified provider failure. Transient errors (timeouts,
// 5xx-equivalent responses) are retried inside the client; permanent errors
// (bad subject, unknown resource, quota) surface to the caller immediately.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return !pe.Transient
	}
	return false
}

type Config struct {
	APIURL         string
	APIKey         string
	RequestTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	MaxConcurrent  int
}

// Client wraps the external authorization provider API. Every call holds a
// semaphore slot while in flight so a full scheduler sweep stays under the
// provider's rate limits, and every attempt runs under a bounded timeout.
type Client struct {
	apiURL         string
	apiKey         string
	requestTimeout time.Duration
	maxAttempts    int
	backoffBase    time.Duration
	sem            chan struct{}
	httpClient     *http.Client
	logger         *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	backoffBase := config.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}

	maxConcurrent := config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	return &Client{
		apiURL:         config.APIURL,
		apiKey:         config.APIKey,
		requestTimeout: requestTimeout,
		maxAttempts:    maxAttempts,
		backoffBase:    backoffBase,
		sem:            make(chan struct{}, maxConcurrent),
		httpClient:     &http.Client{Timeout: requestTimeout},
		logger:         logger,
	}
}

// Bind creates a provider binding for (subject, resource, level). The
// idempotency key makes replays safe: the provider returns the existing
// binding for a key it has already seen instead of creating a second one.
func (c *Client) Bind(ctx context.Context, subjectEmail, accountID, propertyID, level, idempotencyKey string) (string, error) {
	payload := map[string]interface{}{
		"subject_email":    subjectEmail,
		"account_id":       accountID,
		"property_id":      propertyID,
		"permission_level": level,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bind request: %w", err)
	}

	var bindingID string
	err = c.withRetry(ctx, "bind", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/bindings", bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create bind request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)
		c.setAuth(req)

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return classifyStatus(resp)
		}

		var apiResponse struct {
			Data Binding `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
			return fmt.Errorf("failed to decode bind response: %w", err)
		}
		bindingID = apiResponse.Data.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("provider binding created",
		"binding_id", bindingID,
		"subject", subjectEmail,
		"account_id", accountID,
		"property_id", propertyID,
		"permission_level", level)

	return bindingID, nil
}

// Unbind deletes a binding by reference. A reference the provider no longer
// knows counts as success so a retried revoke or expire never fails on work
// already done.
func (c *Client) Unbind(ctx context.Context, ref string) error {
	err := c.withRetry(ctx, "unbind", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.apiURL+"/bindings/"+url.PathEscape(ref), nil)
		if err != nil {
			return fmt.Errorf("failed to create unbind request: %w", err)
		}
		c.setAuth(req)

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return classifyStatus(resp)
	})
	if err != nil {
		return err
	}

	c.logger.Info("provider binding removed", "binding_ref", ref)
	return nil
}

// ListBindings returns every binding the provider holds for a resource; used
// by the drift reconciler, not by the state machine.
func (c *Client) ListBindings(ctx context.Context, accountID, propertyID string) ([]Binding, error) {
	var bindings []Binding
	err := c.withRetry(ctx, "list_bindings", func(ctx context.Context) error {
		endpoint := fmt.Sprintf("%s/bindings?account_id=%s&property_id=%s",
			c.apiURL, url.QueryEscape(accountID), url.QueryEscape(propertyID))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create list request: %w", err)
		}
		c.setAuth(req)

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp)
		}

		var apiResponse struct {
			Data []Binding `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
			return fmt.Errorf("failed to decode list response: %w", err)
		}
		bindings = apiResponse.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bindings, nil
}

// withRetry runs one provider call under the shared backoff policy: transient
// failures retry with exponential backoff up to the attempt budget, permanent
// failures stop immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(c.maxAttempts-1), retry.NewExponential(c.backoffBase))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}

		var pe *Error
		if errors.As(err, &pe) && !pe.Transient {
			c.logger.Warn("provider rejected request",
				"operation", op,
				"status", pe.StatusCode,
				"message", pe.Message)
			return err
		}

		c.logger.Warn("provider call failed, will retry",
			"operation", op,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", err)
		return retry.RetryableError(err)
	})
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	select {
	case c.sem <- struct{}{}:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	defer func() { <-c.sem }()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Transient:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}
