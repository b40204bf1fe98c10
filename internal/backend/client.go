package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	ometrics "github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/tracing"
)

// NetworkError wraps a failed call to an external collaborator so callers
// can distinguish transport failures from domain errors.
type NetworkError struct {
	Service string
	Op      string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response with whatever body the service
// returned, truncated for logs.
type StatusError struct {
	Service string
	Op      string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Op, e.Status, e.Body)
}

// Client is the shared HTTP plumbing for the retrieval and generation
// collaborators: JSON in, JSON out, traceparent propagation, per-service
// metrics.
type Client struct {
	service string
	base    string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a collaborator client. The service name labels metrics
// and error messages.
func NewClient(service, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		service: service,
		base:    baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// PostJSON sends a JSON request body and decodes a JSON response into out.
func (c *Client) PostJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s %s: marshal request: %w", c.service, op, err)
	}

	url := c.base + path
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &NetworkError{Service: c.service, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := c.http.Do(req)
	ometrics.CollaboratorLatency.WithLabelValues(c.service).Observe(time.Since(start).Seconds())
	if err != nil {
		ometrics.CollaboratorRequests.WithLabelValues(c.service, "network_error").Inc()
		return &NetworkError{Service: c.service, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ometrics.CollaboratorRequests.WithLabelValues(c.service, "http_error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("Collaborator returned error status",
			zap.String("service", c.service),
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
		)
		return &StatusError{Service: c.service, Op: op, Status: resp.StatusCode, Body: string(snippet)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ometrics.CollaboratorRequests.WithLabelValues(c.service, "decode_error").Inc()
			return &NetworkError{Service: c.service, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	ometrics.CollaboratorRequests.WithLabelValues(c.service, "ok").Inc()
	return nil
}

// GetJSON fetches a path and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, op, path string, out any) error {
	url := c.base + path
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &NetworkError{Service: c.service, Op: op, Err: err}
	}
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := c.http.Do(req)
	ometrics.CollaboratorLatency.WithLabelValues(c.service).Observe(time.Since(start).Seconds())
	if err != nil {
		ometrics.CollaboratorRequests.WithLabelValues(c.service, "network_error").Inc()
		return &NetworkError{Service: c.service, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ometrics.CollaboratorRequests.WithLabelValues(c.service, "http_error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Service: c.service, Op: op, Status: resp.StatusCode, Body: string(snippet)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			ometrics.CollaboratorRequests.WithLabelValues(c.service, "decode_error").Inc()
			return &NetworkError{Service: c.service, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	ometrics.CollaboratorRequests.WithLabelValues(c.service, "ok").Inc()
	return nil
}
