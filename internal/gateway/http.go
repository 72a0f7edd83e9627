package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPConfig configures the gateway HTTP client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each call. Expiry maps to StatusTimeout.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenFor is how long the breaker stays open before probing.
	OpenFor time.Duration
}

// HTTPClient is a Client speaking JSON over HTTP, guarded by a circuit breaker.
type HTTPClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// errServer marks responses the breaker counts as failures.
var errServer = errors.New("gateway server error")

// NewHTTPClient builds a gateway client.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    &http.Client{},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bank-gateway",
		MaxRequests: 1,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, errServer) || isTimeout(err) || isTransport(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("gateway circuit state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	})
	return c
}

// ProcessTransfer submits a transfer. A call that outlives the timeout yields
// StatusTimeout; an open breaker yields StatusSystemError because the request
// never left this process.
func (c *HTTPClient) ProcessTransfer(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.call(ctx, http.MethodPost, "/transfers", body)
	switch {
	case err == nil:
		return resp, nil
	case isBreakerRejection(err):
		return Response{Status: StatusSystemError, ErrorCode: "CIRCUIT_OPEN", ErrorMessage: err.Error()}, nil
	case isTimeout(err):
		return Response{Status: StatusTimeout, ErrorMessage: err.Error()}, nil
	case errors.Is(err, errServer):
		return Response{Status: StatusUnknown, ErrorMessage: err.Error()}, nil
	default:
		return Response{}, err
	}
}

// GetTransferStatus queries the bank for a previously submitted transfer.
func (c *HTTPClient) GetTransferStatus(ctx context.Context, transactionID string) (Response, error) {
	resp, err := c.call(ctx, http.MethodGet, "/transfers/"+url.PathEscape(transactionID), nil)
	switch {
	case err == nil:
		return resp, nil
	case isBreakerRejection(err):
		return Response{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	default:
		return Response{}, err
	}
}

func (c *HTTPClient) call(ctx context.Context, method, path string, body []byte) (Response, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, method, path, body)
	})
	if err != nil {
		return Response{}, err
	}
	return out.(Response), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Response{}, err
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return Response{}, fmt.Errorf("%w: status %d", errServer, res.StatusCode)
	}

	var out Response
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return Response{}, fmt.Errorf("decode gateway response: %w", err)
		}
	}
	if res.StatusCode == http.StatusNotFound && out.Status == "" {
		out.Status = StatusUnknown
		out.ErrorCode = "NOT_FOUND"
	}
	if res.StatusCode >= http.StatusBadRequest && out.Status == "" {
		out.Status = StatusFailed
		out.ErrorCode = fmt.Sprintf("HTTP_%d", res.StatusCode)
	}
	if out.Status == "" {
		out.Status = StatusUnknown
	}
	return out, nil
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTransport(err error) bool {
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// BreakerState reports the circuit breaker state for health checks.
func (c *HTTPClient) BreakerState() string {
	return c.breaker.State().String()
}
