package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/metrics"
	"evalgo.org/kiwi/internal/version"
)

// Client sends commands to the backend.
type Client interface {
	Dispatch(ctx context.Context, cmd Command) (*Response, error)
}

// HTTPClient dispatches commands as JSON POSTs to a single endpoint.
type HTTPClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(endpoint, token string, timeout time.Duration) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Dispatch sends cmd and returns the decoded envelope. Anything other than a
// 2xx answer with success=true is returned as a *TransportError.
func (c *HTTPClient) Dispatch(ctx context.Context, cmd Command) (*Response, error) {
	action := cmd.Action()
	start := time.Now()

	resp, err := c.do(ctx, cmd)

	metrics.DispatchDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
	metrics.DispatchTotal.WithLabelValues(string(action), metrics.ResultLabel(err)).Inc()
	if err != nil {
		logging.Debugf("dispatch %s failed after %v: %v", action, time.Since(start), err)
		return nil, err
	}
	logging.Debugf("dispatch %s ok (%v)", action, time.Since(start))
	return resp, nil
}

func (c *HTTPClient) do(ctx context.Context, cmd Command) (*Response, error) {
	action := cmd.Action()

	data, err := json.Marshal(NewRequest(cmd))
	if err != nil {
		return nil, &TransportError{Action: action, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(data))
	if err != nil {
		return nil, &TransportError{Action: action, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Action: action, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var out Response
	decodeErr := json.Unmarshal(body, &out)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && out.Error != "" {
			msg = out.Error
		}
		return nil, &TransportError{Action: action, StatusCode: httpResp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &TransportError{Action: action, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("invalid response body: %w", decodeErr)}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, &TransportError{Action: action, Message: msg}
	}

	return &out, nil
}
