package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the stock ComfyUI listen address.
const DefaultBaseURL = "http://127.0.0.1:8188"

// availabilityTimeout bounds the liveness probe.
const availabilityTimeout = 5 * time.Second

// StatusError reports a non-2xx HTTP response from the server. The server
// answered, so this is a server-side problem rather than a transport one.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("comfyui: http %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("comfyui: http %d", e.Code)
}

// Options controls how the ComfyUI client is configured.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client is a thin HTTP facade over the ComfyUI server API. All response
// bodies pass through the shape validators before anything is returned.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Client, defaulting to the stock local ComfyUI address.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: client, baseURL: base}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsAvailable probes GET /system_stats with a short timeout. Any failure,
// including timeout, reports false; it never returns an error.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SubmitPrompt posts a built workflow as {"prompt": workflow} and validates
// the acknowledgement. A shape-invalid acknowledgement produces an error
// embedding both the validator's complaint and the raw body.
func (c *Client) SubmitPrompt(ctx context.Context, workflow map[string]any) (*PromptAck, error) {
	payload, err := json.Marshal(map[string]any{"prompt": workflow})
	if err != nil {
		return nil, fmt.Errorf("comfyui: encode workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfyui: submit prompt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfyui: read prompt response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncateBody(body)}
	}

	ack, err := ValidatePromptResponse(body)
	if err != nil {
		var respErr *ResponseError
		if errors.As(err, &respErr) {
			return nil, fmt.Errorf("comfyui prompt response invalid: %w (raw: %s)",
				err, respErr.RawBody)
		}
		return nil, err
	}
	return ack, nil
}

// History fetches GET /history/{id} and validates the response. It returns
// (nil, nil) when the entry is not yet present (the job is still running).
// A non-2xx status is returned as *StatusError so the poll loop can treat it
// as retryable; a shape failure is returned as *ResponseError and is fatal.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfyui: fetch history: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("comfyui: read history response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncateBody(body)}
	}

	return ValidateHistoryResponse(body, promptID)
}

// Download fetches one output file via GET /view.
func (c *Client) Download(ctx context.Context, filename, subfolder, typ string) ([]byte, error) {
	if typ == "" {
		typ = "output"
	}
	params := url.Values{}
	params.Set("filename", filename)
	params.Set("subfolder", subfolder)
	params.Set("type", typ)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfyui: download %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// Interrupt asks the server to stop the in-flight job. Best effort: callers
// are expected to ignore the returned error.
func (c *Client) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interrupt", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxRawBody {
		s = s[:maxRawBody] + "…"
	}
	return s
}
