package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clipforge/internal/infra"
)

// Options controls how the gateway client is configured.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// HTTPClient talks to the generation gateway's REST API. It is stateless;
// the credential secret is passed per call as a bearer token so a single
// client serves the whole pool.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewHTTPClient validates options and builds a gateway client.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("generation: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("generation: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPClient{baseURL: base, httpClient: httpClient, logger: opts.Logger}, nil
}

type submitPayload struct {
	Engine        string   `json:"engine"`
	Prompt        string   `json:"prompt"`
	Duration      int      `json:"duration_seconds,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	WithAudio     bool     `json:"with_audio,omitempty"`
	StartFrameRef string   `json:"start_frame_ref,omitempty"`
	EndFrameRef   string   `json:"end_frame_ref,omitempty"`
	ImageRefs     []string `json:"image_refs,omitempty"`
	VideoRef      string   `json:"video_ref,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	State     string            `json:"state"`
	ResultURL string            `json:"result_url"`
	Metadata  map[string]string `json:"metadata"`
	Error     string            `json:"error"`
}

type balanceResponse struct {
	Credits int `json:"credits"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// SubmitGeneration posts the payload and returns the gateway task id.
func (c *HTTPClient) SubmitGeneration(ctx context.Context, secret string, req SubmitRequest) (string, error) {
	payload := submitPayload{
		Engine:        req.Engine,
		Prompt:        req.Prompt,
		Duration:      req.DurationSeconds,
		Resolution:    req.Resolution,
		WithAudio:     req.WithAudio,
		StartFrameRef: req.StartFrameRef,
		EndFrameRef:   req.EndFrameRef,
		ImageRefs:     req.ImageRefs,
		VideoRef:      req.VideoRef,
	}
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/generate", secret, payload, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("generation: gateway returned empty task id")
	}
	return resp.TaskID, nil
}

// QueryStatus fetches the current state of a submitted task.
func (c *HTTPClient) QueryStatus(ctx context.Context, secret, providerJobID string) (Status, error) {
	path := "/api/v1/tasks/" + url.PathEscape(providerJobID)
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, path, secret, nil, &resp); err != nil {
		return Status{}, err
	}
	state := State(resp.State)
	switch state {
	case StatePending, StateProcessing, StateCompleted, StateFailed:
	default:
		return Status{}, fmt.Errorf("generation: unrecognized task state %q", resp.State)
	}
	return Status{
		State:         state,
		ResultURL:     resp.ResultURL,
		Metadata:      resp.Metadata,
		FailureReason: resp.Error,
	}, nil
}

// QueryAccountBalance reads the remaining credits of the account behind secret.
func (c *HTTPClient) QueryAccountBalance(ctx context.Context, secret string) (int, error) {
	var resp balanceResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/account/credits", secret, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Credits, nil
}

// FetchAsset downloads a result asset from the URL the gateway reported.
func (c *HTTPClient) FetchAsset(ctx context.Context, assetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("generation: build asset request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation: fetch asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation: fetch asset: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 256<<20))
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path, secret string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("generation: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("generation: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generation: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", time.Since(start)).
			Msg("gateway call")
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("generation: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("generation: %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("generation: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("generation: decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
