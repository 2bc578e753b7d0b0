package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// HTTPClient implements GatesClient using the gatekeep HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Compile-time check that HTTPClient implements GatesClient.
var _ GatesClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func eventPath(eventID string, parts ...string) string {
	p := "/v1/events/" + url.PathEscape(eventID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// --- Gates and bindings ---

func (c *HTTPClient) ListGates(ctx context.Context, eventID string) ([]*model.Gate, error) {
	var resp struct {
		Gates []*model.Gate `json:"gates"`
	}
	if err := c.doJSON(ctx, http.MethodGet, eventPath(eventID, "gates"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Gates, nil
}

func (c *HTTPClient) GetGate(ctx context.Context, eventID, gateID string) (*model.Gate, error) {
	var gate model.Gate
	if err := c.doJSON(ctx, http.MethodGet, eventPath(eventID, "gates", url.PathEscape(gateID)), nil, &gate); err != nil {
		return nil, err
	}
	return &gate, nil
}

func (c *HTTPClient) ListBindings(ctx context.Context, eventID, gateID string) ([]*model.GateBinding, error) {
	path := eventPath(eventID, "bindings")
	if gateID != "" {
		path += "?" + url.Values{"gate_id": {gateID}}.Encode()
	}
	var resp struct {
		Bindings []*model.GateBinding `json:"bindings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bindings, nil
}

func (c *HTTPClient) History(ctx context.Context, eventID string, afterID int64, limit int) ([]*model.Event, error) {
	q := url.Values{}
	if afterID > 0 {
		q.Set("after", strconv.FormatInt(afterID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := eventPath(eventID, "history")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Events []*model.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *HTTPClient) Evaluate(ctx context.Context, eventID string, req *EvaluateRequest) (*model.Decision, error) {
	var d model.Decision
	if err := c.doJSON(ctx, http.MethodPost, eventPath(eventID, "evaluate"), req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Jobs ---

func (c *HTTPClient) RunDiscovery(ctx context.Context, eventID string) (*model.DiscoveryReport, error) {
	var r model.DiscoveryReport
	if err := c.doJSON(ctx, http.MethodPost, eventPath(eventID, "discovery"), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) RunDeduplication(ctx context.Context, eventID string) (*model.DeduplicationReport, error) {
	var r model.DeduplicationReport
	if err := c.doJSON(ctx, http.MethodPost, eventPath(eventID, "deduplication"), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) MergeGates(ctx context.Context, eventID string, gateIDs []string) (*model.DeduplicationReport, error) {
	body := map[string][]string{"gate_ids": gateIDs}
	var r model.DeduplicationReport
	if err := c.doJSON(ctx, http.MethodPost, eventPath(eventID, "merge"), body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) ApplyRecommendation(ctx context.Context, eventID, gateID, category string) (*ApplyRecommendationResponse, error) {
	body := map[string]string{"gate_id": gateID, "category": category}
	var r ApplyRecommendationResponse
	if err := c.doJSON(ctx, http.MethodPost, eventPath(eventID, "recommendations", "apply"), body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
