// Package backend is the HTTP client for the inference backend's two
// invocation operations: single-shot invoke and streaming invoke.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"inference-gateway/internal/shared"

	"go.uber.org/zap"
)

type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      *zap.SugaredLogger
}

func NewClient(endpoint, apiKey string, log *zap.SugaredLogger) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: shared.DefaultHTTPTimeout},
		log:      log,
	}
}

func (c *Client) newRequest(ctx context.Context, modelID, operation string, payload map[string]any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backend payload: %w", err)
	}

	target := fmt.Sprintf("%s/model/%s/%s", c.endpoint, url.PathEscape(modelID), operation)
	r, err := http.NewRequestWithContext(ctx, "POST", target, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed building backend request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return r, nil
}

// Invoke runs the single-shot operation and returns the decoded response
// body. Any transport or protocol fault surfaces the backend's message.
func (c *Client) Invoke(ctx context.Context, modelID string, payload map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, shared.DefaultRequestTimeout)
	defer cancel()

	r, err := c.newRequest(ctx, modelID, "invoke", payload)
	if err != nil {
		return nil, err
	}

	res, err := c.client.Do(r)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return nil, c.statusError(res)
	}

	var response map[string]any
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	return response, nil
}

// InvokeStream opens the streaming operation and calls onChunk for every
// decoded chunk, in arrival order. A single malformed chunk is skipped, not
// fatal. Returns nil once the backend signals end-of-stream; returns the
// first error from onChunk or the transport otherwise.
func (c *Client) InvokeStream(ctx context.Context, modelID string, payload map[string]any, onChunk func(map[string]any) error) error {
	ctx, cancel := context.WithTimeout(ctx, shared.DefaultRequestTimeout)
	defer cancel()

	r, err := c.newRequest(ctx, modelID, "invoke-with-response-stream", payload)
	if err != nil {
		return err
	}

	res, err := c.client.Do(r)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		return c.statusError(res)
	}

	reader := bufio.NewScanner(res.Body)
	for reader.Scan() {
		line := reader.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk map[string]any
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Warnw("failed unmarshaling streamed chunk", "error", err, "line", line)
			continue
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("backend stream interrupted: %w", err)
	}
	return nil
}

// statusError extracts the backend's error message from a non-200 response so
// it can be passed through verbatim.
func (c *Client) statusError(res *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err != nil || len(body) == 0 {
		return fmt.Errorf("backend responded with status %d", res.StatusCode)
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return errors.New(payload.Error)
		}
		if payload.Message != "" {
			return errors.New(payload.Message)
		}
	}
	return fmt.Errorf("backend responded with status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
}
