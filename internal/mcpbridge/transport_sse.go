package mcpbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// sseTransport posts the JSON-RPC request and reads the response back from
// the body as a server-sent-events stream, matching the reply by id.
type sseTransport struct {
	cfg       model.McpServerConfig
	headers   map[string]string
	client    *http.Client
	nextID    atomic.Int64
	connected atomic.Bool
}

func newSSETransport(cfg model.McpServerConfig) *sseTransport {
	return &sseTransport{
		cfg:     cfg,
		headers: parseHeaders(cfg.HeadersJSON),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *sseTransport) connect(ctx context.Context) error {
	if t.cfg.EndpointURL == "" {
		return fmt.Errorf("endpointUrl is required for sse transport")
	}
	t.connected.Store(true)
	return nil
}

func (t *sseTransport) close() error {
	t.connected.Store(false)
	return nil
}

func (t *sseTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if resp, ok := matchResponse(dataLines, id); ok {
				if resp.Error != nil {
					return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
				}
				return resp.Result, nil
			}
			dataLines = nil
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(data, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sse stream: %w", err)
	}
	return nil, fmt.Errorf("sse stream ended without a matching response")
}

func matchResponse(dataLines []string, id int64) (*jsonrpcResponse, bool) {
	if len(dataLines) == 0 {
		return nil, false
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal([]byte(strings.Join(dataLines, "\n")), &resp); err != nil {
		return nil, false
	}
	respID, ok := resp.ID.(float64)
	if !ok || int64(respID) != id {
		return nil, false
	}
	return &resp, true
}
