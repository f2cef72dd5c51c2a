package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/leeoohoo/subagent-router/internal/model"
)

// httpTransport issues one JSON-RPC request per call and reads back one
// JSON-RPC response, synchronously.
type httpTransport struct {
	cfg       model.McpServerConfig
	headers   map[string]string
	client    *http.Client
	nextID    atomic.Int64
	connected atomic.Bool
}

func newHTTPTransport(cfg model.McpServerConfig) *httpTransport {
	return &httpTransport{
		cfg:     cfg,
		headers: parseHeaders(cfg.HeadersJSON),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func parseHeaders(headersJSON string) map[string]string {
	if headersJSON == "" {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
		logger.Warn("invalid headersJson, ignoring", "error", err)
		return nil
	}
	return headers
}

func (t *httpTransport) connect(ctx context.Context) error {
	if t.cfg.EndpointURL == "" {
		return fmt.Errorf("endpointUrl is required for http transport")
	}
	t.connected.Store(true)
	return nil
}

func (t *httpTransport) close() error {
	t.connected.Store(false)
	return nil
}

func (t *httpTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	req := jsonrpcRequest{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method}
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
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}

	var rpcResp jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
