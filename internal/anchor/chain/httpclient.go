package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"karbon/internal/platform/config"
)

// HTTPClient talks to the ledger network's REST gateway.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient builds a Client over the configured gateway endpoint.
func NewHTTPClient(cfg config.ChainConfig) *HTTPClient {
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) ProtocolParams(ctx context.Context) (*ProtocolParams, error) {
	var params ProtocolParams
	if err := c.get(ctx, "/v1/protocol-params", &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (c *HTTPClient) UTxOs(ctx context.Context, address string) ([]UTxO, error) {
	var utxos []UTxO
	if err := c.get(ctx, "/v1/addresses/"+address+"/utxos", &utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

func (c *HTTPClient) Submit(ctx context.Context, signedTx []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/tx/submit", bytes.NewReader(signedTx))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Unreachable(fmt.Errorf("submit transaction: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return "", err
	}

	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return out.TxHash, nil
}

func (c *HTTPClient) Status(ctx context.Context, txHash string) (TxStatus, error) {
	var out struct {
		Status TxStatus `json:"status"`
	}
	if err := c.get(ctx, "/v1/txs/"+txHash+"/status", &out); err != nil {
		return TxStatusUnknown, err
	}
	return out.Status, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Unreachable(fmt.Errorf("get %s: %w", path, err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyStatus maps gateway HTTP statuses onto the retry taxonomy: 429 and
// 5xx are transient, everything else 4xx is a permanent rejection.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return Retryable(fmt.Errorf("rate limited by network gateway: %s", body))
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return Unreachable(fmt.Errorf("network gateway unavailable (%d): %s", status, body))
	case status >= 500:
		return Retryable(fmt.Errorf("network gateway error (%d): %s", status, body))
	default:
		return Permanent(fmt.Errorf("network rejected request (%d): %s", status, body))
	}
}

var _ Client = (*HTTPClient)(nil)
