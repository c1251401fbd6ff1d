package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jlindqvist/scalpd/internal/crypto"
	"github.com/jlindqvist/scalpd/internal/domain"
)

// RestClient is the private REST client for trading and account endpoints.
// It implements domain.TradingClient and domain.AccountClient.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	creds      *crypto.Credentials
	demo       bool
}

// NewRestClient creates a signed REST client. When demo is true every request
// carries the simulated-trading header, so orders route to the exchange's
// paper environment while market data stays real.
func NewRestClient(baseURL string, creds *crypto.Credentials, demo bool) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		creds: creds,
		demo:  demo,
	}
}

// orderResult is the per-order payload inside the trade endpoints' data
// array. sCode "0" means the order was accepted.
type orderResult struct {
	OrdID  string `json:"ordId"`
	AlgoID string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

// PlaceMarketOrder submits a market order and returns the exchange order id.
func (c *RestClient) PlaceMarketOrder(ctx context.Context, req domain.MarketOrderRequest) (string, error) {
	body := map[string]any{
		"instId":  req.InstID,
		"tdMode":  string(req.MarginMode),
		"side":    string(req.Side),
		"posSide": req.PosSide,
		"ordType": "market",
		"sz":      formatSize(req.Size),
	}
	if req.ClientID != "" {
		body["clOrdId"] = sanitizeClientID(req.ClientID)
	}

	results, err := c.doTradeRequest(ctx, "/api/v5/trade/order", body)
	if err != nil {
		return "", fmt.Errorf("okx/rest: place market order: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("okx/rest: place market order: empty result")
	}
	if results[0].SCode != "0" {
		return "", &domain.ExchangeError{Code: results[0].SCode, Message: results[0].SMsg}
	}
	return results[0].OrdID, nil
}

// PlaceTPSL attaches a combined take-profit/stop-loss (OCO) algo order and
// returns the single algo id covering both triggers.
func (c *RestClient) PlaceTPSL(ctx context.Context, req domain.TPSLRequest) (string, error) {
	body := map[string]any{
		"instId":      req.InstID,
		"tdMode":      string(req.MarginMode),
		"side":        string(req.Side),
		"posSide":     req.PosSide,
		"ordType":     "oco",
		"sz":          formatSize(req.Size),
		"tpTriggerPx": formatPrice(req.TPPrice),
		"tpOrdPx":     "-1", // market on trigger
		"slTriggerPx": formatPrice(req.SLPrice),
		"slOrdPx":     "-1",
	}

	results, err := c.doTradeRequest(ctx, "/api/v5/trade/order-algo", body)
	if err != nil {
		return "", fmt.Errorf("okx/rest: place tp/sl: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("okx/rest: place tp/sl: empty result")
	}
	if results[0].SCode != "0" {
		return "", &domain.ExchangeError{Code: results[0].SCode, Message: results[0].SMsg}
	}
	return results[0].AlgoID, nil
}

// CancelTPSL cancels a pending algo order by id.
func (c *RestClient) CancelTPSL(ctx context.Context, instID, algoID string) error {
	body := []map[string]any{{
		"instId": instID,
		"algoId": algoID,
	}}

	results, err := c.doTradeRequest(ctx, "/api/v5/trade/cancel-algos", body)
	if err != nil {
		return fmt.Errorf("okx/rest: cancel tp/sl %s: %w", algoID, err)
	}
	if len(results) > 0 && results[0].SCode != "0" {
		return &domain.ExchangeError{Code: results[0].SCode, Message: results[0].SMsg}
	}
	return nil
}

// ClosePosition market-closes the full position for an instrument and side.
func (c *RestClient) ClosePosition(ctx context.Context, instID string, mode domain.MarginMode, posSide string) error {
	body := map[string]any{
		"instId":  instID,
		"mgnMode": string(mode),
		"posSide": posSide,
	}

	if _, err := c.doTradeRequest(ctx, "/api/v5/trade/close-position", body); err != nil {
		return fmt.Errorf("okx/rest: close position %s: %w", instID, err)
	}
	return nil
}

// ListPositions returns all live positions on the account.
func (c *RestClient) ListPositions(ctx context.Context) ([]domain.ExchangePosition, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/v5/account/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("okx/rest: list positions: %w", err)
	}

	var resp struct {
		restResponse
		Data []struct {
			InstID  string `json:"instId"`
			PosSide string `json:"posSide"`
			Pos     string `json:"pos"`
			MgnMode string `json:"mgnMode"`
			AvgPx   string `json:"avgPx"`
			Upl     string `json:"upl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("okx/rest: decode positions: %w", err)
	}
	if resp.Code != "0" {
		return nil, &domain.ExchangeError{Code: resp.Code, Message: resp.Msg}
	}

	positions := make([]domain.ExchangePosition, 0, len(resp.Data))
	for _, p := range resp.Data {
		size := parseFloat(p.Pos)
		if size == 0 {
			continue
		}
		positions = append(positions, domain.ExchangePosition{
			InstID:     p.InstID,
			PosSide:    p.PosSide,
			Size:       size,
			MarginMode: domain.MarginMode(p.MgnMode),
			AvgEntry:   parseFloat(p.AvgPx),
			UnrealPnL:  parseFloat(p.Upl),
		})
	}
	return positions, nil
}

// Equity returns the account's total USD equity.
func (c *RestClient) Equity(ctx context.Context) (float64, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("okx/rest: account balance: %w", err)
	}

	var resp struct {
		restResponse
		Data []struct {
			TotalEq string `json:"totalEq"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("okx/rest: decode balance: %w", err)
	}
	if resp.Code != "0" {
		return 0, &domain.ExchangeError{Code: resp.Code, Message: resp.Msg}
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("okx/rest: account balance: empty result")
	}
	return parseFloat(resp.Data[0].TotalEq), nil
}

// doTradeRequest posts to a trade endpoint and unwraps the per-order result
// array. The outer code reflects request-level failures; per-order sCode is
// left to the caller.
func (c *RestClient) doTradeRequest(ctx context.Context, path string, body any) ([]orderResult, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		restResponse
		Data []orderResult `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Code != "0" && len(resp.Data) == 0 {
		return nil, &domain.ExchangeError{Code: resp.Code, Message: resp.Msg}
	}
	return resp.Data, nil
}

// doRequest signs and executes one HTTP request against the REST API.
func (c *RestClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.creds.Headers(method, path, string(payload)) {
		req.Header.Set(k, v)
	}
	if c.demo {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// formatSize renders a contract count without scientific notation.
func formatSize(size float64) string {
	return trimZeros(fmt.Sprintf("%.8f", size))
}

func formatPrice(price float64) string {
	return trimZeros(fmt.Sprintf("%.8f", price))
}

func trimZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

// sanitizeClientID strips characters the exchange rejects in clOrdId
// (alphanumeric, max 32 chars).
func sanitizeClientID(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id) && len(out) < 32; i++ {
		c := id[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			out = append(out, c)
		}
	}
	return string(out)
}

var (
	_ domain.TradingClient = (*RestClient)(nil)
	_ domain.AccountClient = (*RestClient)(nil)
)
