package position

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Client is the REST client for a remote position-ledger service. It
// implements Ledger with the same linear-funds discipline as MemoryLedger:
// handles are consumed only after the remote call succeeded.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a position-ledger client.
//
// baseURL is the service root, e.g. "http://positions.internal:9080".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type openPositionRequest struct {
	PositionType string `json:"position_type"`
	Strategy     string `json:"strategy"`
	Asset        string `json:"asset"`
	Amount       int64  `json:"amount"`
}

type openPositionResponse struct {
	PositionID string `json:"position_id"`
}

type addFundsRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type withdrawRequest struct {
	Amount int64 `json:"amount"`
}

type fundsResponse struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

func (c *Client) OpenPosition(ctx context.Context, positionType, strategy string, funds *Funds) (uuid.UUID, error) {
	if funds == nil || funds.Consumed() {
		return uuid.Nil, ErrFundsConsumed
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/positions", openPositionRequest{
		PositionType: positionType,
		Strategy:     strategy,
		Asset:        funds.Asset(),
		Amount:       funds.Amount(),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("position/client: open: %w", err)
	}

	var resp openPositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return uuid.Nil, fmt.Errorf("position/client: decode open response: %w", err)
	}
	positionID, err := uuid.Parse(resp.PositionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("position/client: bad position id %q: %w", resp.PositionID, err)
	}

	if _, err := funds.Consume(); err != nil {
		return uuid.Nil, err
	}
	return positionID, nil
}

func (c *Client) AddFunds(ctx context.Context, positionID uuid.UUID, funds *Funds) error {
	if funds == nil || funds.Consumed() {
		return ErrFundsConsumed
	}

	path := fmt.Sprintf("/positions/%s/funds", url.PathEscape(positionID.String()))
	_, err := c.doJSON(ctx, http.MethodPost, path, addFundsRequest{
		Asset:  funds.Asset(),
		Amount: funds.Amount(),
	})
	if err != nil {
		return fmt.Errorf("position/client: add funds to %s: %w", positionID, err)
	}

	_, err = funds.Consume()
	return err
}

func (c *Client) Withdraw(ctx context.Context, positionID uuid.UUID, amount int64) (*Funds, error) {
	path := fmt.Sprintf("/positions/%s/withdrawals", url.PathEscape(positionID.String()))
	body, err := c.doJSON(ctx, http.MethodPost, path, withdrawRequest{Amount: amount})
	if err != nil {
		return nil, fmt.Errorf("position/client: withdraw from %s: %w", positionID, err)
	}

	var resp fundsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("position/client: decode withdraw response: %w", err)
	}
	return Mint(resp.Asset, resp.Amount)
}

func (c *Client) Close(ctx context.Context, positionID uuid.UUID) (*Funds, error) {
	path := fmt.Sprintf("/positions/%s", url.PathEscape(positionID.String()))
	body, err := c.doJSON(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, fmt.Errorf("position/client: close %s: %w", positionID, err)
	}

	var resp fundsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("position/client: decode close response: %w", err)
	}
	if resp.Amount == 0 {
		return nil, nil
	}
	return Mint(resp.Asset, resp.Amount)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(bytes.TrimSpace(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrPositionNotFound, bodyStr)
	case http.StatusUnprocessableEntity:
		// The remote rejected the operation; its reason string becomes the
		// request's result message.
		return fmt.Errorf("%s", bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
