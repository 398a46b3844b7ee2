package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/domain"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
)

// REST talks to the brokerage's HTTP API. Transport failures and 5xx
// responses surface as plain errors (transient); 4xx responses with a
// broker reason surface as RejectionError (definitive answer).
type REST struct {
	baseURL string
	client  *http.Client
	cfg     *infra.Config
}

// NewREST creates a live broker client from config.
func NewREST(cfg *infra.Config) *REST {
	return &REST{
		baseURL: cfg.Broker.RestURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		cfg:     cfg,
	}
}

type restOrder struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Quantity  int64  `json:"quantity"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	FilledQty int64  `json:"filled_quantity"`
	AvgPrice  string `json:"avg_price"`
	PlacedAt  int64  `json:"placed_at"` // unix seconds
}

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *REST) request(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.Broker.APIKey)
	req.Header.Set("X-API-Secret", c.cfg.Broker.APISecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("broker request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("broker response read: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var apiErr restError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			return &RejectionError{Reason: apiErr.Message}
		}
		return &RejectionError{Reason: fmt.Sprintf("http %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return fmt.Errorf("broker http %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("broker response decode: %w", err)
		}
	}
	return nil
}

func snapshotFromREST(ro restOrder) (OrderSnapshot, error) {
	price, err := decimal.NewFromString(orEmptyZero(ro.Price))
	if err != nil {
		return OrderSnapshot{}, fmt.Errorf("bad price %q for order %s: %w", ro.Price, ro.OrderID, err)
	}
	avg, err := decimal.NewFromString(orEmptyZero(ro.AvgPrice))
	if err != nil {
		return OrderSnapshot{}, fmt.Errorf("bad avg price %q for order %s: %w", ro.AvgPrice, ro.OrderID, err)
	}
	return OrderSnapshot{
		BrokerOrderID:  ro.OrderID,
		Symbol:         ro.Symbol,
		Side:           domain.Side(ro.Side),
		Quantity:       ro.Quantity,
		Price:          price,
		State:          ro.Status,
		Reason:         ro.Reason,
		FilledQuantity: ro.FilledQty,
		AvgFillPrice:   avg,
		PlacedAt:       time.Unix(ro.PlacedAt, 0),
	}, nil
}

func orEmptyZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func (c *REST) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	body := map[string]any{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"quantity": req.Quantity,
		"price":    req.LimitPrice.String(),
	}
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.request(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("broker returned no order id")
	}
	return out.OrderID, nil
}

func (c *REST) OrderStatus(ctx context.Context, brokerOrderID string) (*OrderSnapshot, error) {
	var ro restOrder
	if err := c.request(ctx, http.MethodGet, "/orders/"+brokerOrderID, nil, &ro); err != nil {
		return nil, err
	}
	snap, err := snapshotFromREST(ro)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *REST) OpenOrders(ctx context.Context) ([]OrderSnapshot, error) {
	var ros []restOrder
	if err := c.request(ctx, http.MethodGet, "/orders", nil, &ros); err != nil {
		return nil, err
	}
	out := make([]OrderSnapshot, 0, len(ros))
	for _, ro := range ros {
		snap, err := snapshotFromREST(ro)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (c *REST) Holdings(ctx context.Context) ([]domain.Holding, error) {
	var rows []struct {
		Symbol   string `json:"symbol"`
		Quantity int64  `json:"quantity"`
		AvgPrice string `json:"avg_price"`
	}
	if err := c.request(ctx, http.MethodGet, "/holdings", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Holding, 0, len(rows))
	for _, row := range rows {
		avg, err := decimal.NewFromString(orEmptyZero(row.AvgPrice))
		if err != nil {
			return nil, fmt.Errorf("bad avg price for holding %s: %w", row.Symbol, err)
		}
		out = append(out, domain.Holding{Symbol: row.Symbol, Quantity: row.Quantity, AvgEntryPrice: avg})
	}
	return out, nil
}

func (c *REST) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return c.request(ctx, http.MethodDelete, "/orders/"+brokerOrderID, nil, nil)
}

func (c *REST) ModifyOrder(ctx context.Context, brokerOrderID string, qty int64, price decimal.Decimal) error {
	body := map[string]any{
		"quantity": qty,
		"price":    price.String(),
	}
	return c.request(ctx, http.MethodPut, "/orders/"+brokerOrderID, body, nil)
}

func (c *REST) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Available string `json:"available"`
	}
	if err := c.request(ctx, http.MethodGet, "/balance", nil, &out); err != nil {
		return decimal.Zero, err
	}
	bal, err := decimal.NewFromString(orEmptyZero(out.Available))
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad balance %q: %w", out.Available, err)
	}
	return bal, nil
}
