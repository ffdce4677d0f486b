package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// razorpayBaseURL is the production REST endpoint.
const razorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayGateway implements Gateway against the Razorpay REST API using
// key-id/key-secret basic auth.
type RazorpayGateway struct {
	keyID   string
	secret  string
	baseURL string
	client  *http.Client
}

// RazorpayOption configures a RazorpayGateway.
type RazorpayOption func(*RazorpayGateway)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(url string) RazorpayOption {
	return func(g *RazorpayGateway) { g.baseURL = url }
}

// NewRazorpayGateway creates a gateway client.
func NewRazorpayGateway(keyID, secret string, opts ...RazorpayOption) *RazorpayGateway {
	g := &RazorpayGateway{
		keyID:   keyID,
		secret:  secret,
		baseURL: razorpayBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Gateway = (*RazorpayGateway)(nil)

func (g *RazorpayGateway) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("billing: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.keyID, g.secret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("billing: gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("billing: gateway %s %s: status %d: %s", method, path, resp.StatusCode, detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateOrder implements Gateway.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (Order, error) {
	var resp struct {
		ID       string            `json:"id"`
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Notes    map[string]string `json:"notes"`
	}
	err := g.do(ctx, http.MethodPost, "/orders", map[string]any{
		"amount":   amount,
		"currency": currency,
		"notes":    notes,
	}, &resp)
	if err != nil {
		return Order{}, err
	}
	return Order{ID: resp.ID, Amount: resp.Amount, Currency: resp.Currency, Notes: resp.Notes}, nil
}

// FetchPayment implements Gateway.
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	var resp struct {
		ID      string            `json:"id"`
		OrderID string            `json:"order_id"`
		Status  string            `json:"status"`
		Amount  int64             `json:"amount"`
		Notes   map[string]string `json:"notes"`
	}
	if err := g.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &resp); err != nil {
		return Payment{}, err
	}
	return Payment{
		ID:      resp.ID,
		OrderID: resp.OrderID,
		Status:  resp.Status,
		Amount:  resp.Amount,
		Notes:   resp.Notes,
	}, nil
}
