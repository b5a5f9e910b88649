package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Event is the fiat collector's webhook payload.
type Event struct {
	EventType string    `json:"eventType"`
	EventData EventData `json:"eventData"`
}

type EventData struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	PaymentStatus        string          `json:"paymentStatus"`
	PaymentMethod        string          `json:"paymentMethod"`
	PaidOn               string          `json:"paidOn"`
	Customer             Customer        `json:"customer"`
	MetaData             MetaData        `json:"metaData"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type MetaData struct {
	OrderReference string `json:"orderReference"`
}

// InitRequest opens a hosted checkout for an onramp order.
type InitRequest struct {
	Amount           decimal.Decimal
	PaymentReference string
	CustomerName     string
	CustomerEmail    string
	OrderReference   string
}

type InitResult struct {
	TransactionReference string
	CheckoutURL          string
}

type StatusResult struct {
	PaymentStatus string
	AmountPaid    decimal.Decimal
}

// Client calls the fiat payment collector's API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) InitPayment(ctx context.Context, req InitRequest) (InitResult, error) {
	body := map[string]any{
		"amount":           req.Amount.String(),
		"paymentReference": req.PaymentReference,
		"customerName":     req.CustomerName,
		"customerEmail":    req.CustomerEmail,
		"metaData": map[string]string{
			"orderReference": req.OrderReference,
		},
	}
	var resp struct {
		ResponseBody struct {
			TransactionReference string `json:"transactionReference"`
			CheckoutURL          string `json:"checkoutUrl"`
		} `json:"responseBody"`
	}
	if err := c.postJSON(ctx, "/api/v1/merchant/transactions/init-transaction", body, &resp); err != nil {
		return InitResult{}, err
	}
	return InitResult{
		TransactionReference: resp.ResponseBody.TransactionReference,
		CheckoutURL:          resp.ResponseBody.CheckoutURL,
	}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, paymentReference string) (StatusResult, error) {
	var resp struct {
		ResponseBody struct {
			PaymentStatus string      `json:"paymentStatus"`
			AmountPaid    json.Number `json:"amountPaid"`
		} `json:"responseBody"`
	}
	path := "/api/v2/transactions/" + paymentReference
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return StatusResult{}, err
	}
	amount, err := decimal.NewFromString(resp.ResponseBody.AmountPaid.String())
	if err != nil {
		amount = decimal.Zero
	}
	return StatusResult{PaymentStatus: resp.ResponseBody.PaymentStatus, AmountPaid: amount}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("collector http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("collector http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
