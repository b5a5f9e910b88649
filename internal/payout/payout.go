package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest initiates a bank payout for an offramp order.
type TransferRequest struct {
	Amount        decimal.Decimal
	AccountNumber string
	BankCode      string
	AccountName   string
	Reference     string
	Narration     string
}

type TransferResult struct {
	Success            bool
	ExternalTransferID string
}

type TransferStatus struct {
	Status string
	Reason string
}

type Account struct {
	AccountName string
	BankName    string
}

// Client calls the bank payout processor's API.
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

func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	body := map[string]any{
		"amount":        req.Amount.String(),
		"accountNumber": req.AccountNumber,
		"bankCode":      req.BankCode,
		"accountName":   req.AccountName,
		"reference":     req.Reference,
		"narration":     req.Narration,
	}
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			TransferID string `json:"transferId"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/v1/transfers", body, &resp); err != nil {
		return TransferResult{}, err
	}
	return TransferResult{
		Success:            strings.EqualFold(resp.Status, "success"),
		ExternalTransferID: resp.Data.TransferID,
	}, nil
}

func (c *Client) GetTransferStatus(ctx context.Context, externalTransferID string) (TransferStatus, error) {
	var resp struct {
		Data struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/v1/transfers/"+url.PathEscape(externalTransferID), &resp); err != nil {
		return TransferStatus{}, err
	}
	return TransferStatus{Status: resp.Data.Status, Reason: resp.Data.Reason}, nil
}

func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (Account, error) {
	path := "/v1/accounts/resolve?accountNumber=" + url.QueryEscape(accountNumber) + "&bankCode=" + url.QueryEscape(bankCode)
	var resp struct {
		Data struct {
			AccountName string `json:"accountName"`
			BankName    string `json:"bankName"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return Account{}, err
	}
	if resp.Data.AccountName == "" {
		return Account{}, fmt.Errorf("account %s/%s could not be resolved", accountNumber, bankCode)
	}
	return Account{AccountName: resp.Data.AccountName, BankName: resp.Data.BankName}, nil
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
			return fmt.Errorf("payout http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("payout http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
