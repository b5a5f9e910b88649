package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"stableramp/internal/authz"
	"stableramp/internal/models"
	"stableramp/internal/rates"
	"stableramp/internal/settlement"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OrderReader serves status lookups without going through the dispatcher.
type OrderReader interface {
	GetOnramp(ctx context.Context, id string) (*models.OnrampOrder, error)
	GetOfframp(ctx context.Context, id string) (*models.OfframpOrder, error)
}

type Handler struct {
	Dispatcher *settlement.Dispatcher
	Rates      settlement.RateService
	Authorizer *authz.Authorizer
	Orders     OrderReader
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s, ok := h.Rates.(interface{ SourceStatus() rates.Status }); ok {
		resp["rates"] = s.SourceStatus()
	}
	writeJSON(w, http.StatusOK, resp)
}

type quoteResponse struct {
	BaseRate      string `json:"baseRate"`
	Rate          string `json:"rate"`
	FeePercent    string `json:"feePercent"`
	FeeAmount     string `json:"feeAmount,omitempty"`
	CappedFee     bool   `json:"cappedFee,omitempty"`
	SourceAmount  string `json:"sourceAmount,omitempty"`
	TargetAmount  string `json:"targetAmount,omitempty"`
	TotalPayable  string `json:"totalPayable,omitempty"`
	EffectiveRate string `json:"effectiveRate,omitempty"`
	Source        string `json:"source"`
	Cached        bool   `json:"cached"`
	Warning       bool   `json:"warning,omitempty"`
}

func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	dir := rates.Onramp
	if r.URL.Query().Get("direction") == string(rates.Offramp) {
		dir = rates.Offramp
	}
	amount := decimal.Zero
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		amount = parsed
	}

	q := h.Rates.GetRate(r.Context(), dir, amount)
	resp := quoteResponse{
		BaseRate:   q.BaseRate.String(),
		Rate:       q.MarkedUpRate.String(),
		FeePercent: q.FeePercent.String(),
		Source:     q.Source,
		Cached:     q.Cached,
		Warning:    q.Warning,
	}
	if amount.Sign() > 0 {
		resp.FeeAmount = q.FeeAmount.String()
		resp.CappedFee = q.CappedFee
		resp.SourceAmount = q.SourceAmount.String()
		resp.TargetAmount = q.TargetAmount.String()
		resp.TotalPayable = q.TotalPayable.String()
		resp.EffectiveRate = q.EffectiveRate.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type createOnrampRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destinationAddress"`
	CustomerName       string          `json:"customerName"`
	CustomerEmail      string          `json:"customerEmail"`
}

type createOnrampResponse struct {
	OrderID          string `json:"orderId"`
	PaymentReference string `json:"paymentReference"`
	TotalPayable     string `json:"totalPayable"`
	FeeAmount        string `json:"feeAmount"`
	StablecoinAmount string `json:"stablecoinAmount"`
	ExchangeRate     string `json:"exchangeRate"`
	CheckoutURL      string `json:"checkoutUrl"`
}

func (h *Handler) CreateOnramp(w http.ResponseWriter, r *http.Request) {
	var req createOnrampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	created, err := h.Dispatcher.CreateOnramp(r.Context(), settlement.OnrampRequest{
		UserID:             userID,
		AmountFiat:         req.Amount,
		DestinationAddress: req.DestinationAddress,
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
	})
	if err != nil {
		h.writeDispatchError(w, err, "create order failed")
		return
	}

	writeJSON(w, http.StatusCreated, createOnrampResponse{
		OrderID:          created.Order.ID,
		PaymentReference: created.Order.PaymentReference,
		TotalPayable:     created.Order.TotalPayableFiat.String(),
		FeeAmount:        created.Order.FeeAmount.String(),
		StablecoinAmount: created.Order.StablecoinAmount.String(),
		ExchangeRate:     created.Order.ExchangeRate.String(),
		CheckoutURL:      created.CheckoutURL,
	})
}

type onrampResponse struct {
	OrderID          string `json:"orderId"`
	Status           string `json:"status"`
	AmountRequested  string `json:"amountRequested"`
	FeeAmount        string `json:"feeAmount"`
	TotalPayable     string `json:"totalPayable"`
	StablecoinAmount string `json:"stablecoinAmount"`
	ExchangeRate     string `json:"exchangeRate"`
	FailureReason    string `json:"failureReason,omitempty"`
	ChainTxHash      string `json:"chainTxHash,omitempty"`
	CreatedAt        string `json:"createdAt"`
	PaidAt           string `json:"paidAt,omitempty"`
	CompletedAt      string `json:"completedAt,omitempty"`
}

func (h *Handler) GetOnramp(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	order, err := h.Orders.GetOnramp(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	resp := onrampResponse{
		OrderID:          order.ID,
		Status:           string(order.Status),
		AmountRequested:  order.AmountRequestedFiat.String(),
		FeeAmount:        order.FeeAmount.String(),
		TotalPayable:     order.TotalPayableFiat.String(),
		StablecoinAmount: order.StablecoinAmount.String(),
		ExchangeRate:     order.ExchangeRate.String(),
		CreatedAt:        order.CreatedAt.Format(time.RFC3339),
	}
	if order.FailureReason != nil {
		resp.FailureReason = *order.FailureReason
	}
	if order.ChainTxHash != nil {
		resp.ChainTxHash = *order.ChainTxHash
	}
	if order.PaidAt != nil {
		resp.PaidAt = order.PaidAt.Format(time.RFC3339)
	}
	if order.CompletedAt != nil {
		resp.CompletedAt = order.CompletedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelOnramp(w http.ResponseWriter, r *http.Request) {
	err := h.Dispatcher.CancelOnramp(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeDispatchError(w, err, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type createOfframpRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"accountNumber"`
	BankCode      string          `json:"bankCode"`
}

type createOfframpResponse struct {
	OrderID         string `json:"orderId"`
	DepositAddress  string `json:"depositAddress"`
	AmountToDeposit string `json:"amountToDeposit"`
	PayoutAmount    string `json:"payoutAmount"`
	FeeAmount       string `json:"feeAmount"`
	ExchangeRate    string `json:"exchangeRate"`
	BeneficiaryName string `json:"beneficiaryName"`
	BankName        string `json:"bankName"`
}

func (h *Handler) CreateOfframp(w http.ResponseWriter, r *http.Request) {
	var req createOfframpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	created, err := h.Dispatcher.CreateOfframp(r.Context(), settlement.OfframpRequest{
		UserID:           userID,
		AmountStablecoin: req.Amount,
		AccountNumber:    req.AccountNumber,
		BankCode:         req.BankCode,
	})
	if err != nil {
		h.writeDispatchError(w, err, "create order failed")
		return
	}

	writeJSON(w, http.StatusCreated, createOfframpResponse{
		OrderID:         created.Order.ID,
		DepositAddress:  created.Order.DepositAddress,
		AmountToDeposit: created.Order.AmountStablecoin.String(),
		PayoutAmount:    created.Order.PayoutAmountFiat.String(),
		FeeAmount:       created.Order.FeeAmount.String(),
		ExchangeRate:    created.Order.ExchangeRate.String(),
		BeneficiaryName: created.Order.Beneficiary.Name,
		BankName:        created.Order.Beneficiary.BankName,
	})
}

type offrampResponse struct {
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	FeeAmount      string `json:"feeAmount"`
	PayoutAmount   string `json:"payoutAmount"`
	ExchangeRate   string `json:"exchangeRate"`
	DepositAddress string `json:"depositAddress"`
	DepositTxHash  string `json:"depositTxHash,omitempty"`
	FailureReason  string `json:"failureReason,omitempty"`
	CreatedAt      string `json:"createdAt"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

func (h *Handler) GetOfframp(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.GetOfframp(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	resp := offrampResponse{
		OrderID:        order.ID,
		Status:         string(order.Status),
		Amount:         order.AmountStablecoin.String(),
		FeeAmount:      order.FeeAmount.String(),
		PayoutAmount:   order.PayoutAmountFiat.String(),
		ExchangeRate:   order.ExchangeRate.String(),
		DepositAddress: order.DepositAddress,
		CreatedAt:      order.CreatedAt.Format(time.RFC3339),
	}
	if order.DepositTxHash != nil {
		resp.DepositTxHash = *order.DepositTxHash
	}
	if order.FailureReason != nil {
		resp.FailureReason = *order.FailureReason
	}
	if order.CompletedAt != nil {
		resp.CompletedAt = order.CompletedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelOfframp(w http.ResponseWriter, r *http.Request) {
	err := h.Dispatcher.CancelOfframp(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeDispatchError(w, err, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type dispatchOfframpRequest struct {
	AuthorizationToken string `json:"authorizationToken"`
}

func (h *Handler) DispatchOfframp(w http.ResponseWriter, r *http.Request) {
	var req dispatchOfframpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}

	err := h.Dispatcher.DispatchOfframp(r.Context(), chi.URLParam(r, "orderId"), userID, req.AuthorizationToken)
	if err != nil {
		h.writeDispatchError(w, err, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
}

type issueChallengeRequest struct {
	TransactionID string          `json:"transactionId"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Recipient     string          `json:"recipient"`
}

func (h *Handler) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	var req issueChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	if req.TransactionID == "" || req.Amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "transaction id and amount are required")
		return
	}

	ch, err := h.Authorizer.IssueChallenge(r.Context(), userID, req.TransactionID, authz.TransactionData{
		Type:      req.Type,
		Amount:    req.Amount,
		Recipient: req.Recipient,
	})
	if err != nil {
		if errors.Is(err, authz.ErrNoCredential) {
			writeError(w, http.StatusPreconditionFailed, "no biometric credential registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "issue challenge failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"challengeId": ch.ID,
		"challenge":   ch.Challenge,
		"expiresAt":   ch.ExpiresAt.Format(time.RFC3339),
	})
}

type verifyChallengeRequest struct {
	Assertion string `json:"assertion"`
}

func (h *Handler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	token, expiresAt, err := h.Authorizer.VerifyAndIssueToken(r.Context(), chi.URLParam(r, "challengeId"), req.Assertion)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrChallengeNotFound):
			writeError(w, http.StatusNotFound, "challenge not found")
		case errors.Is(err, authz.ErrChallengeConsumed),
			errors.Is(err, authz.ErrChallengeExpired),
			errors.Is(err, authz.ErrAssertionInvalid):
			writeError(w, http.StatusUnauthorized, "challenge verification failed")
		default:
			writeError(w, http.StatusInternalServerError, "verify challenge failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"authorizationToken": token,
		"expiresAt":          expiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) writeDispatchError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, settlement.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, settlement.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "authorization token missing or invalid")
	case errors.Is(err, settlement.ErrNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, settlement.ErrNotCancellable):
		writeError(w, http.StatusConflict, "order state does not permit this operation")
	case errors.Is(err, settlement.ErrDepositPending):
		writeError(w, http.StatusPreconditionFailed, "custody deposit not yet confirmed")
	case errors.Is(err, settlement.ErrLiquidity):
		// 503 distinguishes "retry later" from "broken".
		writeError(w, http.StatusServiceUnavailable, "liquidity temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
