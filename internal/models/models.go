package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OnrampStatus string

const (
	OnrampPending   OnrampStatus = "PENDING"
	OnrampPaid      OnrampStatus = "PAID"
	OnrampCompleted OnrampStatus = "COMPLETED"
	OnrampFailed    OnrampStatus = "FAILED"
	OnrampCancelled OnrampStatus = "CANCELLED"
)

type OfframpStatus string

const (
	OfframpPending    OfframpStatus = "PENDING"
	OfframpProcessing OfframpStatus = "PROCESSING"
	OfframpSettling   OfframpStatus = "SETTLING"
	OfframpCompleted  OfframpStatus = "COMPLETED"
	OfframpFailed     OfframpStatus = "FAILED"
	OfframpTimeout    OfframpStatus = "TIMEOUT"
)

// TerminalOnramp reports whether no further transition is permitted
// out of the given status.
func TerminalOnramp(s OnrampStatus) bool {
	switch s {
	case OnrampCompleted, OnrampFailed, OnrampCancelled:
		return true
	}
	return false
}

// TerminalOfframp is the offramp counterpart of TerminalOnramp.
func TerminalOfframp(s OfframpStatus) bool {
	switch s {
	case OfframpCompleted, OfframpFailed, OfframpTimeout:
		return true
	}
	return false
}

type OnrampOrder struct {
	ID                  string
	UserID              string
	PaymentReference    string
	ExternalPaymentRef  *string
	AmountRequestedFiat decimal.Decimal
	FeeAmount           decimal.Decimal
	TotalPayableFiat    decimal.Decimal
	StablecoinAmount    decimal.Decimal
	ExchangeRate        decimal.Decimal
	DestinationAddress  string
	Status              OnrampStatus
	FailureReason       *string
	ChainTxHash         *string
	CreatedAt           time.Time
	PaidAt              *time.Time
	CompletedAt         *time.Time
	UpdatedAt           time.Time
}

type Beneficiary struct {
	Name          string
	AccountNumber string
	BankCode      string
	BankName      string
}

type OfframpOrder struct {
	ID                 string
	UserID             string
	PaymentReference   string
	ExternalTransferID *string
	ExternalStatus     *string
	AmountStablecoin   decimal.Decimal
	FeeAmount          decimal.Decimal
	PayoutAmountFiat   decimal.Decimal
	ExchangeRate       decimal.Decimal
	Beneficiary        Beneficiary
	DepositAddress     string
	DepositIndex       int64
	DepositTxHash      *string
	Status             OfframpStatus
	FailureReason      *string
	PollAttempts       int
	LastPolledAt       *time.Time
	CreatedAt          time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}
