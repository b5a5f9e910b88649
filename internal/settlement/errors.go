package settlement

import "errors"

var (
	ErrValidation     = errors.New("invalid request")
	ErrLiquidity      = errors.New("insufficient custodial liquidity")
	ErrNotFound       = errors.New("order not found")
	ErrNotCancellable = errors.New("order is no longer cancellable")
	ErrAmountMismatch = errors.New("paid amount does not match order")
	ErrUnauthorized   = errors.New("transfer authorization missing or invalid")
	ErrDepositPending = errors.New("custody deposit not yet confirmed")
)
