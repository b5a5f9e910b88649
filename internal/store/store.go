package store

import (
	"context"
	"database/sql"
	"time"

	"stableramp/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) NextDepositIndex(ctx context.Context) (int64, error) {
	var idx int64
	err := s.Pool.QueryRow(ctx, "SELECT nextval('offramp_deposit_index_seq')").Scan(&idx)
	return idx, err
}

func (s *Store) CreateOnramp(ctx context.Context, order *models.OnrampOrder) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO onramp_orders (
			id, user_id, payment_reference, external_payment_ref,
			amount_requested_fiat, fee_amount, total_payable_fiat,
			stablecoin_amount, exchange_rate, destination_address, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		order.ID,
		order.UserID,
		order.PaymentReference,
		order.ExternalPaymentRef,
		order.AmountRequestedFiat.String(),
		order.FeeAmount.String(),
		order.TotalPayableFiat.String(),
		order.StablecoinAmount.String(),
		order.ExchangeRate.String(),
		order.DestinationAddress,
		order.Status,
	)
	return err
}

const onrampColumns = `
	id, user_id, payment_reference, external_payment_ref,
	amount_requested_fiat, fee_amount, total_payable_fiat,
	stablecoin_amount, exchange_rate, destination_address, status,
	failure_reason, chain_tx_hash, created_at, paid_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOnramp(row rowScanner) (*models.OnrampOrder, error) {
	var order models.OnrampOrder
	var externalRef, failureReason, txHash sql.NullString
	var amountRequested, feeAmount, totalPayable, stablecoin, rate string
	var paidAt, completedAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.PaymentReference,
		&externalRef,
		&amountRequested,
		&feeAmount,
		&totalPayable,
		&stablecoin,
		&rate,
		&order.DestinationAddress,
		&order.Status,
		&failureReason,
		&txHash,
		&order.CreatedAt,
		&paidAt,
		&completedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if order.AmountRequestedFiat, err = decimal.NewFromString(amountRequested); err != nil {
		return nil, err
	}
	if order.FeeAmount, err = decimal.NewFromString(feeAmount); err != nil {
		return nil, err
	}
	if order.TotalPayableFiat, err = decimal.NewFromString(totalPayable); err != nil {
		return nil, err
	}
	if order.StablecoinAmount, err = decimal.NewFromString(stablecoin); err != nil {
		return nil, err
	}
	if order.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if externalRef.Valid {
		order.ExternalPaymentRef = &externalRef.String
	}
	if failureReason.Valid {
		order.FailureReason = &failureReason.String
	}
	if txHash.Valid {
		order.ChainTxHash = &txHash.String
	}
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}
	return &order, nil
}

func (s *Store) GetOnramp(ctx context.Context, id string) (*models.OnrampOrder, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+onrampColumns+` FROM onramp_orders WHERE id=$1`, id)
	return scanOnramp(row)
}

func (s *Store) GetOnrampByReference(ctx context.Context, ref string) (*models.OnrampOrder, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+onrampColumns+` FROM onramp_orders WHERE payment_reference=$1`, ref)
	return scanOnramp(row)
}

func (s *Store) GetOnrampByExternalRef(ctx context.Context, ref string) (*models.OnrampOrder, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+onrampColumns+` FROM onramp_orders WHERE external_payment_ref=$1`, ref)
	return scanOnramp(row)
}

func (s *Store) SetOnrampExternalRef(ctx context.Context, id, externalRef string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE onramp_orders SET external_payment_ref=$2, updated_at=now() WHERE id=$1
	`, id, externalRef)
	return err
}

// MarkOnrampPaid advances PENDING -> PAID. Zero rows affected means the
// order was already past PENDING and the caller must treat the event as a
// duplicate.
func (s *Store) MarkOnrampPaid(ctx context.Context, id string, paidAt time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE onramp_orders
		SET status=$2, paid_at=$3, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, models.OnrampPaid, paidAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOnrampCompleted(ctx context.Context, id, txHash string, completedAt time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE onramp_orders
		SET status=$2, chain_tx_hash=$3, completed_at=$4, updated_at=now()
		WHERE id=$1 AND status='PAID'
	`, id, models.OnrampCompleted, txHash, completedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOnrampFailed(ctx context.Context, id, reason string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE onramp_orders
		SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1 AND status IN ('PENDING','PAID')
	`, id, models.OnrampFailed, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOnrampCancelled(ctx context.Context, id string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE onramp_orders
		SET status=$2, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, models.OnrampCancelled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) ListOnrampPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.OnrampOrder, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT`+onrampColumns+`
		FROM onramp_orders
		WHERE status='PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.OnrampOrder
	for rows.Next() {
		order, err := scanOnramp(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Store) CreateOfframp(ctx context.Context, order *models.OfframpOrder) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO offramp_orders (
			id, user_id, payment_reference, amount_stablecoin, fee_amount,
			payout_amount_fiat, exchange_rate,
			beneficiary_name, beneficiary_account, beneficiary_bank_code, beneficiary_bank_name,
			deposit_address, deposit_index, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.ID,
		order.UserID,
		order.PaymentReference,
		order.AmountStablecoin.String(),
		order.FeeAmount.String(),
		order.PayoutAmountFiat.String(),
		order.ExchangeRate.String(),
		order.Beneficiary.Name,
		order.Beneficiary.AccountNumber,
		order.Beneficiary.BankCode,
		order.Beneficiary.BankName,
		order.DepositAddress,
		order.DepositIndex,
		order.Status,
	)
	return err
}

const offrampColumns = `
	id, user_id, payment_reference, external_transfer_id, external_status,
	amount_stablecoin, fee_amount, payout_amount_fiat, exchange_rate,
	beneficiary_name, beneficiary_account, beneficiary_bank_code, beneficiary_bank_name,
	deposit_address, deposit_index, deposit_tx_hash, status, failure_reason,
	poll_attempts, last_polled_at, created_at, completed_at, updated_at`

func scanOfframp(row rowScanner) (*models.OfframpOrder, error) {
	var order models.OfframpOrder
	var externalID, externalStatus, depositTx, failureReason sql.NullString
	var amount, fee, payout, rate string
	var lastPolled, completedAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.PaymentReference,
		&externalID,
		&externalStatus,
		&amount,
		&fee,
		&payout,
		&rate,
		&order.Beneficiary.Name,
		&order.Beneficiary.AccountNumber,
		&order.Beneficiary.BankCode,
		&order.Beneficiary.BankName,
		&order.DepositAddress,
		&order.DepositIndex,
		&depositTx,
		&order.Status,
		&failureReason,
		&order.PollAttempts,
		&lastPolled,
		&order.CreatedAt,
		&completedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if order.AmountStablecoin, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if order.FeeAmount, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if order.PayoutAmountFiat, err = decimal.NewFromString(payout); err != nil {
		return nil, err
	}
	if order.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if externalID.Valid {
		order.ExternalTransferID = &externalID.String
	}
	if externalStatus.Valid {
		order.ExternalStatus = &externalStatus.String
	}
	if depositTx.Valid {
		order.DepositTxHash = &depositTx.String
	}
	if failureReason.Valid {
		order.FailureReason = &failureReason.String
	}
	if lastPolled.Valid {
		order.LastPolledAt = &lastPolled.Time
	}
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}
	return &order, nil
}

func (s *Store) GetOfframp(ctx context.Context, id string) (*models.OfframpOrder, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+offrampColumns+` FROM offramp_orders WHERE id=$1`, id)
	return scanOfframp(row)
}

func (s *Store) GetOfframpByReference(ctx context.Context, ref string) (*models.OfframpOrder, error) {
	row := s.Pool.QueryRow(ctx, `SELECT`+offrampColumns+` FROM offramp_orders WHERE payment_reference=$1`, ref)
	return scanOfframp(row)
}

func (s *Store) GetOfframpByDepositAddress(ctx context.Context, addr string) (*models.OfframpOrder, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT`+offrampColumns+`
		FROM offramp_orders
		WHERE deposit_address=$1 AND status='PENDING' AND deposit_tx_hash IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`, addr)
	return scanOfframp(row)
}

func (s *Store) MarkOfframpDeposited(ctx context.Context, id, txHash string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET deposit_tx_hash=$2, updated_at=now()
		WHERE id=$1 AND status='PENDING' AND deposit_tx_hash IS NULL
	`, id, txHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOfframpProcessing(ctx context.Context, id string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET status=$2, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, models.OfframpProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) SetOfframpExternalTransfer(ctx context.Context, id, externalTransferID string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET external_transfer_id=$2, updated_at=now()
		WHERE id=$1
	`, id, externalTransferID)
	return err
}

func (s *Store) MarkOfframpCancelled(ctx context.Context, id, reason string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, models.OfframpFailed, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// MarkOfframpExpired fails an order that never received its custody
// deposit. The deposit_tx_hash guard lets a concurrently confirmed
// deposit keep the order alive.
func (s *Store) MarkOfframpExpired(ctx context.Context, id, reason string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1 AND status='PENDING' AND deposit_tx_hash IS NULL
	`, id, models.OfframpFailed, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOfframpSettling(ctx context.Context, id string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET status=$2, updated_at=now()
		WHERE id=$1 AND status='PROCESSING'
	`, id, models.OfframpSettling)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOfframpCompleted(ctx context.Context, id string, completedAt time.Time) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET status=$2, completed_at=$3, updated_at=now()
		WHERE id=$1 AND status IN ('PROCESSING','SETTLING')
	`, id, models.OfframpCompleted, completedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOfframpFailed(ctx context.Context, id, reason string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1 AND status IN ('PENDING','PROCESSING','SETTLING')
	`, id, models.OfframpFailed, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkOfframpTimeout(ctx context.Context, id, reason string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1 AND status IN ('PROCESSING','SETTLING')
	`, id, models.OfframpTimeout, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) RecordOfframpPoll(ctx context.Context, id, externalStatus string, polledAt time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE offramp_orders
		SET external_status=$2, poll_attempts=poll_attempts+1, last_polled_at=$3, updated_at=now()
		WHERE id=$1 AND status IN ('PROCESSING','SETTLING')
	`, id, externalStatus, polledAt)
	return err
}

func (s *Store) ListOfframpInFlight(ctx context.Context, limit int) ([]*models.OfframpOrder, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT`+offrampColumns+`
		FROM offramp_orders
		WHERE status IN ('PROCESSING','SETTLING')
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.OfframpOrder
	for rows.Next() {
		order, err := scanOfframp(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Store) ListOfframpPendingUnfunded(ctx context.Context, olderThan time.Time, limit int) ([]*models.OfframpOrder, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT`+offrampColumns+`
		FROM offramp_orders
		WHERE status='PENDING' AND deposit_tx_hash IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.OfframpOrder
	for rows.Next() {
		order, err := scanOfframp(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
