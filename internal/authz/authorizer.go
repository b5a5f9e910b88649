package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoCredential      = errors.New("no biometric credential registered")
	ErrChallengeNotFound = errors.New("authorization challenge not found")
	ErrChallengeConsumed = errors.New("authorization challenge already consumed")
	ErrChallengeExpired  = errors.New("authorization challenge expired")
	ErrAssertionInvalid  = errors.New("biometric assertion rejected")
	ErrTokenInvalid      = errors.New("authorization token invalid")
)

// TransactionData is the exact movement a challenge or token authorizes.
type TransactionData struct {
	Type      string
	Amount    decimal.Decimal
	Recipient string
}

// CredentialDirectory reports whether a user has completed biometric
// registration. Registration itself lives outside this system.
type CredentialDirectory interface {
	HasCredential(ctx context.Context, userID string) (bool, error)
}

// AssertionVerifier checks a signed biometric response against the stored
// public key and the issued challenge.
type AssertionVerifier interface {
	Verify(ctx context.Context, userID, challenge, assertion string) error
}

type tokenClaims struct {
	TxnID     string `json:"txn"`
	TxnType   string `json:"typ"`
	Amount    string `json:"amt"`
	Recipient string `json:"rcp"`
	jwt.RegisteredClaims
}

// Authorizer issues challenges for biometric re-authentication and
// exchanges verified responses for short-lived single-use tokens.
type Authorizer struct {
	Store        *ChallengeStore
	Credentials  CredentialDirectory
	Verifier     AssertionVerifier
	TokenSecret  []byte
	ChallengeTTL time.Duration
	TokenTTL     time.Duration
	Now          func() time.Time
}

func (a *Authorizer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// IssueChallenge opens a biometric ceremony for the given transaction.
func (a *Authorizer) IssueChallenge(ctx context.Context, userID, txnID string, txn TransactionData) (*Challenge, error) {
	has, err := a.Credentials.HasCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	if !has {
		return nil, ErrNoCredential
	}

	value, err := newChallengeValue()
	if err != nil {
		return nil, err
	}
	now := a.now()
	ch := &Challenge{
		ID:        uuid.NewString(),
		UserID:    userID,
		TxnID:     txnID,
		Txn:       txn,
		Challenge: value,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ChallengeTTL),
	}
	a.Store.Put(ch)
	return ch, nil
}

// VerifyAndIssueToken consumes the challenge and, if the signed response
// verifies, returns a token the transfer operation must present. The
// challenge is burned before the assertion is checked: a failed or
// forged assertion still invalidates it, so an attacker cannot keep
// retrying signatures against the same challenge and the caller must
// start a fresh ceremony. The token expires sooner than the challenge
// did.
func (a *Authorizer) VerifyAndIssueToken(ctx context.Context, challengeID, assertion string) (string, time.Time, error) {
	ch, err := a.Store.Take(challengeID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := a.Verifier.Verify(ctx, ch.UserID, ch.Challenge, assertion); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
	}

	now := a.now()
	expiresAt := now.Add(a.TokenTTL)
	claims := tokenClaims{
		TxnID:     ch.TxnID,
		TxnType:   ch.Txn.Type,
		Amount:    ch.Txn.Amount.String(),
		Recipient: ch.Txn.Recipient,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ch.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.TokenSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateToken verifies the token's signature, expiry, and binding to the
// exact transaction being executed. The caller discards the token after a
// single use; its backing challenge is already consumed.
func (a *Authorizer) ValidateToken(tokenString, userID, txnID string, txn TransactionData) error {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.TokenSecret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return ErrTokenInvalid
	}
	if claims.Subject != userID || claims.TxnID != txnID {
		return ErrTokenInvalid
	}
	amount, err := decimal.NewFromString(claims.Amount)
	if err != nil || !amount.Equal(txn.Amount) {
		return ErrTokenInvalid
	}
	if claims.TxnType != txn.Type || claims.Recipient != txn.Recipient {
		return ErrTokenInvalid
	}
	return nil
}
