package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	hasCredential bool
	lookupErr     error
	verifyErr     error
	verified      []string
}

func (f *fakeVerifier) HasCredential(ctx context.Context, userID string) (bool, error) {
	return f.hasCredential, f.lookupErr
}

func (f *fakeVerifier) Verify(ctx context.Context, userID, challenge, assertion string) error {
	f.verified = append(f.verified, challenge)
	return f.verifyErr
}

func testTxn() TransactionData {
	return TransactionData{
		Type:      "offramp",
		Amount:    decimal.RequireFromString("100.5"),
		Recipient: "0123456789",
	}
}

func newAuthorizer(v *fakeVerifier, now func() time.Time) *Authorizer {
	return &Authorizer{
		Store:        NewChallengeStore(now),
		Credentials:  v,
		Verifier:     v,
		TokenSecret:  []byte("unit-test-secret"),
		ChallengeTTL: 5 * time.Minute,
		TokenTTL:     2 * time.Minute,
		Now:          now,
	}
}

func TestIssueChallengeRequiresCredential(t *testing.T) {
	a := newAuthorizer(&fakeVerifier{hasCredential: false}, nil)

	_, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestChallengeRoundTrip(t *testing.T) {
	v := &fakeVerifier{hasCredential: true}
	a := newAuthorizer(v, nil)

	ch, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.NoError(t, err)
	require.NotEmpty(t, ch.Challenge)

	token, expiresAt, err := a.VerifyAndIssueToken(context.Background(), ch.ID, "assertion-blob")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.After(time.Now()))
	require.Equal(t, []string{ch.Challenge}, v.verified)

	require.NoError(t, a.ValidateToken(token, "user-1", "txn-1", testTxn()))
}

func TestChallengeSingleUse(t *testing.T) {
	v := &fakeVerifier{hasCredential: true}
	a := newAuthorizer(v, nil)

	ch, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.NoError(t, err)

	_, _, err = a.VerifyAndIssueToken(context.Background(), ch.ID, "assertion-blob")
	require.NoError(t, err)

	_, _, err = a.VerifyAndIssueToken(context.Background(), ch.ID, "assertion-blob")
	require.ErrorIs(t, err, ErrChallengeConsumed)
}

func TestChallengeExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	v := &fakeVerifier{hasCredential: true}
	a := newAuthorizer(v, clock)

	ch, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.NoError(t, err)

	now = now.Add(6 * time.Minute)

	_, _, err = a.VerifyAndIssueToken(context.Background(), ch.ID, "assertion-blob")
	require.ErrorIs(t, err, ErrChallengeExpired)
}

func TestUnknownChallenge(t *testing.T) {
	a := newAuthorizer(&fakeVerifier{hasCredential: true}, nil)

	_, _, err := a.VerifyAndIssueToken(context.Background(), "no-such-id", "assertion-blob")
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRejectedAssertion(t *testing.T) {
	v := &fakeVerifier{hasCredential: true, verifyErr: errors.New("signature mismatch")}
	a := newAuthorizer(v, nil)

	ch, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.NoError(t, err)

	_, _, err = a.VerifyAndIssueToken(context.Background(), ch.ID, "bad-assertion")
	require.ErrorIs(t, err, ErrAssertionInvalid)
}

func TestRejectedAssertionBurnsChallenge(t *testing.T) {
	v := &fakeVerifier{hasCredential: true, verifyErr: errors.New("signature mismatch")}
	a := newAuthorizer(v, nil)

	ch, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.NoError(t, err)

	_, _, err = a.VerifyAndIssueToken(context.Background(), ch.ID, "bad-assertion")
	require.ErrorIs(t, err, ErrAssertionInvalid)

	// Even a now-valid assertion cannot reuse the challenge; the caller
	// must start a fresh ceremony.
	v.verifyErr = nil
	_, _, err = a.VerifyAndIssueToken(context.Background(), ch.ID, "good-assertion")
	require.ErrorIs(t, err, ErrChallengeConsumed)
}

func TestTokenBoundToTransaction(t *testing.T) {
	v := &fakeVerifier{hasCredential: true}
	a := newAuthorizer(v, nil)

	ch, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.NoError(t, err)
	token, _, err := a.VerifyAndIssueToken(context.Background(), ch.ID, "assertion-blob")
	require.NoError(t, err)

	otherAmount := testTxn()
	otherAmount.Amount = decimal.RequireFromString("999")
	require.ErrorIs(t, a.ValidateToken(token, "user-1", "txn-1", otherAmount), ErrTokenInvalid)

	otherRecipient := testTxn()
	otherRecipient.Recipient = "9999999999"
	require.ErrorIs(t, a.ValidateToken(token, "user-1", "txn-1", otherRecipient), ErrTokenInvalid)

	require.ErrorIs(t, a.ValidateToken(token, "user-2", "txn-1", testTxn()), ErrTokenInvalid)
	require.ErrorIs(t, a.ValidateToken(token, "user-1", "txn-2", testTxn()), ErrTokenInvalid)
}

func TestTokenExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	v := &fakeVerifier{hasCredential: true}
	a := newAuthorizer(v, clock)

	ch, err := a.IssueChallenge(context.Background(), "user-1", "txn-1", testTxn())
	require.NoError(t, err)
	token, _, err := a.VerifyAndIssueToken(context.Background(), ch.ID, "assertion-blob")
	require.NoError(t, err)

	now = now.Add(3 * time.Minute)

	require.ErrorIs(t, a.ValidateToken(token, "user-1", "txn-1", testTxn()), ErrTokenInvalid)
}

func TestTokenGarbageRejected(t *testing.T) {
	a := newAuthorizer(&fakeVerifier{hasCredential: true}, nil)

	require.ErrorIs(t, a.ValidateToken("not-a-jwt", "user-1", "txn-1", testTxn()), ErrTokenInvalid)
}

func TestSweepDropsExpiredChallenges(t *testing.T) {
	now := time.Now()
	store := NewChallengeStore(func() time.Time { return now })

	store.Put(&Challenge{ID: "live", ExpiresAt: now.Add(time.Minute)})
	store.Put(&Challenge{ID: "dead", ExpiresAt: now.Add(-time.Minute)})
	store.Put(&Challenge{ID: "used", ExpiresAt: now.Add(time.Minute), Consumed: true})

	store.sweep()

	_, err := store.Take("live")
	require.NoError(t, err)
	_, err = store.Take("dead")
	require.ErrorIs(t, err, ErrChallengeNotFound)
	_, err = store.Take("used")
	require.ErrorIs(t, err, ErrChallengeNotFound)
}
