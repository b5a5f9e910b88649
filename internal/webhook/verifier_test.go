package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	v := &Verifier{Secret: "topsecret"}
	body := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION"}`)

	require.True(t, v.Verify(body, sign("topsecret", body)))
}

func TestVerifyAcceptsUppercaseHex(t *testing.T) {
	v := &Verifier{Secret: "topsecret"}
	body := []byte(`{"a":1}`)

	require.True(t, v.Verify(body, strings.ToUpper(sign("topsecret", body))))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := &Verifier{Secret: "topsecret"}
	body := []byte(`{"a":1}`)

	require.False(t, v.Verify(body, sign("other", body)))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	v := &Verifier{Secret: "topsecret"}
	signature := sign("topsecret", []byte(`{"amountPaid":50750}`))

	require.False(t, v.Verify([]byte(`{"amountPaid":99999}`), signature))
}

func TestVerifyFailsClosedWithoutSecret(t *testing.T) {
	v := &Verifier{}
	body := []byte(`{"a":1}`)

	require.False(t, v.Verify(body, sign("", body)))
}

func TestVerifyRejectsEmptySignature(t *testing.T) {
	v := &Verifier{Secret: "topsecret"}

	require.False(t, v.Verify([]byte(`{"a":1}`), ""))
}

func TestVerifyIPUnconfiguredSkips(t *testing.T) {
	v := &Verifier{Secret: "topsecret"}

	result := v.VerifyIP("10.0.0.1:4312")
	require.False(t, result.Checked)
}

func TestVerifyIPAllowlist(t *testing.T) {
	v := &Verifier{Secret: "topsecret", AllowedIPs: []string{"52.31.139.75"}}

	listed := v.VerifyIP("52.31.139.75:55020")
	require.True(t, listed.Checked)
	require.True(t, listed.Listed)

	unlisted := v.VerifyIP("10.0.0.1:55020")
	require.True(t, unlisted.Checked)
	require.False(t, unlisted.Listed)
}
