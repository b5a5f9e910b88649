package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net"
	"strings"
)

// Verifier authenticates inbound collector webhooks. The body signature
// is the mandatory factor; the IP allowlist is advisory only.
type Verifier struct {
	// Secret signs the canonical payload. When empty, every webhook is
	// rejected: an unconfigured secret fails closed, never open.
	Secret     string
	AllowedIPs []string
}

// Verify checks the hex HMAC-SHA512 of the exact raw body against the
// header value using a constant-time compare.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) bool {
	if v.Secret == "" {
		return false
	}
	signature := strings.TrimSpace(signatureHeader)
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(v.Secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// IPResult reports the advisory allowlist evaluation.
type IPResult struct {
	// Checked is false when no allowlist is configured.
	Checked bool
	// Listed is true when the caller's IP appears on the allowlist.
	Listed bool
}

// VerifyIP evaluates the remote address against the allowlist. A miss
// does not block processing; callers record it for audit.
func (v *Verifier) VerifyIP(remoteAddr string) IPResult {
	if len(v.AllowedIPs) == 0 {
		return IPResult{}
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	for _, allowed := range v.AllowedIPs {
		if strings.TrimSpace(allowed) == host {
			return IPResult{Checked: true, Listed: true}
		}
	}
	return IPResult{Checked: true, Listed: false}
}
