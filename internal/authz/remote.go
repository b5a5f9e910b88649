package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteVerifier delegates credential lookups and assertion checks to the
// biometric verification service that owns the WebAuthn ceremony state.
type RemoteVerifier struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewRemoteVerifier(baseURL, apiKey string) *RemoteVerifier {
	return &RemoteVerifier{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *RemoteVerifier) HasCredential(ctx context.Context, userID string) (bool, error) {
	var resp struct {
		Registered bool `json:"registered"`
	}
	if err := v.postJSON(ctx, "/v1/credentials/lookup", map[string]string{"userId": userID}, &resp); err != nil {
		return false, err
	}
	return resp.Registered, nil
}

func (v *RemoteVerifier) Verify(ctx context.Context, userID, challenge, assertion string) error {
	var resp struct {
		Verified bool `json:"verified"`
	}
	body := map[string]string{
		"userId":    userID,
		"challenge": challenge,
		"assertion": assertion,
	}
	if err := v.postJSON(ctx, "/v1/assertions/verify", body, &resp); err != nil {
		return err
	}
	if !resp.Verified {
		return fmt.Errorf("assertion not verified")
	}
	return nil
}

func (v *RemoteVerifier) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.APIKey)
	}
	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("verifier http status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
