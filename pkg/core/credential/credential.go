// Package credential fetches short-lived conversation tokens from the
// dealroom gateway so the console never holds the ElevenLabs API key.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-dealroom/pkg/core"
)

const (
	DefaultURL     = "http://localhost:8787/api/conversation-token"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 64 << 10
)

type Fetcher struct {
	URL        string
	HTTPClient *http.Client
}

func NewFetcher(url string, client *http.Client) *Fetcher {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Fetcher{URL: url, HTTPClient: client}
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// Fetch returns a conversation token. Every failure is a credential error.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", core.NewCredentialError("invalid token endpoint", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", core.NewCredentialError("could not reach the token service", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", core.NewCredentialError("failed to read token response", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(tr.Error)
		if decodeErr != nil || msg == "" {
			msg = fmt.Sprintf("token service returned HTTP %d", resp.StatusCode)
		}
		return "", core.NewCredentialError(msg, fmt.Errorf("status %d", resp.StatusCode))
	}
	if decodeErr != nil {
		return "", core.NewCredentialError("malformed token response", decodeErr)
	}
	token := strings.TrimSpace(tr.Token)
	if token == "" {
		return "", core.NewCredentialError("token service returned an empty token", nil)
	}
	return token, nil
}
