package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/dukalink/shop_backend/config"
	"github.com/sirupsen/logrus"
)

// Client talks to the Daraja gateway. Construct one per process with an
// explicit config; there is no package-level state and no token cache — each
// initiation re-authenticates.
type Client struct {
	cfg     config.MpesaConfig
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
	now     func() time.Time
}

func NewClient(cfg config.MpesaConfig, logger *logrus.Logger) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		now:     time.Now,
	}
}

// Configured reports whether live gateway calls are possible; when false the
// initiation layer runs in mock mode.
func (c *Client) Configured() bool {
	return c.cfg.IsConfigured()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken fetches a short-lived bearer token via HTTP Basic auth against
// the gateway's OAuth endpoint.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.cfg.ConsumerKey == "" || c.cfg.ConsumerSecret == "" {
		return "", &AuthError{}
	}

	endpoint := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", wrapTransportErr("token fetch", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("mpesa token fetch: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: "empty access_token"}
	}
	return parsed.AccessToken, nil
}

// postJSON sends an authorized gateway request and hands back the raw body
// for the caller to parse. Gateway-reported failures keep their payload in a
// *RequestError.
func (c *Client) postJSON(ctx context.Context, op, path, token string, reqBody interface{}) ([]byte, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransportErr(op, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		// Daraja error payloads carry requestId/errorCode/errorMessage.
		_ = json.Unmarshal(body, reqErr)
		return nil, reqErr
	}
	return body, nil
}
