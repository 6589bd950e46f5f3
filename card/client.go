package card

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/dukalink/shop_backend/config"
	"github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("card: gateway secret key is not configured")

// Client talks to the redirect-based card gateway: initiation returns an
// authorization URL the shopper is sent to, and the outcome is discovered by
// verifying the reference afterwards.
type Client struct {
	cfg    config.CardConfig
	http   *http.Client
	logger *logrus.Logger
}

func NewClient(cfg config.CardConfig, logger *logrus.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (c *Client) Configured() bool {
	return c.cfg.IsConfigured()
}

// Checkout is the initiation result the shopper is redirected with.
type Checkout struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	Mock             bool   `json:"mock,omitempty"`
}

type initializeResponse struct {
	Status bool `json:"status"`
	Data   struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
	Message string `json:"message"`
}

// CreateCheckout initializes a hosted card checkout. Amounts are whole
// currency units; the gateway wants the smallest subunit.
func (c *Client) CreateCheckout(ctx context.Context, email string, amount int64, reference string) (*Checkout, error) {
	if !c.Configured() {
		// Mock mode mirrors the push-payment initiator: no credentials means a
		// synthetic redirect, not an error.
		return &Checkout{
			Reference:        reference,
			AuthorizationURL: "https://checkout.invalid/mock/" + reference,
			Mock:             true,
		}, nil
	}

	body, err := c.post(ctx, "/transaction/initialize", map[string]interface{}{
		"email":        email,
		"amount":       amount * 100,
		"reference":    reference,
		"callback_url": c.cfg.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	var parsed initializeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("card initialize: %w", err)
	}
	if !parsed.Status || parsed.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("card initialize rejected: %s", parsed.Message)
	}
	return &Checkout{Reference: reference, AuthorizationURL: parsed.Data.AuthorizationURL}, nil
}

type verifyResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	} `json:"data"`
	Message string `json:"message"`
}

// VerifyResult is the queried outcome for a card reference.
type VerifyResult struct {
	Succeeded bool
	Amount    int64
	Raw       []byte
}

// Verify queries the gateway for a reference's outcome.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("card verify: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("card verify: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		config.LogError(c.logger, "card", "Verify", reference, nil, err)
		return nil, err
	}

	var parsed verifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("card verify: %w", err)
	}
	return &VerifyResult{
		Succeeded: parsed.Status && parsed.Data.Status == "success",
		Amount:    parsed.Data.Amount / 100,
		Raw:       body,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("card request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("card request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		config.LogError(c.logger, "card", "post", path, payload, err)
		return nil, err
	}
	return body, nil
}
