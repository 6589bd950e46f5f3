package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// QuerySTKStatus issues a synchronous status query for an attempt whose
// callback has not arrived. The signature is re-derived on every call since
// the timestamp participates in it.
func (c *Client) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(c.now())
	password, err := Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp)
	if err != nil {
		return nil, err
	}

	body, err := c.postJSON(ctx, "stkpushquery", "/mpesa/stkpushquery/v1/query", token, QueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	})
	if err != nil {
		return nil, err
	}

	var parsed queryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("mpesa stkpushquery: %w", err)
	}

	code, err := strconv.Atoi(parsed.ResultCode.String())
	if err != nil {
		return nil, fmt.Errorf("mpesa stkpushquery: unparseable ResultCode %q", parsed.ResultCode.String())
	}

	amount, receipt, phone := parsed.CallbackMetadata.Values()
	return &QueryResult{
		ResultCode: code,
		ResultDesc: parsed.ResultDesc,
		Amount:     amount,
		Receipt:    receipt,
		Phone:      phone,
		Raw:        body,
	}, nil
}
