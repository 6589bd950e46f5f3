package mpesa

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

const transactionTypePayBill = "CustomerPayBillOnline"

// InitiateSTKPush sends the push-payment request. The sandbox environment
// always transmits amount 1 regardless of input (the gateway rejects larger
// test charges); the caller's amount still flows through reconciliation via
// the callback metadata.
func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amount int64, reference string) (*STKPushResponse, error) {
	if amount < 1 {
		return nil, ErrInvalidAmount
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(c.now())
	password, err := Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp)
	if err != nil {
		return nil, err
	}

	sendAmount := amount
	if c.cfg.Environment == "sandbox" {
		sendAmount = 1
	}

	body, err := c.postJSON(ctx, "stkpush", "/mpesa/stkpush/v1/processrequest", token, STKPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionTypePayBill,
		Amount:            sendAmount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   c.cfg.TransactionDesc,
	})
	if err != nil {
		return nil, err
	}

	var parsed STKPushResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("mpesa stkpush: %w", err)
	}
	if parsed.CheckoutRequestID == "" {
		return nil, &RequestError{StatusCode: 200, Body: string(body), ErrorMessage: "missing CheckoutRequestID"}
	}

	c.logger.WithFields(logrus.Fields{
		"module":              "mpesa",
		"checkout_request_id": parsed.CheckoutRequestID,
		"reference":           reference,
		"amount":              sendAmount,
	}).Info("stk push initiated")

	return &parsed, nil
}
