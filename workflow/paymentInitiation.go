package workflow

import (
	"context"
	"fmt"
	"math"

	"bitbucket.org/dukalink/shop_backend/card"
	"bitbucket.org/dukalink/shop_backend/models"
	"bitbucket.org/dukalink/shop_backend/mpesa"
	"bitbucket.org/dukalink/shop_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentService owns payment initiation: phone normalization, server-side
// amount recomputation, reference generation, and the provider round trip.
type PaymentService struct {
	store      Store
	mpesa      *mpesa.Client
	card       *card.Client
	reconciler *Reconciler
	logger     *logrus.Logger
	refPrefix  string
}

func NewPaymentService(store Store, mpesaClient *mpesa.Client, cardClient *card.Client, reconciler *Reconciler, logger *logrus.Logger) *PaymentService {
	return &PaymentService{
		store:      store,
		mpesa:      mpesaClient,
		card:       cardClient,
		reconciler: reconciler,
		logger:     logger,
		refPrefix:  "DKL",
	}
}

// InitiateMpesaInput is the caller-supplied initiation request. Amount is
// advisory only when OrderId is set; the order's line items are authoritative.
// Fractional amounts are accepted and rounded to the nearest whole unit.
type InitiateMpesaInput struct {
	Phone   string  `json:"phone" binding:"required"`
	Amount  float64 `json:"amount"`
	OrderId *int    `json:"order_id"`
}

// InitiateMpesaResult is returned to the caller once the attempt is persisted.
type InitiateMpesaResult struct {
	CheckoutRequestId string `json:"checkout_request_id"`
	Reference         string `json:"reference"`
	Amount            int64  `json:"amount"`
	Phone             string `json:"phone"`
	Mock              bool   `json:"mock,omitempty"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

// InitiateMpesa starts a push-payment attempt. The correlation id is written
// onto the order before this returns, so a callback that races the response
// still finds its order.
func (s *PaymentService) InitiateMpesa(ctx context.Context, in InitiateMpesaInput) (*InitiateMpesaResult, error) {
	phone, err := mpesa.NormalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}

	amount, err := s.chargeAmount(ctx, in)
	if err != nil {
		return nil, err
	}
	if amount < 1 {
		return nil, mpesa.ErrInvalidAmount
	}

	reference := utils.PaymentReference(s.refPrefix)

	var result InitiateMpesaResult
	if !s.mpesa.Configured() {
		// No gateway credentials: synthesize an attempt so the rest of the
		// pipeline (persistence, reconciliation, tests) works end to end.
		result = InitiateMpesaResult{
			CheckoutRequestId: "MOCK-" + uuid.NewString(),
			Reference:         reference,
			Amount:            amount,
			Phone:             phone,
			Mock:              true,
			CustomerMessage:   "Mock payment request accepted",
		}
		s.logger.WithFields(logrus.Fields{
			"module":              "workflow",
			"checkout_request_id": result.CheckoutRequestId,
			"reference":           reference,
		}).Info("mpesa not configured; mock initiation")
	} else {
		resp, err := s.mpesa.InitiateSTKPush(ctx, phone, amount, reference)
		if err != nil {
			return nil, err
		}
		result = InitiateMpesaResult{
			CheckoutRequestId: resp.CheckoutRequestID,
			Reference:         reference,
			Amount:            amount,
			Phone:             phone,
			CustomerMessage:   resp.CustomerMessage,
		}
	}

	if in.OrderId != nil {
		if err := s.store.SetOrderPaymentRequest(ctx, *in.OrderId, result.CheckoutRequestId, reference, models.PaymentMethodMpesa); err != nil {
			return nil, fmt.Errorf("persist payment request for order %d: %w", *in.OrderId, err)
		}
	}

	return &result, nil
}

// chargeAmount returns the amount to charge. When an order is referenced the
// amount is recomputed from its stored line items, ignoring whatever the
// caller sent; a tampered client cannot lower its own bill. Recomputation is
// a guard, not a dependency: if the order cannot be loaded the caller amount
// is used and the failure is logged.
func (s *PaymentService) chargeAmount(ctx context.Context, in InitiateMpesaInput) (int64, error) {
	caller := roundAmount(in.Amount)
	if in.OrderId == nil {
		return caller, nil
	}
	order, err := s.store.OrderByID(ctx, *in.OrderId)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":        "workflow",
			"order_id":      *in.OrderId,
			"caller_amount": caller,
		}).Warn("order lookup failed; falling back to caller amount: " + err.Error())
		return caller, nil
	}
	total := order.Total().Round(0).IntPart()
	if in.Amount != 0 && caller != total {
		s.logger.WithFields(logrus.Fields{
			"module":        "workflow",
			"order_id":      *in.OrderId,
			"caller_amount": caller,
			"order_total":   total,
		}).Warn("caller amount differs from order total; using order total")
	}
	return total, nil
}

// roundAmount converts a caller-supplied amount to the whole-unit integer the
// gateway accepts, rounding halves up.
func roundAmount(amount float64) int64 {
	return int64(math.Round(amount))
}

// QueryMpesa polls the gateway for an attempt's status and feeds the outcome
// through reconciliation before answering.
func (s *PaymentService) QueryMpesa(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error) {
	result, err := s.mpesa.QuerySTKStatus(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if err := s.reconciler.ApplyQueryResult(ctx, result, checkoutRequestID); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":              "workflow",
			"checkout_request_id": checkoutRequestID,
		}).Error("reconcile after status query failed: " + err.Error())
	}
	return result, nil
}

// InitiateCardInput mirrors the push-payment input for the redirect gateway.
// Email defaults to the authenticated caller's address when omitted.
type InitiateCardInput struct {
	Email   string  `json:"email" binding:"omitempty,email"`
	Amount  float64 `json:"amount"`
	OrderId *int    `json:"order_id"`
}

// InitiateCard starts a hosted card checkout.
func (s *PaymentService) InitiateCard(ctx context.Context, in InitiateCardInput) (*card.Checkout, error) {
	amount := roundAmount(in.Amount)
	if in.OrderId != nil {
		order, err := s.store.OrderByID(ctx, *in.OrderId)
		if err != nil {
			return nil, fmt.Errorf("load order %d: %w", *in.OrderId, err)
		}
		amount = order.Total().Round(0).IntPart()
	}
	if amount < 1 {
		return nil, mpesa.ErrInvalidAmount
	}

	reference := utils.PaymentReference(s.refPrefix)
	checkout, err := s.card.CreateCheckout(ctx, in.Email, amount, reference)
	if err != nil {
		return nil, err
	}

	if in.OrderId != nil {
		if err := s.store.SetOrderPaymentRequest(ctx, *in.OrderId, checkout.Reference, checkout.Reference, models.PaymentMethodCard); err != nil {
			return nil, fmt.Errorf("persist payment request for order %d: %w", *in.OrderId, err)
		}
	}
	return checkout, nil
}

// VerifyCard queries the gateway for a card reference's outcome and funnels
// it through reconciliation. The reference is the correlation key.
func (s *PaymentService) VerifyCard(ctx context.Context, reference, email string) (*card.VerifyResult, error) {
	result, err := s.card.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if err := s.reconciler.ApplyCardResult(ctx, reference, result.Succeeded, result.Amount, email, result.Raw); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":    "workflow",
			"reference": reference,
		}).Error("reconcile after card verify failed: " + err.Error())
	}
	return result, nil
}
