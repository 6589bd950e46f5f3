package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/dukalink/shop_backend/config"
	"bitbucket.org/dukalink/shop_backend/models"
	"bitbucket.org/dukalink/shop_backend/mpesa"
	"bitbucket.org/dukalink/shop_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("shop-backend/payment")

// Reconciler converts a success/failure signal from either the webhook or a
// status query into a single idempotent update of order and financial-record
// state. INITIATED -> {SUCCEEDED, FAILED}; terminal states never transition
// again.
type Reconciler struct {
	store  Store
	logger *logrus.Logger
	locker *redislock.Client

	// publishEvent is swappable in tests; defaults to Pub/Sub.
	publishEvent func(ctx context.Context, event config.PaymentEvent) (string, error)
}

func NewReconciler(store Store, logger *logrus.Logger, locker *redislock.Client) *Reconciler {
	return &Reconciler{
		store:        store,
		logger:       logger,
		locker:       locker,
		publishEvent: config.PublishPaymentEvent,
	}
}

// ApplyCallback feeds an inbound webhook through the state machine.
func (r *Reconciler) ApplyCallback(ctx context.Context, env mpesa.CallbackEnvelope, raw []byte) error {
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return fmt.Errorf("callback missing CheckoutRequestID")
	}
	amount, receipt, phone := cb.CallbackMetadata.Values()
	return r.resolve(ctx, resolution{
		CorrelationId: cb.CheckoutRequestID,
		Succeeded:     cb.Succeeded(),
		Amount:        amount,
		Receipt:       receipt,
		Phone:         phone,
		Method:        models.PaymentMethodMpesa,
		Raw:           raw,
	})
}

// ApplyQueryResult feeds a polled status through the state machine. Result
// code 0 is success; anything else is failure-or-still-pending and is treated
// as a decline for state purposes (the poller decides when to stop asking).
func (r *Reconciler) ApplyQueryResult(ctx context.Context, result *mpesa.QueryResult, checkoutRequestID string) error {
	return r.resolve(ctx, resolution{
		CorrelationId: checkoutRequestID,
		Succeeded:     result.ResultCode == 0,
		Amount:        result.Amount,
		Receipt:       result.Receipt,
		Phone:         result.Phone,
		Method:        models.PaymentMethodMpesa,
		Raw:           result.Raw,
	})
}

// ApplyCardResult feeds a verified card outcome through the state machine.
// The card reference is the correlation key for that provider.
func (r *Reconciler) ApplyCardResult(ctx context.Context, reference string, succeeded bool, amount int64, email string, raw []byte) error {
	return r.resolve(ctx, resolution{
		CorrelationId: reference,
		Succeeded:     succeeded,
		Amount:        amount,
		Email:         email,
		Method:        models.PaymentMethodCard,
		Raw:           raw,
	})
}

type resolution struct {
	CorrelationId string
	Succeeded     bool
	Amount        int64
	Receipt       string
	Phone         string
	Email         string
	Method        models.PaymentMethod
	Raw           []byte
}

// resolve is the single funnel for both entry points. The webhook handler and
// the poller may run it concurrently for the same correlation id; the
// transaction insert (unique correlation id) and the conditional paid update
// are the authoritative at-most-once claims. The redis lock in front is a
// best-effort optimization only.
func (r *Reconciler) resolve(ctx context.Context, res resolution) error {
	ctx, span := tracer.Start(ctx, "payment.resolve")
	span.SetAttributes(
		attribute.String("payment.correlation_id", res.CorrelationId),
		attribute.Bool("payment.succeeded", res.Succeeded),
	)
	defer span.End()

	if r.locker != nil {
		lock, err := r.locker.Obtain(ctx, "payment:resolve:"+res.CorrelationId, 30*time.Second, nil)
		if err == nil {
			defer func() {
				if releaseErr := lock.Release(ctx); releaseErr != nil {
					r.logger.WithFields(logrus.Fields{
						"module":              "workflow",
						"checkout_request_id": res.CorrelationId,
					}).Warn("failed to release resolve lock: " + releaseErr.Error())
				}
			}()
		} else if err == redislock.ErrNotObtained {
			r.logger.WithFields(logrus.Fields{
				"module":              "workflow",
				"checkout_request_id": res.CorrelationId,
			}).Warn("could not obtain resolve lock; proceeding, DB claim serializes")
		} else {
			r.logger.WithFields(logrus.Fields{
				"module":              "workflow",
				"checkout_request_id": res.CorrelationId,
			}).Warn("error obtaining resolve lock; proceeding: " + err.Error())
		}
	}

	order, err := r.store.OrderByCheckoutRequestId(ctx, res.CorrelationId)
	if err != nil {
		return fmt.Errorf("lookup order for %s: %w", res.CorrelationId, err)
	}

	if !res.Succeeded {
		return r.applyFailure(ctx, res, order)
	}
	return r.applySuccess(ctx, res, order)
}

func (r *Reconciler) applyFailure(ctx context.Context, res resolution, order *models.Order) error {
	// Declined attempts persist no financial record.
	if order == nil {
		return nil
	}
	if err := r.store.CancelOrder(ctx, order.ID); err != nil {
		return fmt.Errorf("cancel order %d: %w", order.ID, err)
	}
	if err := r.store.AttachGatewayResponse(ctx, order.ID, res.Raw); err != nil {
		r.sideEffectFailed(res.CorrelationId, "attach gateway response", err)
	}
	r.logger.WithFields(logrus.Fields{
		"module":              "workflow",
		"checkout_request_id": res.CorrelationId,
		"order_id":            order.ID,
	}).Info("payment attempt declined; order cancelled")
	return nil
}

func (r *Reconciler) applySuccess(ctx context.Context, res resolution, order *models.Order) error {
	identifier := res.Email
	if identifier == "" && order != nil {
		identifier = order.UserEmail
	}
	if identifier == "" {
		// Standalone payments with no order-linked email are still recorded.
		identifier = res.Phone + "@mpesa.fallback"
	}

	claimed, err := r.store.ClaimTransaction(ctx, &models.Transaction{
		UserIdentifier:    identifier,
		Method:            res.Method,
		Amount:            res.Amount,
		Status:            models.TransactionStatusCompleted,
		Reference:         referenceFor(order),
		CheckoutRequestId: res.CorrelationId,
		RawCallback:       res.Raw,
	})
	if err != nil {
		return fmt.Errorf("claim transaction for %s: %w", res.CorrelationId, err)
	}
	if !claimed {
		// A concurrent callback/poll already applied the effects.
		r.logger.WithFields(logrus.Fields{
			"module":              "workflow",
			"checkout_request_id": res.CorrelationId,
		}).Info("success already reconciled; skipping effects")
		return nil
	}

	// The four downstream effects are attempted independently; a failure in
	// one is logged and must not roll back or block the others.
	var orderId *int
	if order != nil {
		orderId = &order.ID

		updated, err := r.store.MarkOrderPaid(ctx, order.ID, PaymentResult{
			ReceiptId: res.Receipt,
			Status:    "Completed",
			Phone:     res.Phone,
			PaidAt:    time.Now(),
		})
		if err != nil {
			r.sideEffectFailed(res.CorrelationId, "mark order paid", err)
		} else if !updated {
			r.logger.WithFields(logrus.Fields{
				"module":              "workflow",
				"checkout_request_id": res.CorrelationId,
				"order_id":            order.ID,
			}).Info("order already paid")
		}

		if order.UserId != nil {
			if err := r.store.ClearCart(ctx, *order.UserId); err != nil {
				r.sideEffectFailed(res.CorrelationId, "clear cart", err)
			}
		}

		if err := r.store.AttachGatewayResponse(ctx, order.ID, res.Raw); err != nil {
			r.sideEffectFailed(res.CorrelationId, "attach gateway response", err)
		}
	}

	message := fmt.Sprintf("Payment of %d received via %s (receipt %s)", res.Amount, res.Method, res.Receipt)
	if err := r.store.CreateNotification(ctx, &models.Notification{
		Type:    models.NotificationTypePayment,
		Message: message,
		OrderId: orderId,
		Read:    utils.NewFalse(),
	}); err != nil {
		r.sideEffectFailed(res.CorrelationId, "create notification", err)
	}

	if config.PaymentEventsConfigured() {
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		if _, err := r.publishEvent(ctx, config.PaymentEvent{
			CheckoutRequestId: res.CorrelationId,
			Reference:         referenceFor(order),
			OrderId:           orderId,
			Method:            string(res.Method),
			Amount:            res.Amount,
			Succeeded:         true,
			Receipt:           res.Receipt,
			Phone:             res.Phone,
			OccurredAt:        time.Now().UTC(),
			CorrelationId:     cid,
		}); err != nil {
			r.sideEffectFailed(res.CorrelationId, "publish payment event", err)
		}
	}

	return nil
}

// sideEffectFailed logs a downstream effect failure. These never propagate:
// the callback still acks 200 and the remaining effects still run. The log
// line is the recovery trail for a partially applied success.
func (r *Reconciler) sideEffectFailed(correlationId, effect string, err error) {
	r.logger.WithFields(logrus.Fields{
		"module":              "workflow",
		"checkout_request_id": correlationId,
		"effect":              effect,
	}).Error("payment side effect failed: " + err.Error())
}

func referenceFor(order *models.Order) string {
	if order == nil {
		return ""
	}
	return order.PaymentReference
}
