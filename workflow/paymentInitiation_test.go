package workflow

import (
	"context"
	"strings"
	"testing"

	"bitbucket.org/dukalink/shop_backend/card"
	"bitbucket.org/dukalink/shop_backend/config"
	"bitbucket.org/dukalink/shop_backend/models"
	"bitbucket.org/dukalink/shop_backend/mpesa"
)

// newTestService runs with no gateway credentials, so initiation takes the
// mock path and never dials out.
func newTestService(store *fakeStore) *PaymentService {
	logger := testLogger()
	mpesaClient := mpesa.NewClient(config.MpesaConfig{}, logger)
	cardClient := card.NewClient(config.CardConfig{}, logger)
	reconciler := NewReconciler(store, logger, nil)
	return NewPaymentService(store, mpesaClient, cardClient, reconciler, logger)
}

func TestInitiateMpesaRecomputesTamperedAmount(t *testing.T) {
	store := newFakeStore()
	userId := 42
	seedOrder(store, 7, &userId, "buyer@example.com", "")
	svc := newTestService(store)

	orderId := 7
	// The client claims the order costs 1; the stored items say 500*2+300.
	result, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{
		Phone:   "0712345678",
		Amount:  1,
		OrderId: &orderId,
	})
	if err != nil {
		t.Fatalf("InitiateMpesa: %v", err)
	}
	if result.Amount != 1300 {
		t.Fatalf("amount = %d, want 1300 (recomputed from line items)", result.Amount)
	}
}

func TestInitiateMpesaFallsBackToCallerAmountWhenOrderMissing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	// Order 99 was never stored; recomputation cannot run, so the caller's
	// amount stands instead of the initiation failing outright.
	orderId := 99
	result, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{
		Phone:   "0712345678",
		Amount:  500,
		OrderId: &orderId,
	})
	if err != nil {
		t.Fatalf("InitiateMpesa: %v", err)
	}
	if result.Amount != 500 {
		t.Fatalf("amount = %d, want 500 (caller amount)", result.Amount)
	}
}

func TestInitiateMpesaRoundsFractionalAmount(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	cases := []struct {
		amount float64
		want   int64
	}{
		{99.5, 100},
		{249.4, 249},
		{100, 100},
	}
	for _, tc := range cases {
		result, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{
			Phone:  "0712345678",
			Amount: tc.amount,
		})
		if err != nil {
			t.Fatalf("InitiateMpesa(%v): %v", tc.amount, err)
		}
		if result.Amount != tc.want {
			t.Errorf("amount %v rounded to %d, want %d", tc.amount, result.Amount, tc.want)
		}
	}
}

func TestInitiateMpesaNormalizesPhone(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	result, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{
		Phone:  "0712 345 678",
		Amount: 500,
	})
	if err != nil {
		t.Fatalf("InitiateMpesa: %v", err)
	}
	if result.Phone != "254712345678" {
		t.Fatalf("phone = %q, want 254712345678", result.Phone)
	}
}

func TestInitiateMpesaRejectsInvalidInput(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if _, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{Phone: "12345", Amount: 100}); err != mpesa.ErrInvalidPhone {
		t.Errorf("bad phone: err = %v, want ErrInvalidPhone", err)
	}
	if _, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{Phone: "0712345678", Amount: 0}); err != mpesa.ErrInvalidAmount {
		t.Errorf("zero amount: err = %v, want ErrInvalidAmount", err)
	}
}

func TestInitiateMpesaMockMode(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	result, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{
		Phone:  "0712345678",
		Amount: 250,
	})
	if err != nil {
		t.Fatalf("InitiateMpesa: %v", err)
	}
	if !result.Mock {
		t.Fatal("unconfigured gateway must report mock mode")
	}
	if !strings.HasPrefix(result.CheckoutRequestId, "MOCK-") {
		t.Fatalf("CheckoutRequestId = %q, want MOCK- prefix", result.CheckoutRequestId)
	}
	if !strings.HasPrefix(result.Reference, "DKL") {
		t.Fatalf("Reference = %q, want DKL prefix", result.Reference)
	}
}

func TestInitiateMpesaPersistsRequestBeforeReturning(t *testing.T) {
	store := newFakeStore()
	userId := 42
	seedOrder(store, 7, &userId, "buyer@example.com", "")
	svc := newTestService(store)

	orderId := 7
	result, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{
		Phone:   "0712345678",
		OrderId: &orderId,
	})
	if err != nil {
		t.Fatalf("InitiateMpesa: %v", err)
	}

	if store.paymentRequests[7] != result.CheckoutRequestId {
		t.Fatalf("order must carry the correlation id before initiation returns: got %q, want %q",
			store.paymentRequests[7], result.CheckoutRequestId)
	}
	order := store.orders[7]
	if order.PaymentReference != result.Reference {
		t.Errorf("order reference = %q, want %q", order.PaymentReference, result.Reference)
	}
	if order.PaymentMethod != models.PaymentMethodMpesa {
		t.Errorf("order method = %q, want mpesa", order.PaymentMethod)
	}
}

func TestPaymentReferencesAreUnique(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		result, err := svc.InitiateMpesa(context.Background(), InitiateMpesaInput{
			Phone:  "0712345678",
			Amount: 100,
		})
		if err != nil {
			t.Fatalf("InitiateMpesa: %v", err)
		}
		if seen[result.Reference] {
			t.Fatalf("duplicate reference %q after %d initiations", result.Reference, i)
		}
		seen[result.Reference] = true
	}
}

func TestInitiateCardMockCheckout(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	checkout, err := svc.InitiateCard(context.Background(), InitiateCardInput{
		Email:  "buyer@example.com",
		Amount: 900,
	})
	if err != nil {
		t.Fatalf("InitiateCard: %v", err)
	}
	if !checkout.Mock {
		t.Fatal("unconfigured card gateway must report mock mode")
	}
	if checkout.AuthorizationURL == "" {
		t.Fatal("mock checkout must still carry a redirect URL")
	}
}
