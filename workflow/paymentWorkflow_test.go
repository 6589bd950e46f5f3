package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/dukalink/shop_backend/models"
	"bitbucket.org/dukalink/shop_backend/mpesa"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// fakeStore is an in-memory Store with per-method error injection. The mutex
// makes it safe for the concurrency tests.
type fakeStore struct {
	mu sync.Mutex

	orders       map[int]*models.Order
	transactions map[string]*models.Transaction

	markPaidCalls     int
	clearCartCalls    int
	notifications     []*models.Notification
	attachedResponses map[int][]byte
	cancelled         map[int]bool
	paymentRequests   map[int]string

	clearCartErr    error
	notificationErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:            make(map[int]*models.Order),
		transactions:      make(map[string]*models.Transaction),
		attachedResponses: make(map[int][]byte),
		cancelled:         make(map[int]bool),
		paymentRequests:   make(map[int]string),
	}
}

func (f *fakeStore) OrderByID(ctx context.Context, id int) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, errors.New("order not found")
	}
	return order, nil
}

func (f *fakeStore) OrderByCheckoutRequestId(ctx context.Context, checkoutRequestId string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.CheckoutRequestId == checkoutRequestId {
			return order, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SetOrderPaymentRequest(ctx context.Context, orderId int, checkoutRequestId, reference string, method models.PaymentMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentRequests[orderId] = checkoutRequestId
	if order, ok := f.orders[orderId]; ok {
		order.CheckoutRequestId = checkoutRequestId
		order.PaymentReference = reference
		order.PaymentMethod = method
	}
	return nil
}

func (f *fakeStore) ClaimTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.transactions[tx.CheckoutRequestId]; exists {
		return false, nil
	}
	f.transactions[tx.CheckoutRequestId] = tx
	return true, nil
}

func (f *fakeStore) MarkOrderPaid(ctx context.Context, orderId int, result PaymentResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markPaidCalls++
	order, ok := f.orders[orderId]
	if !ok {
		return false, errors.New("order not found")
	}
	if order.IsPaid != nil && *order.IsPaid {
		return false, nil
	}
	paid := true
	order.IsPaid = &paid
	order.Status = models.OrderStatusProcessing
	order.PaymentResultId = result.ReceiptId
	return true, nil
}

func (f *fakeStore) CancelOrder(ctx context.Context, orderId int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderId]
	if !ok {
		return errors.New("order not found")
	}
	if order.IsPaid != nil && *order.IsPaid {
		return nil
	}
	order.Status = models.OrderStatusCancelled
	f.cancelled[orderId] = true
	return nil
}

func (f *fakeStore) ClearCart(ctx context.Context, userId int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearCartErr != nil {
		return f.clearCartErr
	}
	f.clearCartCalls++
	return nil
}

func (f *fakeStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notificationErr != nil {
		return f.notificationErr
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeStore) AttachGatewayResponse(ctx context.Context, orderId int, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachedResponses[orderId] = raw
	return nil
}

func (f *fakeStore) TransactionsByIdentifier(ctx context.Context, identifier string) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Transaction
	for _, tx := range f.transactions {
		if tx.UserIdentifier == identifier {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (f *fakeStore) StalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func seedOrder(store *fakeStore, id int, userId *int, email, checkoutRequestId string) *models.Order {
	order := &models.Order{
		ID:                id,
		UserId:            userId,
		UserEmail:         email,
		Status:            models.OrderStatusPending,
		IsPaid:            boolPtr(false),
		CheckoutRequestId: checkoutRequestId,
		PaymentReference:  "DKL-TEST-REF",
		Items: []models.OrderItem{
			{Name: "Widget", Price: decimal.NewFromInt(500), Quantity: 2},
			{Name: "Gadget", Price: decimal.NewFromInt(300), Quantity: 1},
		},
	}
	store.orders[id] = order
	return order
}

func boolPtr(b bool) *bool { return &b }

func successEnvelope(checkoutRequestId string) mpesa.CallbackEnvelope {
	var env mpesa.CallbackEnvelope
	env.Body.StkCallback = mpesa.StkCallback{
		CheckoutRequestID: checkoutRequestId,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		CallbackMetadata: &mpesa.CallbackMetadata{Item: []mpesa.MetadataItem{
			{Name: "Amount", Value: float64(1300)},
			{Name: "MpesaReceiptNumber", Value: "NLJ7RT61SV"},
			{Name: "PhoneNumber", Value: float64(254712345678)},
		}},
	}
	return env
}

func failureEnvelope(checkoutRequestId string) mpesa.CallbackEnvelope {
	var env mpesa.CallbackEnvelope
	env.Body.StkCallback = mpesa.StkCallback{
		CheckoutRequestID: checkoutRequestId,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user.",
	}
	return env
}

func TestCallbackSuccessAppliesAllEffects(t *testing.T) {
	store := newFakeStore()
	userId := 42
	seedOrder(store, 7, &userId, "buyer@example.com", "ws_CO_1")
	r := NewReconciler(store, testLogger(), nil)

	if err := r.ApplyCallback(context.Background(), successEnvelope("ws_CO_1"), []byte(`{"raw":true}`)); err != nil {
		t.Fatalf("ApplyCallback: %v", err)
	}

	tx, ok := store.transactions["ws_CO_1"]
	if !ok {
		t.Fatal("transaction not recorded")
	}
	if tx.UserIdentifier != "buyer@example.com" {
		t.Errorf("identifier = %q, want buyer@example.com", tx.UserIdentifier)
	}
	if tx.Amount != 1300 {
		t.Errorf("amount = %d, want 1300", tx.Amount)
	}
	if tx.Status != models.TransactionStatusCompleted {
		t.Errorf("status = %q", tx.Status)
	}

	order := store.orders[7]
	if order.IsPaid == nil || !*order.IsPaid {
		t.Error("order not marked paid")
	}
	if order.Status != models.OrderStatusProcessing {
		t.Errorf("order status = %q, want processing", order.Status)
	}
	if store.clearCartCalls != 1 {
		t.Errorf("clearCartCalls = %d, want 1", store.clearCartCalls)
	}
	if len(store.notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(store.notifications))
	}
	if store.notifications[0].Type != models.NotificationTypePayment {
		t.Errorf("notification type = %q", store.notifications[0].Type)
	}
	if _, ok := store.attachedResponses[7]; !ok {
		t.Error("raw gateway response not attached")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	store := newFakeStore()
	userId := 42
	seedOrder(store, 7, &userId, "buyer@example.com", "ws_CO_1")
	r := NewReconciler(store, testLogger(), nil)

	env := successEnvelope("ws_CO_1")
	if err := r.ApplyCallback(context.Background(), env, nil); err != nil {
		t.Fatalf("first ApplyCallback: %v", err)
	}
	// The fallback poller lands the same outcome again.
	result := &mpesa.QueryResult{ResultCode: 0, Amount: 1300, Receipt: "NLJ7RT61SV", Phone: "254712345678"}
	if err := r.ApplyQueryResult(context.Background(), result, "ws_CO_1"); err != nil {
		t.Fatalf("ApplyQueryResult: %v", err)
	}

	if len(store.transactions) != 1 {
		t.Fatalf("transactions = %d, want exactly 1", len(store.transactions))
	}
	if store.clearCartCalls != 1 {
		t.Errorf("clearCartCalls = %d, want 1 (effects must not repeat)", store.clearCartCalls)
	}
	if len(store.notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(store.notifications))
	}
}

func TestConcurrentResolveClaimsOnce(t *testing.T) {
	const goroutines = 50

	for run := 0; run < 20; run++ {
		store := newFakeStore()
		userId := 42
		seedOrder(store, 7, &userId, "buyer@example.com", "ws_CO_RACE")
		r := NewReconciler(store, testLogger(), nil)
		env := successEnvelope("ws_CO_RACE")

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_ = r.ApplyCallback(context.Background(), env, nil)
			}()
		}
		close(start)
		wg.Wait()

		if len(store.transactions) != 1 {
			t.Fatalf("run %d: transactions = %d, want exactly 1", run, len(store.transactions))
		}
		if store.clearCartCalls != 1 {
			t.Fatalf("run %d: clearCartCalls = %d, want 1", run, store.clearCartCalls)
		}
		if len(store.notifications) != 1 {
			t.Fatalf("run %d: notifications = %d, want 1", run, len(store.notifications))
		}
	}
}

func TestCallbackFailureCancelsWithoutRecord(t *testing.T) {
	store := newFakeStore()
	userId := 42
	seedOrder(store, 7, &userId, "buyer@example.com", "ws_CO_1")
	r := NewReconciler(store, testLogger(), nil)

	if err := r.ApplyCallback(context.Background(), failureEnvelope("ws_CO_1"), []byte(`{"cancelled":true}`)); err != nil {
		t.Fatalf("ApplyCallback: %v", err)
	}

	if len(store.transactions) != 0 {
		t.Fatalf("declined attempt must not persist a transaction, got %d", len(store.transactions))
	}
	if !store.cancelled[7] {
		t.Error("order not cancelled")
	}
	if store.orders[7].Status != models.OrderStatusCancelled {
		t.Errorf("order status = %q, want cancelled", store.orders[7].Status)
	}
	if store.clearCartCalls != 0 {
		t.Error("failure must not clear the cart")
	}
}

func TestLateFailureNeverRevertsPaidOrder(t *testing.T) {
	store := newFakeStore()
	userId := 42
	seedOrder(store, 7, &userId, "buyer@example.com", "ws_CO_1")
	r := NewReconciler(store, testLogger(), nil)

	if err := r.ApplyCallback(context.Background(), successEnvelope("ws_CO_1"), nil); err != nil {
		t.Fatalf("success ApplyCallback: %v", err)
	}
	// A stale failure signal (e.g. delayed poll) arrives after payment.
	if err := r.ApplyCallback(context.Background(), failureEnvelope("ws_CO_1"), nil); err != nil {
		t.Fatalf("failure ApplyCallback: %v", err)
	}

	order := store.orders[7]
	if order.IsPaid == nil || !*order.IsPaid {
		t.Fatal("paid flag reverted")
	}
	if order.Status != models.OrderStatusProcessing {
		t.Fatalf("order status = %q, want processing", order.Status)
	}
}

func TestStandalonePaymentUsesFallbackIdentifier(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(store, testLogger(), nil)

	// No order carries this correlation id.
	if err := r.ApplyCallback(context.Background(), successEnvelope("ws_CO_ORPHAN"), nil); err != nil {
		t.Fatalf("ApplyCallback: %v", err)
	}

	tx, ok := store.transactions["ws_CO_ORPHAN"]
	if !ok {
		t.Fatal("standalone payment must still be recorded")
	}
	if tx.UserIdentifier != "254712345678@mpesa.fallback" {
		t.Fatalf("identifier = %q, want 254712345678@mpesa.fallback", tx.UserIdentifier)
	}
}

func TestSideEffectFailureDoesNotBlockOthers(t *testing.T) {
	store := newFakeStore()
	userId := 42
	seedOrder(store, 7, &userId, "buyer@example.com", "ws_CO_1")
	store.clearCartErr = errors.New("cart service down")
	r := NewReconciler(store, testLogger(), nil)

	if err := r.ApplyCallback(context.Background(), successEnvelope("ws_CO_1"), nil); err != nil {
		t.Fatalf("ApplyCallback must not propagate side-effect failures: %v", err)
	}

	if len(store.transactions) != 1 {
		t.Fatal("transaction must still be recorded")
	}
	order := store.orders[7]
	if order.IsPaid == nil || !*order.IsPaid {
		t.Error("order must still be marked paid")
	}
	if len(store.notifications) != 1 {
		t.Error("notification must still be created after a cart failure")
	}
}
