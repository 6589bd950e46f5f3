package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// PaymentEvent is the cross-service message emitted when a payment attempt
// reaches a terminal outcome.
type PaymentEvent struct {
	CheckoutRequestId string    `json:"checkout_request_id"`
	Reference         string    `json:"reference"`
	OrderId           *int      `json:"order_id"`
	Method            string    `json:"method"`
	Amount            int64     `json:"amount"`
	Succeeded         bool      `json:"succeeded"`
	Receipt           string    `json:"receipt"`
	Phone             string    `json:"phone"`
	OccurredAt        time.Time `json:"occurred_at"`
	CorrelationId     string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials (service account or GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}

	pubsubClientMu.Lock()
	if pubsubClient == nil {
		pubsubClient = c
	} else {
		// Another goroutine won the race; close ours.
		_ = c.Close()
	}
	c2 := pubsubClient
	pubsubClientMu.Unlock()

	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return c2, nil
}

// PublishPaymentEvent publishes a terminal payment outcome to the payment
// events topic. Best-effort: callers treat a failure as a logged side-effect
// error, never as a reconciliation failure.
func PublishPaymentEvent(ctx context.Context, event PaymentEvent) (string, error) {
	topicName := os.Getenv("PUBSUB_PAYMENT_TOPIC")
	if topicName == "" {
		return "", errors.New("PUBSUB_PAYMENT_TOPIC is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	t := client.Topic(topicName)
	msgJSON, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data: msgJSON,
	})
	return result.Get(ctx)
}

// PaymentEventsConfigured reports whether Pub/Sub publishing is set up at all.
func PaymentEventsConfigured() bool {
	return os.Getenv("PUBSUB_PAYMENT_TOPIC") != "" && getPubSubProjectID() != ""
}
