package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/mixmall/api/internal/domain"
	"github.com/mixmall/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:        "order.shipped",
		OrderID:     "ord-1",
		OrderNumber: "20250506000000000042",
		UserID:      "user-1",
		Status:      domain.OrderStatusShipped,
		OccurredAt:  occurredAt,
		Metadata:    map[string]any{"shipper": "sf"},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != event.Type || payload.OrderID != event.OrderID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Status != int(domain.OrderStatusShipped) {
		t.Fatalf("unexpected status %d", payload.Status)
	}
	if attr := messages[0].Attributes["type"]; attr != "order.shipped" {
		t.Fatalf("expected type attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["status"]; attr != "2" {
		t.Fatalf("expected status attribute, got %q", attr)
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected an error for a nil topic")
	}
}
