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

	"github.com/hanko-field/checkout/internal/services"
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
	defer topic.Stop()

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.status_changed",
		OrderID:        "ord_1",
		PreviousStatus: "pending",
		CurrentStatus:  "paid",
		ActorID:        "admin-1",
		OccurredAt:     occurred,
		Metadata:       map[string]any{"source": "webhook"},
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Attributes["type"] != "order.status_changed" || msg.Attributes["orderId"] != "ord_1" || msg.Attributes["status"] != "paid" {
		t.Fatalf("unexpected attributes: %#v", msg.Attributes)
	}
	if _, ok := msg.Attributes["paymentId"]; ok {
		t.Fatalf("empty payment id must not be set as attribute")
	}
	if msg.OrderingKey != "ord_1" {
		t.Fatalf("expected ordering key ord_1, got %q", msg.OrderingKey)
	}

	var payload orderEventMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PreviousStatus != "pending" || !payload.OccurredAt.Equal(occurred) || payload.Metadata["source"] != "webhook" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
