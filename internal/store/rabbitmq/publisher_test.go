package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestQueueNames(t *testing.T) {
	if RetryQueue("samples") != "samples.retry" || DeadQueue("samples") != "samples.dlq" {
		t.Fatalf("unexpected names")
	}
}

func TestNewPublishing(t *testing.T) {
	msg := NewPublishing([]byte(`{}`), 0, 0)
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	if msg.Expiration != "" || msg.Headers != nil {
		t.Fatalf("first attempt should carry no retry metadata")
	}

	retry := NewPublishing([]byte(`{}`), 2, 1500*time.Millisecond)
	if retry.Expiration != "1500" {
		t.Fatalf("expiration = %q", retry.Expiration)
	}
	if got := Attempt(amqp.Delivery{Headers: retry.Headers}); got != 2 {
		t.Fatalf("attempt = %d", got)
	}
	if got := Attempt(amqp.Delivery{}); got != 0 {
		t.Fatalf("attempt without header = %d", got)
	}
}
