package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	attrs := map[string]string{"dataset": "NP4-190-CD"}
	id1, err := pub.Publish(context.Background(), "runs", map[string]string{"k": "v"}, attrs)
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	attrs["dataset"] = "changed"

	msgs := pub.Messages()
	if len(msgs) != 1 || msgs[0].Topic != "runs" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if msgs[0].Attributes["dataset"] != "NP4-190-CD" {
		t.Fatalf("expected attributes to be copied, got %+v", msgs[0].Attributes)
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	if _, err := pub.Publish(context.Background(), "runs", "payload", nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publish must not be recorded")
	}
}
