package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"streamworker/sink"
)

func newMockDriver(t *testing.T) (*saramaDriver, *mocks.AsyncProducer) {
	t.Helper()
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	mp := mocks.NewAsyncProducer(t, cfg)
	d := &saramaDriver{}
	d.start("people-enriched", mp)
	return d, mp
}

func wait(t *testing.T, del *sink.Delivery) sink.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := del.Wait(ctx)
	if err != nil {
		t.Fatalf("delivery never resolved: %v", err)
	}
	return out
}

func TestSaramaDriver_AcknowledgesSuccess(t *testing.T) {
	d, mp := newMockDriver(t)
	mp.ExpectInputAndSucceed()

	del, err := d.Publish(context.Background(), sink.Message{Key: []byte("k"), Value: []byte("v")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if out := wait(t, del); !out.Acknowledged() {
		t.Fatalf("want acknowledged, got %v", out.Err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSaramaDriver_ClassifiesFailures(t *testing.T) {
	d, mp := newMockDriver(t)
	mp.ExpectInputAndFail(sarama.ErrNotLeaderForPartition)
	mp.ExpectInputAndFail(sarama.ErrMessageSizeTooLarge)

	first, err := d.Publish(context.Background(), sink.Message{Value: []byte("a")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second, err := d.Publish(context.Background(), sink.Message{Value: []byte("b")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if out := wait(t, first); !sink.IsRetryable(out.Err) {
		t.Fatalf("leader change should be retryable, got %v", out.Err)
	}
	if out := wait(t, second); !sink.IsPermanent(out.Err) {
		t.Fatalf("oversized message should be permanent, got %v", out.Err)
	}
	_ = d.Close()
}

func TestSaramaDriver_PublishAfterClose(t *testing.T) {
	d, _ := newMockDriver(t)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := d.Publish(context.Background(), sink.Message{}); !sink.IsPermanent(err) {
		t.Fatalf("Publish after Close = %v, want permanent ErrClosed", err)
	}
}

func TestToRecordHeaders(t *testing.T) {
	if toRecordHeaders(nil) != nil {
		t.Fatal("want nil headers")
	}
	h := toRecordHeaders(map[string][]byte{"source": []byte("people/0/1")})
	if len(h) != 1 || string(h[0].Key) != "source" {
		t.Fatalf("unexpected headers %+v", h)
	}
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"sarama", "kgo"} {
		if _, err := sink.NewAdapter(name); err != nil {
			t.Fatalf("NewAdapter(%q): %v", name, err)
		}
	}
}
