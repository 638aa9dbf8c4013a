package sink

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelivery_ResolvesOnce(t *testing.T) {
	d := NewDelivery(Message{})
	if !d.Acknowledge(2, 40) {
		t.Fatal("first resolve reported as duplicate")
	}
	if d.Fail(errors.New("late")) {
		t.Fatal("second resolve took effect")
	}
	out, err := d.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !out.Acknowledged() || out.Partition != 2 || out.Offset != 40 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestDelivery_WaitHonoursContext(t *testing.T) {
	d := NewDelivery(Message{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
	select {
	case <-d.Done():
		t.Fatal("delivery resolved by a cancelled wait")
	default:
	}
}

func TestClassify(t *testing.T) {
	boom := errors.New("boom")
	retry := Classify(boom, func(error) bool { return true })
	if !IsRetryable(retry) || IsPermanent(retry) {
		t.Fatalf("want retryable, got %v", retry)
	}
	perm := Classify(boom, func(error) bool { return false })
	if !IsPermanent(perm) || !errors.Is(perm, boom) {
		t.Fatalf("want permanent wrapping boom, got %v", perm)
	}
	if again := Classify(perm, func(error) bool { return true }); !IsPermanent(again) {
		t.Fatal("Classify re-classified an existing PublishError")
	}
	if Classify(nil, nil) != nil {
		t.Fatal("Classify(nil) != nil")
	}
}
