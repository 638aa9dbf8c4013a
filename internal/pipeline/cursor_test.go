package pipeline

import (
	"math/rand"
	"testing"

	"streamworker/internal/record"
)

func pos(p int32, off int64) record.Position {
	return record.Position{Topic: "people", Partition: p, Offset: off}
}

func TestCursor_AdvancesOnlyOverContiguousResolved(t *testing.T) {
	c := NewCursor()
	tp := pos(0, 0).TopicPartition()

	r10, _ := c.Track(pos(0, 10))
	r11, _ := c.Track(pos(0, 11))
	r12, _ := c.Track(pos(0, 12))

	r12()
	if _, ok := c.Offset(tp); ok {
		t.Fatal("cursor advanced past unresolved 10 and 11")
	}
	r10()
	if off, _ := c.Offset(tp); off != 10 {
		t.Fatalf("cursor = %d, want 10", off)
	}
	r11()
	if off, _ := c.Offset(tp); off != 12 {
		t.Fatalf("cursor = %d, want 12", off)
	}
	if c.Pending(tp) != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending(tp))
	}
}

func TestCursor_ResolveIsIdempotent(t *testing.T) {
	c := NewCursor()
	tp := pos(0, 0).TopicPartition()
	r1, _ := c.Track(pos(0, 1))
	r2, _ := c.Track(pos(0, 2))
	r1()
	r1()
	if c.Pending(tp) != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending(tp))
	}
	r2()
	if off, _ := c.Offset(tp); off != 2 {
		t.Fatalf("cursor = %d, want 2", off)
	}
}

func TestCursor_PartitionsAreIndependent(t *testing.T) {
	c := NewCursor()
	a, _ := c.Track(pos(0, 5))
	_, _ = c.Track(pos(1, 9)) // never resolves
	a()
	if off, ok := c.Offset(pos(0, 0).TopicPartition()); !ok || off != 5 {
		t.Fatalf("partition 0 cursor = %d/%v, want 5", off, ok)
	}
	if _, ok := c.Offset(pos(1, 0).TopicPartition()); ok {
		t.Fatal("partition 1 advanced without a resolve")
	}
}

func TestCursor_RedeliveredOffsetIsNotTracked(t *testing.T) {
	c := NewCursor()
	_, ok := c.Track(pos(0, 4))
	if !ok {
		t.Fatal("first delivery not tracked")
	}
	dup, ok := c.Track(pos(0, 4))
	if ok {
		t.Fatal("redelivered offset tracked twice")
	}
	dup()
	if _, ok := c.Offset(pos(0, 0).TopicPartition()); ok {
		t.Fatal("no-op resolve moved the cursor")
	}
}

func TestCursor_CommittableAndMarkCommitted(t *testing.T) {
	c := NewCursor()
	r, _ := c.Track(pos(1, 3))
	s, _ := c.Track(pos(0, 8))
	r()
	s()

	got := c.Committable()
	if len(got) != 2 || got[0] != pos(0, 8) || got[1] != pos(1, 3) {
		t.Fatalf("Committable = %v", got)
	}
	c.MarkCommitted(got)
	if left := c.Committable(); len(left) != 0 {
		t.Fatalf("Committable after MarkCommitted = %v", left)
	}
}

func TestCursor_Withhold(t *testing.T) {
	c := NewCursor()
	if !c.Withhold(pos(0, 1)) {
		t.Fatal("first Withhold reported already withheld")
	}
	if c.Withhold(pos(0, 2)) {
		t.Fatal("second Withhold reported newly withheld")
	}
	if c.Withheld() != 1 {
		t.Fatalf("Withheld = %d, want 1", c.Withheld())
	}
}

// The cursor never passes an unresolved offset, whatever the resolve order.
func TestCursor_RandomResolveOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		c := NewCursor()
		tp := pos(0, 0).TopicPartition()
		const n = 30
		resolves := make([]func(), n)
		for i := range resolves {
			resolves[i], _ = c.Track(pos(0, int64(i)))
		}
		done := make([]bool, n)
		for _, i := range rng.Perm(n) {
			resolves[i]()
			done[i] = true

			want := int64(-1)
			for want+1 < n && done[want+1] {
				want++
			}
			got, ok := c.Offset(tp)
			if want < 0 {
				if ok {
					t.Fatalf("round %d: cursor %d before offset 0 resolved", round, got)
				}
				continue
			}
			if got != want {
				t.Fatalf("round %d: cursor = %d, want %d", round, got, want)
			}
		}
	}
}

func TestController(t *testing.T) {
	c := NewController(2)
	if !c.TryAcquire(1) || !c.TryAcquire(1) {
		t.Fatal("could not acquire within capacity")
	}
	if c.TryAcquire(1) {
		t.Fatal("acquired beyond capacity")
	}
	c.Release(1)
	if c.InUse() != 1 {
		t.Fatalf("InUse = %d, want 1", c.InUse())
	}
	c.Release(5)
	if c.InUse() != 0 {
		t.Fatalf("InUse = %d after over-release, want 0", c.InUse())
	}
}
