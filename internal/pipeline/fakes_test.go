package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"streamworker/internal/codec"
	"streamworker/internal/config"
	"streamworker/internal/record"
	"streamworker/sink"
)

type pollStep struct {
	recs []record.Raw
	err  error
}

// scriptedSource replays steps, then returns empty polls.
type scriptedSource struct {
	mu      sync.Mutex
	steps   []pollStep
	polls   int
	commits [][]record.Position
	closed  bool
	repeat  *pollStep // returned forever once steps run out
}

func (s *scriptedSource) Configure(config.Broker, config.Consumer) error { return nil }

func (s *scriptedSource) Poll(ctx context.Context, timeout time.Duration) ([]record.Raw, error) {
	s.mu.Lock()
	s.polls++
	if len(s.steps) > 0 {
		st := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		return st.recs, st.err
	}
	rep := s.repeat
	s.mu.Unlock()
	if rep != nil {
		return rep.recs, rep.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (s *scriptedSource) Commit(_ context.Context, cursors []record.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, append([]record.Position(nil), cursors...))
	return nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// committed returns the last committed cursor of tp.
func (s *scriptedSource) committed(tp record.TopicPartition) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, ok := int64(0), false
	for _, batch := range s.commits {
		for _, p := range batch {
			if p.TopicPartition() == tp {
				off, ok = p.Offset, true
			}
		}
	}
	return off, ok
}

func (s *scriptedSource) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// fakeSink acknowledges every publish unless fail says otherwise. Offsets
// listed in hold never resolve; offsets in delay resolve after that long.
type fakeSink struct {
	mu        sync.Mutex
	published []sink.Message
	attempts  map[int64]int
	hold      map[int64]bool
	delay     map[int64]time.Duration
	fail      func(msg sink.Message, attempt int) error
}

func newFakeSink() *fakeSink {
	return &fakeSink{attempts: map[int64]int{}, hold: map[int64]bool{}, delay: map[int64]time.Duration{}}
}

func (f *fakeSink) Configure(config.Broker, config.Producer) error { return nil }

func (f *fakeSink) Publish(ctx context.Context, msg sink.Message) (*sink.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[msg.Source.Offset]++
	del := sink.NewDelivery(msg)
	if f.hold[msg.Source.Offset] {
		return del, nil
	}
	if f.fail != nil {
		if err := f.fail(msg, f.attempts[msg.Source.Offset]); err != nil {
			del.Fail(err)
			return del, nil
		}
	}
	if d, ok := f.delay[msg.Source.Offset]; ok {
		time.AfterFunc(d, func() {
			f.mu.Lock()
			f.published = append(f.published, msg)
			n := int64(len(f.published))
			f.mu.Unlock()
			del.Acknowledge(msg.Source.Partition, n)
		})
		return del, nil
	}
	f.published = append(f.published, msg)
	del.Acknowledge(msg.Source.Partition, int64(len(f.published)))
	return del, nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) publishedOffsets(partition int32) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, m := range f.published {
		if m.Source.Partition == partition {
			out = append(out, m.Source.Offset)
		}
	}
	return out
}

func (f *fakeSink) attemptsFor(offset int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[offset]
}

func person(topic string, partition int32, offset int64, id int32) record.Raw {
	k, v := codec.EncodeSource(record.SourceKey{ID: id}, record.SourcePerson{
		ID: id, Name: "Person " + string(rune('A'+id%26)), FavoriteColor: "Blue", Age: 30,
	})
	return record.Raw{Key: k, Value: v, Position: record.Position{Topic: topic, Partition: partition, Offset: offset}}
}

func malformed(topic string, partition int32, offset int64) record.Raw {
	return record.Raw{Value: []byte{0x08}, Position: record.Position{Topic: topic, Partition: partition, Offset: offset}}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
