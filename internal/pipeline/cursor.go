package pipeline

import (
	"sort"

	"streamworker/internal/record"
)

// node is one tracked offset. Resolving a node whose predecessor is still
// pending hands its offset to the predecessor, so the cursor jumps straight
// past it once the predecessor resolves.
type node struct {
	offset     int64
	prev, next *node
}

type partitionCursor struct {
	cursor     int64 // highest offset whose predecessors all resolved; -1 if none
	committed  int64 // last offset handed to Commit; -1 before the first
	last       int64 // highest offset tracked; -1 if none
	start, end *node
	pending    int
	withheld   bool
}

func (p *partitionCursor) track(off int64) func() {
	n := &node{offset: off}
	if p.start == nil {
		p.start = n
	}
	if p.end != nil {
		n.prev = p.end
		p.end.next = n
	}
	p.end = n
	p.last = off
	p.pending++

	resolved := false
	return func() {
		if resolved {
			return
		}
		resolved = true
		p.pending--
		if n.prev != nil {
			n.prev.offset = n.offset
			n.prev.next = n.next
		} else {
			p.cursor = n.offset
			p.start = n.next
		}
		if n.next != nil {
			n.next.prev = n.prev
		} else {
			p.end = n.prev
		}
	}
}

// Cursor holds, per topic-partition, the highest offset that is safe to
// commit: every tracked offset at or below it has resolved. It is not safe
// for concurrent use; the consumer loop is its only writer.
type Cursor struct {
	parts map[record.TopicPartition]*partitionCursor
}

func NewCursor() *Cursor {
	return &Cursor{parts: make(map[record.TopicPartition]*partitionCursor)}
}

func (c *Cursor) part(tp record.TopicPartition) *partitionCursor {
	p, ok := c.parts[tp]
	if !ok {
		p = &partitionCursor{cursor: -1, committed: -1, last: -1}
		c.parts[tp] = p
	}
	return p
}

// Track registers pos as in flight and returns the func that resolves it.
// Offsets must arrive in increasing order per partition; a redelivered
// offset at or below the last tracked one is not tracked again and ok is
// false. Its resolve func is a no-op.
func (c *Cursor) Track(pos record.Position) (resolve func(), ok bool) {
	p := c.part(pos.TopicPartition())
	if pos.Offset <= p.last {
		return func() {}, false
	}
	return p.track(pos.Offset), true
}

// Withhold marks the partition of pos as blocked by an offset that will
// never resolve. It reports whether the partition was not blocked before.
func (c *Cursor) Withhold(pos record.Position) bool {
	p := c.part(pos.TopicPartition())
	was := p.withheld
	p.withheld = true
	return !was
}

// Offset returns the cursor of tp; ok is false until an offset resolved.
func (c *Cursor) Offset(tp record.TopicPartition) (int64, bool) {
	p, found := c.parts[tp]
	if !found || p.cursor < 0 {
		return 0, false
	}
	return p.cursor, true
}

// Pending is the number of unresolved offsets tracked for tp.
func (c *Cursor) Pending(tp record.TopicPartition) int {
	if p, ok := c.parts[tp]; ok {
		return p.pending
	}
	return 0
}

func (c *Cursor) Withheld() int {
	n := 0
	for _, p := range c.parts {
		if p.withheld {
			n++
		}
	}
	return n
}

// Committable lists the partitions whose cursor advanced since the last
// MarkCommitted, sorted by topic and partition.
func (c *Cursor) Committable() []record.Position {
	var out []record.Position
	for tp, p := range c.parts {
		if p.cursor > p.committed {
			out = append(out, record.Position{Topic: tp.Topic, Partition: tp.Partition, Offset: p.cursor})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}

func (c *Cursor) MarkCommitted(ps []record.Position) {
	for _, pos := range ps {
		p := c.part(pos.TopicPartition())
		if pos.Offset > p.committed {
			p.committed = pos.Offset
		}
	}
}
