// Package record holds the value types that flow between the source driver,
// the codec, the transform stage and the sink.
package record

import (
	"fmt"
	"time"
)

// TopicPartition identifies one independently ordered stream of offsets.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s[%d]", tp.Topic, tp.Partition)
}

// Position is the location of a single record in the source log.
type Position struct {
	Topic     string
	Partition int32
	Offset    int64
}

func (p Position) TopicPartition() TopicPartition {
	return TopicPartition{Topic: p.Topic, Partition: p.Partition}
}

func (p Position) String() string {
	return fmt.Sprintf("%s/%d/%d", p.Topic, p.Partition, p.Offset)
}

// Raw is a record as returned by the broker client. Never mutated after poll.
type Raw struct {
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time
	Position
}

// SourceKey is source.v1.Key.
type SourceKey struct {
	ID int32
}

// SourcePerson is source.v1.Person.
type SourcePerson struct {
	ID            int32
	Name          string
	FavoriteColor string
	Age           int32
}

// Decoded is a Raw record after a successful decode.
type Decoded struct {
	Key   SourceKey
	Value SourcePerson
	Position
}

// SinkKey is sink.v1.Key.
type SinkKey struct {
	ID int32
}

// SinkPerson is sink.v1.Person.
type SinkPerson struct {
	ID            int32
	Name          string
	FavoriteColor string
	Age           int32
	AgeGroup      string
	Source        string
}

// Output is a record destined for the sink topic. Source is the position it
// was derived from; the offset there is committed once Output is acknowledged.
type Output struct {
	Key    SinkKey
	Value  SinkPerson
	Source Position
}
