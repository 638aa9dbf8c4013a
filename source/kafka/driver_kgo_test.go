package kafka

import (
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"streamworker/internal/record"
)

func TestFromKgo(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	r := &kgo.Record{
		Key: []byte("k"), Value: []byte("v"), Topic: "people", Partition: 3, Offset: 41,
		Timestamp: ts, Headers: []kgo.RecordHeader{{Key: "h", Value: []byte("1")}},
	}
	got := fromKgo(r)
	want := record.Position{Topic: "people", Partition: 3, Offset: 41}
	if got.Position != want {
		t.Fatalf("position = %v, want %v", got.Position, want)
	}
	if string(got.Headers["h"]) != "1" || !got.Timestamp.Equal(ts) {
		t.Fatalf("unexpected raw %+v", got)
	}
	if fromKgo(&kgo.Record{}).Headers != nil {
		t.Fatal("expected nil headers for header-less record")
	}
}

func TestCommitRecords_CarryCursorOffset(t *testing.T) {
	recs := commitRecords([]record.Position{{Topic: "people", Partition: 1, Offset: 12}})
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Offset != 12 || recs[0].LeaderEpoch != -1 || recs[0].Partition != 1 {
		t.Fatalf("unexpected commit record %+v", recs[0])
	}
}
