package kafka

import (
	"testing"

	"streamworker/sink"
)

func TestToKgoRecord(t *testing.T) {
	r := toKgoRecord("people-enriched", sink.Message{
		Key: []byte("k"), Value: []byte("v"), Headers: map[string][]byte{"h": []byte("1")},
	})
	if r.Topic != "people-enriched" || string(r.Key) != "k" || string(r.Value) != "v" {
		t.Fatalf("unexpected record %+v", r)
	}
	if len(r.Headers) != 1 || r.Headers[0].Key != "h" {
		t.Fatalf("unexpected headers %+v", r.Headers)
	}
}
