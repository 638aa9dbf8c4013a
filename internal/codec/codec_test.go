package codec

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"streamworker/internal/record"
	"streamworker/internal/transform"
)

func makeRaw(offset int64, p record.SourcePerson) record.Raw {
	k, v := EncodeSource(record.SourceKey{ID: p.ID}, p)
	return record.Raw{Key: k, Value: v, Position: record.Position{Topic: "people", Partition: 0, Offset: offset}}
}

func TestDecode_RoundTripThroughIdentityOutput(t *testing.T) {
	people := []record.SourcePerson{
		{ID: 1, Name: "Ada Lovelace", FavoriteColor: "green", Age: 36},
		{ID: 2, Name: "Grace", Age: 85},
		{ID: -7, Name: "négatif", FavoriteColor: "blue"},
		{ID: 3},
	}
	for _, p := range people {
		raw := makeRaw(10, p)
		dec, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%+v): %v", p, err)
		}
		if dec.Value != p {
			t.Fatalf("decoded %+v, want %+v", dec.Value, p)
		}
		res := transform.Identity(dec)
		if res.Kind != transform.KindEmit {
			t.Fatalf("Identity kind = %s, want emit", res.Kind)
		}
		out := res.Output
		k, v, err := Encode(out)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		gotKey, gotVal, err := DecodeSink(k, v)
		if err != nil {
			t.Fatalf("DecodeSink: %v", err)
		}
		want := record.SinkPerson{ID: p.ID, Name: p.Name, FavoriteColor: p.FavoriteColor, Age: p.Age}
		if gotKey.ID != p.ID || gotVal != want {
			t.Fatalf("sink round trip: got %+v/%+v want id %d/%+v", gotKey, gotVal, p.ID, want)
		}
	}
}

func TestDecode_EmptyKeyTakesValueID(t *testing.T) {
	raw := makeRaw(3, record.SourcePerson{ID: 42, Name: "x"})
	raw.Key = nil
	dec, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Key.ID != 42 {
		t.Fatalf("key id = %d, want 42", dec.Key.ID)
	}
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	raw := makeRaw(1, record.SourcePerson{ID: 5, Name: "n"})
	raw.Value = protowire.AppendTag(raw.Value, 99, protowire.BytesType)
	raw.Value = protowire.AppendString(raw.Value, "future field")
	dec, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Value.ID != 5 || dec.Value.Name != "n" {
		t.Fatalf("unexpected value %+v", dec.Value)
	}
}

func TestDecode_Malformed(t *testing.T) {
	good := makeRaw(11, record.SourcePerson{ID: 9, Name: "Bob", Age: 30})

	wrongType := protowire.AppendTag(nil, fieldID, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "nine")

	badUTF8 := protowire.AppendTag(nil, fieldName, protowire.BytesType)
	badUTF8 = protowire.AppendBytes(badUTF8, []byte{0xff, 0xfe})

	mismatch := good
	mismatch.Key, _ = EncodeSource(record.SourceKey{ID: 10}, record.SourcePerson{})

	cases := map[string]record.Raw{
		"empty value":    {Position: good.Position},
		"truncated":      {Value: good.Value[:len(good.Value)-1], Position: good.Position},
		"wrong wiretype": {Value: wrongType, Position: good.Position},
		"invalid utf8":   {Value: badUTF8, Position: good.Position},
		"key mismatch":   mismatch,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("want *DecodeError, got %v", err)
			}
			if de.Offset != 11 {
				t.Fatalf("offending offset = %d, want 11", de.Offset)
			}
			if !IsDecodeError(err) {
				t.Fatal("IsDecodeError = false")
			}
		})
	}
}

func TestEncode_RejectsInvalidUTF8(t *testing.T) {
	out := record.Output{Value: record.SinkPerson{ID: 1, Name: string([]byte{0xc3, 0x28})}}
	_, _, err := Encode(out)
	var ee *EncodeError
	if !errors.As(err, &ee) {
		t.Fatalf("want *EncodeError, got %v", err)
	}
}
