// Package codec converts between the protobuf wire format used on the source
// and sink topics and the typed values in package record.
//
// The messages are small and fixed, so they are read and written field by
// field with protowire instead of through generated code:
//
//	source.v1.Key    { int32 id = 1; }
//	source.v1.Person { int32 id = 1; string name = 2; string favorite_color = 3; int32 age = 4; }
//	sink.v1.Key      { int32 id = 1; }
//	sink.v1.Person   { int32 id = 1; string name = 2; string favorite_color = 3; int32 age = 4;
//	                   string age_group = 5; string source = 6; }
package codec

import (
	"strconv"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"streamworker/internal/record"
)

const (
	fieldID            protowire.Number = 1
	fieldName          protowire.Number = 2
	fieldFavoriteColor protowire.Number = 3
	fieldAge           protowire.Number = 4
	fieldAgeGroup      protowire.Number = 5
	fieldSource        protowire.Number = 6
)

// Decode parses a raw source record. An empty key is accepted and the id is
// taken from the value; a non-empty key must agree with the value id.
func Decode(raw record.Raw) (record.Decoded, error) {
	out := record.Decoded{Position: raw.Position}
	if len(raw.Value) == 0 {
		return out, &DecodeError{Reason: "empty value", Offset: raw.Offset}
	}
	p, err := decodeSourcePerson(raw.Value)
	if err != nil {
		return out, &DecodeError{Reason: "value: " + err.Error(), Offset: raw.Offset}
	}
	out.Value = p
	out.Key = record.SourceKey{ID: p.ID}
	if len(raw.Key) > 0 {
		k, err := decodeKey(raw.Key)
		if err != nil {
			return out, &DecodeError{Reason: "key: " + err.Error(), Offset: raw.Offset}
		}
		if k.ID != p.ID {
			return out, &DecodeError{Reason: "key id does not match value id", Offset: raw.Offset}
		}
		out.Key = k
	}
	return out, nil
}

// Encode serialises an output record into sink.v1.Key / sink.v1.Person bytes.
func Encode(out record.Output) (key, value []byte, err error) {
	v := out.Value
	for _, s := range []string{v.Name, v.FavoriteColor, v.AgeGroup, v.Source} {
		if !utf8.ValidString(s) {
			return nil, nil, &EncodeError{Reason: "string field is not valid UTF-8", Source: out.Source}
		}
	}
	key = appendInt32(nil, fieldID, out.Key.ID)
	value = appendInt32(nil, fieldID, v.ID)
	value = appendString(value, fieldName, v.Name)
	value = appendString(value, fieldFavoriteColor, v.FavoriteColor)
	value = appendInt32(value, fieldAge, v.Age)
	value = appendString(value, fieldAgeGroup, v.AgeGroup)
	value = appendString(value, fieldSource, v.Source)
	return key, value, nil
}

// EncodeSource serialises a source record. Producers of the upstream topic
// and tests use it; the worker itself only decodes source records.
func EncodeSource(k record.SourceKey, p record.SourcePerson) (key, value []byte) {
	key = appendInt32(nil, fieldID, k.ID)
	value = appendInt32(nil, fieldID, p.ID)
	value = appendString(value, fieldName, p.Name)
	value = appendString(value, fieldFavoriteColor, p.FavoriteColor)
	value = appendInt32(value, fieldAge, p.Age)
	return key, value
}

// DecodeSink parses sink.v1.Key / sink.v1.Person bytes.
func DecodeSink(key, value []byte) (record.SinkKey, record.SinkPerson, error) {
	var (
		k record.SinkKey
		p record.SinkPerson
	)
	sk, err := decodeKey(key)
	if err != nil {
		return k, p, err
	}
	k.ID = sk.ID
	err = walk(value, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldID:
			return consumeInt32(typ, b, &p.ID)
		case fieldName:
			return consumeString(typ, b, &p.Name)
		case fieldFavoriteColor:
			return consumeString(typ, b, &p.FavoriteColor)
		case fieldAge:
			return consumeInt32(typ, b, &p.Age)
		case fieldAgeGroup:
			return consumeString(typ, b, &p.AgeGroup)
		case fieldSource:
			return consumeString(typ, b, &p.Source)
		}
		return -1, nil
	})
	return k, p, err
}

func decodeKey(b []byte) (record.SourceKey, error) {
	var k record.SourceKey
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldID {
			return consumeInt32(typ, b, &k.ID)
		}
		return -1, nil
	})
	return k, err
}

func decodeSourcePerson(b []byte) (record.SourcePerson, error) {
	var p record.SourcePerson
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldID:
			return consumeInt32(typ, b, &p.ID)
		case fieldName:
			return consumeString(typ, b, &p.Name)
		case fieldFavoriteColor:
			return consumeString(typ, b, &p.FavoriteColor)
		case fieldAge:
			return consumeInt32(typ, b, &p.Age)
		}
		return -1, nil
	})
	return p, err
}

// walk iterates the fields of one message. fn returns the number of bytes it
// consumed after the tag, or -1 to have walk skip an unknown field.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError("tag", n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return wireError("field "+strconv.Itoa(int(num)), m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeInt32(typ protowire.Type, b []byte, dst *int32) (int, error) {
	if typ != protowire.VarintType {
		return 0, fieldError("int32 field has wire type " + strconv.Itoa(int(typ)))
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, wireError("varint", n)
	}
	*dst = int32(v)
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fieldError("string field has wire type " + strconv.Itoa(int(typ)))
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, wireError("length-delimited", n)
	}
	if !utf8.Valid(v) {
		return 0, fieldError("string field is not valid UTF-8")
	}
	*dst = string(v)
	return n, nil
}

// proto3 omits default values.
func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
