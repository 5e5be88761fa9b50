package jsonbridge

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/teaberrycow/asynchttp/pkg/errors"
)

type account struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Balance float64     `json:"balance"`
	Active  bool        `json:"active"`
	Raw     json.Number `json:"raw,omitempty"`
}

// Scenario 6: serializing then deserializing a record yields an equal
// record.
func TestRoundTripRecord(t *testing.T) {
	in := account{ID: 100, Name: "John Doe", Balance: 123.45, Active: true}

	var buf bytes.Buffer
	if err := NewEncoder(&buf, EncodeOptions{}).Encode(in); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out account
	if err := NewDecoder(&buf, DecodeOptions{}).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

// ignore_empty_fields omits fields holding their type's zero value.
func TestEncodeIgnoreEmptyFields(t *testing.T) {
	in := account{ID: 0, Name: "", Balance: 0, Active: false}

	var buf bytes.Buffer
	if err := NewEncoder(&buf, EncodeOptions{IgnoreEmptyFields: true}).Encode(in); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.String() != "{}" {
		t.Fatalf("got %q, want {}", buf.String())
	}
}

func TestEncodeExcludedFields(t *testing.T) {
	in := account{ID: 1, Name: "A"}
	var buf bytes.Buffer
	err := NewEncoder(&buf, EncodeOptions{ExcludedFields: map[string]bool{"name": true}}).Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(buf.String(), "name") {
		t.Fatalf("excluded field leaked into output: %s", buf.String())
	}
}

func TestDecodeUnknownFieldSkippedByDefault(t *testing.T) {
	src := `{"id":1,"name":"A","extra":{"nested":true},"balance":1.5,"active":false}`
	var out account
	if err := NewDecoder(strings.NewReader(src), DecodeOptions{}).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.ID != 1 || out.Name != "A" {
		t.Fatalf("got %+v", out)
	}
}

func TestDecodeUnknownFieldStrictFails(t *testing.T) {
	src := `{"id":1,"extra":1}`
	var out account
	err := NewDecoder(strings.NewReader(src), DecodeOptions{StrictUnknownFields: true}).Decode(&out)
	if err == nil {
		t.Fatal("expected UnknownPropertyError, got nil")
	}
	if errors.GetKind(err) != errors.KindUnknownProperty {
		t.Fatalf("GetKind(err) = %v", errors.GetKind(err))
	}
}

// An integer overflowing the target width is a ParseError, per the
// explicit boundary behavior in the testable-properties list.
func TestDecodeIntegerOverflowIsParseError(t *testing.T) {
	type narrow struct {
		V int8 `json:"v"`
	}
	var out narrow
	err := NewDecoder(strings.NewReader(`{"v":1000}`), DecodeOptions{}).Decode(&out)
	if err == nil {
		t.Fatal("expected ParseError, got nil")
	}
	if errors.GetKind(err) != errors.KindParse {
		t.Fatalf("GetKind(err) = %v", errors.GetKind(err))
	}
}

func TestDecodeMemoryBudgetExceeded(t *testing.T) {
	type rec struct {
		Name string `json:"name"`
	}
	var out rec
	err := NewDecoder(strings.NewReader(`{"name":"a very long string value"}`), DecodeOptions{MaxMemoryConsumption: 4}).Decode(&out)
	if err == nil {
		t.Fatal("expected ConstraintError, got nil")
	}
	if errors.GetKind(err) != errors.KindConstraint {
		t.Fatalf("GetKind(err) = %v", errors.GetKind(err))
	}
}

// A json.Number field captures the raw decimal text instead of being
// coerced to float64/int64.
func TestRawNumberFieldPreservesText(t *testing.T) {
	type rec struct {
		V json.Number `json:"v"`
	}
	var out rec
	if err := NewDecoder(strings.NewReader(`{"v":123456789012345678901234567890}`), DecodeOptions{}).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.V.String() != "123456789012345678901234567890" {
		t.Fatalf("got %q", out.V.String())
	}
}

func TestDecodeNestedRecord(t *testing.T) {
	type inner struct {
		City string `json:"city"`
	}
	type outer struct {
		Name    string `json:"name"`
		Address inner  `json:"address"`
	}
	var out outer
	src := `{"name":"A","address":{"city":"Metropolis"}}`
	if err := NewDecoder(strings.NewReader(src), DecodeOptions{}).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Address.City != "Metropolis" {
		t.Fatalf("got %+v", out)
	}
}

func TestDecodeSliceOfRecords(t *testing.T) {
	type item struct {
		ID int `json:"id"`
	}
	var out []item
	src := `[{"id":1},{"id":2},{"id":3}]`
	if err := NewDecoder(strings.NewReader(src), DecodeOptions{}).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 3 || out[2].ID != 3 {
		t.Fatalf("got %+v", out)
	}
}

func TestDecodeMapStringToInt(t *testing.T) {
	var out map[string]int
	if err := NewDecoder(strings.NewReader(`{"a":1,"b":2}`), DecodeOptions{}).Decode(&out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["a"] != 1 || out["b"] != 2 {
		t.Fatalf("got %+v", out)
	}
}

func TestArrayCursorIteratesElements(t *testing.T) {
	type item struct {
		ID int `json:"id"`
	}
	r := &sliceReader{chunks: [][]byte{[]byte(`[{"id":1},{"id":2}`), []byte(`,{"id":3}]`)}}
	cur := NewArrayCursor[item](r, DecodeOptions{})

	var got []int
	for {
		v, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, v.ID)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("got %v", got)
	}
}

// sliceReader is a minimal pipeline.Reader test double that hands back
// one chunk per ReadSome call, simulating a response body arriving in
// multiple TCP reads.
type sliceReader struct {
	chunks [][]byte
	i      int
}

func (r *sliceReader) ReadSome() ([]byte, error) {
	if r.i >= len(r.chunks) {
		return nil, nil
	}
	c := r.chunks[r.i]
	r.i++
	return c, nil
}

func (r *sliceReader) IsEOF() bool { return r.i >= len(r.chunks) }
