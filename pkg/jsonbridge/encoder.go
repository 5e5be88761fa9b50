package jsonbridge

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"

	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// EncodeOptions configures an Encoder.
type EncodeOptions struct {
	// IgnoreEmptyFields omits a field whose value is the zero value of
	// its type (empty string, zero number, nil/empty container).
	IgnoreEmptyFields bool
	// ExcludedFields names JSON field names to omit unconditionally.
	ExcludedFields map[string]bool
}

// Encoder walks a cached recordDesc and writes JSON straight into w,
// so a caller can point it at a pkg/buffer.Buffer and hand the result
// to a ChunkedLazyPush body without a full-payload allocation.
type Encoder struct {
	w    io.Writer
	opts EncodeOptions
}

func NewEncoder(w io.Writer, opts EncodeOptions) *Encoder {
	return &Encoder{w: w, opts: opts}
}

// Encode writes v as one JSON value.
func (e *Encoder) Encode(v interface{}) error {
	return e.encodeValue(reflect.ValueOf(v))
}

func (e *Encoder) encodeValue(rv reflect.Value) error {
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return e.writeRaw("null")
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		if rv.Type() == rawNumberType {
			return e.writeRaw(rv.String())
		}
		return e.encodeStruct(rv)
	case reflect.Map:
		return e.encodeMap(rv)
	case reflect.Slice, reflect.Array:
		return e.encodeArray(rv)
	case reflect.String:
		return e.encodeString(rv.String())
	case reflect.Bool:
		return e.writeRaw(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeRaw(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.writeRaw(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return e.writeRaw(strconv.FormatFloat(rv.Float(), 'g', -1, 64))
	default:
		return errors.NewValidationError(fmt.Sprintf("jsonbridge: cannot encode %s", rv.Kind()))
	}
}

func (e *Encoder) writeRaw(s string) error {
	if _, err := io.WriteString(e.w, s); err != nil {
		return errors.NewIOError("writing json", err)
	}
	return nil
}

// encodeString reuses encoding/json's escaping instead of re-deriving
// the JSON string grammar by hand.
func (e *Encoder) encodeString(s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return errors.NewParseError("json encode", "marshalling string", err)
	}
	return e.writeRaw(string(b))
}

func (e *Encoder) encodeStruct(rv reflect.Value) error {
	if err := e.writeRaw("{"); err != nil {
		return err
	}
	desc := describe(rv.Type())
	wrote := false
	for i := range desc.fields {
		fd := &desc.fields[i]
		if e.opts.ExcludedFields != nil && e.opts.ExcludedFields[fd.name] {
			continue
		}
		field := rv.FieldByIndex(fd.index)
		if e.opts.IgnoreEmptyFields && isEmptyValue(field) {
			continue
		}
		if wrote {
			if err := e.writeRaw(","); err != nil {
				return err
			}
		}
		wrote = true
		if err := e.encodeString(fd.name); err != nil {
			return err
		}
		if err := e.writeRaw(":"); err != nil {
			return err
		}
		if fd.isRawNumber {
			s := field.String()
			if s == "" {
				s = "null"
			}
			if err := e.writeRaw(s); err != nil {
				return err
			}
			continue
		}
		if err := e.encodeValue(field); err != nil {
			return err
		}
	}
	return e.writeRaw("}")
}

func (e *Encoder) encodeMap(rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return errors.NewValidationError("jsonbridge: map keys must be strings")
	}
	if err := e.writeRaw("{"); err != nil {
		return err
	}
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	wrote := false
	for _, k := range keys {
		val := rv.MapIndex(k)
		if e.opts.IgnoreEmptyFields && isEmptyValue(val) {
			continue
		}
		if wrote {
			if err := e.writeRaw(","); err != nil {
				return err
			}
		}
		wrote = true
		if err := e.encodeString(k.String()); err != nil {
			return err
		}
		if err := e.writeRaw(":"); err != nil {
			return err
		}
		if err := e.encodeValue(val); err != nil {
			return err
		}
	}
	return e.writeRaw("}")
}

func (e *Encoder) encodeArray(rv reflect.Value) error {
	if err := e.writeRaw("["); err != nil {
		return err
	}
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			if err := e.writeRaw(","); err != nil {
				return err
			}
		}
		if err := e.encodeValue(rv.Index(i)); err != nil {
			return err
		}
	}
	return e.writeRaw("]")
}
