package jsonbridge

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"

	"github.com/teaberrycow/asynchttp/pkg/errors"
)

// State names the deserializer's position in the JSON grammar. Nested
// records are handled by a recursive call rather than an explicit
// state stack, Go's own call stack standing in for the "push a child
// handler" step.
type State int

const (
	StateInit State = iota
	StateInObject
	StateInArray
	StateRecursed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateInObject:
		return "in_object"
	case StateInArray:
		return "in_array"
	case StateRecursed:
		return "recursed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// DecodeOptions configures a Decoder.
type DecodeOptions struct {
	// StrictUnknownFields turns an object key with no matching field
	// into an UnknownPropertyError instead of skipping it.
	StrictUnknownFields bool
	// MaxMemoryConsumption bounds the cumulative bytes one Decode call
	// may consume across scalar assignments and container growth.
	// Zero disables the check.
	MaxMemoryConsumption int64
	// FieldNames optionally remaps a JSON key to a different name
	// before it's looked up in the target's field list.
	FieldNames map[string]string
}

// Decoder is a SAX-style pull parser layered over
// encoding/json.Decoder.Token(): the standard library already streams
// well-formed JSON tokens, so the bridge only adds record-shaped
// dispatch and the memory budget on top of it.
type Decoder struct {
	tok      *json.Decoder
	opts     DecodeOptions
	state    State
	budget   int64
	noBudget bool
}

// NewDecoder wraps r. The stream is read incrementally; nothing beyond
// one Token() lookahead is ever buffered by the decoder itself.
func NewDecoder(r io.Reader, opts DecodeOptions) *Decoder {
	tok := json.NewDecoder(r)
	tok.UseNumber()
	d := &Decoder{tok: tok, opts: opts, state: StateInit}
	if opts.MaxMemoryConsumption <= 0 {
		d.noBudget = true
	} else {
		d.budget = opts.MaxMemoryConsumption
	}
	return d
}

// State reports the decoder's current position, mostly useful for
// diagnostics and tests.
func (d *Decoder) State() State { return d.state }

func (d *Decoder) charge(n int) error {
	if d.noBudget {
		return nil
	}
	d.budget -= int64(n)
	if d.budget <= 0 {
		return errors.NewConstraintError("json decode", "max_memory_consumption exceeded")
	}
	return nil
}

// Decode reads exactly one JSON value from the stream into v, which
// must be a non-nil pointer.
func (d *Decoder) Decode(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.NewValidationError("jsonbridge: Decode target must be a non-nil pointer")
	}
	d.state = StateInit
	if err := d.decodeValue(rv.Elem()); err != nil {
		return err
	}
	d.state = StateDone
	return nil
}

// decodeValue reads the next token and assigns it into dst, recursing
// for object/array shapes.
func (d *Decoder) decodeValue(dst reflect.Value) error {
	for dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	tok, err := d.tok.Token()
	if err != nil {
		return errors.NewParseError("json decode", "reading value", err)
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			d.state = StateInObject
			return d.decodeObject(dst)
		case '[':
			d.state = StateInArray
			return d.decodeArray(dst)
		default:
			return errors.NewParseError("json decode", fmt.Sprintf("unexpected delimiter %q", t), nil)
		}
	case nil:
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	case bool:
		return d.assignBool(dst, t)
	case json.Number:
		return d.assignNumber(dst, t)
	case string:
		return d.assignString(dst, t)
	default:
		return errors.NewParseError("json decode", fmt.Sprintf("unsupported token type %T", tok), nil)
	}
}

func (d *Decoder) assignBool(dst reflect.Value, v bool) error {
	if err := d.charge(1); err != nil {
		return err
	}
	switch dst.Kind() {
	case reflect.Bool:
		dst.SetBool(v)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v {
			dst.SetInt(1)
		} else {
			dst.SetInt(0)
		}
		return nil
	case reflect.Interface:
		dst.Set(reflect.ValueOf(v))
		return nil
	default:
		return errors.NewParseError("json decode", fmt.Sprintf("cannot assign bool into %s", dst.Kind()), nil)
	}
}

func (d *Decoder) assignString(dst reflect.Value, v string) error {
	if err := d.charge(len(v)); err != nil {
		return err
	}
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(v)
		return nil
	case reflect.Interface:
		dst.Set(reflect.ValueOf(v))
		return nil
	default:
		return errors.NewParseError("json decode", fmt.Sprintf("cannot assign string into %s", dst.Kind()), nil)
	}
}

func (d *Decoder) assignNumber(dst reflect.Value, v json.Number) error {
	if err := d.charge(len(v)); err != nil {
		return err
	}

	if dst.Type() == rawNumberType {
		dst.Set(reflect.ValueOf(v))
		return nil
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := v.Int64()
		if err != nil {
			return errors.NewParseError("json decode", "integer value out of range or non-integral", err)
		}
		if dst.OverflowInt(n) {
			return errors.NewParseError("json decode", fmt.Sprintf("value %d overflows %s", n, dst.Type()), nil)
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			return errors.NewParseError("json decode", "unsigned integer value invalid", err)
		}
		if dst.OverflowUint(n) {
			return errors.NewParseError("json decode", fmt.Sprintf("value %d overflows %s", n, dst.Type()), nil)
		}
		dst.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := v.Float64()
		if err != nil {
			return errors.NewParseError("json decode", "invalid floating-point value", err)
		}
		dst.SetFloat(f)
		return nil
	case reflect.Bool:
		n, err := v.Int64()
		if err != nil || (n != 0 && n != 1) {
			return errors.NewParseError("json decode", "cannot coerce number to bool", nil)
		}
		dst.SetBool(n == 1)
		return nil
	case reflect.Interface:
		dst.Set(reflect.ValueOf(v))
		return nil
	default:
		return errors.NewParseError("json decode", fmt.Sprintf("cannot assign number into %s", dst.Kind()), nil)
	}
}

func (d *Decoder) decodeObject(dst reflect.Value) error {
	switch dst.Kind() {
	case reflect.Struct:
		return d.decodeStruct(dst)
	case reflect.Map:
		return d.decodeMap(dst)
	case reflect.Interface:
		if dst.NumMethod() != 0 {
			return errors.NewParseError("json decode", "cannot decode object into non-empty interface", nil)
		}
		m := reflect.MakeMap(reflect.TypeOf(map[string]interface{}{}))
		if err := d.decodeMap(m); err != nil {
			return err
		}
		dst.Set(m)
		return nil
	default:
		return errors.NewParseError("json decode", fmt.Sprintf("cannot decode object into %s", dst.Kind()), nil)
	}
}

func (d *Decoder) decodeStruct(dst reflect.Value) error {
	desc := describe(dst.Type())
	for d.tok.More() {
		keyTok, err := d.tok.Token()
		if err != nil {
			return errors.NewParseError("json decode", "reading object key", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.NewParseError("json decode", "object key is not a string", nil)
		}
		if err := d.charge(len(key)); err != nil {
			return err
		}

		name := key
		if d.opts.FieldNames != nil {
			if mapped, ok := d.opts.FieldNames[key]; ok {
				name = mapped
			}
		}
		fd := desc.byName[name]
		if fd == nil {
			if d.opts.StrictUnknownFields {
				return errors.NewUnknownPropertyError(key)
			}
			if err := d.skipValue(); err != nil {
				return err
			}
			continue
		}

		prevState := d.state
		d.state = StateRecursed
		if err := d.decodeValue(dst.FieldByIndex(fd.index)); err != nil {
			return err
		}
		d.state = prevState
	}
	_, err := d.tok.Token() // closing '}'
	if err != nil {
		return errors.NewParseError("json decode", "reading object end", err)
	}
	return nil
}

func (d *Decoder) decodeMap(dst reflect.Value) error {
	if dst.Type().Key().Kind() != reflect.String {
		return errors.NewParseError("json decode", "map keys must be strings", nil)
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	elemType := dst.Type().Elem()
	for d.tok.More() {
		keyTok, err := d.tok.Token()
		if err != nil {
			return errors.NewParseError("json decode", "reading map key", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.NewParseError("json decode", "map key is not a string", nil)
		}
		if err := d.charge(len(key)); err != nil {
			return err
		}
		elem := reflect.New(elemType).Elem()
		if err := d.decodeValue(elem); err != nil {
			return err
		}
		dst.SetMapIndex(reflect.ValueOf(key).Convert(dst.Type().Key()), elem)
	}
	_, err := d.tok.Token() // closing '}'
	if err != nil {
		return errors.NewParseError("json decode", "reading object end", err)
	}
	return nil
}

// decodeArray handles start_object-per-element for arrays of records
// (via decodeValue's struct dispatch) and plain appends for arrays of
// scalars.
func (d *Decoder) decodeArray(dst reflect.Value) error {
	switch dst.Kind() {
	case reflect.Slice:
		dst.Set(reflect.MakeSlice(dst.Type(), 0, 0))
		for d.tok.More() {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := d.decodeValue(elem); err != nil {
				return err
			}
			if err := d.charge(int(elem.Type().Size())); err != nil {
				return err
			}
			dst.Set(reflect.Append(dst, elem))
		}
	case reflect.Array:
		i := 0
		for d.tok.More() {
			if i >= dst.Len() {
				if err := d.skipValue(); err != nil {
					return err
				}
				i++
				continue
			}
			if err := d.decodeValue(dst.Index(i)); err != nil {
				return err
			}
			i++
		}
	case reflect.Interface:
		if dst.NumMethod() != 0 {
			return errors.NewParseError("json decode", "cannot decode array into non-empty interface", nil)
		}
		var out []interface{}
		for d.tok.More() {
			var v interface{}
			if err := d.decodeValue(reflect.ValueOf(&v).Elem()); err != nil {
				return err
			}
			out = append(out, v)
		}
		dst.Set(reflect.ValueOf(out))
	default:
		return errors.NewParseError("json decode", fmt.Sprintf("cannot decode array into %s", dst.Kind()), nil)
	}
	_, err := d.tok.Token() // closing ']'
	if err != nil {
		return errors.NewParseError("json decode", "reading array end", err)
	}
	return nil
}

// skipValue discards one well-formed JSON value without allocating
// anything for it, used for unmapped object keys when
// StrictUnknownFields is false.
func (d *Decoder) skipValue() error {
	tok, err := d.tok.Token()
	if err != nil {
		return errors.NewParseError("json decode", "skipping value", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := d.tok.Token()
		if err != nil {
			return errors.NewParseError("json decode", "skipping value", err)
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
