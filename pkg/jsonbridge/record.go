// Package jsonbridge implements the record-shaped (de)serialization
// bridge: a cached reflect-derived field list per Go type drives a
// SAX-style decoder built on encoding/json.Decoder.Token() and a
// mirroring encoder, so a caller works with native structs instead of
// map[string]interface{} while the wire format stays streaming.
package jsonbridge

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

var rawNumberType = reflect.TypeOf(json.Number(""))

// fieldDesc describes one struct field: its JSON name and the index
// path reflect.Value.FieldByIndex needs to reach it directly, even
// through embedded structs.
type fieldDesc struct {
	name        string
	index       []int
	isRawNumber bool
}

// recordDesc is the field list built once per reflect.Type.
type recordDesc struct {
	fields []fieldDesc
	byName map[string]*fieldDesc
}

var descCache sync.Map // map[reflect.Type]*recordDesc

// describe returns t's cached recordDesc, building it on first use.
func describe(t reflect.Type) *recordDesc {
	if cached, ok := descCache.Load(t); ok {
		return cached.(*recordDesc)
	}
	d := buildRecordDesc(t)
	actual, _ := descCache.LoadOrStore(t, d)
	return actual.(*recordDesc)
}

func buildRecordDesc(t reflect.Type) *recordDesc {
	d := &recordDesc{byName: make(map[string]*fieldDesc)}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" && !f.Anonymous {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := f.Name
		if tag != "" {
			if idx := strings.IndexByte(tag, ','); idx >= 0 {
				if tag[:idx] != "" {
					name = tag[:idx]
				}
			} else {
				name = tag
			}
		}
		d.fields = append(d.fields, fieldDesc{
			name:        name,
			index:       f.Index,
			isRawNumber: f.Type == rawNumberType,
		})
	}
	for i := range d.fields {
		d.byName[d.fields[i].name] = &d.fields[i]
	}
	return d
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
