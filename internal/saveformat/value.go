// Package saveformat parses the nested key/value text format used by the
// game's save files into a generic tree. The format is loosely versioned:
// the same key may repeat at one level (a repeated field), references to
// other objects are written as bare integers, and new keys appear between
// game versions. Parsing is single-pass and tolerant; only an unbalanced
// or truncated token stream is a hard error.
package saveformat

import (
	"fmt"
	"strconv"
)

type Kind int

const (
	KindInvalid Kind = iota
	KindString       // quoted string
	KindIdent        // bare identifier (flags, enum-ish values, "none")
	KindInt
	KindFloat
	KindDate // yyyy.mm.dd
	KindBool // yes / no
	KindObject
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindIdent:
		return "ident"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	}
	return "invalid"
}

// Value is one node of the generic tree.
type Value struct {
	Kind Kind

	Str   string  // KindString, KindIdent, KindDate (raw yyyy.mm.dd)
	Int   int64   // KindInt
	Float float64 // KindFloat
	Bool  bool    // KindBool

	Obj  *Object // KindObject
	List []Value // KindList
}

// Object is an ordered multimap: the format allows the same key to repeat
// at one level, and callers must see every occurrence, not just the last.
type Object struct {
	Entries []Entry
}

type Entry struct {
	Key   string
	Value Value
}

// Get returns the first value for key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	for _, e := range o.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// GetAll returns every value stored under key, in file order.
func (o *Object) GetAll(key string) []Value {
	if o == nil {
		return nil
	}
	var out []Value
	for _, e := range o.Entries {
		if e.Key == key {
			out = append(out, e.Value)
		}
	}
	return out
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.Entries)
}

// GetObject returns the first object value for key.
func (o *Object) GetObject(key string) (*Object, bool) {
	v, ok := o.Get(key)
	if !ok || v.Kind != KindObject {
		return nil, false
	}
	return v.Obj, true
}

// GetString returns the first string-ish value (quoted or bare) for key.
func (o *Object) GetString(key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// GetInt returns the first integer value for key.
func (o *Object) GetInt(key string) (int64, bool) {
	v, ok := o.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// GetFloat returns the first numeric value for key.
func (o *Object) GetFloat(key string) (float64, bool) {
	v, ok := o.Get(key)
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}

// GetBool returns the first yes/no value for key.
func (o *Object) GetBool(key string) (bool, bool) {
	v, ok := o.Get(key)
	if !ok || v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// AsString reads quoted strings, bare identifiers, and raw dates.
func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindString, KindIdent, KindDate:
		return v.Str, true
	}
	return "", false
}

func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindFloat:
		return int64(v.Float), true
	}
	return 0, false
}

func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

// Ref reads the value as an object-id reference. The format writes
// references as bare non-negative integers; "none" is the explicit null
// reference. Whether an integer is a reference or a plain number depends
// on the key it sits under, which is the normalizer's call.
func (v Value) Ref() (int64, bool) {
	switch v.Kind {
	case KindInt:
		if v.Int < 0 {
			return 0, false
		}
		return v.Int, true
	case KindIdent:
		if v.Str == "none" {
			return -1, true
		}
	}
	return 0, false
}

// IsNone reports whether the value is the explicit null reference.
func (v Value) IsNone() bool {
	return v.Kind == KindIdent && v.Str == "none"
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return strconv.Quote(v.Str)
	case KindIdent, KindDate:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		if v.Bool {
			return "yes"
		}
		return "no"
	case KindObject:
		return fmt.Sprintf("object(%d entries)", v.Obj.Len())
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.List))
	}
	return "<invalid>"
}
