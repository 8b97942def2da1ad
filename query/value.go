package query

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Kind identifies which concrete type a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindText
	KindInt
	KindFloat
	KindBool
	KindDate
	KindList
)

var kindNames = [...]string{"null", "text", "int", "float", "bool", "date", "list"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a filter or assignment value. Only the kinds the backend accepts
// can be represented; a list holds scalars only.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
	list []Value
}

func Null() Value { return Value{kind: KindNull} }
func Text(s string) Value { return Value{kind: KindText, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Date(t time.Time) Value { return Value{kind: KindDate, t: t} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsList() bool { return v.kind == KindList }
func (v Value) Len() int { return len(v.list) }
func (v Value) Items() []Value { return append([]Value(nil), v.list...) }

// List builds a list value. Nested lists are rejected by ValueOf; List
// itself panics on them since the caller controls the input statically.
func List(items ...Value) Value {
	for _, it := range items {
		if it.kind == KindList {
			panic("query: nested list value")
		}
	}
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// Arg returns the value in the form handed to database/sql.
func (v Value) Arg() interface{} {
	switch v.kind {
	case KindText:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindDate:
		return v.t
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, it := range v.list {
			out[i] = it.Arg()
		}
		return out
	default:
		return nil
	}
}

// String renders the value with a kind tag, so that Int(1) and Text("1")
// never collide when used as key material.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return "s:" + v.s
	case KindInt:
		return "i:" + strconv.FormatInt(v.i, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.b)
	case KindDate:
		return "d:" + v.t.UTC().Format(time.RFC3339Nano)
	case KindList:
		s := "l["
		for i, it := range v.list {
			if i > 0 {
				s += ","
			}
			s += it.String()
		}
		return s + "]"
	default:
		return "null"
	}
}

var timeType = reflect.TypeOf(time.Time{})

// ValueOf converts a Go value into a Value. Supported inputs are nil,
// Value, strings, integers, floats, bools, time.Time, pointers to those
// and slices or arrays of scalars.
func ValueOf(x interface{}) (Value, error) {
	return valueOf(x, true)
}

func valueOf(x interface{}, allowList bool) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		if t.kind == KindList && !allowList {
			return Value{}, fmt.Errorf("%w: nested list", ErrInvalidValue)
		}
		return t, nil
	case string:
		return Text(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case time.Time:
		return Date(t), nil
	case []byte:
		return Value{}, fmt.Errorf("%w: []byte is not a supported value", ErrInvalidValue)
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return Null(), nil
		}
		return valueOf(rv.Elem().Interface(), allowList)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > 1<<63-1 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrInvalidValue, u)
		}
		return Int(int64(u)), nil
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Slice, reflect.Array:
		if !allowList {
			return Value{}, fmt.Errorf("%w: nested list", ErrInvalidValue)
		}
		items := make([]Value, rv.Len())
		for i := range items {
			it, err := valueOf(rv.Index(i).Interface(), false)
			if err != nil {
				return Value{}, err
			}
			items[i] = it
		}
		return Value{kind: KindList, list: items}, nil
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return Date(rv.Convert(timeType).Interface().(time.Time)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, x)
}
