package nested

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Scalar is the set of element types a container may hold.
type Scalar interface {
	~float32 | ~float64 | ~int | ~int32 | ~int64
}

func typeName[T Scalar]() string {
	var zero T
	return reflect.TypeOf(zero).String()
}

func isFloat[T Scalar]() bool {
	var zero T
	k := reflect.TypeOf(zero).Kind()
	return k == reflect.Float32 || k == reflect.Float64
}

// describe names the dynamic type of v for error messages.
func describe(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// extract converts one dynamic element into T.
//
// Float targets take any numeric kind. Integer targets take integer kinds and
// floats without a fractional part, which is what JSON and JS hosts produce for
// whole numbers. Booleans and strings are never numbers here.
func extract[T Scalar](v any, p Path) (T, error) {
	var zero T
	mismatch := func() (T, error) {
		return zero, &TypeError{Path: p, Want: typeName[T](), Got: describe(v)}
	}

	if n, ok := v.(json.Number); ok {
		if isFloat[T]() {
			f, err := n.Float64()
			if err != nil {
				return mismatch()
			}
			return fromFloat[T](f, v, p)
		}
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return mismatch()
			}
			return fromFloat[T](f, v, p)
		}
		return fromInt[T](i, v, p)
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return mismatch()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fromInt[T](rv.Int(), v, p)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return mismatch()
		}
		return fromInt[T](int64(u), v, p)
	case reflect.Float32, reflect.Float64:
		return fromFloat[T](rv.Float(), v, p)
	default:
		return mismatch()
	}
}

func fromInt[T Scalar](i int64, v any, p Path) (T, error) {
	out := T(i)
	if !isFloat[T]() && int64(out) != i {
		return out, &TypeError{Path: p, Want: typeName[T](), Got: fmt.Sprintf("%s %d (overflow)", describe(v), i)}
	}
	return out, nil
}

// fromFloat converts f without changing its value. Non-finite values are
// rejected for every target, as is anything a float32 target cannot hold.
func fromFloat[T Scalar](f float64, v any, p Path) (T, error) {
	var zero T
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return zero, &TypeError{Path: p, Want: typeName[T](), Got: fmt.Sprintf("%s %v", describe(v), f)}
	}
	if isFloat[T]() {
		if reflect.TypeOf(zero).Kind() == reflect.Float32 && math.Abs(f) > math.MaxFloat32 {
			return zero, &TypeError{Path: p, Want: typeName[T](), Got: fmt.Sprintf("%s %v (overflow)", describe(v), f)}
		}
		return T(f), nil
	}
	if f != math.Trunc(f) {
		return zero, &TypeError{Path: p, Want: typeName[T](), Got: fmt.Sprintf("%s %v", describe(v), f)}
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return zero, &TypeError{Path: p, Want: typeName[T](), Got: fmt.Sprintf("%s %v (overflow)", describe(v), f)}
	}
	return fromInt[T](int64(f), v, p)
}

// ScalarOf decodes a single dynamic number, e.g. a seed or an agent id.
func ScalarOf[T Scalar](v any) (T, error) {
	return extract[T](v, nil)
}
