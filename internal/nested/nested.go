// Package nested converts between dynamic nested array values, as produced by
// JSON decoding or a script runtime's export, and fixed-rank numeric slices.
//
// A dynamic array value is any Go slice or array, canonically []any, whose
// elements are numbers or further dynamic array values. Conversion preserves
// element order and value at every level and never reshapes: sibling arrays may
// differ in length. Use CheckRectangular where uniform rows are required.
package nested

import (
	"fmt"
	"reflect"
)

// list views v as an ordered sequence. Strings and byte slices are not
// sequences: they hold bytes, not numbers.
func list(v any, p Path) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.IsValid() {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			if rv.Type().Elem().Kind() != reflect.Uint8 {
				return rv, nil
			}
		}
	}
	return reflect.Value{}, &TypeError{Path: p, Want: "array", Got: describe(v)}
}

// decodeEach decodes every element of the dynamic array v with elem. Each rank
// is decodeEach with the rank below it as elem, so ranks 1 to 3 share one walk.
// The result is nil whenever err is non-nil.
func decodeEach[E any](v any, p Path, elem func(any, Path) (E, error)) ([]E, error) {
	rv, err := list(v, p)
	if err != nil {
		return nil, err
	}
	out := make([]E, rv.Len())
	for i := range out {
		e, err := elem(rv.Index(i).Interface(), p.child(i))
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func decode1[T Scalar](v any, p Path) ([]T, error) {
	return decodeEach(v, p, extract[T])
}

func decode2[T Scalar](v any, p Path) ([][]T, error) {
	return decodeEach(v, p, decode1[T])
}

func decode3[T Scalar](v any, p Path) ([][][]T, error) {
	return decodeEach(v, p, decode2[T])
}

// Decode1 converts a flat dynamic array into []T.
func Decode1[T Scalar](v any) ([]T, error) { return decode1[T](v, nil) }

// Decode2 converts a dynamic array of arrays into [][]T. Inner lengths may differ.
func Decode2[T Scalar](v any) ([][]T, error) { return decode2[T](v, nil) }

// Decode3 converts a three-level dynamic array into [][][]T.
func Decode3[T Scalar](v any) ([][][]T, error) { return decode3[T](v, nil) }

// Decode converts v at a rank chosen at runtime. The concrete result is []T,
// [][]T or [][][]T.
func Decode[T Scalar](v any, rank int) (any, error) {
	switch rank {
	case 1:
		return Decode1[T](v)
	case 2:
		return Decode2[T](v)
	case 3:
		return Decode3[T](v)
	default:
		return nil, fmt.Errorf("%w: %d", ErrRank, rank)
	}
}

func encodeEach[E any](in []E, elem func(E) any) []any {
	out := make([]any, 0, len(in))
	for _, e := range in {
		out = append(out, elem(e))
	}
	return out
}

func scalarAny[T Scalar](v T) any { return v }

// Encode1 converts []T into a dynamic array. The result is never nil.
func Encode1[T Scalar](in []T) []any {
	return encodeEach(in, scalarAny[T])
}

// Encode2 converts [][]T into a dynamic array of arrays.
func Encode2[T Scalar](in [][]T) []any {
	return encodeEach(in, func(row []T) any { return Encode1(row) })
}

// Encode3 converts [][][]T into a three-level dynamic array.
func Encode3[T Scalar](in [][][]T) []any {
	return encodeEach(in, func(plane [][]T) any { return Encode2(plane) })
}
