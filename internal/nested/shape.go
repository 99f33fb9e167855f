package nested

import "fmt"

// CheckRectangular reports the first sibling array whose length differs from
// its first sibling, walking v to the given rank. Leaf values are not
// inspected; their types are left to Decode.
func CheckRectangular(v any, rank int) error {
	if rank < 1 || rank > 3 {
		return fmt.Errorf("%w: %d", ErrRank, rank)
	}
	_, err := checkLevel(v, rank, nil)
	return err
}

// checkLevel returns the length of v and the shape check result for everything
// below it.
func checkLevel(v any, rank int, p Path) (int, error) {
	rv, err := list(v, p)
	if err != nil {
		return 0, err
	}
	if rank == 1 {
		return rv.Len(), nil
	}
	want := -1
	for i := 0; i < rv.Len(); i++ {
		n, err := checkLevel(rv.Index(i).Interface(), rank-1, p.child(i))
		if err != nil {
			return 0, err
		}
		if want < 0 {
			want = n
			continue
		}
		if n != want {
			return 0, &ShapeError{Path: p.child(i), Want: want, Got: n}
		}
	}
	return rv.Len(), nil
}

// IsRectangular2 reports whether every row of in has the same length.
func IsRectangular2[T Scalar](in [][]T) bool {
	for _, row := range in {
		if len(row) != len(in[0]) {
			return false
		}
	}
	return true
}

// IsRectangular3 reports whether every plane has the same number of rows and
// every row the same length.
func IsRectangular3[T Scalar](in [][][]T) bool {
	for _, plane := range in {
		if len(plane) != len(in[0]) || !IsRectangular2(plane) {
			return false
		}
		if len(plane) > 0 && len(in[0]) > 0 && len(plane[0]) != len(in[0][0]) {
			return false
		}
	}
	return true
}

// Shape2 returns the row count and the length of each row.
func Shape2[T Scalar](in [][]T) (rows int, lens []int) {
	lens = make([]int, len(in))
	for i, row := range in {
		lens[i] = len(row)
	}
	return len(in), lens
}
