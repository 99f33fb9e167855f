package nested

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeMismatch is matched by every *TypeError.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrRagged is matched by every *ShapeError.
	ErrRagged = errors.New("ragged array")
	// ErrRank is returned for ranks outside 1..3.
	ErrRank = errors.New("unsupported rank")
)

// Path locates an element inside a nested value, outermost index first.
type Path []int

func (p Path) String() string {
	if len(p) == 0 {
		return "value"
	}
	var b strings.Builder
	b.WriteString("element ")
	for _, i := range p {
		fmt.Fprintf(&b, "[%d]", i)
	}
	return b.String()
}

// child returns a copy of p extended by i. Paths are retained by errors, so the
// backing array must never be shared between siblings.
func (p Path) child(i int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = i
	return out
}

// TypeError reports an element that is not the expected scalar or array.
type TypeError struct {
	Path Path
	Want string
	Got  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Path, e.Want, e.Got)
}

// Is lets errors.Is(err, ErrTypeMismatch) match.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// ShapeError reports a sibling array whose length differs from the first sibling.
type ShapeError struct {
	Path Path
	Want int
	Got  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected length %d, got %d", e.Path, e.Want, e.Got)
}

// Is lets errors.Is(err, ErrRagged) match.
func (e *ShapeError) Is(target error) bool {
	return target == ErrRagged
}
