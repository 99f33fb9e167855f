package nested

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTripNative(t *testing.T) {
	r1 := []float32{0.25, -1, 3.5}
	r2 := [][]float32{{1, 2}, {3, 4}, {}}
	r3 := [][][]int{{{1}, {2, 3}}, {{4, 5, 6}}}

	got1, err := Decode1[float32](Encode1(r1))
	require.NoError(t, err)
	if diff := cmp.Diff(r1, got1); diff != "" {
		t.Errorf("rank 1 round trip (-want +got):\n%s", diff)
	}

	got2, err := Decode2[float32](Encode2(r2))
	require.NoError(t, err)
	if diff := cmp.Diff(r2, got2); diff != "" {
		t.Errorf("rank 2 round trip (-want +got):\n%s", diff)
	}

	got3, err := Decode3[int](Encode3(r3))
	require.NoError(t, err)
	if diff := cmp.Diff(r3, got3); diff != "" {
		t.Errorf("rank 3 round trip (-want +got):\n%s", diff)
	}
}

func TestEncodeRoundTripDynamic(t *testing.T) {
	a2 := []any{[]any{1.5, 2.5}, []any{-3.0, 4.0}}
	got, err := Decode2[float64](a2)
	require.NoError(t, err)
	if diff := cmp.Diff(a2, Encode2(got)); diff != "" {
		t.Errorf("rank 2 (-want +got):\n%s", diff)
	}

	a3 := []any{[]any{[]any{int64(1), int64(2)}}, []any{[]any{int64(3), int64(4)}}}
	got3, err := Decode3[int64](a3)
	require.NoError(t, err)
	if diff := cmp.Diff(a3, Encode3(got3)); diff != "" {
		t.Errorf("rank 3 (-want +got):\n%s", diff)
	}
}

func TestDecodePreservesOrder(t *testing.T) {
	in := []any{[]any{9.0, 8.0, 7.0}, []any{1.0}, []any{5.0, 6.0}}
	got, err := Decode2[float32](in)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{9, 8, 7}, {1}, {5, 6}}, got)
}

func TestDecodeRaggedIsAccepted(t *testing.T) {
	in := []any{[]any{0.0, 1.0}, []any{0.5, -0.5, 2.0}}
	got, err := Decode2[float32](in)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0], 2)
	assert.Len(t, got[1], 3)
	assert.Equal(t, [][]float32{{0, 1}, {0.5, -0.5, 2}}, got)
	assert.False(t, IsRectangular2(got))
}

func TestDecodeScalarWhereArrayExpected(t *testing.T) {
	in := []any{[]any{1.0, 2.0}, 3.0}
	got, err := Decode2[float32](in)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	var te *TypeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, Path{1}, te.Path)
	assert.Equal(t, "array", te.Want)
	assert.Equal(t, "element [1]: expected array, got float64", err.Error())
}

func TestDecodeArrayWhereScalarExpected(t *testing.T) {
	in := []any{[]any{[]any{1.0}, []any{2.0, []any{3.0}}}}
	got, err := Decode3[float64](in)
	require.Error(t, err)
	assert.Nil(t, got)

	var te *TypeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, Path{0, 1, 1}, te.Path)
	assert.Equal(t, "float64", te.Want)
}

func TestDecodeScalars(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    []int
		wantErr bool
	}{
		{name: "json floats", in: []any{1.0, 2.0}, want: []int{1, 2}},
		{name: "mixed int kinds", in: []any{int64(3), int32(4), uint8(5), 6}, want: []int{3, 4, 5, 6}},
		{name: "json numbers", in: []any{json.Number("7"), json.Number("8.0")}, want: []int{7, 8}},
		{name: "typed slice", in: []float64{9, 10}, want: []int{9, 10}},
		{name: "fractional", in: []any{1.5}, wantErr: true},
		{name: "bool", in: []any{true}, wantErr: true},
		{name: "string", in: []any{"1"}, wantErr: true},
		{name: "nil element", in: []any{nil}, wantErr: true},
		{name: "not an array", in: "123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode1[int](tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrTypeMismatch)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFloatAcceptsIntegers(t *testing.T) {
	got, err := Decode1[float32]([]any{int64(2), 1, json.Number("0.5")})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1, 0.5}, got)
}

func TestDecodeIntOverflow(t *testing.T) {
	_, err := Decode1[int32]([]any{int64(1) << 40})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeRejectsValueChanges(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{name: "above float32 range", in: []any{1e39}},
		{name: "below float32 range", in: []any{-1e39}},
		{name: "json number above float32 range", in: []any{json.Number("1e39")}},
		{name: "positive infinity", in: []any{math.Inf(1)}},
		{name: "negative infinity", in: []any{math.Inf(-1)}},
		{name: "nan", in: []any{math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode1[float32](tt.in)
			require.ErrorIs(t, err, ErrTypeMismatch)
			assert.Nil(t, got)
		})
	}

	got, err := Decode1[float32]([]any{math.MaxFloat32, -math.MaxFloat32})
	require.NoError(t, err)
	assert.Equal(t, []float32{math.MaxFloat32, -math.MaxFloat32}, got)

	wide, err := Decode1[float64]([]any{1e39})
	require.NoError(t, err)
	assert.Equal(t, []float64{1e39}, wide)

	_, err = Decode1[float64]([]any{math.NaN()})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeRejectsBytes(t *testing.T) {
	_, err := Decode1[int]([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTypeMismatch)

	var te *TypeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "array", te.Want)
	assert.Equal(t, "[]uint8", te.Got)

	_, err = Decode2[float32]([]any{[]uint8{1}})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.ErrorIs(t, CheckRectangular([]any{[]byte{1}}, 2), ErrTypeMismatch)
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode2[float32]([]any{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Equal(t, []any{}, Encode2[float32](nil))
}

func TestDecodeRuntimeRank(t *testing.T) {
	got, err := Decode[float64]([]any{[]any{1.0}}, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}}, got)

	_, err = Decode[float64]([]any{}, 4)
	assert.ErrorIs(t, err, ErrRank)
}

func TestScalarOf(t *testing.T) {
	seed, err := ScalarOf[int](42.0)
	require.NoError(t, err)
	assert.Equal(t, 42, seed)

	_, err = ScalarOf[int]("42")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCheckRectangular(t *testing.T) {
	require.NoError(t, CheckRectangular([]any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, 2))
	require.NoError(t, CheckRectangular([]any{}, 2))

	err := CheckRectangular([]any{[]any{0.0, 1.0}, []any{0.5, -0.5, 2.0}}, 2)
	require.ErrorIs(t, err, ErrRagged)
	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, Path{1}, se.Path)
	assert.Equal(t, 2, se.Want)
	assert.Equal(t, 3, se.Got)

	err = CheckRectangular([]any{[]any{[]any{1.0}, []any{2.0, 3.0}}}, 3)
	assert.ErrorIs(t, err, ErrRagged)

	assert.ErrorIs(t, CheckRectangular([]any{}, 0), ErrRank)
}

func TestIsRectangular(t *testing.T) {
	assert.True(t, IsRectangular2([][]float32{{1, 2}, {3, 4}}))
	assert.True(t, IsRectangular2[float32](nil))
	assert.False(t, IsRectangular2([][]float32{{1}, {}}))

	tests := []struct {
		name string
		in   [][][]int
		want bool
	}{
		{name: "empty", in: nil, want: true},
		{name: "uniform", in: [][][]int{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}}, want: true},
		{name: "ragged rows", in: [][][]int{{{1, 2}, {3}}}, want: false},
		{name: "plane row counts differ", in: [][][]int{{{1}, {2}}, {{3}}}, want: false},
		{name: "row lengths differ across planes", in: [][][]int{{{1, 2}}, {{3}}}, want: false},
		{name: "empty planes", in: [][][]int{{}, {}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRectangular3(tt.in))
		})
	}
}

func TestShape2(t *testing.T) {
	rows, lens := Shape2([][]float32{{1}, {2, 3}})
	assert.Equal(t, 2, rows)
	assert.Equal(t, []int{1, 2}, lens)
}
