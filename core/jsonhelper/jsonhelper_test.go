package jsonhelper_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/core/jsonhelper"
	"github.com/fmpcd/fmpcd/core/testenv"
)

var makeAR = testenv.MakeAR

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestRoundtrip(t *testing.T) {
	assert, require := makeAR(t)

	var p point
	require.NoError(jsonhelper.Roundtrip(map[string]any{"x": 1, "y": 2}, &p))
	assert.Equal(point{1, 2}, p)

	assert.NoError(jsonhelper.Roundtrip(map[string]any{"x": 1, "z": 3}, &p))
	assert.Error(jsonhelper.Roundtrip(map[string]any{"x": 1, "z": 3}, &p, jsonhelper.DisallowUnknownFields))
	assert.Error(jsonhelper.Decode([]byte(`{"x":"a"}`), &p))
}
