package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnsemble builds a two-tree stump ensemble over two features:
//
//	tree 0 splits on feature 0 at 5:  left leaf 1.0, right leaf 2.0
//	tree 1 splits on feature 1 at 10: left leaf -0.5, right leaf 0.5
func testEnsemble() *Ensemble {
	return &Ensemble{
		ModelName:    "revenue_prediction_xgboost",
		Version:      "3",
		BaseScore:    0.25,
		FeatureNames: []string{"event_1", "event_2"},
		Trees: []Tree{
			{Nodes: []Node{
				{Feature: 0, Threshold: 5, Left: 1, Right: 2},
				{Leaf: true, Value: 1.0},
				{Leaf: true, Value: 2.0},
			}},
			{Nodes: []Node{
				{Feature: 1, Threshold: 10, Left: 1, Right: 2},
				{Leaf: true, Value: -0.5},
				{Leaf: true, Value: 0.5},
			}},
		},
	}
}

func marshal(t *testing.T, e *Ensemble) []byte {
	t.Helper()
	data, err := json.Marshal(e)
	require.NoError(t, err)
	return data
}

func TestParse(t *testing.T) {
	e, err := Parse(marshal(t, testEnsemble()))
	require.NoError(t, err)

	assert.Equal(t, "revenue_prediction_xgboost", e.ModelName)
	assert.Equal(t, "3", e.Version)
	assert.Len(t, e.Trees, 2)
	assert.Equal(t, []string{"event_1", "event_2"}, e.FeatureNames)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Ensemble)
		errPart string
	}{
		{
			name:    "no feature names",
			mutate:  func(e *Ensemble) { e.FeatureNames = nil },
			errPart: "no feature names",
		},
		{
			name:    "no trees",
			mutate:  func(e *Ensemble) { e.Trees = nil },
			errPart: "no trees",
		},
		{
			name:    "empty tree",
			mutate:  func(e *Ensemble) { e.Trees[1].Nodes = nil },
			errPart: "tree 1 is empty",
		},
		{
			name:    "feature index out of range",
			mutate:  func(e *Ensemble) { e.Trees[0].Nodes[0].Feature = 7 },
			errPart: "outside the schema",
		},
		{
			name:    "child index out of range",
			mutate:  func(e *Ensemble) { e.Trees[0].Nodes[0].Right = 9 },
			errPart: "out-of-range children",
		},
		{
			name: "self-referencing node",
			mutate: func(e *Ensemble) {
				e.Trees[0].Nodes = []Node{{Feature: 0, Threshold: 5, Left: 0, Right: 0}}
			},
			errPart: "non-forward children",
		},
		{
			name: "back-edge cycle",
			mutate: func(e *Ensemble) {
				e.Trees[0].Nodes = []Node{
					{Feature: 0, Threshold: 5, Left: 1, Right: 2},
					{Feature: 1, Threshold: 3, Left: 0, Right: 2},
					{Leaf: true, Value: 1.0},
				}
			},
			errPart: "non-forward children",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEnsemble()
			tt.mutate(e)

			_, err := Parse(marshal(t, e))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte("{broken"))
	assert.Error(t, err)
}

func TestValidateSchema(t *testing.T) {
	e := testEnsemble()

	tests := []struct {
		name    string
		cols    []string
		wantErr bool
	}{
		{name: "exact match", cols: []string{"event_1", "event_2"}, wantErr: false},
		{name: "wrong count", cols: []string{"event_1"}, wantErr: true},
		{name: "wrong order", cols: []string{"event_2", "event_1"}, wantErr: true},
		{name: "wrong name", cols: []string{"event_1", "sessions"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidateSchema(tt.cols)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPredict(t *testing.T) {
	e := testEnsemble()

	tests := []struct {
		name     string
		x        []float64
		expected float64
	}{
		// base 0.25 + tree0 + tree1
		{name: "both left", x: []float64{4, 9}, expected: 0.25 + 1.0 - 0.5},
		{name: "both right", x: []float64{6, 11}, expected: 0.25 + 2.0 + 0.5},
		{name: "split at threshold goes right", x: []float64{5, 10}, expected: 0.25 + 2.0 + 0.5},
		{name: "mixed", x: []float64{4, 11}, expected: 0.25 + 1.0 + 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, e.Predict(tt.x), 1e-12)
		})
	}
}
