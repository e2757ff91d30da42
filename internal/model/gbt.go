// Package model wraps the pretrained gradient-boosted regression ensemble.
// The ensemble is deserialized once, validated against the encoder schema,
// and treated as read-only afterwards; concurrent scoring needs no locks.
package model

import (
	"encoding/json"
	"fmt"
)

// ModelFile is the artifact bundle member holding the serialized ensemble
const ModelFile = "model.json"

// Node is a single split or leaf inside a regression tree
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value"`
}

// Tree is one regression tree, nodes indexed from the root at 0
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Ensemble is the deserialized gradient-boosted tree model
type Ensemble struct {
	ModelName    string   `json:"model_name"`
	Version      string   `json:"version"`
	BaseScore    float64  `json:"base_score"`
	FeatureNames []string `json:"feature_names"`
	Trees        []Tree   `json:"trees"`
}

// Parse deserializes and structurally validates an ensemble artifact
func Parse(data []byte) (*Ensemble, error) {
	var e Ensemble
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}

	if len(e.FeatureNames) == 0 {
		return nil, fmt.Errorf("model artifact declares no feature names")
	}
	if len(e.Trees) == 0 {
		return nil, fmt.Errorf("model artifact contains no trees")
	}

	for ti, tree := range e.Trees {
		if len(tree.Nodes) == 0 {
			return nil, fmt.Errorf("tree %d is empty", ti)
		}
		for ni, node := range tree.Nodes {
			if node.Leaf {
				continue
			}
			if node.Feature < 0 || node.Feature >= len(e.FeatureNames) {
				return nil, fmt.Errorf("tree %d node %d references feature %d outside the schema", ti, ni, node.Feature)
			}
			if node.Left < 0 || node.Left >= len(tree.Nodes) ||
				node.Right < 0 || node.Right >= len(tree.Nodes) {
				return nil, fmt.Errorf("tree %d node %d has out-of-range children", ti, ni)
			}
			// Children must come after their parent in the node array.
			// This rules out cycles, so a malformed artifact fails at
			// load instead of spinning the scoring walk forever.
			if node.Left <= ni || node.Right <= ni {
				return nil, fmt.Errorf("tree %d node %d has non-forward children", ti, ni)
			}
		}
	}

	return &e, nil
}

// ValidateSchema checks the ensemble's feature list against the encoder
// store's ordered schema. Name, count and position must all agree; anything
// less silently skews predictions.
func (e *Ensemble) ValidateSchema(featureCols []string) error {
	if len(e.FeatureNames) != len(featureCols) {
		return fmt.Errorf("model expects %d features, encoder schema has %d",
			len(e.FeatureNames), len(featureCols))
	}
	for i, name := range e.FeatureNames {
		if name != featureCols[i] {
			return fmt.Errorf("feature %d: model expects %q, encoder schema has %q",
				i, name, featureCols[i])
		}
	}
	return nil
}

// Predict scores a single feature vector. The caller guarantees the vector
// matches the validated schema length.
func (e *Ensemble) Predict(x []float64) float64 {
	sum := e.BaseScore
	for i := range e.Trees {
		sum += e.Trees[i].score(x)
	}
	return sum
}

func (t *Tree) score(x []float64) float64 {
	i := 0
	for {
		node := &t.Nodes[i]
		if node.Leaf {
			return node.Value
		}
		if x[node.Feature] < node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}
