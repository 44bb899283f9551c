// Package mlmodel loads and evaluates the frozen scoring-model artifact.
// The artifact is opaque to the rest of the service: callers hand it an
// ordered feature vector and get a scalar score back.
package mlmodel

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Model is a frozen scoring artifact. Two encodings are supported:
//   - "linear": intercept + per-feature coefficients
//   - "trees":  an additive ensemble in the xgboost JSON dump layout
type Model struct {
	Type         string             `json:"type"`
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
	BaseScore    float64            `json:"base_score"`
	Trees        []TreeNode         `json:"trees"`
}

// TreeNode is one node of a dumped regression tree. Leaves carry only a
// value; internal nodes split on a named feature with explicit yes/no branch
// ids and a missing-value branch.
type TreeNode struct {
	NodeID         int        `json:"nodeid"`
	Split          string     `json:"split,omitempty"`
	SplitCondition float64    `json:"split_condition,omitempty"`
	Yes            int        `json:"yes,omitempty"`
	No             int        `json:"no,omitempty"`
	Missing        int        `json:"missing,omitempty"`
	Leaf           *float64   `json:"leaf,omitempty"`
	Children       []TreeNode `json:"children,omitempty"`
}

// Load reads and validates a model artifact from disk.
func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	switch m.Type {
	case "linear":
		if len(m.Coefficients) == 0 {
			return nil, fmt.Errorf("linear model artifact has no coefficients")
		}
	case "trees":
		if len(m.Trees) == 0 {
			return nil, fmt.Errorf("tree model artifact has no trees")
		}
	default:
		return nil, fmt.Errorf("unsupported model type %q", m.Type)
	}
	return &m, nil
}

// LoadFeatureNames reads the ordered feature-name list artifact, a plain
// JSON string array.
func LoadFeatureNames(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return nil, fmt.Errorf("parse feature names: %w", err)
	}
	return names, nil
}

// Predict scores one ordered feature vector. names and values must have
// equal length; features the model does not know contribute nothing.
func (m *Model) Predict(names []string, values []float64) float64 {
	feats := make(map[string]float64, len(names))
	for i, n := range names {
		if i < len(values) {
			feats[n] = values[i]
		}
	}
	if m.Type == "linear" {
		score := m.Intercept
		for n, v := range feats {
			score += m.Coefficients[n] * v
		}
		return score
	}
	score := m.BaseScore
	for i := range m.Trees {
		score += m.Trees[i].eval(feats)
	}
	return score
}

func (n *TreeNode) eval(feats map[string]float64) float64 {
	node := n
	for {
		if node.Leaf != nil {
			return *node.Leaf
		}
		v, ok := feats[node.Split]
		next := node.No
		if !ok || math.IsNaN(v) {
			next = node.Missing
		} else if v < node.SplitCondition {
			next = node.Yes
		}
		child := node.child(next)
		if child == nil {
			return 0
		}
		node = child
	}
}

func (n *TreeNode) child(id int) *TreeNode {
	for i := range n.Children {
		if n.Children[i].NodeID == id {
			return &n.Children[i]
		}
	}
	return nil
}
