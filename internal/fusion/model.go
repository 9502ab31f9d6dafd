package fusion

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Model is the offline-fit fusion artifact (fusion_model.yaml):
//
//	version: elliptic-2025-11
//	weights: {xgboost: 0.5, gnn: 0.3, anomaly: 0.2}
//	anomaly: {kind: minmax, min: -0.21, max: 0.17}
//
// An empty anomaly section means "fit min/max on the loaded dataset".
type Model struct {
	Version string      `yaml:"version"`
	Weights WeightsSpec `yaml:"weights"`
	Anomaly AnomalySpec `yaml:"anomaly"`
}

type WeightsSpec struct {
	XGBoost float64 `yaml:"xgboost"`
	GNN     float64 `yaml:"gnn"`
	Anomaly float64 `yaml:"anomaly"`
}

type AnomalySpec struct {
	Kind     string  `yaml:"kind"` // "minmax", "sigmoid" or empty
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Midpoint float64 `yaml:"midpoint"`
	Scale    float64 `yaml:"scale"`
}

// DefaultModel is used when no artifact is configured.
func DefaultModel() *Model {
	return &Model{
		Version: "default-linear-v1",
		Weights: WeightsSpec{
			XGBoost: DefaultWeights.XGBoost,
			GNN:     DefaultWeights.GNN,
			Anomaly: DefaultWeights.Anomaly,
		},
	}
}

// ParseModel decodes a YAML model artifact. Unknown keys are rejected so a
// typo cannot silently fall back to a default weight.
func ParseModel(r io.Reader) (*Model, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	m := DefaultModel()
	if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fusion model: %w", err)
	}
	if _, err := NewLinearCombiner(m.Weights.XGBoost, m.Weights.GNN, m.Weights.Anomaly); err != nil {
		return nil, err
	}
	if _, err := m.normalizer(nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Fitted reports whether the artifact carries its own anomaly constants.
func (m *Model) Fitted() bool {
	return m.Anomaly.Kind != ""
}

// Scorer builds the serving-time scorer. observed is the dataset's raw
// anomaly column; it is only consulted when the artifact has no constants.
func (m *Model) Scorer(observed []float64) (*Scorer, error) {
	comb, err := NewLinearCombiner(m.Weights.XGBoost, m.Weights.GNN, m.Weights.Anomaly)
	if err != nil {
		return nil, err
	}
	norm, err := m.normalizer(observed)
	if err != nil {
		return nil, err
	}
	return NewScorer(m.Version, norm, comb), nil
}

func (m *Model) normalizer(observed []float64) (Normalizer, error) {
	switch m.Anomaly.Kind {
	case "":
		return FitMinMax(observed), nil
	case "minmax":
		if m.Anomaly.Max < m.Anomaly.Min {
			return nil, fmt.Errorf("anomaly minmax: max %g < min %g", m.Anomaly.Max, m.Anomaly.Min)
		}
		return MinMax{Min: m.Anomaly.Min, Max: m.Anomaly.Max}, nil
	case "sigmoid":
		if m.Anomaly.Scale <= 0 {
			return nil, fmt.Errorf("anomaly sigmoid: scale must be > 0, got %g", m.Anomaly.Scale)
		}
		return Sigmoid{Midpoint: m.Anomaly.Midpoint, Scale: m.Anomaly.Scale}, nil
	default:
		return nil, fmt.Errorf("unknown anomaly normalizer kind %q", m.Anomaly.Kind)
	}
}
