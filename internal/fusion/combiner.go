package fusion

import "fmt"

// Signals are the three model outputs for one transaction. The channels are
// not interchangeable; combiners address them by name.
type Signals struct {
	FraudProb    float64 // XGBoost
	GNNFraudProb float64 // GraphSAGE
	AnomalyNorm  float64 // Isolation Forest, normalized
}

// Combiner turns the three signals into a single probability-like value in [0,1].
// It must be deterministic and continuous in each input.
type Combiner interface {
	Combine(s Signals) float64
	Name() string
}

// LinearCombiner is a fixed weighted average of the three channels.
type LinearCombiner struct {
	XGBoost float64
	GNN     float64
	Anomaly float64
}

// DefaultWeights favour the supervised classifier, then the graph model.
var DefaultWeights = LinearCombiner{XGBoost: 0.5, GNN: 0.3, Anomaly: 0.2}

// NewLinearCombiner validates the weights and rescales them to sum to 1.
func NewLinearCombiner(xgb, gnn, anomaly float64) (LinearCombiner, error) {
	if xgb < 0 || gnn < 0 || anomaly < 0 {
		return LinearCombiner{}, fmt.Errorf("fusion weights must be non-negative (xgboost=%g gnn=%g anomaly=%g)", xgb, gnn, anomaly)
	}
	sum := xgb + gnn + anomaly
	if sum <= 0 {
		return LinearCombiner{}, fmt.Errorf("fusion weights sum to zero")
	}
	return LinearCombiner{XGBoost: xgb / sum, GNN: gnn / sum, Anomaly: anomaly / sum}, nil
}

func (c LinearCombiner) Combine(s Signals) float64 {
	return c.XGBoost*s.FraudProb + c.GNN*s.GNNFraudProb + c.Anomaly*s.AnomalyNorm
}

func (c LinearCombiner) Name() string {
	return fmt.Sprintf("linear(xgb=%.3f,gnn=%.3f,anom=%.3f)", c.XGBoost, c.GNN, c.Anomaly)
}
