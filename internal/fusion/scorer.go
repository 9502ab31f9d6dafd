package fusion

import (
	"fmt"
	"math"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// Result is the fused verdict for one transaction.
type Result struct {
	RiskScore        float64     `json:"riskScore"` // 0-100
	Band             models.Band `json:"band"`
	AnomalyScoreNorm float64     `json:"anomalyScoreNorm"`
}

// Scorer combines the three model signals into a 0-100 risk score.
// It holds only constants and is safe for concurrent use.
type Scorer struct {
	version    string
	normalizer Normalizer
	combiner   Combiner
}

// NewScorer wires a normalizer and combiner together.
func NewScorer(version string, n Normalizer, c Combiner) *Scorer {
	return &Scorer{version: version, normalizer: n, combiner: c}
}

// Version identifies the offline-fit model the constants came from.
func (s *Scorer) Version() string { return s.version }

// Normalizer exposes the anomaly transform (used by the loader to recover
// raw scores from tables that only carry the normalized column).
func (s *Scorer) Normalizer() Normalizer { return s.normalizer }

// Fuse normalizes the raw anomaly score and combines it with both fraud
// probabilities. Out-of-domain inputs are rejected, never clamped: they mean
// an upstream model produced garbage.
func (s *Scorer) Fuse(fraudProb, gnnFraudProb, anomalyScore float64) (Result, error) {
	if err := checkProb("fraud_prob", fraudProb); err != nil {
		return Result{}, err
	}
	if err := checkProb("gnn_fraud_prob", gnnFraudProb); err != nil {
		return Result{}, err
	}
	if math.IsNaN(anomalyScore) || math.IsInf(anomalyScore, 0) {
		return Result{}, fmt.Errorf("anomaly_score %v is not finite: %w", anomalyScore, models.ErrInvalidInput)
	}

	return s.FuseSignals(Signals{
		FraudProb:    fraudProb,
		GNNFraudProb: gnnFraudProb,
		AnomalyNorm:  s.normalizer.Normalize(anomalyScore),
	})
}

// FuseSignals combines already-normalized signals.
func (s *Scorer) FuseSignals(sig Signals) (Result, error) {
	if err := checkProb("fraud_prob", sig.FraudProb); err != nil {
		return Result{}, err
	}
	if err := checkProb("gnn_fraud_prob", sig.GNNFraudProb); err != nil {
		return Result{}, err
	}
	if err := checkProb("anomaly_score_norm", sig.AnomalyNorm); err != nil {
		return Result{}, err
	}

	// Banding sees the unrounded score; rounding is for display only.
	score := math.Max(0, math.Min(100, s.combiner.Combine(sig)*100))

	return Result{
		RiskScore:        score,
		Band:             Classify(score),
		AnomalyScoreNorm: sig.AnomalyNorm,
	}, nil
}

func checkProb(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s %v outside [0,1]: %w", name, v, models.ErrInvalidInput)
	}
	return nil
}
