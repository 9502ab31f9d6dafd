package fusion

import (
	"math"
	"strings"
	"testing"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := DefaultModel().Scorer(nil)
	require.NoError(t, err)
	return s
}

func TestFuseSignals_ReferenceTransaction(t *testing.T) {
	s := defaultScorer(t)

	// txId 72631257: fraud_prob=0.92, gnn_fraud_prob=0.10, anomaly_score_norm=0.40
	res, err := s.FuseSignals(Signals{FraudProb: 0.92, GNNFraudProb: 0.10, AnomalyNorm: 0.40})
	require.NoError(t, err)
	assert.InDelta(t, 57.0, res.RiskScore, 1e-9)
	assert.Equal(t, 57.0, DisplayScore(res.RiskScore))
	assert.Equal(t, models.BandMedium, res.Band)
	assert.Equal(t, 0.40, res.AnomalyScoreNorm)
}

func TestFuse_NormalizesRawAnomaly(t *testing.T) {
	comb, err := NewLinearCombiner(0.5, 0.3, 0.2)
	require.NoError(t, err)
	s := NewScorer("test", MinMax{Min: -0.2, Max: 0.3}, comb)

	res, err := s.Fuse(0.92, 0.10, 0.0) // (0 - -0.2) / 0.5 = 0.4
	require.NoError(t, err)
	assert.InDelta(t, 0.40, res.AnomalyScoreNorm, 1e-12)
	assert.InDelta(t, 57.0, res.RiskScore, 1e-9)
}

func TestFuse_ChannelsAreNotSymmetric(t *testing.T) {
	s := defaultScorer(t)

	a, err := s.FuseSignals(Signals{FraudProb: 0.9, GNNFraudProb: 0.1, AnomalyNorm: 0.5})
	require.NoError(t, err)
	b, err := s.FuseSignals(Signals{FraudProb: 0.1, GNNFraudProb: 0.9, AnomalyNorm: 0.5})
	require.NoError(t, err)

	assert.NotEqual(t, a.RiskScore, b.RiskScore)
}

func TestFuse_RejectsOutOfDomainInputs(t *testing.T) {
	s := defaultScorer(t)

	cases := []struct {
		name            string
		fraud, gnn, raw float64
	}{
		{"fraud above one", 1.01, 0.2, 0.5},
		{"fraud negative", -0.01, 0.2, 0.5},
		{"gnn above one", 0.2, 1.5, 0.5},
		{"fraud NaN", math.NaN(), 0.2, 0.5},
		{"anomaly NaN", 0.2, 0.2, math.NaN()},
		{"anomaly Inf", 0.2, 0.2, math.Inf(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Fuse(tc.fraud, tc.gnn, tc.raw)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}

	_, err := s.FuseSignals(Signals{FraudProb: 0.5, GNNFraudProb: 0.5, AnomalyNorm: 1.2})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestFuse_ExactBoundaries(t *testing.T) {
	s := defaultScorer(t)

	// 0.5*1 + 0.3*1 + 0.2*0 = 0.8 -> exactly 80
	res, err := s.FuseSignals(Signals{FraudProb: 1, GNNFraudProb: 1, AnomalyNorm: 0})
	require.NoError(t, err)
	assert.Equal(t, 80.0, res.RiskScore)
	assert.Equal(t, models.BandCritical, res.Band)

	// 0.5*1 + 0.3*0 + 0.2*0.5 = 0.6 -> exactly 60
	res, err = s.FuseSignals(Signals{FraudProb: 1, GNNFraudProb: 0, AnomalyNorm: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 60.0, res.RiskScore)
	assert.Equal(t, models.BandHigh, res.Band)

	// 0.5*0.8 = 0.4 -> exactly 40
	res, err = s.FuseSignals(Signals{FraudProb: 0.8, GNNFraudProb: 0, AnomalyNorm: 0})
	require.NoError(t, err)
	assert.Equal(t, 40.0, res.RiskScore)
	assert.Equal(t, models.BandMedium, res.Band)
}

func TestFuse_JustBelowBoundaryStaysInLowerBand(t *testing.T) {
	s := defaultScorer(t)

	// 0.5*0.9999992 + 0.3*1 = 0.7999996 -> 79.99996, which rounds to 80.0000
	res, err := s.FuseSignals(Signals{FraudProb: 0.9999992, GNNFraudProb: 1, AnomalyNorm: 0})
	require.NoError(t, err)
	assert.Less(t, res.RiskScore, CriticalThreshold)
	assert.Equal(t, models.BandHigh, res.Band)

	shown := DisplayScore(res.RiskScore)
	assert.Less(t, shown, CriticalThreshold)
	assert.Equal(t, models.BandHigh, Classify(shown))
}

func TestDisplayScore(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{57.00000000000001, 57.0},
		{5.1000000000000005, 5.1},
		{80.0, 80.0},
		{79.99996, 79.9999},
		{59.99999, 59.9999},
		{39.999951, 39.9999},
		{12.34567, 12.3457},
		{0, 0},
		{100, 100},
	}
	for _, tt := range tests {
		got := DisplayScore(tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "DisplayScore(%v)", tt.in)
		assert.Equal(t, Classify(tt.in), Classify(got), "band of %v", tt.in)
	}
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Band
	}{
		{100, models.BandCritical},
		{80.0, models.BandCritical},
		{79.9999, models.BandHigh},
		{60.0, models.BandHigh},
		{59.9999, models.BandMedium},
		{40.0, models.BandMedium},
		{39.9999, models.BandLow},
		{0, models.BandLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score), "score %v", tt.score)
	}
}

func TestNormalizers_Monotonic(t *testing.T) {
	mm := MinMax{Min: -0.3, Max: 0.2}
	sg := Sigmoid{Midpoint: 0, Scale: 0.1}

	prev := -1.0
	prevSig := -1.0
	for raw := -0.5; raw <= 0.5; raw += 0.01 {
		v := mm.Normalize(raw)
		assert.GreaterOrEqual(t, v, prev)
		prev = v

		sv := sg.Normalize(raw)
		assert.GreaterOrEqual(t, sv, prevSig)
		prevSig = sv
	}

	assert.Equal(t, 0.0, mm.Normalize(-10))
	assert.Equal(t, 1.0, mm.Normalize(10))
}

func TestNormalizers_InverseRoundTrip(t *testing.T) {
	for _, n := range []Normalizer{MinMax{Min: -0.3, Max: 0.2}, Sigmoid{Midpoint: 0.05, Scale: 0.2}} {
		for _, v := range []float64{0.01, 0.25, 0.4, 0.5, 0.99} {
			assert.InDelta(t, v, n.Normalize(n.Inverse(v)), 1e-9)
		}
	}
}

func TestFitMinMax(t *testing.T) {
	assert.Equal(t, MinMax{Min: -0.4, Max: 0.3}, FitMinMax([]float64{0.1, -0.4, 0.3, 0}))
	assert.Equal(t, MinMax{Min: 0, Max: 1}, FitMinMax(nil))

	// Degenerate range still maps into [0,1].
	flat := FitMinMax([]float64{0.2, 0.2})
	assert.Equal(t, 1.0, flat.Normalize(0.2))
}

func TestNewLinearCombiner_RescalesWeights(t *testing.T) {
	c, err := NewLinearCombiner(5, 3, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c.XGBoost, 1e-12)
	assert.InDelta(t, 0.3, c.GNN, 1e-12)
	assert.InDelta(t, 0.2, c.Anomaly, 1e-12)

	_, err = NewLinearCombiner(-1, 1, 1)
	assert.Error(t, err)
	_, err = NewLinearCombiner(0, 0, 0)
	assert.Error(t, err)
}

func TestParseModel(t *testing.T) {
	m, err := ParseModel(strings.NewReader(`
version: elliptic-test
weights: {xgboost: 0.6, gnn: 0.3, anomaly: 0.1}
anomaly: {kind: minmax, min: -0.2, max: 0.3}
`))
	require.NoError(t, err)
	assert.Equal(t, "elliptic-test", m.Version)
	assert.True(t, m.Fitted())

	s, err := m.Scorer([]float64{-100, 100}) // observed data ignored when fitted
	require.NoError(t, err)
	assert.Equal(t, MinMax{Min: -0.2, Max: 0.3}, s.Normalizer())
	assert.Equal(t, "elliptic-test", s.Version())
}

func TestParseModel_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":     "weigths: {xgboost: 1}",
		"unknown kind":    "anomaly: {kind: zscore}",
		"bad sigmoid":     "anomaly: {kind: sigmoid, scale: 0}",
		"inverted minmax": "anomaly: {kind: minmax, min: 1, max: 0}",
		"zero weights":    "weights: {xgboost: 0, gnn: 0, anomaly: 0}",
	} {
		_, err := ParseModel(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestParseModel_EmptyDocumentUsesDefaults(t *testing.T) {
	m, err := ParseModel(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel(), m)
	assert.False(t, m.Fitted())
}

func TestFuseProperties(t *testing.T) {
	s := defaultScorer(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("risk score stays within [0,100]", prop.ForAll(
		func(fraud, gnn, raw float64) bool {
			res, err := s.Fuse(fraud, gnn, raw)
			return err == nil && res.RiskScore >= 0 && res.RiskScore <= 100
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("band always matches score", prop.ForAll(
		func(fraud, gnn, norm float64) bool {
			res, err := s.FuseSignals(Signals{FraudProb: fraud, GNNFraudProb: gnn, AnomalyNorm: norm})
			return err == nil && res.Band == Classify(res.RiskScore)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.Property("displayed score keeps its band", prop.ForAll(
		func(score float64) bool {
			shown := DisplayScore(score)
			return Classify(shown) == Classify(score) && math.Abs(shown-score) <= 1e-4
		},
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}
