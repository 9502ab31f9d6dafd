package metrics

import (
	"math"
	"testing"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestAdjustedRandIndex_PerfectAgreement(t *testing.T) {
	p := []int{0, 0, 1, 1, 2, 2}
	// Label names do not matter, only the grouping.
	q := []int{5, 5, 3, 3, 9, 9}
	assert.InDelta(t, 1.0, AdjustedRandIndex(p, q), 1e-9)
}

func TestAdjustedRandIndex_Dissimilar(t *testing.T) {
	p := []int{0, 0, 0, 1, 1, 1}
	q := []int{0, 1, 0, 1, 0, 1}
	assert.Less(t, AdjustedRandIndex(p, q), 0.5)
}

func TestAdjustedRandIndex_Degenerate(t *testing.T) {
	assert.Zero(t, AdjustedRandIndex([]int{1}, []int{1}))
	assert.Zero(t, AdjustedRandIndex([]int{1, 2}, []int{1}))
	assert.Equal(t, 1.0, AdjustedRandIndex([]int{0, 0, 0}, []int{1, 1, 1}))
}

func TestVariationOfInformation(t *testing.T) {
	same := []int{0, 0, 1, 1, 2, 2}
	assert.InDelta(t, 0.0, VariationOfInformation(same, same), 1e-9)

	p := []int{0, 0, 0, 1, 1, 1}
	q := []int{0, 1, 0, 1, 0, 1}
	vi := VariationOfInformation(p, q)
	assert.Greater(t, vi, 0.1)
	// Symmetric.
	assert.InDelta(t, vi, VariationOfInformation(q, p), 1e-9)
	// Independent balanced binary labelings: H(P|Q)+H(Q|P) = 2 bits at most.
	assert.LessOrEqual(t, vi, 2.0+1e-9)
}

func TestBandAgreement(t *testing.T) {
	prod := []models.Band{models.BandLow, models.BandLow, models.BandHigh, models.BandCritical}
	cand := []models.Band{models.BandLow, models.BandMedium, models.BandHigh, models.BandCritical}

	a := BandAgreement(prod, cand)
	assert.Equal(t, 4, a.N)
	assert.InDelta(t, 0.75, a.SameBand, 1e-12)
	assert.Equal(t, 1, a.Confusion[models.BandLow][models.BandMedium])
	assert.Equal(t, 1, a.Confusion[models.BandLow][models.BandLow])
	assert.Less(t, a.ARI, 1.0)
	assert.Greater(t, a.VI, 0.0)
	assert.False(t, math.IsNaN(a.ARI))

	identical := BandAgreement(prod, prod)
	assert.InDelta(t, 1.0, identical.ARI, 1e-9)
	assert.InDelta(t, 0.0, identical.VI, 1e-9)
	assert.Equal(t, 1.0, identical.SameBand)

	assert.Zero(t, BandAgreement(prod, cand[:2]).N)
}
