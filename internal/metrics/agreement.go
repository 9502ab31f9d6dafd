package metrics

import (
	"math"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// Partition agreement between two scorers.
//
// A fusion model induces a partition of the dataset into risk bands. When a
// candidate model is evaluated against production, the two band partitions
// are compared with:
//
//   ARI = (Index - Expected) / (Max - Expected)
//     Index    = sum_ij C(n_ij, 2)
//     Expected = sum_i C(a_i, 2) * sum_j C(b_j, 2) / C(n, 2)
//     Max      = (sum_i C(a_i, 2) + sum_j C(b_j, 2)) / 2
//   1 = identical banding, 0 = chance level, negative = worse than chance.
//
//   VI = H(P|C) + H(C|P), in bits. 0 = identical, lower is better.

// Agreement summarizes how two band assignments over the same
// transactions relate.
type Agreement struct {
	N         int                                 `json:"n"`
	ARI       float64                             `json:"ari"`
	VI        float64                             `json:"vi"`
	SameBand  float64                             `json:"sameBand"` // fraction with identical band
	Confusion map[models.Band]map[models.Band]int `json:"confusion"` // production → candidate
}

// BandAgreement compares the production and candidate bands of the same
// transactions, index by index. Mismatched lengths yield a zero Agreement.
func BandAgreement(production, candidate []models.Band) Agreement {
	if len(production) != len(candidate) {
		return Agreement{}
	}

	prod := make([]int, len(production))
	cand := make([]int, len(candidate))
	confusion := make(map[models.Band]map[models.Band]int)
	same := 0
	for i := range production {
		prod[i] = bandIndex(production[i])
		cand[i] = bandIndex(candidate[i])
		if production[i] == candidate[i] {
			same++
		}
		row, ok := confusion[production[i]]
		if !ok {
			row = make(map[models.Band]int)
			confusion[production[i]] = row
		}
		row[candidate[i]]++
	}

	a := Agreement{
		N:         len(production),
		ARI:       AdjustedRandIndex(prod, cand),
		VI:        VariationOfInformation(prod, cand),
		Confusion: confusion,
	}
	if a.N > 0 {
		a.SameBand = float64(same) / float64(a.N)
	}
	return a
}

func bandIndex(b models.Band) int {
	for i, band := range models.Bands {
		if band == b {
			return i
		}
	}
	return -1
}

// contingency is the n_ij table of two labelings plus its marginals.
type contingency struct {
	n       int
	cells   [][]int
	rowSums []int
	colSums []int
}

func newContingency(p, q []int) contingency {
	rows := indexLabels(p)
	cols := indexLabels(q)

	c := contingency{
		n:       len(p),
		cells:   make([][]int, len(rows)),
		rowSums: make([]int, len(rows)),
		colSums: make([]int, len(cols)),
	}
	for i := range c.cells {
		c.cells[i] = make([]int, len(cols))
	}
	for k := range p {
		i, j := rows[p[k]], cols[q[k]]
		c.cells[i][j]++
		c.rowSums[i]++
		c.colSums[j]++
	}
	return c
}

// AdjustedRandIndex computes the ARI between two labelings of the same
// items. Fewer than two items, or mismatched lengths, return 0.
func AdjustedRandIndex(p, q []int) float64 {
	if len(p) != len(q) || len(p) < 2 {
		return 0
	}
	c := newContingency(p, q)

	index := 0.0
	for _, row := range c.cells {
		for _, v := range row {
			index += comb2(v)
		}
	}
	sumA, sumB := 0.0, 0.0
	for _, a := range c.rowSums {
		sumA += comb2(a)
	}
	for _, b := range c.colSums {
		sumB += comb2(b)
	}

	expected := sumA * sumB / comb2(c.n)
	maxIndex := 0.5 * (sumA + sumB)
	denom := maxIndex - expected
	if math.Abs(denom) < 1e-12 {
		// Both labelings put everything in one group (or all singletons).
		return 1
	}
	return (index - expected) / denom
}

// VariationOfInformation computes VI in bits between two labelings.
func VariationOfInformation(p, q []int) float64 {
	if len(p) != len(q) || len(p) < 2 {
		return 0
	}
	c := newContingency(p, q)
	n := float64(c.n)

	vi := 0.0
	for i, row := range c.cells {
		for j, v := range row {
			if v == 0 {
				continue
			}
			pij := float64(v) / n
			vi -= pij * math.Log2(float64(v)/float64(c.colSums[j]))
			vi -= pij * math.Log2(float64(v)/float64(c.rowSums[i]))
		}
	}
	return math.Abs(vi)
}

func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2
}

// indexLabels maps each distinct label to a dense index in first-seen order.
func indexLabels(labels []int) map[int]int {
	idx := make(map[int]int)
	for _, l := range labels {
		if _, ok := idx[l]; !ok {
			idx[l] = len(idx)
		}
	}
	return idx
}
