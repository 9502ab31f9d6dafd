package shadow

import (
	"context"
	"math"

	"github.com/Smitty-01/ChainGaurd/internal/metrics"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// Records iterates the production score table.
type Records interface {
	Each(fn func(rec models.ScoreRecord) bool)
}

// DriftReport compares the candidate model against production over the
// whole dataset rather than only over served lookups.
type DriftReport struct {
	ProductionVersion string            `json:"productionVersion"`
	ShadowVersion     string            `json:"shadowVersion"`
	Agreement         metrics.Agreement `json:"agreement"`
	MeanDelta         float64           `json:"meanDelta"`
	MaxAbsDelta       float64           `json:"maxAbsDelta"`
	Rejected          int               `json:"rejected"` // rows the candidate could not score
	Partial           bool              `json:"partial"`  // context ended before the scan finished
}

// GenerateDriftReport rescores every record with the candidate and computes
// band agreement (ARI, VI) against production.
func (r *Runner) GenerateDriftReport(ctx context.Context, records Records) DriftReport {
	report := DriftReport{
		ProductionVersion: r.productionVersion,
		ShadowVersion:     r.candidate.Version(),
	}

	var prod, cand []models.Band
	sum := 0.0
	records.Each(func(rec models.ScoreRecord) bool {
		if ctx.Err() != nil {
			report.Partial = true
			return false
		}
		res, err := r.Compare(rec)
		if err != nil {
			report.Rejected++
			return true
		}
		prod = append(prod, res.ProductionBand)
		cand = append(cand, res.ShadowBand)
		sum += res.DeltaScore
		report.MaxAbsDelta = math.Max(report.MaxAbsDelta, math.Abs(res.DeltaScore))
		return true
	})

	report.Agreement = metrics.BandAgreement(prod, cand)
	if len(prod) > 0 {
		report.MeanDelta = sum / float64(len(prod))
	}
	return report
}
