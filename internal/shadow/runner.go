package shadow

import (
	"context"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/fusion"
	"github.com/Smitty-01/ChainGaurd/internal/metrics"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"go.uber.org/zap"
)

// Recorder persists shadow comparisons (the Postgres audit store behind
// db.AsyncWriter). SaveShadowResult runs on the request path.
type Recorder interface {
	SaveShadowResult(ctx context.Context, r *models.ShadowResult) error
	ShadowSummary(ctx context.Context, shadowVersion string) (totalRuns int, divergences int, avgDelta float64, err error)
}

// Runner scores transactions with a candidate fusion model alongside
// production. Candidate output is only logged, counted and persisted:
// it never changes what a caller sees.
type Runner struct {
	candidate         *fusion.Scorer
	productionVersion string
	recorder          Recorder // nil disables persistence
	logger            *zap.Logger
}

// NewRunner creates a runner comparing candidate against the production
// model identified by productionVersion.
func NewRunner(candidate *fusion.Scorer, productionVersion string, recorder Recorder, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		candidate:         candidate,
		productionVersion: productionVersion,
		recorder:          recorder,
		logger:            logger,
	}
}

// CandidateVersion identifies the model under evaluation.
func (r *Runner) CandidateVersion() string {
	return r.candidate.Version()
}

// Compare rescores rec with the candidate model. rec carries the
// production verdict computed at load time.
func (r *Runner) Compare(rec models.ScoreRecord) (*models.ShadowResult, error) {
	res, err := r.candidate.Fuse(rec.FraudProb, rec.GNNFraudProb, rec.AnomalyScore)
	if err != nil {
		return nil, err
	}
	return &models.ShadowResult{
		SecureID:          rec.SecureID,
		ProductionScore:   rec.RiskScore,
		ShadowScore:       res.RiskScore,
		ProductionBand:    rec.Band,
		ShadowBand:        res.Band,
		DeltaScore:        res.RiskScore - rec.RiskScore,
		ProductionVersion: r.productionVersion,
		ShadowVersion:     r.candidate.Version(),
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// Observe runs the comparison for a served record, logs divergences and
// persists the result. Errors are logged, never returned to the request.
func (r *Runner) Observe(ctx context.Context, rec models.ScoreRecord) {
	result, err := r.Compare(rec)
	if err != nil {
		r.logger.Warn("[Shadow] Candidate rejected record", zap.String("secure_id", rec.SecureID), zap.Error(err))
		return
	}

	if result.Diverged() {
		metrics.ShadowComparisonsTotal.WithLabelValues("diverge").Inc()
		r.logger.Info("[Shadow] DIVERGENCE",
			zap.String("secure_id", result.SecureID),
			zap.String("prod_band", string(result.ProductionBand)),
			zap.String("shadow_band", string(result.ShadowBand)),
			zap.Float64("delta", result.DeltaScore))
	} else {
		metrics.ShadowComparisonsTotal.WithLabelValues("agree").Inc()
	}

	if r.recorder != nil {
		if err := r.recorder.SaveShadowResult(ctx, result); err != nil {
			r.logger.Warn("[Shadow] Persist failed", zap.Error(err))
		}
	}
}

// Summary aggregates persisted comparisons for the candidate. Without a
// recorder it reports zeros.
func (r *Runner) Summary(ctx context.Context) (totalRuns int, divergences int, avgDelta float64, err error) {
	if r.recorder == nil {
		return 0, 0, 0, nil
	}
	return r.recorder.ShadowSummary(ctx, r.candidate.Version())
}
