package bulk

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/fusion"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolver maps an external identifier (raw key or secure id) to a key.
type Resolver interface {
	Resolve(id string) (int64, error)
}

// Records is the read side of the score table.
type Records interface {
	Get(key int64) (models.ScoreRecord, error)
}

// Scorer runs bulk lookups over a batch of identifiers. Rows are scored
// independently; a failed row is recorded and counted, never fatal.
type Scorer struct {
	resolver Resolver
	records  Records
	workers  int
	logger   *zap.Logger
}

// New returns a bulk scorer. workers <= 0 uses GOMAXPROCS.
func New(resolver Resolver, records Records, workers int, logger *zap.Logger) *Scorer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{resolver: resolver, records: records, workers: workers, logger: logger}
}

// ScoreAll scores every identifier. The only error returned is context
// cancellation; per-row failures land in the row's Error field.
func (s *Scorer) ScoreAll(ctx context.Context, ids []string) (*models.BulkResult, error) {
	started := time.Now()
	rows := make([]models.BulkRow, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = s.scoreRow(id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bulk scoring aborted: %w", err)
	}

	res := Summarize(rows)
	s.logger.Info("[Bulk] Batch scored",
		zap.Int("count", res.Count),
		zap.Int("critical", res.CriticalRisk),
		zap.Int("high", res.HighRisk),
		zap.Int("errors", res.Errors),
		zap.Duration("took", time.Since(started)))
	return res, nil
}

func (s *Scorer) scoreRow(id string) models.BulkRow {
	row := models.BulkRow{Input: id}

	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return failRow(row, fmt.Errorf("empty identifier: %w", models.ErrInvalidInput))
	}
	key, err := s.resolver.Resolve(trimmed)
	if err != nil {
		return failRow(row, err)
	}
	rec, err := s.records.Get(key)
	if err != nil {
		return failRow(row, err)
	}

	row.SecureID = rec.SecureID
	row.RiskScore = fusion.DisplayScore(rec.RiskScore)
	row.Alert = rec.Band
	row.FraudProb = rec.FraudProb
	row.GNNProb = rec.GNNFraudProb
	row.AnomalyN = rec.AnomalyScoreNorm
	row.IsFlagged = rec.IsFlagged
	return row
}

func failRow(row models.BulkRow, err error) models.BulkRow {
	row.Error = models.ErrorKind(err)
	row.ErrorCause = err.Error()
	return row
}

// Summarize tallies rows into a result. Band counts only include rows
// without an error, so they always sum to Count-Errors.
func Summarize(rows []models.BulkRow) *models.BulkResult {
	res := &models.BulkResult{Count: len(rows), Rows: rows}
	for _, r := range rows {
		if r.Error != "" {
			res.Errors++
			continue
		}
		switch r.Alert {
		case models.BandCritical:
			res.CriticalRisk++
		case models.BandHigh:
			res.HighRisk++
		case models.BandMedium:
			res.MediumRisk++
		default:
			res.LowRisk++
		}
	}
	return res
}
