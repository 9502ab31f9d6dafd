package risk

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/artifact"
	"github.com/Smitty-01/ChainGaurd/internal/bulk"
	"github.com/Smitty-01/ChainGaurd/internal/fusion"
	"github.com/Smitty-01/ChainGaurd/internal/graph"
	"github.com/Smitty-01/ChainGaurd/internal/identity"
	"github.com/Smitty-01/ChainGaurd/internal/logging"
	"github.com/Smitty-01/ChainGaurd/internal/metrics"
	"github.com/Smitty-01/ChainGaurd/internal/store"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ──────────────────────────────────────────────────────────────────
// Risk Service
//
// The single entry point the transport layer talks to. The loaded dataset
// is built off to the side and published with one atomic pointer swap;
// until then every operation fails with ErrUnavailable. After publication
// all reads are lock-free.
//
// Side effects (alerts, shadow comparison, audit rows) are best effort
// and never change the result a caller sees.
// ──────────────────────────────────────────────────────────────────

// ExportPathPrefix is where bulk exports are served from.
const ExportPathPrefix = "/api/v1/bulk/"

// Notifier is told about critical lookups and finished bulk runs.
type Notifier interface {
	CriticalAlert(ctx context.Context, a models.Assessment)
	BulkCompleted(ctx context.Context, res *models.BulkResult)
}

// Observer sees every served record (the shadow runner).
type Observer interface {
	Observe(ctx context.Context, rec models.ScoreRecord)
}

// Auditor persists served results. It is called on the request path, so
// implementations must not wait on the database (see db.AsyncWriter).
type Auditor interface {
	SaveRiskAssessment(ctx context.Context, a models.Assessment, modelVersion string) error
	SaveBulkRun(ctx context.Context, res *models.BulkResult, modelVersion string) error
}

// Exports retains per-row bulk exports.
type Exports interface {
	Put(runID string, data []byte)
	Get(runID string) ([]byte, error)
}

// Options bounds the engine.
type Options struct {
	BulkWorkers   int
	GraphMaxNodes int // used when a request does not ask for a bound
	GraphMaxSteps int
}

// Option configures optional collaborators.
type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }
func WithAuditor(a Auditor) Option   { return func(s *Service) { s.auditor = a } }
func WithExports(e Exports) Option   { return func(s *Service) { s.exports = e } }

type snapshot struct {
	ds     *store.Dataset
	engine *graph.Engine
	bulk   *bulk.Scorer
}

// Service answers lookup, ranking, neighborhood, bulk and report queries.
type Service struct {
	current atomic.Pointer[snapshot]
	opts    Options
	logger  *zap.Logger

	notifier Notifier
	observer Observer
	auditor  Auditor
	exports  Exports

	now func() time.Time
}

// NewService creates an unpublished service.
func NewService(opts Options, logger *zap.Logger, options ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.GraphMaxNodes <= 0 {
		opts.GraphMaxNodes = graph.DefaultMaxNodes
	}
	if opts.GraphMaxSteps <= 0 {
		opts.GraphMaxSteps = graph.DefaultMaxSteps
	}
	s := &Service{opts: opts, logger: logger, now: time.Now}
	for _, o := range options {
		o(s)
	}
	return s
}

// Load reads the artifacts and publishes the resulting dataset.
func (s *Service) Load(ctx context.Context, opener artifact.Opener, paths store.Paths, salt string) error {
	ds, err := store.LoadDataset(ctx, opener, paths, salt, s.logger)
	if err != nil {
		return err
	}
	s.Publish(ds)
	return nil
}

// Publish atomically makes ds visible to every subsequent request.
func (s *Service) Publish(ds *store.Dataset) {
	salt := ds.Mapper.Salt()
	snap := &snapshot{
		ds: ds,
		engine: graph.NewEngine(ds.Store, ds.Adjacency, ds.Mapper, func(k int64) string {
			return identity.SecureID(salt, k)
		}),
		bulk: bulk.New(ds.Mapper, ds.Store, s.opts.BulkWorkers, s.logger),
	}
	s.current.Store(snap)

	metrics.DatasetTransactions.Set(float64(ds.Stats.Transactions))
	metrics.DatasetEdges.Set(float64(ds.Stats.Edges))
	s.logger.Info("[Risk] Dataset published",
		zap.Int("transactions", ds.Stats.Transactions),
		zap.String("model", ds.Stats.ModelVersion))
}

// Ready reports whether a dataset has been published.
func (s *Service) Ready() bool {
	return s.current.Load() != nil
}

// Dataset returns the published dataset.
func (s *Service) Dataset() (*store.Dataset, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.ds, nil
}

func (s *Service) snapshot() (*snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("risk service: %w", models.ErrUnavailable)
	}
	return snap, nil
}

// Assess renders a stored record as a lookup result.
func Assess(rec models.ScoreRecord) models.Assessment {
	return models.Assessment{
		SecureID:          rec.SecureID,
		FraudProb:         rec.FraudProb,
		GNNFraudProb:      rec.GNNFraudProb,
		AnomalyScore:      rec.AnomalyScore,
		AnomalyScoreNorm:  rec.AnomalyScoreNorm,
		RiskScore:         fusion.DisplayScore(rec.RiskScore),
		Alert:             rec.Band,
		IsFlagged:         rec.IsFlagged,
		RecommendedAction: fusion.RecommendedAction(rec.Band),
	}
}

func (s *Service) resolve(snap *snapshot, id string) (models.ScoreRecord, error) {
	key, err := snap.ds.Mapper.Resolve(id)
	if err != nil {
		return models.ScoreRecord{}, err
	}
	return snap.ds.Store.Get(key)
}

// Lookup returns the fused assessment for a raw key or secure id.
func (s *Service) Lookup(ctx context.Context, id string) (a models.Assessment, err error) {
	defer func() { metrics.LookupsTotal.WithLabelValues(metrics.Outcome(err)).Inc() }()

	snap, err := s.snapshot()
	if err != nil {
		return models.Assessment{}, err
	}
	rec, err := s.resolve(snap, id)
	if err != nil {
		return models.Assessment{}, err
	}

	a = Assess(rec)
	s.afterLookup(ctx, snap, rec, a)
	return a, nil
}

func (s *Service) afterLookup(ctx context.Context, snap *snapshot, rec models.ScoreRecord, a models.Assessment) {
	if s.notifier != nil {
		s.notifier.CriticalAlert(ctx, a)
	}
	if s.observer != nil {
		s.observer.Observe(ctx, rec)
	}
	if s.auditor != nil {
		if err := s.auditor.SaveRiskAssessment(ctx, a, snap.ds.Stats.ModelVersion); err != nil {
			logging.L(ctx).Warn("[Risk] Failed to audit assessment", zap.Error(err))
		}
	}
}

// Batch looks up many identifiers, skipping unresolvable ones and
// returning each transaction once, in first-occurrence order.
func (s *Service) Batch(_ context.Context, ids []string) ([]models.Assessment, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(ids))
	out := make([]models.Assessment, 0, len(ids))
	for _, id := range ids {
		key, err := snap.ds.Mapper.Resolve(id)
		if err != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		rec, err := snap.ds.Store.Get(key)
		if err != nil {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Assess(rec))
	}
	return out, nil
}

// TopRisk returns the n riskiest transactions, risk descending.
func (s *Service) TopRisk(_ context.Context, n int) ([]models.Assessment, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	recs, err := snap.ds.Store.TopN(n)
	if err != nil {
		return nil, err
	}
	out := make([]models.Assessment, len(recs))
	for i, rec := range recs {
		out[i] = Assess(rec)
	}
	return out, nil
}

// Neighborhood expands the k-hop graph around an identifier. maxNodes 0
// uses the configured default.
func (s *Service) Neighborhood(ctx context.Context, id string, depth, maxNodes int) (*models.GraphView, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	key, err := snap.ds.Mapper.Resolve(id)
	if err != nil {
		return nil, err
	}
	if maxNodes == 0 {
		maxNodes = s.opts.GraphMaxNodes
	}

	view, err := snap.engine.Expand(ctx, key, graph.Options{
		Depth:    depth,
		MaxNodes: maxNodes,
		MaxSteps: s.opts.GraphMaxSteps,
	})
	if err != nil {
		return nil, err
	}
	metrics.ObserveGraph(view)
	if view.Truncated {
		logging.L(ctx).Debug("[Risk] Graph view truncated",
			zap.String("center", view.Center),
			zap.Int("nodes", len(view.Nodes)))
	}
	return view, nil
}

// BulkScore scores a batch and retains its per-row export.
func (s *Service) BulkScore(ctx context.Context, ids []string) (*models.BulkResult, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	res, err := snap.bulk.ScoreAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	res.RunID = uuid.NewString()
	metrics.ObserveBulk(res)

	if s.exports != nil {
		var buf bytes.Buffer
		if err := bulk.WriteCSV(&buf, res.Rows); err != nil {
			return nil, fmt.Errorf("render bulk export: %w", err)
		}
		s.exports.Put(res.RunID, buf.Bytes())
		res.ExportURL = ExportPathPrefix + res.RunID + "/export"
	}
	if s.auditor != nil {
		if err := s.auditor.SaveBulkRun(ctx, res, snap.ds.Stats.ModelVersion); err != nil {
			logging.L(ctx).Warn("[Risk] Failed to audit bulk run", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.BulkCompleted(ctx, res)
	}
	return res, nil
}

// Export returns the CSV export of a bulk run.
func (s *Service) Export(runID string) ([]byte, error) {
	if s.exports == nil {
		return nil, fmt.Errorf("bulk exports disabled: %w", models.ErrNotFound)
	}
	return s.exports.Get(runID)
}

// Report assembles the data of a printable risk report.
func (s *Service) Report(ctx context.Context, id string) (models.Report, error) {
	snap, err := s.snapshot()
	if err != nil {
		return models.Report{}, err
	}
	rec, err := s.resolve(snap, id)
	if err != nil {
		return models.Report{}, err
	}

	view, err := snap.engine.Expand(ctx, rec.Key, graph.Options{
		Depth:    1,
		MaxNodes: graph.MaxNodesCeiling,
		MaxSteps: s.opts.GraphMaxSteps,
	})
	if err != nil {
		return models.Report{}, err
	}
	flagged := 0
	for _, n := range view.Nodes[1:] {
		if n.IsFlagged {
			flagged++
		}
	}

	return models.Report{
		Assessment:    Assess(rec),
		RiskLevel:     strings.ToUpper(string(rec.Band)),
		FraudPercent:  percent(rec.FraudProb),
		GNNPercent:    percent(rec.GNNFraudProb),
		GeneratedAt:   s.now().UTC().Format(time.RFC3339),
		NeighborCount: len(view.Nodes) - 1,
		FlaggedNearby: flagged,
		ModelVersion:  snap.ds.Stats.ModelVersion,
	}, nil
}

func percent(p float64) float64 {
	return math.Round(p*10000) / 100
}

// Stats describes the published dataset.
type Stats struct {
	store.LoadStats
	Bands    map[models.Band]int `json:"bands"`
	LoadedAt time.Time           `json:"loadedAt"`
}

// Stats returns dataset statistics.
func (s *Service) Stats() (Stats, error) {
	snap, err := s.snapshot()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		LoadStats: snap.ds.Stats,
		Bands:     snap.ds.Store.BandCounts(),
		LoadedAt:  snap.ds.LoadedAt,
	}, nil
}
