package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/artifact"
	"github.com/Smitty-01/ChainGaurd/internal/fusion"
	"github.com/Smitty-01/ChainGaurd/internal/identity"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"go.uber.org/zap"
)

// ──────────────────────────────────────────────────────────────────
// Dataset Loader
//
// Reads the offline artifacts once at startup:
//   - final_risk_scored.csv    txId, fraud_prob, gnn_fraud_prob,
//                              anomaly_score and/or anomaly_score_norm,
//                              optional class and risk_score
//   - elliptic_txs_classes.csv txId, class (1 illicit, 2 licit, unknown)
//   - elliptic_txs_edgelist.csv txId1, txId2
//   - fusion_model.yaml        combiner weights + anomaly constants
//
// Risk scores are recomputed from the three model signals; a stored
// risk_score column is only cross-checked. Any corrupt row aborts the
// load: serving a partially valid table would hide an upstream bug.
// ──────────────────────────────────────────────────────────────────

// Default artifact names inside DATA_DIR.
const (
	DefaultScoresFile  = "processed/final_risk_scored.csv"
	DefaultClassesFile = "raw/elliptic_txs_classes.csv"
	DefaultEdgesFile   = "raw/elliptic_txs_edgelist.csv"
	DefaultModelFile   = "processed/fusion_model.yaml"
)

// storedScoreTolerance is how far a precomputed risk_score may drift from
// the recomputed one before the loader warns about a model mismatch.
const storedScoreTolerance = 0.5

// Paths locates the artifacts. Scores is required; the rest are optional
// and skipped when empty or absent.
type Paths struct {
	Scores  string
	Classes string
	Edges   string
	Model   string
}

// DefaultPaths resolves the standard layout under dataDir.
func DefaultPaths(dataDir string) Paths {
	return Paths{
		Scores:  artifact.Join(dataDir, DefaultScoresFile),
		Classes: artifact.Join(dataDir, DefaultClassesFile),
		Edges:   artifact.Join(dataDir, DefaultEdgesFile),
		Model:   artifact.Join(dataDir, DefaultModelFile),
	}
}

// LoadStats summarizes what the loader saw.
type LoadStats struct {
	Transactions     int           `json:"transactions"`
	Edges            int           `json:"edges"`
	DanglingEdges    int           `json:"danglingEdges"` // endpoint missing from the score table
	DuplicateRows    int           `json:"duplicateRows"`
	Flagged          int           `json:"flagged"`
	StoredMismatches int           `json:"storedScoreMismatches"`
	ModelVersion     string        `json:"modelVersion"`
	Duration         time.Duration `json:"loadDuration"`
}

// Dataset is everything the request path reads. It is built once and never
// mutated afterwards.
type Dataset struct {
	Store     *Store
	Adjacency *Adjacency
	Mapper    *identity.Mapper
	Scorer    *fusion.Scorer
	Stats     LoadStats
	LoadedAt  time.Time
}

type scoreRow struct {
	line      int
	key       int64
	fraud     float64
	gnn       float64
	raw       float64
	hasRaw    bool
	norm      float64
	hasNorm   bool
	label     models.Label
	stored    float64
	hasStored bool
}

// LoadDataset reads and validates all artifacts and builds the immutable
// dataset. Errors wrap models.ErrUnavailable.
func LoadDataset(ctx context.Context, opener artifact.Opener, paths Paths, salt string, logger *zap.Logger) (*Dataset, error) {
	started := time.Now()

	model, err := loadModel(ctx, opener, paths.Model)
	if err != nil {
		return nil, loadErr(err)
	}

	rows, dups, err := readScores(ctx, opener, paths.Scores)
	if err != nil {
		return nil, loadErr(err)
	}
	if len(rows) == 0 {
		return nil, loadErr(fmt.Errorf("risk table %s has no rows", paths.Scores))
	}
	if dups > 0 {
		logger.Warn("[Loader] Dropped duplicate txIds from risk table", zap.Int("duplicates", dups))
	}

	var observed []float64
	if !model.Fitted() && rows[0].hasRaw {
		observed = make([]float64, 0, len(rows))
		for _, r := range rows {
			observed = append(observed, r.raw)
		}
	}
	scorer, err := model.Scorer(observed)
	if err != nil {
		return nil, loadErr(err)
	}

	if paths.Classes != "" && artifact.Exists(paths.Classes) {
		labels, err := readClasses(ctx, opener, paths.Classes)
		if err != nil {
			return nil, loadErr(err)
		}
		for i := range rows {
			if l, ok := labels[rows[i].key]; ok {
				rows[i].label = l
			}
		}
	}

	keys := make([]int64, len(rows))
	for i, r := range rows {
		keys[i] = r.key
	}
	mapper, err := identity.NewMapper(salt, keys)
	if err != nil {
		return nil, loadErr(err)
	}

	stats := LoadStats{DuplicateRows: dups, ModelVersion: scorer.Version()}
	records := make([]models.ScoreRecord, 0, len(rows))
	for _, r := range rows {
		raw := r.raw
		if !r.hasRaw {
			if r.norm < 0 || r.norm > 1 || math.IsNaN(r.norm) {
				return nil, loadErr(fmt.Errorf("risk table line %d: anomaly_score_norm %v outside [0,1]", r.line, r.norm))
			}
			raw = scorer.Normalizer().Inverse(r.norm)
		}

		res, err := scorer.Fuse(r.fraud, r.gnn, raw)
		if err != nil {
			return nil, loadErr(fmt.Errorf("risk table line %d (tx %d): %w", r.line, r.key, err))
		}
		if r.hasStored && math.Abs(r.stored-res.RiskScore) > storedScoreTolerance {
			stats.StoredMismatches++
		}

		sid, _ := mapper.SecureIDOf(r.key)
		records = append(records, models.ScoreRecord{
			Key:              r.key,
			SecureID:         sid,
			FraudProb:        r.fraud,
			GNNFraudProb:     r.gnn,
			AnomalyScore:     raw,
			AnomalyScoreNorm: res.AnomalyScoreNorm,
			Label:            r.label,
			IsFlagged:        r.label == models.LabelIllicit,
			RiskScore:        res.RiskScore,
			Band:             res.Band,
		})
	}
	if stats.StoredMismatches > 0 {
		logger.Warn("[Loader] Stored risk_score disagrees with the configured fusion model",
			zap.Int("rows", stats.StoredMismatches),
			zap.String("model", scorer.Version()))
	}

	st := New(records)

	var edges []models.Edge
	if paths.Edges != "" && artifact.Exists(paths.Edges) {
		edges, err = readEdges(ctx, opener, paths.Edges)
		if err != nil {
			return nil, loadErr(err)
		}
	} else {
		logger.Warn("[Loader] Edge list not found, graph views will only contain the center", zap.String("path", paths.Edges))
	}
	adj := NewAdjacency(edges)
	for _, e := range edges {
		if !st.Has(e.Source) || !st.Has(e.Target) {
			stats.DanglingEdges++
		}
	}

	stats.Transactions = st.Len()
	stats.Edges = adj.EdgeCount()
	stats.Flagged = st.FlaggedCount()
	stats.Duration = time.Since(started)

	logger.Info("[Loader] Dataset loaded",
		zap.Int("transactions", stats.Transactions),
		zap.Int("edges", stats.Edges),
		zap.Int("flagged", stats.Flagged),
		zap.String("model", stats.ModelVersion),
		zap.Duration("took", stats.Duration))

	return &Dataset{
		Store:     st,
		Adjacency: adj,
		Mapper:    mapper,
		Scorer:    scorer,
		Stats:     stats,
		LoadedAt:  time.Now(),
	}, nil
}

func loadErr(err error) error {
	return fmt.Errorf("%w: %w", models.ErrUnavailable, err)
}

func loadModel(ctx context.Context, opener artifact.Opener, location string) (*fusion.Model, error) {
	if location == "" || !artifact.Exists(location) {
		return fusion.DefaultModel(), nil
	}
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return fusion.ParseModel(rc)
}

// csvTable wraps a csv.Reader with header-name column lookup.
type csvTable struct {
	r    *csv.Reader
	cols map[string]int
	line int
}

func openTable(ctx context.Context, opener artifact.Opener, location string) (*csvTable, io.Closer, error) {
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(rc)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("%s: read header: %w", location, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	return &csvTable{r: r, cols: cols, line: 1}, rc, nil
}

func (t *csvTable) next() ([]string, error) {
	rec, err := t.r.Read()
	if err == nil {
		t.line++
	}
	return rec, err
}

func (t *csvTable) col(name string) (int, bool) {
	i, ok := t.cols[name]
	return i, ok
}

func (t *csvTable) require(location string, names ...string) error {
	for _, n := range names {
		if _, ok := t.cols[n]; !ok {
			return fmt.Errorf("%s: missing required column %q", location, n)
		}
	}
	return nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func readScores(ctx context.Context, opener artifact.Opener, location string) ([]scoreRow, int, error) {
	t, closer, err := openTable(ctx, opener, location)
	if err != nil {
		return nil, 0, err
	}
	defer closer.Close()

	if err := t.require(location, "txId", "fraud_prob", "gnn_fraud_prob"); err != nil {
		return nil, 0, err
	}
	keyCol, _ := t.col("txId")
	fraudCol, _ := t.col("fraud_prob")
	gnnCol, _ := t.col("gnn_fraud_prob")
	rawCol, hasRaw := t.col("anomaly_score")
	normCol, hasNorm := t.col("anomaly_score_norm")
	classCol, hasClass := t.col("class")
	storedCol, hasStored := t.col("risk_score")
	if !hasRaw && !hasNorm {
		return nil, 0, fmt.Errorf("%s: needs anomaly_score or anomaly_score_norm", location)
	}

	var rows []scoreRow
	seen := make(map[int64]struct{})
	dups := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", location, err)
		}

		row := scoreRow{line: t.line, label: models.LabelUnknown}
		if row.key, err = parseKey(field(rec, keyCol)); err != nil {
			return nil, 0, fmt.Errorf("%s line %d: txId: %w", location, t.line, err)
		}
		if _, dup := seen[row.key]; dup {
			dups++
			continue
		}
		seen[row.key] = struct{}{}

		if row.fraud, err = parseFloat(field(rec, fraudCol)); err != nil {
			return nil, 0, fmt.Errorf("%s line %d: fraud_prob: %w", location, t.line, err)
		}
		if row.gnn, err = parseFloat(field(rec, gnnCol)); err != nil {
			return nil, 0, fmt.Errorf("%s line %d: gnn_fraud_prob: %w", location, t.line, err)
		}
		if hasRaw {
			if row.raw, err = parseFloat(field(rec, rawCol)); err != nil {
				return nil, 0, fmt.Errorf("%s line %d: anomaly_score: %w", location, t.line, err)
			}
			row.hasRaw = true
		} else {
			if row.norm, err = parseFloat(field(rec, normCol)); err != nil {
				return nil, 0, fmt.Errorf("%s line %d: anomaly_score_norm: %w", location, t.line, err)
			}
			row.hasNorm = true
		}
		if hasClass {
			row.label = models.ParseLabel(normalizeClass(field(rec, classCol)))
		}
		if hasStored {
			if v, err := parseFloat(field(rec, storedCol)); err == nil {
				row.stored, row.hasStored = v, true
			}
		}
		rows = append(rows, row)
	}
	return rows, dups, nil
}

func readClasses(ctx context.Context, opener artifact.Opener, location string) (map[int64]models.Label, error) {
	t, closer, err := openTable(ctx, opener, location)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if err := t.require(location, "txId", "class"); err != nil {
		return nil, err
	}
	keyCol, _ := t.col("txId")
	classCol, _ := t.col("class")

	labels := make(map[int64]models.Label)
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", location, err)
		}
		key, err := parseKey(field(rec, keyCol))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: txId: %w", location, t.line, err)
		}
		labels[key] = models.ParseLabel(normalizeClass(field(rec, classCol)))
	}
	return labels, nil
}

func readEdges(ctx context.Context, opener artifact.Opener, location string) ([]models.Edge, error) {
	t, closer, err := openTable(ctx, opener, location)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if err := t.require(location, "txId1", "txId2"); err != nil {
		return nil, err
	}
	srcCol, _ := t.col("txId1")
	dstCol, _ := t.col("txId2")

	var edges []models.Edge
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", location, err)
		}
		src, err := parseKey(field(rec, srcCol))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: txId1: %w", location, t.line, err)
		}
		dst, err := parseKey(field(rec, dstCol))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: txId2: %w", location, t.line, err)
		}
		edges = append(edges, models.Edge{Source: src, Target: dst})
	}
	return edges, nil
}

// parseKey accepts integer keys, including pandas' "123.0" float rendering.
func parseKey(v string) (int64, error) {
	if k, err := strconv.ParseInt(v, 10, 64); err == nil {
		return k, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("invalid key %q", v)
	}
	return int64(f), nil
}

func parseFloat(v string) (float64, error) {
	if v == "" {
		return 0, fmt.Errorf("empty value")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return f, nil
}

// normalizeClass strips the ".0" pandas appends to integer columns that
// contained NaN.
func normalizeClass(v string) string {
	return strings.TrimSuffix(v, ".0")
}
