package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// schemaSQL is compiled into the binary so schema init works from a
// runtime image that does not ship internal/db/schema.sql.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the optional audit trail: bulk runs, the latest
// assessment per looked-up transaction, and shadow comparisons. The
// serving path never reads from it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logger.Info("[DB] Connected to PostgreSQL for risk audit")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.logger.Info("[DB] Audit schema initialized")
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveBulkRun persists a bulk run summary and all of its rows in one
// transaction.
func (s *PostgresStore) SaveBulkRun(ctx context.Context, res *models.BulkResult, modelVersion string) error {
	runID, err := uuid.Parse(res.RunID)
	if err != nil {
		return fmt.Errorf("bulk run id %q: %w", res.RunID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRunSQL := `
		INSERT INTO bulk_runs
			(run_id, row_count, critical_risk, high_risk, medium_risk, low_risk, errors, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err = tx.Exec(ctx, insertRunSQL, runID, res.Count, res.CriticalRisk, res.HighRisk,
		res.MediumRisk, res.LowRisk, res.Errors, modelVersion)
	if err != nil {
		return fmt.Errorf("failed to insert bulk_runs: %w", err)
	}

	if len(res.Rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"bulk_rows"},
			[]string{"run_id", "row_index", "input", "secure_id", "risk_score", "alert", "is_flagged", "error"},
			pgx.CopyFromSlice(len(res.Rows), func(i int) ([]any, error) {
				r := res.Rows[i]
				if r.Error != "" {
					return []any{runID, i, r.Input, nil, nil, nil, nil, r.Error}, nil
				}
				return []any{runID, i, r.Input, r.SecureID, r.RiskScore, string(r.Alert), r.IsFlagged, nil}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy bulk_rows: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// BulkRunInfo is one row of the bulk run history.
type BulkRunInfo struct {
	RunID        string    `json:"runId"`
	Count        int       `json:"count"`
	CriticalRisk int       `json:"criticalRisk"`
	HighRisk     int       `json:"highRisk"`
	MediumRisk   int       `json:"mediumRisk"`
	LowRisk      int       `json:"lowRisk"`
	Errors       int       `json:"errors"`
	ModelVersion string    `json:"modelVersion"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GetBulkRuns pages through bulk run history, newest first.
func (s *PostgresStore) GetBulkRuns(ctx context.Context, page int, limit int) ([]BulkRunInfo, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bulk_runs`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT run_id::text, row_count, critical_risk, high_risk, medium_risk, low_risk,
			errors, model_version, created_at
		FROM bulk_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := make([]BulkRunInfo, 0)
	for rows.Next() {
		var r BulkRunInfo
		if err := rows.Scan(&r.RunID, &r.Count, &r.CriticalRisk, &r.HighRisk, &r.MediumRisk,
			&r.LowRisk, &r.Errors, &r.ModelVersion, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return runs, totalCount, nil
}

// SaveRiskAssessment upserts the latest assessment for a transaction.
// Only the secure id is stored; raw dataset keys never reach the audit trail.
func (s *PostgresStore) SaveRiskAssessment(ctx context.Context, a models.Assessment, modelVersion string) error {
	sql := `
		INSERT INTO risk_assessments
			(secure_id, risk_score, alert, fraud_prob, gnn_fraud_prob, anomaly_score_norm,
			 is_flagged, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (secure_id) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			alert = EXCLUDED.alert,
			fraud_prob = EXCLUDED.fraud_prob,
			gnn_fraud_prob = EXCLUDED.gnn_fraud_prob,
			anomaly_score_norm = EXCLUDED.anomaly_score_norm,
			is_flagged = EXCLUDED.is_flagged,
			model_version = EXCLUDED.model_version,
			lookup_count = risk_assessments.lookup_count + 1,
			last_seen = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, a.SecureID, a.RiskScore, string(a.Alert), a.FraudProb,
		a.GNNFraudProb, a.AnomalyScoreNorm, a.IsFlagged, modelVersion)
	return err
}

// SaveShadowResult writes a shadow comparison (never to production tables).
func (s *PostgresStore) SaveShadowResult(ctx context.Context, r *models.ShadowResult) error {
	sql := `INSERT INTO shadow_results
		(secure_id, production_score, shadow_score, production_band, shadow_band,
		 delta_score, production_version, shadow_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, sql,
		r.SecureID,
		r.ProductionScore,
		r.ShadowScore,
		string(r.ProductionBand),
		string(r.ShadowBand),
		r.DeltaScore,
		r.ProductionVersion,
		r.ShadowVersion,
		r.CreatedAt,
	)
	return err
}

// ShadowSummary aggregates persisted comparisons for a candidate version.
func (s *PostgresStore) ShadowSummary(ctx context.Context, shadowVersion string) (totalRuns int, divergences int, avgDelta float64, err error) {
	sql := `SELECT
		COUNT(*) AS total_runs,
		COUNT(*) FILTER (WHERE shadow_band != production_band) AS divergences,
		COALESCE(AVG(delta_score), 0) AS avg_delta
	FROM shadow_results WHERE shadow_version = $1`

	row := s.pool.QueryRow(ctx, sql, shadowVersion)
	err = row.Scan(&totalRuns, &divergences, &avgDelta)
	return
}
