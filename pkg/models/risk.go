package models

// Band is the discrete risk category derived from a 0-100 risk score.
type Band string

const (
	BandLow      Band = "Low"
	BandMedium   Band = "Medium"
	BandHigh     Band = "High"
	BandCritical Band = "Critical"
)

// Bands lists every band from least to most severe.
var Bands = []Band{BandLow, BandMedium, BandHigh, BandCritical}

// Label is the Elliptic ground-truth class of a transaction.
type Label string

const (
	LabelIllicit Label = "illicit" // class 1
	LabelLicit   Label = "licit"   // class 2
	LabelUnknown Label = "unknown"
)

// ParseLabel maps the dataset's class column onto a Label.
// Elliptic uses "1" for illicit and "2" for licit; the processed risk table
// re-encodes licit as "0".
func ParseLabel(raw string) Label {
	switch raw {
	case "1", "illicit":
		return LabelIllicit
	case "2", "0", "licit":
		return LabelLicit
	default:
		return LabelUnknown
	}
}

// ScoreRecord is one row of the precomputed model-output table.
// RiskScore and Band are derived from the three model signals at load time.
type ScoreRecord struct {
	Key              int64   `json:"-"`
	SecureID         string  `json:"secureId"`
	FraudProb        float64 `json:"fraudProb"`        // XGBoost
	GNNFraudProb     float64 `json:"gnnFraudProb"`     // GraphSAGE
	AnomalyScore     float64 `json:"anomalyScore"`     // Isolation Forest, raw
	AnomalyScoreNorm float64 `json:"anomalyScoreNorm"` // [0,1]
	Label            Label   `json:"label"`
	IsFlagged        bool    `json:"isFlagged"`
	RiskScore        float64 `json:"riskScore"`
	Band             Band    `json:"band"`
}

// Assessment is the single-transaction fusion result returned by lookups.
type Assessment struct {
	SecureID          string  `json:"secure_id"`
	FraudProb         float64 `json:"fraud_prob"`
	GNNFraudProb      float64 `json:"gnn_fraud_prob"`
	AnomalyScore      float64 `json:"anomaly_score"`
	AnomalyScoreNorm  float64 `json:"anomaly_score_norm"`
	RiskScore         float64 `json:"risk_score"`
	Alert             Band    `json:"alert"`
	IsFlagged         bool    `json:"is_flagged"`
	RecommendedAction string  `json:"recommended_action"`
}

// Report is the data a rendered risk report is built from.
type Report struct {
	Assessment
	RiskLevel     string  `json:"risk_level"` // upper-case band
	FraudPercent  float64 `json:"xgboost_fraud_percent"`
	GNNPercent    float64 `json:"gnn_fraud_percent"`
	GeneratedAt   string  `json:"generated_at"`
	NeighborCount int     `json:"neighbor_count"`
	FlaggedNearby int     `json:"flagged_neighbors"`
	ModelVersion  string  `json:"model_version"`
}
