package models

// BulkRow is the per-identifier outcome of a bulk scoring run.
type BulkRow struct {
	Input      string  `json:"input"`
	SecureID   string  `json:"secure_id,omitempty"`
	RiskScore  float64 `json:"risk_score,omitempty"`
	Alert      Band    `json:"alert,omitempty"`
	FraudProb  float64 `json:"fraud_prob,omitempty"`
	GNNProb    float64 `json:"gnn_fraud_prob,omitempty"`
	AnomalyN   float64 `json:"anomaly_score_norm,omitempty"`
	IsFlagged  bool    `json:"is_flagged,omitempty"`
	Error      string  `json:"error,omitempty"` // error kind, empty on success
	ErrorCause string  `json:"error_detail,omitempty"`
}

// BulkResult aggregates a bulk scoring run.
// CriticalRisk+HighRisk+MediumRisk+LowRisk == Count-Errors.
type BulkResult struct {
	RunID        string    `json:"run_id,omitempty"`
	Count        int       `json:"count"`
	CriticalRisk int       `json:"critical_risk"`
	HighRisk     int       `json:"high_risk"`
	MediumRisk   int       `json:"medium_risk"`
	LowRisk      int       `json:"low_risk"`
	Errors       int       `json:"errors"`
	Rows         []BulkRow `json:"-"`
	ExportURL    string    `json:"file,omitempty"`
}
