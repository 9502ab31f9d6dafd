package models

import "time"

// ShadowResult captures the diff between the production fusion model and a
// candidate model on one transaction.
type ShadowResult struct {
	SecureID          string    `json:"secureId"`
	ProductionScore   float64   `json:"productionScore"`
	ShadowScore       float64   `json:"shadowScore"`
	ProductionBand    Band      `json:"productionBand"`
	ShadowBand        Band      `json:"shadowBand"`
	DeltaScore        float64   `json:"deltaScore"` // shadow - production
	ProductionVersion string    `json:"productionVersion"`
	ShadowVersion     string    `json:"shadowVersion"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Diverged reports whether the two models disagree on the band.
func (r ShadowResult) Diverged() bool {
	return r.ProductionBand != r.ShadowBand
}
