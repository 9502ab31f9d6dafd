package shadow

import (
	"context"
	"fmt"

	"github.com/Smitty-01/ChainGaurd/internal/artifact"
	"github.com/Smitty-01/ChainGaurd/internal/fusion"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// LoadCandidate reads a candidate fusion model artifact. A model without
// its own anomaly constants is fit on the production table's raw scores.
func LoadCandidate(ctx context.Context, opener artifact.Opener, location string, records Records) (*fusion.Scorer, error) {
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("open shadow model: %w", err)
	}
	defer rc.Close()

	model, err := fusion.ParseModel(rc)
	if err != nil {
		return nil, fmt.Errorf("shadow model %s: %w", location, err)
	}

	var observed []float64
	if !model.Fitted() {
		records.Each(func(rec models.ScoreRecord) bool {
			observed = append(observed, rec.AnomalyScore)
			return true
		})
	}
	return model.Scorer(observed)
}
