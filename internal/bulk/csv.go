package bulk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
)

// IDColumn is the column an uploaded batch file must carry.
const IDColumn = "txId"

// MaxUploadRows caps a single uploaded batch.
const MaxUploadRows = 100_000

var exportHeader = []string{
	"input", "secure_id", "risk_score", "alert",
	"fraud_prob", "gnn_fraud_prob", "anomaly_score_norm",
	"is_flagged", "error",
}

// ReadIDs extracts identifiers from an uploaded CSV with a txId column.
// Blank cells are kept so they surface as invalid rows in the result.
func ReadIDs(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read batch header: %v: %w", err, models.ErrInvalidInput)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == IDColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("batch file must contain a %q column: %w", IDColumn, models.ErrInvalidInput)
	}

	var ids []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read batch row %d: %v: %w", len(ids)+2, err, models.ErrInvalidInput)
		}
		if len(ids) == MaxUploadRows {
			return nil, fmt.Errorf("batch exceeds %d rows: %w", MaxUploadRows, models.ErrInvalidInput)
		}
		v := ""
		if col < len(rec) {
			v = strings.TrimSpace(rec[col])
		}
		// pandas writes integer ids from float columns as "123.0"
		ids = append(ids, strings.TrimSuffix(v, ".0"))
	}
	return ids, nil
}

// WriteCSV writes the per-row export of a bulk run.
func WriteCSV(w io.Writer, rows []models.BulkRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Input, r.SecureID, "", "", "", "", "", "", r.Error}
		if r.Error == "" {
			rec[2] = formatFloat(r.RiskScore)
			rec[3] = string(r.Alert)
			rec[4] = formatFloat(r.FraudProb)
			rec[5] = formatFloat(r.GNNProb)
			rec[6] = formatFloat(r.AnomalyN)
			rec[7] = strconv.FormatBool(r.IsFlagged)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
