package bulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"strconv"
	"strings"
	"testing"

	"github.com/Smitty-01/ChainGaurd/internal/identity"
	"github.com/Smitty-01/ChainGaurd/internal/store"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixture(t *testing.T) *Scorer {
	t.Helper()
	recs := []models.ScoreRecord{
		{Key: 1, RiskScore: 85, Band: models.BandCritical, IsFlagged: true},
		{Key: 2, RiskScore: 65, Band: models.BandHigh},
		{Key: 3, RiskScore: 45, Band: models.BandMedium},
		{Key: 4, RiskScore: 5, Band: models.BandLow},
	}
	keys := make([]int64, len(recs))
	for i := range recs {
		recs[i].SecureID = identity.SecureID(identity.DefaultSalt, recs[i].Key)
		keys[i] = recs[i].Key
	}
	mapper, err := identity.NewMapper(identity.DefaultSalt, keys)
	require.NoError(t, err)
	return New(mapper, store.New(recs), 3, zap.NewNop())
}

func TestScoreAll_CountsAndErrors(t *testing.T) {
	s := fixture(t)
	ids := []string{
		"1",
		identity.SecureID(identity.DefaultSalt, 2),
		" 3 ",
		"4",
		"999",
		"",
		"not-an-id",
		"1",
	}

	res, err := s.ScoreAll(context.Background(), ids)
	require.NoError(t, err)

	assert.Equal(t, 8, res.Count)
	assert.Equal(t, 3, res.Errors)
	assert.Equal(t, 2, res.CriticalRisk)
	assert.Equal(t, 1, res.HighRisk)
	assert.Equal(t, 1, res.MediumRisk)
	assert.Equal(t, 1, res.LowRisk)
	assert.Equal(t, res.Count-res.Errors, res.CriticalRisk+res.HighRisk+res.MediumRisk+res.LowRisk)

	require.Len(t, res.Rows, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, res.Rows[i].Input, "row order must follow input order")
	}
	assert.Equal(t, "not_found", res.Rows[4].Error)
	assert.Equal(t, "invalid_input", res.Rows[5].Error)
	assert.Equal(t, "not_found", res.Rows[6].Error)
	assert.Equal(t, models.BandHigh, res.Rows[1].Alert)
	assert.True(t, res.Rows[0].IsFlagged)
}

func TestScoreAll_Empty(t *testing.T) {
	res, err := fixture(t).ScoreAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Zero(t, res.Errors)
}

func TestScoreAll_LargeBatch(t *testing.T) {
	s := fixture(t)
	ids := make([]string, 5000)
	for i := range ids {
		ids[i] = strconv.Itoa(i%6 + 1) // keys 5 and 6 are unknown
	}

	res, err := s.ScoreAll(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 5000, res.Count)
	assert.Equal(t, res.Count-res.Errors, res.CriticalRisk+res.HighRisk+res.MediumRisk+res.LowRisk)
	assert.Equal(t, 1666, res.Errors)
}

func TestScoreAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fixture(t).ScoreAll(ctx, []string{"1", "2"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadIDs(t *testing.T) {
	ids, err := ReadIDs(strings.NewReader("\ufeffamount,txId\n1.5,72631257\n2,230425980.0\n3,\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"72631257", "230425980", ""}, ids)

	_, err = ReadIDs(strings.NewReader("id\n1\n"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = ReadIDs(strings.NewReader(""))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestWriteCSV(t *testing.T) {
	res, err := fixture(t).ScoreAll(context.Background(), []string{"2", "404"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, res.Rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "2", records[1][0])
	assert.Equal(t, "65", records[1][2])
	assert.Equal(t, "High", records[1][3])
	assert.Equal(t, "false", records[1][7])
	assert.Equal(t, "", records[1][8])
	assert.Equal(t, []string{"404", "", "", "", "", "", "", "", "not_found"}, records[2])
}
