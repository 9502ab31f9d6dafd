package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Smitty-01/ChainGaurd/internal/db"
	"github.com/Smitty-01/ChainGaurd/internal/events"
	"github.com/Smitty-01/ChainGaurd/internal/export"
	"github.com/Smitty-01/ChainGaurd/internal/fusion"
	"github.com/Smitty-01/ChainGaurd/internal/identity"
	"github.com/Smitty-01/ChainGaurd/internal/risk"
	"github.com/Smitty-01/ChainGaurd/internal/shadow"
	"github.com/Smitty-01/ChainGaurd/internal/store"
	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func minmaxScorer(t *testing.T, version string, xgb, gnn, anomaly float64) *fusion.Scorer {
	t.Helper()
	m := &fusion.Model{
		Version: version,
		Weights: fusion.WeightsSpec{XGBoost: xgb, GNN: gnn, Anomaly: anomaly},
		Anomaly: fusion.AnomalySpec{Kind: "minmax", Min: 0, Max: 1},
	}
	s, err := m.Scorer(nil)
	require.NoError(t, err)
	return s
}

// dataset: 5530458 -> 72631257 -> {230425980, 1000}
func dataset(t *testing.T) *store.Dataset {
	t.Helper()
	scorer := minmaxScorer(t, "test-v1", 0.5, 0.3, 0.2)

	type row struct {
		key                 int64
		fraud, gnn, anomaly float64
		flagged             bool
	}
	rows := []row{
		{72631257, 0.92, 0.10, 0.40, false},
		{230425980, 0.05, 0.02, 0.10, false},
		{5530458, 0.99, 0.97, 0.95, true},
		{1000, 0.70, 0.60, 0.50, true},
	}
	keys := make([]int64, len(rows))
	for i, r := range rows {
		keys[i] = r.key
	}
	mapper, err := identity.NewMapper(identity.DefaultSalt, keys)
	require.NoError(t, err)

	recs := make([]models.ScoreRecord, len(rows))
	for i, r := range rows {
		res, err := scorer.Fuse(r.fraud, r.gnn, r.anomaly)
		require.NoError(t, err)
		sid, _ := mapper.SecureIDOf(r.key)
		recs[i] = models.ScoreRecord{
			Key: r.key, SecureID: sid,
			FraudProb: r.fraud, GNNFraudProb: r.gnn,
			AnomalyScore: r.anomaly, AnomalyScoreNorm: res.AnomalyScoreNorm,
			IsFlagged: r.flagged, RiskScore: res.RiskScore, Band: res.Band,
		}
	}
	st := store.New(recs)
	adj := store.NewAdjacency([]models.Edge{
		{Source: 5530458, Target: 72631257},
		{Source: 72631257, Target: 230425980},
		{Source: 72631257, Target: 1000},
	})
	return &store.Dataset{
		Store: st, Adjacency: adj, Mapper: mapper, Scorer: scorer,
		Stats:    store.LoadStats{Transactions: st.Len(), Edges: adj.EdgeCount(), ModelVersion: scorer.Version()},
		LoadedAt: time.Now(),
	}
}

type fakeRuns struct {
	runs    []db.BulkRunInfo
	pingErr error
}

func (f *fakeRuns) GetBulkRuns(_ context.Context, page, limit int) ([]db.BulkRunInfo, int, error) {
	return f.runs, len(f.runs), nil
}

func (f *fakeRuns) Ping(context.Context) error { return f.pingErr }

type fixture struct {
	router *gin.Engine
	svc    *risk.Service
	alerts *events.Manager
	hub    *Hub
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	hub := NewHub(nil, nil)
	alerts := events.NewManager(hub.BroadcastAlert, nil, nil)
	svc := risk.NewService(risk.Options{BulkWorkers: 2}, nil,
		risk.WithNotifier(alerts),
		risk.WithExports(export.NewStore(time.Hour, 8)))
	svc.Publish(dataset(t))

	d := Deps{Service: svc, Hub: hub, Alerts: alerts}
	if mutate != nil {
		mutate(&d)
	}
	return &fixture{router: SetupRouter(d), svc: svc, alerts: alerts, hub: hub}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (f *fixture) postJSON(path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	t.Run("loading", func(t *testing.T) {
		r := SetupRouter(Deps{Service: risk.NewService(risk.Options{}, nil)})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "loading", decode(t, w)["status"])
	})

	t.Run("operational", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Runs = &fakeRuns{} })
		w := f.get("/api/v1/health")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "operational", body["status"])
		assert.Equal(t, true, body["dbConnected"])
		ds := body["dataset"].(map[string]any)
		assert.Equal(t, float64(4), ds["transactions"])
	})

	t.Run("db ping failure", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Runs = &fakeRuns{pingErr: errors.New("refused")} })
		assert.Equal(t, false, decode(t, f.get("/api/v1/health"))["dbConnected"])
	})
}

func TestLookup(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/api/v1/tx/72631257")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 57.0, body["risk_score"])
	assert.Equal(t, "Medium", body["alert"])
	assert.Equal(t, identity.SecureID(identity.DefaultSalt, 72631257), body["secure_id"])
	assert.NotContains(t, w.Body.String(), "72631257")

	w = f.get("/api/v1/tx/123")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}

func TestLookupBeforeLoad(t *testing.T) {
	r := SetupRouter(Deps{Service: risk.NewService(risk.Options{}, nil)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tx/72631257", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decode(t, w)["error"])
}

func TestCriticalLookupRaisesAlert(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, http.StatusOK, f.get("/api/v1/tx/5530458").Code)
	require.Equal(t, http.StatusOK, f.get("/api/v1/tx/72631257").Code)

	w := f.get("/api/v1/alerts")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])

	w = f.get("/api/v1/alerts?severity=critical")
	assert.Equal(t, float64(1), decode(t, w)["count"])

	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/alerts?severity=severe").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/alerts?limit=0").Code)
}

func TestTopRisk(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/api/v1/top/2")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	first := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, identity.SecureID(identity.DefaultSalt, 5530458), first["secure_id"])

	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/top/abc").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/top/0").Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/v1/top/5000").Code)
}

func TestGraph(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/api/v1/graph/72631257")
	require.Equal(t, http.StatusOK, w.Code)
	var view models.GraphView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Len(t, view.Nodes, 4)
	assert.Len(t, view.Edges, 3)
	assert.Equal(t, 1, view.Depth)
	assert.Equal(t, models.NodeCenter, view.Nodes[0].Type)

	w = f.get("/api/v1/graph/72631257?depth=1&max_nodes=2")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Len(t, view.Nodes, 2)
	assert.True(t, view.Truncated)

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/graph/72631257?depth=4", http.StatusBadRequest},
		{"/api/v1/graph/72631257?depth=0", http.StatusBadRequest},
		{"/api/v1/graph/72631257?depth=two", http.StatusBadRequest},
		{"/api/v1/graph/72631257?max_nodes=-1", http.StatusBadRequest},
		{"/api/v1/graph/999999", http.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, f.get(tt.path).Code, tt.path)
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/api/v1/report/72631257")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "MEDIUM", body["risk_level"])
	assert.Equal(t, float64(92), body["xgboost_fraud_percent"])
	assert.Equal(t, float64(3), body["neighbor_count"])
	assert.Equal(t, float64(2), body["flagged_neighbors"])
}

func TestBatch(t *testing.T) {
	f := newFixture(t, nil)

	w := f.postJSON("/api/v1/batch", gin.H{"ids": []string{"1000", "1000", "nope", "72631257"}})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(4), body["requested"])

	assert.Equal(t, http.StatusBadRequest, f.postJSON("/api/v1/batch", gin.H{"ids": []string{}}).Code)
	assert.Equal(t, http.StatusBadRequest, f.postJSON("/api/v1/batch", gin.H{"other": 1}).Code)
}

func TestBulkJSONAndExport(t *testing.T) {
	f := newFixture(t, nil)

	w := f.postJSON("/api/v1/bulk", gin.H{"ids": []string{"72631257", "5530458", "", "bogus"}})
	require.Equal(t, http.StatusOK, w.Code)
	var res models.BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, 1, res.CriticalRisk)
	assert.Equal(t, 1, res.MediumRisk)
	require.NotEmpty(t, res.ExportURL)

	w = f.get(res.ExportURL)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), res.RunID)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "input,secure_id,risk_score"))
	assert.True(t, strings.HasSuffix(lines[3], "invalid_input"))
	assert.True(t, strings.HasSuffix(lines[4], "not_found"))

	bulkAlerts := 0
	for _, a := range f.alerts.Recent(10) {
		if a.AlertType == events.TypeBulkCompleted {
			bulkAlerts++
			assert.Equal(t, res.RunID, a.RunID)
		}
	}
	assert.Equal(t, 1, bulkAlerts)

	assert.Equal(t, http.StatusNotFound, f.get("/api/v1/bulk/unknown/export").Code)
}

func TestBulkUpload(t *testing.T) {
	f := newFixture(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "batch.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("txId,note\n72631257.0,a\n230425980,b\n1000,c\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 0, res.Errors)
	assert.Equal(t, 1, res.HighRisk)
	assert.Equal(t, 1, res.MediumRisk)
	assert.Equal(t, 1, res.LowRisk)
}

func TestBulkUploadMissingColumn(t *testing.T) {
	f := newFixture(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "batch.csv")
	_, _ = part.Write([]byte("id\n1000\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "txId")
}

func TestRuns(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.get("/api/v1/runs").Code)

	runs := &fakeRuns{runs: []db.BulkRunInfo{{RunID: "r1", Count: 3}}}
	f = newFixture(t, func(d *Deps) { d.Runs = runs })
	w := f.get("/api/v1/runs?page=1&limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["totalCount"])
	assert.Equal(t, float64(10), body["limit"])

	w = f.get("/api/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(50), decode(t, w)["limit"])
}

func TestRuns_RejectsBadPaging(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Runs = &fakeRuns{} })

	for _, query := range []string{
		"page=abc",
		"page=0",
		"page=-2",
		"limit=abc",
		"limit=0",
		"limit=501",
		"page=1&limit=1.5",
	} {
		w := f.get("/api/v1/runs?" + query)
		require.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, "invalid_input", decode(t, w)["error"], query)
	}
}

func TestShadowDrift(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.get("/api/v1/shadow/drift").Code)

	candidate := minmaxScorer(t, "xgb-only", 1, 0, 0)
	f = newFixture(t, func(d *Deps) {
		d.Shadow = shadow.NewRunner(candidate, "test-v1", nil, nil)
	})
	w := f.get("/api/v1/shadow/drift")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	drift := body["drift"].(map[string]any)
	assert.Equal(t, "xgb-only", drift["shadowVersion"])
	assert.Equal(t, "test-v1", drift["productionVersion"])
	served := body["served"].(map[string]any)
	assert.Equal(t, float64(0), served["comparisons"])

	assert.Equal(t, "xgb-only", decode(t, f.get("/api/v1/health"))["shadowModel"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AuthToken = "s3cret" })

	assert.Equal(t, http.StatusOK, f.get("/api/v1/health").Code)
	assert.Equal(t, http.StatusUnauthorized, f.get("/api/v1/tx/72631257").Code)

	for header, code := range map[string]int{
		"Bearer wrong":  http.StatusForbidden,
		"Basic s3cret":  http.StatusForbidden,
		"Bearer":        http.StatusForbidden,
		"Bearer s3cret": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tx/72631257", nil)
		req.Header.Set("Authorization", header)
		assert.Equal(t, code, f.do(req).Code, header)
	}
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	t.Cleanup(rl.Stop)
	f := newFixture(t, func(d *Deps) { d.Limiter = rl })

	assert.Equal(t, http.StatusOK, f.get("/api/v1/tx/72631257").Code)
	assert.Equal(t, http.StatusOK, f.get("/api/v1/tx/72631257").Code)
	w := f.get("/api/v1/tx/72631257")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// health is not limited
	assert.Equal(t, http.StatusOK, f.get("/api/v1/health").Code)
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	t.Cleanup(rl.Stop)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	ok, _ := rl.allow("10.0.0.1")
	assert.True(t, ok)
	ok, wait := rl.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _ = rl.allow("10.0.0.2")
	assert.True(t, ok, "buckets are per IP")

	now = now.Add(time.Second)
	ok, _ = rl.allow("10.0.0.1")
	assert.True(t, ok)

	rl.sweep(now.Add(time.Minute))
	assert.Empty(t, rl.buckets)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AllowedOrigins = []string{"https://dash.example"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/tx/1", nil)
	req.Header.Set("Origin", "https://dash.example")
	w := f.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = f.do(req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/api/v1/health")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", f.do(req).Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.get("/api/v1/tx/72631257")

	w := f.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chainguard_lookups_total")
}

func TestStreamDeliversAlerts(t *testing.T) {
	f := newFixture(t, nil)
	go f.hub.Run()
	t.Cleanup(f.hub.Close)

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.alerts.Emit(events.SubjectCriticalAlert, events.Alert{
		Severity:  models.BandCritical,
		AlertType: events.TypeCriticalRisk,
		SecureID:  "abc",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload struct {
		Type  string       `json:"type"`
		Alert events.Alert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(msg, &payload))
	assert.Equal(t, events.TypeCriticalRisk, payload.Type)
	assert.Equal(t, "abc", payload.Alert.SecureID)
}
