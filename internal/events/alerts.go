package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Smitty-01/ChainGaurd/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Alert Distribution
//
// Risk events raised while serving requests are:
//   1. Kept in a bounded in-memory history for the dashboard
//   2. Broadcast to connected websocket clients
//   3. Published to NATS when a broker is configured
//
// Delivery is best effort: a failing sink is logged and never fails the
// request that raised the alert.

// Alert types.
const (
	TypeCriticalRisk  = "critical_risk"
	TypeBulkCompleted = "bulk_completed"
)

// Alert is a structured risk event.
type Alert struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Severity    models.Band `json:"severity"`
	AlertType   string      `json:"alertType"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	SecureID    string      `json:"secureId,omitempty"`
	RiskScore   float64     `json:"riskScore,omitempty"`
	RunID       string      `json:"runId,omitempty"`
}

// Sink receives published events (the NATS publisher in production).
type Sink interface {
	Publish(subject string, v any) error
}

// Manager records and distributes alerts. Safe for concurrent use.
type Manager struct {
	mu           sync.RWMutex
	recentAlerts []Alert
	maxHistory   int
	broadcast    func(Alert) // websocket fan-out
	sink         Sink
	logger       *zap.Logger
}

// NewManager creates the alert system. broadcast and sink may be nil.
func NewManager(broadcast func(Alert), sink Sink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		recentAlerts: make([]Alert, 0),
		maxHistory:   1000,
		broadcast:    broadcast,
		sink:         sink,
		logger:       logger,
	}
}

// Emit stores and distributes an alert.
func (m *Manager) Emit(subject string, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.recentAlerts = append(m.recentAlerts, alert)
	if len(m.recentAlerts) > m.maxHistory {
		m.recentAlerts = m.recentAlerts[len(m.recentAlerts)-m.maxHistory:]
	}
	m.mu.Unlock()

	if m.broadcast != nil {
		m.broadcast(alert)
	}
	if m.sink != nil {
		if err := m.sink.Publish(subject, alert); err != nil {
			m.logger.Warn("[Alert] Publish failed", zap.String("subject", subject), zap.Error(err))
		}
	}

	m.logger.Info("[Alert] Emitted",
		zap.String("severity", string(alert.Severity)),
		zap.String("type", alert.AlertType),
		zap.String("secure_id", alert.SecureID))
}

// CriticalAlert raises an alert for a Critical assessment. Other bands
// are ignored.
func (m *Manager) CriticalAlert(_ context.Context, a models.Assessment) {
	if a.Alert != models.BandCritical {
		return
	}
	desc := fmt.Sprintf("Fused risk %.1f. %s", a.RiskScore, a.RecommendedAction)
	if a.IsFlagged {
		desc = "Transaction is in the known-illicit set. " + desc
	}
	m.Emit(SubjectCriticalAlert, Alert{
		Severity:    models.BandCritical,
		AlertType:   TypeCriticalRisk,
		Title:       "Critical risk transaction",
		Description: desc,
		SecureID:    a.SecureID,
		RiskScore:   a.RiskScore,
	})
}

// BulkCompleted announces a finished bulk run. Severity is the worst band
// seen in the run.
func (m *Manager) BulkCompleted(_ context.Context, res *models.BulkResult) {
	sev := models.BandLow
	switch {
	case res.CriticalRisk > 0:
		sev = models.BandCritical
	case res.HighRisk > 0:
		sev = models.BandHigh
	case res.MediumRisk > 0:
		sev = models.BandMedium
	}
	m.Emit(SubjectBulkCompleted, Alert{
		Severity:  sev,
		AlertType: TypeBulkCompleted,
		Title:     fmt.Sprintf("Bulk run scored %d transactions", res.Count),
		Description: fmt.Sprintf("critical=%d high=%d medium=%d low=%d errors=%d",
			res.CriticalRisk, res.HighRisk, res.MediumRisk, res.LowRisk, res.Errors),
		RunID: res.RunID,
	})
}

// Recent returns up to limit alerts, most recent first. limit <= 0 returns
// the whole history.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recentAlerts) {
		limit = len(m.recentAlerts)
	}
	start := len(m.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = m.recentAlerts[start+limit-1-i]
	}
	return result
}

// BySeverity returns alerts at or above minimum, oldest first.
func (m *Manager) BySeverity(minimum models.Band) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []Alert
	for _, a := range m.recentAlerts {
		if severityRank(a.Severity) >= severityRank(minimum) {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

func severityRank(b models.Band) int {
	for i, band := range models.Bands {
		if band == b {
			return i
		}
	}
	return -1
}
