package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects the engine publishes on.
const (
	SubjectCriticalAlert = "chainguard.alerts.critical"
	SubjectBulkCompleted = "chainguard.bulk.completed"
)

// Publisher sends JSON events to NATS.
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewPublisher connects to natsURL. The connection retries in the
// background, so a broker that comes up after the engine is picked up.
func NewPublisher(natsURL string, logger *zap.Logger) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("chainguard-engine"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("[Events] Connected to NATS", zap.String("url", natsURL))
	return &Publisher{conn: conn, logger: logger}, nil
}

// Publish marshals v and sends it on subject.
func (p *Publisher) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

// Close drains pending messages and disconnects.
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
		p.logger.Info("[Events] Disconnected from NATS")
	}
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
