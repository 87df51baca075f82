package bus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/forgeq/forgeq/core/infra/logging"
)

// JobEvent is the wire shape published for every terminal job transition so
// external observers (dashboards, billing reconciliation) can tail the stream
// without polling the gateway.
type JobEvent struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	Plan        string    `json:"plan,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

const subjectPrefix = "forgeq.job."

var (
	errNilBus   = errors.New("nats bus not initialized")
	errNilEvent = errors.New("nil job event")
)

// NatsBus is a thin wrapper over a NATS connection that speaks JSON job events.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("forgeq-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Error("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// Subject returns the per-status subject for a job event.
func Subject(status string) string {
	return subjectPrefix + status
}

// PublishJobEvent publishes a terminal job transition. Best effort: callers
// treat the relay as advisory and never fail a job on publish errors.
func (b *NatsBus) PublishJobEvent(evt *JobEvent) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if evt == nil {
		return errNilEvent
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(Subject(evt.Status), data)
}
