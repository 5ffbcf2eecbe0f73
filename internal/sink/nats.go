package sink

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"flockwatch/internal/model"
)

// NATS publishes JSON-encoded detections on a subject.
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

func NewNATS(url, subject string, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("flockwatch"))
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("connected to nats", "url", url, "subject", subject)
	}
	return &NATS{nc: nc, subject: subject, logger: logger}, nil
}

func (n *NATS) Write(_ context.Context, det model.Detection) error {
	data, err := json.Marshal(det)
	if err != nil {
		return err
	}
	return n.nc.Publish(n.subject, data)
}

// Close drains pending publishes before closing the connection.
func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}
