package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/watttime-adapter/internal/metrics"
	"github.com/Checker-Finance/watttime-adapter/pkg/logger"
	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// Publisher wraps a NATS connection and provides helpers for publishing canonical events.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	service string
}

// New creates a new Publisher with JetStream enabled if available.
func New(nc *nats.Conn, subject, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
	}, nil
}

// PublishEnvelope serializes and publishes a canonical event envelope to NATS.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	if subject == "" {
		subject = p.subject
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"region":         []string{env.Region},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"region", env.Region,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Infow("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"region", env.Region,
	)

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishSignalUpdated emits canonical emissions.signal.updated events, one
// per fresh reading the poller observes.
func (p *Publisher) PublishSignalUpdated(ctx context.Context, reading model.SignalReading) error {
	env := p.newEnvelope(model.SubjectSignalUpdated, "emissions.signal.updated", reading.Region)

	data, _ := json.Marshal(reading)
	env.Payload = data

	return p.PublishEnvelope(ctx, model.SubjectSignalUpdated, env)
}

// PublishForecastPublished emits canonical emissions.forecast.published
// events whenever the upstream model produces a new curve.
func (p *Publisher) PublishForecastPublished(ctx context.Context, curve model.ForecastCurve) error {
	env := p.newEnvelope(model.SubjectForecastPublished, "emissions.forecast.published", curve.Region)

	data, _ := json.Marshal(curve)
	env.Payload = data

	return p.PublishEnvelope(ctx, model.SubjectForecastPublished, env)
}

// PublishBackfillCompleted emits the terminal event for a backfill command,
// successful or not. CommandID rides in the envelope payload so the
// requester can correlate.
func (p *Publisher) PublishBackfillCompleted(ctx context.Context, result model.BackfillResult) error {
	env := p.newEnvelope(model.SubjectBackfillCompleted, "emissions.backfill.completed", result.Region)

	data, _ := json.Marshal(result)
	env.Payload = data

	return p.PublishEnvelope(ctx, model.SubjectBackfillCompleted, env)
}

func (p *Publisher) newEnvelope(topic, eventType, region string) *model.Envelope {
	return &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Source:        p.service,
		Region:        region,
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
	}
}

// Publish publishes raw JSON payloads (for non-canonical internal events).
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
