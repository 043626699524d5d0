package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/apigrove/media-gateway/internal/gateway"
	"github.com/apigrove/media-gateway/internal/telemetry"
)

// LogSink writes each outcome as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the outcome.
func (s *LogSink) Consume(_ context.Context, o gateway.RequestOutcome) error {
	fields := []zap.Field{
		zap.String("route", o.Route),
		zap.Bool("success", o.Success),
		zap.String("client", o.Client),
		zap.Time("at", o.At),
	}
	if o.Detail != "" {
		fields = append(fields, zap.String("detail", o.Detail))
	}
	if o.Success {
		s.logger.Info("request outcome", fields...)
	} else {
		s.logger.Warn("request outcome", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// MetricsSink counts provider failures in Prometheus. Successes are
// already covered by the HTTP middleware collectors.
type MetricsSink struct{}

// NewMetricsSink constructs a MetricsSink.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Consume records a failure against the outcome's route.
func (s *MetricsSink) Consume(_ context.Context, o gateway.RequestOutcome) error {
	if !o.Success {
		telemetry.ObserveProviderFailure(o.Route)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *MetricsSink) Close(context.Context) error {
	return nil
}

// PubSubSink publishes outcomes to a Google Cloud Pub/Sub topic so an
// external collector can consume them. Publishing is fire-and-forget;
// the client batches and retries in the background.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink creates the client and verifies the topic exists.
// Authentication uses Application Default Credentials.
func NewPubSubSink(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil || !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		if err != nil {
			return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &PubSubSink{client: client, topic: topic}, nil
}

// Consume publishes the outcome as a JSON message.
func (s *PubSubSink) Consume(ctx context.Context, o gateway.RequestOutcome) error {
	data, err := json.Marshal(map[string]any{
		"route":   o.Route,
		"success": o.Success,
		"client":  o.Client,
		"detail":  o.Detail,
		"at":      o.At,
	})
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	s.topic.Publish(ctx, &pubsub.Message{Data: data})
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
