package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSub publishes run summaries to a Google Cloud Pub/Sub topic.
// Publishing is best effort: a lost notification never fails a sync run.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSub connects to the project and binds the topic.
func NewPubSub(ctx context.Context, projectID, topicName string, logger *zap.Logger) (*PubSub, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project id and topic name are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSub{
		client: client,
		topic:  client.Topic(topicName),
		logger: logger,
	}, nil
}

// Publish marshals the summary to JSON and publishes it. The publish result
// is awaited so delivery failures are at least logged.
func (p *PubSub) Publish(ctx context.Context, summary RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"status": summary.Status, "scope": summary.Scope},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	p.logger.Debug("run summary published", zap.String("message_id", id), zap.String("run_id", summary.RunID))
	return nil
}

// Close flushes the topic and releases the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
