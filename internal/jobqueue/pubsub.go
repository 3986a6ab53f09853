package jobqueue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"
)

// PubSub adapts the teacher's queue.PubSubProvider into a completion-
// event notifier: it does not implement Queue itself (the in-process
// Memory queue remains the sole owner of dispatch, retry, and stall
// semantics) — it drains a Queue's Events channel and republishes each
// completed/failed/stalled notification to a downstream Pub/Sub topic,
// the same role the teacher's publisher played for crawl completions.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsubpb.Topic
	logger *zap.Logger
}

func fullTopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// NewPubSub creates a Pub/Sub client and resolves the target topic,
// authenticating via Application Default Credentials.
func NewPubSub(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: create pubsub client: %w", err)
	}

	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: fullTopicName(projectID, topicID),
	})
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after topic lookup failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("jobqueue: get pubsub topic %q: %w", topicID, err)
	}
	if topic.State != pubsubpb.Topic_ACTIVE {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after inactive topic check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("jobqueue: pubsub topic %q is not active in project %q", topicID, projectID)
	}

	return &PubSub{client: client, topic: topic, logger: logger}, nil
}

// Forward drains events from q.Events() and publishes each as a
// fire-and-forget message until ctx is cancelled.
func (p *PubSub) Forward(ctx context.Context, q Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-q.Events():
			if !ok {
				return
			}
			p.publish(ctx, evt)
		}
	}
}

func (p *PubSub) publish(ctx context.Context, evt Event) {
	publisher := p.client.Publisher(p.topic.Name)
	msg := &pubsub.Message{
		Data: []byte(evt.CrawlJobID),
		Attributes: map[string]string{
			"job_id": evt.JobID,
			"status": string(evt.Status),
		},
	}
	result := publisher.Publish(ctx, msg)
	// Fire-and-forget: the Pub/Sub client batches and retries in the
	// background, same tradeoff the teacher's provider made.
	_ = result
}

// Close releases the underlying Pub/Sub client.
func (p *PubSub) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("jobqueue: close pubsub client: %w", err)
	}
	return nil
}
