// Package pubsub implements the job queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// Config identifies the Pub/Sub resources used for job delivery.
type Config struct {
	ProjectID         string
	TopicID           string
	SubscriptionID    string
	DeadLetterTopicID string
	Buffer            int
}

// Provider adapts Pub/Sub delivery to the ingest.Queue interface. The
// subscription's retry policy owns actual redelivery timing; Retry delays
// requested by handlers are advisory minimums expressed through nacks.
type Provider struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	dlq    *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	deliveries chan *delivery
	startOnce  sync.Once
	receiveErr error
}

// New creates a Pub/Sub-backed queue provider. It authenticates with
// Application Default Credentials unless client options say otherwise, and
// verifies the topic exists up front.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProjectID == "" || cfg.TopicID == "" || cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("pubsub project, topic and subscription are required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		closeClient(client, logger)
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		closeClient(client, logger)
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}
	p := &Provider{
		client:     client,
		topic:      topic,
		sub:        client.Subscription(cfg.SubscriptionID),
		logger:     logger,
		deliveries: make(chan *delivery, cfg.Buffer),
	}
	if cfg.DeadLetterTopicID != "" {
		p.dlq = client.Topic(cfg.DeadLetterTopicID)
	}
	return p, nil
}

// Enqueue publishes the job and waits for the server acknowledgement.
func (p *Provider) Enqueue(ctx context.Context, job ingest.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"customer_id": job.CustomerID,
			"run_id":      job.RunID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive returns the next delivery. The first call starts the background
// subscription receiver.
func (p *Provider) Receive(ctx context.Context) (ingest.Delivery, error) {
	p.startOnce.Do(func() {
		go p.pump(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
	case d, ok := <-p.deliveries:
		if !ok {
			if p.receiveErr != nil {
				return nil, p.receiveErr
			}
			return nil, fmt.Errorf("pubsub receiver stopped")
		}
		return d, nil
	}
}

func (p *Provider) pump(ctx context.Context) {
	defer close(p.deliveries)
	err := p.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var job ingest.Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			// Undecodable payloads can never succeed; route them to the
			// dead-letter topic rather than poisoning the subscription.
			p.logger.Error("discarding undecodable job payload", zap.Error(err))
			p.publishDead(msgCtx, msg.Data, "undecodable payload")
			msg.Ack()
			return
		}
		if job.Attempt <= 0 {
			job.Attempt = 1
		}
		if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > job.Attempt {
			job.Attempt = *msg.DeliveryAttempt
		}
		d := &delivery{provider: p, msg: msg, job: job}
		select {
		case p.deliveries <- d:
		case <-msgCtx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		p.receiveErr = fmt.Errorf("pubsub receive: %w", err)
		p.logger.Error("pubsub receive stopped", zap.Error(err))
	}
}

func (p *Provider) publishDead(ctx context.Context, data []byte, reason string) {
	if p.dlq == nil {
		p.logger.Warn("no dead-letter topic configured; job dropped",
			zap.String("reason", reason))
		return
	}
	result := p.dlq.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"reason": reason},
	})
	if _, err := result.Get(ctx); err != nil {
		p.logger.Error("dead-letter publish failed", zap.Error(err))
	}
}

// Close stops publishers and closes the client connection.
func (p *Provider) Close() error {
	p.topic.Stop()
	if p.dlq != nil {
		p.dlq.Stop()
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func closeClient(client *pubsub.Client, logger *zap.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("close pubsub client failed", zap.Error(err))
	}
}

type delivery struct {
	provider *Provider
	msg      *pubsub.Message
	job      ingest.Job
	once     sync.Once
}

func (d *delivery) Job() ingest.Job {
	return d.job
}

func (d *delivery) Ack() {
	d.once.Do(d.msg.Ack)
}

// Retry nacks the message; the subscription retry policy applies the actual
// backoff, so the requested delay is recorded for operators only.
func (d *delivery) Retry(delay time.Duration) {
	d.once.Do(func() {
		d.provider.logger.Debug("nacking for retry",
			zap.String("run_id", d.job.RunID),
			zap.Duration("requested_delay", delay))
		d.msg.Nack()
	})
}

func (d *delivery) DeadLetter(reason string) {
	d.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		d.provider.publishDead(ctx, d.msg.Data, reason)
		d.msg.Ack()
	})
}
