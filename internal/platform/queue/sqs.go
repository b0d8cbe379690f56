package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
)

// SQSQueue maps each topic onto the SQS queue named prefix+topic.
type SQSQueue struct {
	client *sqs.Client
	prefix string
	logger zerolog.Logger

	mu   sync.Mutex
	urls map[string]string
}

func NewSQSQueue(ctx context.Context, prefix string, logger zerolog.Logger) (*SQSQueue, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.New(sqs.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
	})
	return &SQSQueue{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "queue").Str("backend", "sqs").Logger(),
		urls:   make(map[string]string),
	}, nil
}

func (q *SQSQueue) queueURL(ctx context.Context, topic string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if url, ok := q.urls[topic]; ok {
		return url, nil
	}
	name := q.prefix + topic
	resp, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("get queue url %s: %w", name, err)
	}
	q.urls[topic] = *resp.QueueUrl
	return *resp.QueueUrl, nil
}

func (q *SQSQueue) Publish(ctx context.Context, topic string, body []byte) error {
	url, err := q.queueURL(ctx, topic)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message to %s: %w", topic, err)
	}
	return nil
}

// Consume long-polls the queue. Messages are deleted only after h succeeds;
// failed ones reappear once their visibility timeout expires.
func (q *SQSQueue) Consume(ctx context.Context, topic string, h Handler) error {
	url, err := q.queueURL(ctx, topic)
	if err != nil {
		return err
	}
	failures := 0
	for {
		resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     10,
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			failures++
			q.logger.Error().Err(err).Str("topic", topic).Int("attempt", failures).Msg("receive failed")
			if !wait(ctx, retryDelay(failures)) {
				return nil
			}
			continue
		}
		failures = 0
		for _, m := range resp.Messages {
			msg := Message{ID: aws.ToString(m.MessageId), Topic: topic, Body: []byte(aws.ToString(m.Body))}
			if err := h(ctx, msg); err != nil {
				q.logger.Error().Err(err).Str("topic", topic).Str("message_id", msg.ID).Msg("message handler failed")
				continue
			}
			if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(url),
				ReceiptHandle: m.ReceiptHandle,
			}); err != nil {
				q.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("delete message failed")
			}
		}
	}
}

func (q *SQSQueue) Close() error { return nil }
