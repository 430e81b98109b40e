package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Consumer long-polls the trigger queue on behalf of one worker.
type Consumer struct {
	client       sqsAPI
	queueURL     string
	worker       string
	logger       *zap.Logger
	waitSeconds  int32
	retryBackoff time.Duration
	foreignHold  int32
	foreignPause time.Duration
}

// NewConsumer creates a consumer that only acts on messages for worker.
func NewConsumer(ctx context.Context, cfg Config, worker string, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
		zap.String("worker", worker),
	)

	return &Consumer{
		client:       client,
		queueURL:     cfg.QueueURL,
		worker:       worker,
		logger:       logger,
		waitSeconds:  20,
		retryBackoff: 5 * time.Second,
		foreignHold:  10,
		foreignPause: time.Second,
	}, nil
}

// Listen returns a channel that receives a value for every poll that saw at
// least one message for this worker. Wake-ups arriving while the previous one
// is unconsumed are coalesced. The channel is closed when ctx ends.
func (c *Consumer) Listen(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		for ctx.Err() == nil {
			woken, foreign, err := c.poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("sqs receive failed, backing off", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.retryBackoff):
				}
				continue
			}
			if !woken {
				if foreign > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(c.foreignPause):
					}
				}
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake
}

// Poll receives one batch and reports whether any message addressed this
// worker. Those messages and malformed ones, including messages naming no
// worker, are deleted. Messages for other workers are handed back and stay
// hidden from this consumer for a while.
func (c *Consumer) Poll(ctx context.Context) (bool, error) {
	woken, _, err := c.poll(ctx)
	return woken, err
}

func (c *Consumer) poll(ctx context.Context) (woken bool, foreign int, err error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return false, 0, err
	}

	for _, m := range result.Messages {
		var msg Message
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil || msg.Worker == "" {
			if err == nil {
				err = ErrNoWorker
			}
			c.logger.Warn("dropping malformed wake-up message",
				zap.String("message_id", aws.ToString(m.MessageId)),
				zap.Error(err),
			)
			c.delete(ctx, m.ReceiptHandle)
			continue
		}

		if msg.Worker != c.worker {
			foreign++
			c.release(ctx, m.ReceiptHandle)
			continue
		}

		c.logger.Info("wake-up message received",
			zap.String("worker", c.worker),
			zap.String("requested_by", msg.RequestedBy),
		)
		woken = true
		c.delete(ctx, m.ReceiptHandle)
	}
	return woken, foreign, nil
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("sqs delete failed", zap.Error(err))
	}
}

// release hands a message for another worker back to the queue, hidden for
// foreignHold seconds so this consumer does not receive it again at once.
func (c *Consumer) release(ctx context.Context, receiptHandle *string) {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     receiptHandle,
		VisibilityTimeout: c.foreignHold,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("sqs change visibility failed", zap.Error(err))
	}
}
