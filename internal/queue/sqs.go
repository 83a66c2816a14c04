package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"notifyrelay/internal/types"
)

// SQSAPI abstracts the SQS operations the consumer uses.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQS message attribute carrying the producer's content encoding.
const sqsEncodingAttribute = "Content-Encoding"

// settleTimeout bounds DeleteMessage/ChangeMessageVisibility calls, which run
// after the consume context may already be cancelled.
const settleTimeout = 10 * time.Second

// SQSConfig configures the SQS driver.
type SQSConfig struct {
	Region            string
	Workers           int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

// SQSBroker consumes from Amazon SQS (or LocalStack). SQS has no session, so
// Connect only prepares a queue URL cache; reachability is discovered on the
// first Declare or receive.
type SQSBroker struct {
	client SQSAPI
	cfg    SQSConfig
	logger types.Logger
}

// NewSQSBroker creates a broker over client.
func NewSQSBroker(client SQSAPI, cfg SQSConfig, logger types.Logger) *SQSBroker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.WaitTime <= 0 || cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &SQSBroker{client: client, cfg: cfg, logger: logger}
}

func (b *SQSBroker) Name() string {
	return "sqs://" + b.cfg.Region
}

func (b *SQSBroker) Connect(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sqsConnection{broker: b, urls: make(map[string]string)}, nil
}

type sqsConnection struct {
	broker *SQSBroker

	mu   sync.Mutex
	urls map[string]string
}

// Declare resolves the queue URL, creating the queue when it does not exist.
// SQS queues are always durable.
func (c *sqsConnection) Declare(ctx context.Context, queue string) error {
	_, err := c.queueURL(ctx, queue)
	return err
}

func (c *sqsConnection) queueURL(ctx context.Context, queue string) (string, error) {
	c.mu.Lock()
	url, ok := c.urls[queue]
	c.mu.Unlock()
	if ok {
		return url, nil
	}

	out, err := c.broker.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		var missing *sqsTypes.QueueDoesNotExist
		if !errors.As(err, &missing) {
			return "", &ConnectionError{Op: "declare " + queue, Addr: c.broker.Name(), Err: err}
		}
		created, cerr := c.broker.client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queue)})
		if cerr != nil {
			return "", &ConnectionError{Op: "declare " + queue, Addr: c.broker.Name(), Err: cerr}
		}
		url = aws.ToString(created.QueueUrl)
		c.broker.logger.Info("created queue", "queue", queue, "queue_url", url)
	} else {
		url = aws.ToString(out.QueueUrl)
	}

	c.mu.Lock()
	c.urls[queue] = url
	c.mu.Unlock()
	return url, nil
}

// Consume long-polls the queue until ctx is cancelled or a receive fails.
func (c *sqsConnection) Consume(ctx context.Context, queue string, h Handler) error {
	url, err := c.queueURL(ctx, queue)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	cfg := c.broker.cfg
	pool := newDispatcher(ctx, cfg.Workers, h, c.broker.logger)
	defer pool.wait()

	batch := int32(cfg.Workers)
	if batch > 10 {
		batch = 10
	}

	c.broker.logger.Info("consuming", "queue", queue, "queue_url", url, "workers", cfg.Workers)

	for {
		if ctx.Err() != nil {
			return nil
		}

		input := &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: batch,
			WaitTimeSeconds:     int32(cfg.WaitTime / time.Second),
			MessageSystemAttributeNames: []sqsTypes.MessageSystemAttributeName{
				sqsTypes.MessageSystemAttributeNameApproximateReceiveCount,
				sqsTypes.MessageSystemAttributeNameSentTimestamp,
			},
			MessageAttributeNames: []string{sqsEncodingAttribute},
		}
		if cfg.VisibilityTimeout > 0 {
			input.VisibilityTimeout = int32(cfg.VisibilityTimeout / time.Second)
		}

		out, err := c.broker.client.ReceiveMessage(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &ConnectionError{Op: "receive " + queue, Addr: c.broker.Name(), Err: err}
		}

		for _, m := range out.Messages {
			pool.dispatch(NewDelivery(sqsMessage(queue, m), &sqsAcker{
				client:   c.broker.client,
				queueURL: url,
				receipt:  aws.ToString(m.ReceiptHandle),
			}))
		}
	}
}

func (c *sqsConnection) Close() error {
	return nil
}

func sqsMessage(queue string, m sqsTypes.Message) Message {
	id := aws.ToString(m.MessageId)
	if id == "" {
		id = uuid.NewString()
	}
	msg := Message{
		ID:    id,
		Queue: queue,
		Body:  []byte(aws.ToString(m.Body)),
	}
	if n, err := strconv.Atoi(m.Attributes[string(sqsTypes.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		msg.Redelivered = n > 1
	}
	if ms, err := strconv.ParseInt(m.Attributes[string(sqsTypes.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		msg.Timestamp = time.UnixMilli(ms).UTC()
	}
	if attr, ok := m.MessageAttributes[sqsEncodingAttribute]; ok {
		msg.ContentEncoding = aws.ToString(attr.StringValue)
	}
	return msg
}

// sqsAcker maps settlement onto SQS: ack deletes, requeue makes the message
// visible again immediately, and a plain reject also deletes it.
type sqsAcker struct {
	client   SQSAPI
	queueURL string
	receipt  string
}

func (a *sqsAcker) Ack() error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	_, err := a.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(a.queueURL),
		ReceiptHandle: aws.String(a.receipt),
	})
	return err
}

func (a *sqsAcker) Nack(requeue bool) error {
	if !requeue {
		return a.Ack()
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	_, err := a.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(a.queueURL),
		ReceiptHandle:     aws.String(a.receipt),
		VisibilityTimeout: 0,
	})
	return err
}
