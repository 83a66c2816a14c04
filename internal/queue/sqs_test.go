package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/notifications_queue"

// mockSQS captures calls and replays scripted receive batches.
type mockSQS struct {
	mu sync.Mutex

	getURLErr  error
	createErr  error
	receives   []*sqs.ReceiveMessageOutput
	receiveErr error

	created     []string
	deleted     []string
	visibility  []string
	receiveReqs []*sqs.ReceiveMessageInput
}

func (m *mockSQS) GetQueueUrl(_ context.Context, params *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if m.getURLErr != nil {
		return nil, m.getURLErr
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(testQueueURL)}, nil
}

func (m *mockSQS) CreateQueue(_ context.Context, params *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, aws.ToString(params.QueueName))
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(testQueueURL)}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	m.receiveReqs = append(m.receiveReqs, params)
	if len(m.receives) > 0 {
		out := m.receives[0]
		m.receives = m.receives[1:]
		m.mu.Unlock()
		return out, nil
	}
	err := m.receiveErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *mockSQS) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) ChangeMessageVisibility(_ context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visibility = append(m.visibility, aws.ToString(params.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (m *mockSQS) deletedHandles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func sqsMsg(id, receipt, body string, receiveCount string) sqsTypes.Message {
	return sqsTypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(body),
		Attributes: map[string]string{
			"ApproximateReceiveCount": receiveCount,
			"SentTimestamp":           "1767323045000",
		},
	}
}

func TestSQSConnection_DeclareCreatesMissingQueue(t *testing.T) {
	mock := &mockSQS{getURLErr: &sqsTypes.QueueDoesNotExist{Message: aws.String("missing")}}
	conn, err := NewSQSBroker(mock, SQSConfig{}, nil).Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.Declare(context.Background(), "alert_queue"))
	require.NoError(t, conn.Declare(context.Background(), "alert_queue"))

	assert.Equal(t, []string{"alert_queue"}, mock.created, "queue URL should be cached after first declare")
}

func TestSQSConnection_DeclareUnreachable(t *testing.T) {
	mock := &mockSQS{getURLErr: errors.New("dial tcp: no such host")}
	conn, err := NewSQSBroker(mock, SQSConfig{}, nil).Connect(context.Background())
	require.NoError(t, err)

	var connErr *ConnectionError
	assert.ErrorAs(t, conn.Declare(context.Background(), "q"), &connErr)
}

func TestSQSConnection_ConsumeSettlesThroughSQS(t *testing.T) {
	mock := &mockSQS{receives: []*sqs.ReceiveMessageOutput{{
		Messages: []sqsTypes.Message{
			sqsMsg("m1", "r1", `{"a":1}`, "1"),
			sqsMsg("m2", "r2", `{"a":2}`, "3"),
		},
	}}}
	conn, err := NewSQSBroker(mock, SQSConfig{Workers: 1, WaitTime: 5 * time.Second}, nil).Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Message
	done := make(chan error, 1)
	go func() {
		done <- conn.Consume(ctx, "notifications_queue", func(_ context.Context, d *Delivery) {
			mu.Lock()
			got = append(got, d.Message)
			mu.Unlock()
			if d.ID == "m1" {
				_ = d.Ack()
			} else {
				_ = d.Nack(true)
			}
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"r1"}, mock.deletedHandles())
	assert.Equal(t, []string{"r2"}, mock.visibility)
	assert.False(t, got[0].Redelivered)
	assert.True(t, got[1].Redelivered)
	assert.Equal(t, int64(1767323045000), got[0].Timestamp.UnixMilli())
	assert.Equal(t, int32(5), mock.receiveReqs[0].WaitTimeSeconds)
}

func TestSQSConnection_ReceiveFailureIsConnectionError(t *testing.T) {
	mock := &mockSQS{receiveErr: errors.New("503 service unavailable")}
	conn, err := NewSQSBroker(mock, SQSConfig{}, nil).Connect(context.Background())
	require.NoError(t, err)

	err = conn.Consume(context.Background(), "q", func(context.Context, *Delivery) {})

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, connErr.Op, "receive")
}

func TestSQSMessage_ContentEncodingAttribute(t *testing.T) {
	m := sqsMsg("m", "r", "x", "1")
	m.MessageAttributes = map[string]sqsTypes.MessageAttributeValue{
		"Content-Encoding": {DataType: aws.String("String"), StringValue: aws.String("zstd")},
	}

	assert.Equal(t, "zstd", sqsMessage("q", m).ContentEncoding)
}

func TestSQSAcker_NackWithoutRequeueDeletes(t *testing.T) {
	mock := &mockSQS{}
	d := NewDelivery(Message{ID: "m"}, &sqsAcker{client: mock, queueURL: testQueueURL, receipt: "r9"})

	require.NoError(t, d.Nack(false))
	assert.Equal(t, []string{"r9"}, mock.deletedHandles())
}
