package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	defaultVisibilityTimeout = time.Hour
	defaultWaitTime          = 5 * time.Second
)

// Queue hands out one leased message at a time.
type Queue interface {
	// Receive returns nil, nil when no message is available.
	Receive(ctx context.Context) (*QueueMessage, error)
	// Delete commits the message. Deleting an expired lease is not an error.
	Delete(ctx context.Context, msg *QueueMessage) error
	// Release leaves the message for redelivery. When the backend supports a
	// visibility delay, a positive delay shortens the remaining lease to that
	// duration and zero leaves the lease to expire. Backends without one
	// requeue immediately and ignore delay.
	Release(ctx context.Context, msg *QueueMessage, delay time.Duration) error
	Depth(ctx context.Context) (QueueDepth, error)
	Close() error
}

type QueueDepth struct {
	Available int
	InFlight  int
	Delayed   int
}

type SQSClientInterface interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type SQSConfig struct {
	QueueURL          string
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

type SQSQueue struct {
	client SQSClientInterface
	config SQSConfig
}

func NewSQSQueue(client SQSClientInterface, config SQSConfig) *SQSQueue {
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaultVisibilityTimeout
	}
	return &SQSQueue{client: client, config: config}
}

func (q *SQSQueue) Receive(ctx context.Context) (*QueueMessage, error) {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.config.QueueURL),
		MaxNumberOfMessages: 1,
		VisibilityTimeout:   int32(q.config.VisibilityTimeout / time.Second),
		WaitTimeSeconds:     int32(q.config.WaitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, &QueueInfraError{Op: "receive", Err: err}
	}

	if len(result.Messages) == 0 {
		return nil, nil
	}

	sqsMsg := result.Messages[0]
	// SQS counts the current delivery, ReceiveCount only counts expired leases
	approx, _ := strconv.Atoi(sqsMsg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	receiveCount := max(approx-1, 0)

	return &QueueMessage{
		ID:            aws.ToString(sqsMsg.MessageId),
		ReceiptHandle: aws.ToString(sqsMsg.ReceiptHandle),
		ReceiveCount:  receiveCount,
		Body:          []byte(aws.ToString(sqsMsg.Body)),
	}, nil
}

func (q *SQSQueue) Delete(ctx context.Context, msg *QueueMessage) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.config.QueueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	})
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}

func (q *SQSQueue) Release(ctx context.Context, msg *QueueMessage, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.config.QueueURL),
		ReceiptHandle:     aws.String(msg.ReceiptHandle),
		VisibilityTimeout: int32(delay / time.Second),
	})
	return err
}

func (q *SQSQueue) Depth(ctx context.Context) (QueueDepth, error) {
	result, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return QueueDepth{}, err
	}

	available, _ := strconv.Atoi(result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	inFlight, _ := strconv.Atoi(result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	delayed, _ := strconv.Atoi(result.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)])

	return QueueDepth{Available: available, InFlight: inFlight, Delayed: delayed}, nil
}

func (q *SQSQueue) Close() error {
	return nil
}
