package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPQueue polls a RabbitMQ queue with basic.get and manual acks. An
// unacked delivery is the lease, closing the channel returns it to the queue.
type AMQPQueue struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
	inFlight  map[string]amqp.Delivery
}

func NewAMQPQueue(url, queueName string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPQueue{
		conn:      conn,
		ch:        ch,
		queueName: queueName,
		inFlight:  make(map[string]amqp.Delivery),
	}, nil
}

func (q *AMQPQueue) Receive(ctx context.Context) (*QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok, err := q.ch.Get(q.queueName, false)
	if err != nil {
		return nil, &QueueInfraError{Op: "receive", Err: err}
	}
	if !ok {
		return nil, nil
	}

	handle := strconv.FormatUint(d.DeliveryTag, 10)
	q.inFlight[handle] = d

	return &QueueMessage{
		ID:            d.MessageId,
		ReceiptHandle: handle,
		ReceiveCount:  amqpReceiveCount(d.Headers, d.Redelivered),
		Body:          d.Body,
	}, nil
}

// amqpReceiveCount prefers the quorum queue delivery counter, which starts at
// zero, and falls back to the redelivered flag.
func amqpReceiveCount(headers amqp.Table, redelivered bool) int {
	switch v := headers["x-delivery-count"].(type) {
	case int64:
		return max(int(v), 0)
	case int32:
		return max(int(v), 0)
	case int:
		return max(v, 0)
	}
	if redelivered {
		return 1
	}
	return 0
}

func (q *AMQPQueue) take(handle string) (amqp.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inFlight[handle]
	delete(q.inFlight, handle)
	return d, ok
}

func (q *AMQPQueue) Delete(ctx context.Context, msg *QueueMessage) error {
	d, ok := q.take(msg.ReceiptHandle)
	if !ok {
		return nil
	}
	return d.Ack(false)
}

// Release requeues immediately, RabbitMQ has no per-message visibility delay.
func (q *AMQPQueue) Release(ctx context.Context, msg *QueueMessage, delay time.Duration) error {
	d, ok := q.take(msg.ReceiptHandle)
	if !ok {
		return nil
	}
	return d.Nack(false, true)
}

func (q *AMQPQueue) Depth(ctx context.Context) (QueueDepth, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, err := q.ch.QueueDeclarePassive(q.queueName, true, false, false, false, nil)
	if err != nil {
		return QueueDepth{}, err
	}
	return QueueDepth{Available: info.Messages, InFlight: len(q.inFlight)}, nil
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
