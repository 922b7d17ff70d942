// Package queue defines the broker contract shared by the API process
// (publisher) and the export worker (subscriber). Drivers live in the
// amqpbroker and redisbroker subpackages.
package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrBrokerUnavailable wraps every failure to reach the broker or to get a
// publish confirmed.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

// Metadata header names.
const (
	HeaderAttempt       = "x-attempt"
	HeaderSchemaVersion = "x-schema-version"
	HeaderDeadReason    = "x-dead-reason"
)

// DeadLetterQueue names the queue that collects messages a consumer gave up on.
func DeadLetterQueue(name string) string {
	return name + deadLetterSuffix
}

func IsDeadLetterQueue(name string) bool {
	return strings.HasSuffix(name, deadLetterSuffix)
}

const deadLetterSuffix = ".dead"

type Message struct {
	Body    []byte
	Headers map[string]string
}

// Attempt is 1 for a first delivery. Missing or garbled headers count as 1.
func (m Message) Attempt() int {
	n, err := strconv.Atoi(m.Headers[HeaderAttempt])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// WithAttempt returns a copy of m stamped with attempt n.
func (m Message) WithAttempt(n int) Message {
	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}
	headers[HeaderAttempt] = strconv.Itoa(n)

	return Message{Body: m.Body, Headers: headers}
}

// Delivery is one received message. Exactly one of Ack, Requeue or
// DeadLetter must be called; until then the broker treats it as in flight
// and will hand it to another consumer if this one dies.
type Delivery interface {
	Message() Message
	Redelivered() bool
	Ack(ctx context.Context) error
	// Requeue puts a copy back on the queue with the attempt counter bumped,
	// then acknowledges this delivery.
	Requeue(ctx context.Context) error
	// DeadLetter moves the message to the dead-letter queue.
	DeadLetter(ctx context.Context, reason string) error
}

// Handler processes one delivery. Subscribers call it sequentially.
type Handler func(ctx context.Context, d Delivery)

type Publisher interface {
	// Publish returns only after the broker has accepted the message.
	Publish(ctx context.Context, queue string, msg Message) error
}

type Subscriber interface {
	// Consume blocks, feeding deliveries to h one at a time, until ctx is
	// cancelled (returns nil) or the broker is lost for good.
	Consume(ctx context.Context, queue string, h Handler) error
}

type Broker interface {
	Publisher
	Subscriber
	// Depth reports messages waiting in queue.
	Depth(ctx context.Context, queue string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
