package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"notifyrelay/internal/types"
)

// AMQPConfig configures the RabbitMQ driver.
type AMQPConfig struct {
	URL string
	// Addr is URL without credentials, used in errors and logs.
	Addr           string
	Workers        int
	Heartbeat      time.Duration
	ConnectionName string
}

// amqpConn is the subset of *amqp.Connection the driver uses.
type amqpConn interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// amqpChannel is the subset of *amqp.Channel the driver uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type dialFunc func(url string, cfg amqp.Config) (amqpConn, error)

// realConn adapts *amqp.Connection so Channel returns the interface type.
type realConn struct {
	*amqp.Connection
}

func (c realConn) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string, cfg amqp.Config) (amqpConn, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return realConn{conn}, nil
}

// AMQPBroker connects to RabbitMQ.
type AMQPBroker struct {
	cfg    AMQPConfig
	dial   dialFunc
	logger types.Logger
}

// NewAMQPBroker creates a broker for the given configuration.
func NewAMQPBroker(cfg AMQPConfig, logger types.Logger) *AMQPBroker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &AMQPBroker{cfg: cfg, dial: dialAMQP, logger: logger}
}

func (b *AMQPBroker) Name() string {
	return "amqp://" + b.cfg.Addr
}

// Connect dials the broker. The ctx bounds only the dial itself.
func (b *AMQPBroker) Connect(ctx context.Context) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	amqpCfg := amqp.Config{
		Heartbeat: b.cfg.Heartbeat,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": b.cfg.ConnectionName,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		amqpCfg.Dial = amqp.DefaultDial(time.Until(deadline))
	}

	conn, err := b.dial(b.cfg.URL, amqpCfg)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: b.cfg.Addr, Err: err}
	}
	return &amqpConnection{conn: conn, cfg: b.cfg, logger: b.logger}, nil
}

type amqpConnection struct {
	conn   amqpConn
	cfg    AMQPConfig
	logger types.Logger
}

// Declare declares the queue durable on a short-lived channel.
func (c *amqpConnection) Declare(_ context.Context, queue string) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return &ConnectionError{Op: "open channel", Addr: c.cfg.Addr, Err: err}
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return &ConnectionError{Op: "declare " + queue, Addr: c.cfg.Addr, Err: err}
	}
	return nil
}

// Consume opens a dedicated channel with manual acknowledgement and a
// prefetch equal to the worker count, then dispatches deliveries until the
// channel or connection closes or ctx is cancelled.
func (c *amqpConnection) Consume(ctx context.Context, queue string, h Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return &ConnectionError{Op: "open channel", Addr: c.cfg.Addr, Err: err}
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Workers, 0, false); err != nil {
		return &ConnectionError{Op: "qos", Addr: c.cfg.Addr, Err: err}
	}

	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	connClosed := c.conn.NotifyClose(make(chan *amqp.Error, 1))

	tag := "notify-relay-" + uuid.NewString()
	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return &ConnectionError{Op: "consume " + queue, Addr: c.cfg.Addr, Err: err}
	}

	pool := newDispatcher(ctx, c.cfg.Workers, h, c.logger)
	defer pool.wait()

	c.logger.Info("consuming", "queue", queue, "consumer_tag", tag, "workers", c.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-chanClosed:
			return &ConnectionError{Op: "consume " + queue, Addr: c.cfg.Addr, Err: closeCause(amqpErr)}
		case amqpErr := <-connClosed:
			return &ConnectionError{Op: "consume " + queue, Addr: c.cfg.Addr, Err: closeCause(amqpErr)}
		case m, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return &ConnectionError{Op: "consume " + queue, Addr: c.cfg.Addr, Err: ErrConnectionClosed}
			}
			pool.dispatch(NewDelivery(amqpMessage(queue, m), amqpAcker{m}))
		}
	}
}

func (c *amqpConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

func closeCause(e *amqp.Error) error {
	if e == nil {
		return ErrConnectionClosed
	}
	return e
}

func amqpMessage(queue string, m amqp.Delivery) Message {
	id := m.MessageId
	if id == "" {
		id = uuid.NewString()
	}
	return Message{
		ID:              id,
		Queue:           queue,
		Body:            m.Body,
		ContentEncoding: m.ContentEncoding,
		Redelivered:     m.Redelivered,
		Timestamp:       m.Timestamp,
	}
}

// amqpAcker settles a single delivery on its channel.
type amqpAcker struct {
	d amqp.Delivery
}

func (a amqpAcker) Ack() error {
	return a.d.Ack(false)
}

func (a amqpAcker) Nack(requeue bool) error {
	return a.d.Nack(false, requeue)
}
