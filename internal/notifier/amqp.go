package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// queueDepth bounds notifications waiting for the broker. When the queue
	// is full the oldest pending work is not worth a stall: the new
	// notification is dropped and logged, keeping Emit non-blocking.
	queueDepth = 256

	publishTimeout      = 2 * time.Second
	initialReconnectGap = time.Second
	maxReconnectGap     = 30 * time.Second
)

type outbound struct {
	routingKey string
	body       []byte
}

// AMQPNotifier publishes notifications to a RabbitMQ topic exchange with the
// notification name as routing key.
//
// Emit only enqueues: a background goroutine owns the network publish, so a
// slow or dead broker never stalls the router's synchronous routing path.
// A second goroutine watches the connection and re-dials with exponential
// backoff after a broker restart. Per-message semantics stay fire-and-forget:
// a notification that cannot be published is logged and dropped, never
// retried.
type AMQPNotifier struct {
	url      string
	exchange string
	logger   *zap.Logger

	queue chan outbound
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPNotifier connects to the broker, declares the exchange, and starts
// the publish and reconnect goroutines. The initial dial fails fast; later
// disconnects are recovered in the background.
func NewAMQPNotifier(url, exchange string, logger *zap.Logger) (*AMQPNotifier, error) {
	n := &AMQPNotifier{
		url:      url,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan outbound, queueDepth),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := n.connect(); err != nil {
		return nil, err
	}

	logger.Info("connected to notification broker",
		zap.String("exchange", exchange),
	)

	go n.publishLoop()
	go n.monitorConnection()

	return n, nil
}

// Emit enqueues one notification. Never blocks, never returns an error to
// the caller; when the queue is full the notification is dropped.
func (n *AMQPNotifier) Emit(name string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode notification",
			zap.String("notification", name),
			zap.Error(err),
		)
		return
	}

	select {
	case n.queue <- outbound{routingKey: name, body: body}:
	default:
		n.logger.Warn("notification queue full, dropping",
			zap.String("notification", name),
		)
	}
}

// Close stops the background goroutines and releases the connection.
func (n *AMQPNotifier) Close() {
	close(n.stop)
	<-n.done

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.channel != nil && !n.channel.IsClosed() {
		_ = n.channel.Close()
	}
	if n.conn != nil && !n.conn.IsClosed() {
		_ = n.conn.Close()
	}
}

// connect dials the broker and declares the exchange, replacing any previous
// connection state.
func (n *AMQPNotifier) connect() error {
	conn, err := amqp.DialConfig(n.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp.Table{
			"connection_name": "mesh-observer",
		},
	})
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(n.exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %q: %w", n.exchange, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil && !n.conn.IsClosed() {
		n.conn.Close()
	}
	n.conn = conn
	n.channel = channel

	return nil
}

// publishLoop drains the queue. Publish failures are logged and the message
// dropped; the reconnect monitor restores the channel for later messages.
func (n *AMQPNotifier) publishLoop() {
	defer close(n.done)

	for {
		select {
		case <-n.stop:
			return
		case msg := <-n.queue:
			n.publish(msg)
		}
	}
}

func (n *AMQPNotifier) publish(msg outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	n.mu.Lock()
	channel := n.channel
	n.mu.Unlock()

	err := channel.PublishWithContext(ctx, n.exchange, msg.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        msg.body,
	})
	if err != nil {
		n.logger.Error("failed to publish notification",
			zap.String("notification", msg.routingKey),
			zap.Error(err),
		)
	}
}

// monitorConnection watches for the broker closing the connection or channel
// and re-dials with exponential backoff, the same discipline as the initial
// dial but unbounded: the observer outlives broker restarts.
func (n *AMQPNotifier) monitorConnection() {
	for {
		n.mu.Lock()
		connClose := n.conn.NotifyClose(make(chan *amqp.Error, 1))
		channelClose := n.channel.NotifyClose(make(chan *amqp.Error, 1))
		n.mu.Unlock()

		select {
		case <-n.stop:
			return
		case err := <-connClose:
			if err == nil {
				// Clean shutdown from our side.
				return
			}
			n.logger.Error("broker connection closed, reconnecting",
				zap.String("reason", err.Reason),
			)
		case err := <-channelClose:
			if err == nil {
				return
			}
			n.logger.Error("broker channel closed, reconnecting",
				zap.String("reason", err.Reason),
			)
		}

		if !n.reconnect() {
			return
		}
	}
}

// reconnect retries until the broker is back or the notifier is closed.
// Returns false when stopped.
func (n *AMQPNotifier) reconnect() bool {
	backoff := initialReconnectGap
	for attempt := 1; ; attempt++ {
		select {
		case <-n.stop:
			return false
		default:
		}

		err := n.connect()
		if err == nil {
			n.logger.Info("reconnected to notification broker",
				zap.Int("attempt", attempt),
			)
			return true
		}
		n.logger.Warn("reconnect to broker failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-n.stop:
			return false
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectGap {
		return maxReconnectGap
	}
	return d
}
