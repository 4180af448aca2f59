package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Kafka is the Sarama-backed Broker implementation (spec section 4.3).
// One producer and one consumer client are held per process; the producer
// is safe for concurrent use, the consumer is driven only by the Subscribe
// goroutine, matching the shared-resource policy in spec section 5.
type Kafka struct {
	cfg      Config
	logger   *zap.Logger
	client   sarama.Client
	producer sarama.SyncProducer
	breaker  *gobreaker.CircuitBreaker

	mu      sync.Mutex
	cg      sarama.ConsumerGroup
	closed  bool
}

// NewKafka dials the brokers and prepares a sync producer. Panics on nil
// logger, matching this codebase's nil-critical-dependency convention.
func NewKafka(cfg Config, logger *zap.Logger) (*Kafka, error) {
	if logger == nil {
		panic("broker: logger must not be nil")
	}
	if len(cfg.Brokers) == 0 {
		return nil, Err(ErrConnection, errors.New("no brokers configured"))
	}

	saramaCfg, err := configureSarama(cfg, logger)
	if err != nil {
		return nil, Err(ErrConnection, err)
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, Err(ErrConnection, err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, Err(ErrConnection, err)
	}

	maxReq := cfg.CircuitBreakerMaxRequests
	if maxReq == 0 {
		maxReq = 1
	}
	interval := cfg.CircuitBreakerInterval
	if interval == 0 {
		interval = time.Minute
	}
	timeout := cfg.CircuitBreakerTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-publish",
		MaxRequests: maxReq,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Kafka{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		producer: producer,
		breaker:  cb,
	}, nil
}

// Publish retries transient errors with exponential backoff (initial 100ms,
// x2) behind a circuit breaker that trips after repeated consecutive
// failures so a down broker fails fast instead of piling up retries.
func (k *Kafka) Publish(ctx context.Context, topic string, partitionKey *string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if partitionKey != nil {
		msg.Key = sarama.StringEncoder(*partitionKey)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxElapsedTime = 10 * time.Second

	operation := func() error {
		_, _, err := k.breaker.Execute(func() (any, error) {
			_, _, sendErr := k.producer.SendMessage(msg)
			return nil, sendErr
		})
		if err != nil {
			if isPermanentPublishError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return Err(ErrPublish, err)
	}
	return nil
}

func isPermanentPublishError(err error) bool {
	return errors.Is(err, sarama.ErrMessageTooLarge) ||
		errors.Is(err, sarama.ErrInvalidMessage) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Subscribe blocks, running a sarama consumer group loop until ctx is
// cancelled. Adapted from the original consumer-group wrapper: on
// unexpected errors it logs and retries after a short delay rather than
// tearing down the process.
func (k *Kafka) Subscribe(ctx context.Context, topics []string, groupID string, handler Handler) error {
	saramaCfg, err := configureSarama(k.cfg, k.logger)
	if err != nil {
		return Err(ErrSubscribe, err)
	}

	cg, err := sarama.NewConsumerGroup(k.cfg.Brokers, groupID, saramaCfg)
	if err != nil {
		return Err(ErrSubscribe, err)
	}
	k.mu.Lock()
	k.cg = cg
	k.mu.Unlock()

	h := &consumerGroupHandler{
		handler: handler,
		logger:  k.logger,
		ready:   make(chan struct{}),
	}

	for {
		if err := cg.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			k.logger.Error("consumer group error, retrying", zap.Error(err))
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		h.resetReady()
	}
}

// Health reports whether the underlying client can reach the broker.
func (k *Kafka) Health(ctx context.Context) Status {
	if k.client == nil || k.client.Closed() {
		return Status{Status: "unhealthy", Connected: false, Details: "client closed"}
	}
	brokers := k.client.Brokers()
	for _, b := range brokers {
		if ok, _ := b.Connected(); ok {
			return Status{Status: "healthy", Connected: true, Details: "broker reachable"}
		}
	}
	return Status{Status: "degraded", Connected: false, Details: "no connected brokers"}
}

// Close idempotently tears down producer, consumer group, and client.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true

	var errs []error
	if k.cg != nil {
		if err := k.cg.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := k.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := k.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type consumerGroupHandler struct {
	handler Handler
	logger  *zap.Logger

	mu    sync.Mutex
	ready chan struct{}
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
	return nil
}

func (h *consumerGroupHandler) resetReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = make(chan struct{})
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			var key *string
			if msg.Key != nil {
				s := string(msg.Key)
				key = &s
			}
			if err := h.handler(session.Context(), msg.Topic, key, msg.Value); err != nil {
				h.logger.Error("handler returned error, message still marked (at-least-once handled upstream)",
					zap.String("topic", msg.Topic), zap.Error(err))
			}
			// handler has already blocked until the event was fully
			// processed (or failed and was handed to the retry scheduler),
			// so it is safe to advance the consumer group offset now.
			session.MarkMessage(msg, "")
			if session.Context().Err() != nil {
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
