package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/IBM/sarama"

	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/internal/payment"
)

// Processor is the part of the payment service driven by broker messages.
type Processor interface {
	ProcessCreated(ctx context.Context, env event.Envelope[event.PaymentOrderCreated]) error
	ProcessRetry(ctx context.Context, env event.Envelope[event.PaymentOrderRetryRequested]) error
	ProcessStatusCheck(ctx context.Context, env event.Envelope[event.PaymentOrderStatusCheckRequested]) error
}

// ConsumerGroup is the subset of sarama.ConsumerGroup used by Run.
type ConsumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
}

type handleFunc func(ctx context.Context, value []byte) error

type Handler struct {
	log    *slog.Logger
	cfg    Config
	routes map[string]handleFunc
	m      *metrics
}

func New(l *slog.Logger, p Processor, cfg Config) *Handler {
	validateConfig(&cfg)

	h := &Handler{
		log:    l,
		cfg:    cfg,
		routes: make(map[string]handleFunc, 3),
		m:      getMetrics(),
	}

	addRoute(h, event.PaymentOrderCreatedEvent, p.ProcessCreated)
	addRoute(h, event.PaymentOrderRetryRequestedEvent, p.ProcessRetry)
	addRoute(h, event.PaymentOrderStatusCheckRequestedEvent, p.ProcessStatusCheck)

	return h
}

func addRoute[T any](h *Handler, m event.Metadata[T], fn func(context.Context, event.Envelope[T]) error) {
	h.routes[m.Topic] = func(ctx context.Context, value []byte) error {
		env, err := m.Decode(value)
		if err != nil {
			return err
		}
		return fn(ctx, env)
	}
}

func (h *Handler) Topics() []string {
	topics := make([]string, 0, len(h.routes))
	for t := range h.routes {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Run joins the group and consumes until ctx is done. Consume returns on
// every rebalance, so it is called in a loop.
func (h *Handler) Run(ctx context.Context, group ConsumerGroup) error {
	const op = "consumer.handler.Run"

	log := h.log.With(slog.String("op", op))

	topics := h.Topics()

	for {
		if err := group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Error("consume failed", slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(h.cfg.RejoinBackoff):
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (h *Handler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group session started",
		slog.String("member_id", sess.MemberID()),
		slog.Int("generation", int(sess.GenerationID())))
	return nil
}

func (h *Handler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group session ended", slog.String("member_id", sess.MemberID()))
	return nil
}

// ConsumeClaim handles messages one at a time in partition order and marks
// each after it is handled. A handling error ends the claim without marking,
// so the message is delivered again after the next rebalance.
func (h *Handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	const op = "consumer.handler.ConsumeClaim"

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			if err := h.handle(sess.Context(), msg); err != nil {
				h.m.handled.WithLabelValues(msg.Topic, "error").Inc()
				return fmt.Errorf("%s: topic %s partition %d offset %d: %w", op, msg.Topic, msg.Partition, msg.Offset, err)
			}

			sess.MarkMessage(msg, "")

		case <-sess.Context().Done():
			return nil
		}
	}
}

func (h *Handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) (err error) {
	const op = "consumer.handler.handle"

	log := h.log.With(
		slog.String("op", op),
		slog.String("topic", msg.Topic),
		slog.Int64("offset", msg.Offset),
		slog.String(event.HeaderEventID, header(msg, event.HeaderEventID)),
	)

	route, ok := h.routes[msg.Topic]
	if !ok {
		log.WarnContext(ctx, "no route for topic, skipping")
		h.m.handled.WithLabelValues(msg.Topic, "skipped").Inc()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProcessTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
		}
	}()

	err = route(ctx, msg.Value)

	switch {
	case err == nil:
		h.m.handled.WithLabelValues(msg.Topic, "ok").Inc()
		return nil
	case isPoison(err):
		log.ErrorContext(ctx, "message can not be handled, skipping", slog.String("error", err.Error()))
		h.m.handled.WithLabelValues(msg.Topic, "skipped").Inc()
		return nil
	default:
		return err
	}
}

// isPoison reports errors that a redelivery would hit again.
func isPoison(err error) bool {
	return errors.Is(err, event.ErrMalformedEnvelope) ||
		errors.Is(err, event.ErrEventTypeMismatch) ||
		errors.Is(err, payment.ErrOrderNotFound) ||
		errors.Is(err, payment.ErrTerminalStatus)
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
