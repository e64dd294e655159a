package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-service/internal/config"
	"payment-service/internal/db"
	"payment-service/internal/logcontext"
	"payment-service/internal/message"
	"payment-service/internal/payload"
)

const (
	defaultPollingIntervalMs = 500
	defaultFetchSize         = 200
	defaultRetryDelayMs      = 10_000
	defaultMaxAttempts       = 3
)

var (
	publisherErrorFetchingCounter = metrics.GetOrCreateCounter(`payment_event_publisher_total{result="fetching_failed"}`)
	publisherErrorKafkaCounter    = metrics.GetOrCreateCounter(`payment_event_publisher_total{result="publish_failed"}`)
	publisherErrorUpdateCounter   = metrics.GetOrCreateCounter(`payment_event_publisher_total{result="db_update_failed"}`)
	publisherSuccessCounter       = metrics.GetOrCreateCounter(`payment_event_publisher_total{result="success"}`)

	publisherProcessDurationHistogram = metrics.GetOrCreateHistogram(`payment_event_publisher_duration_milliseconds`)

	publisherMessagesPublishedCounter   = metrics.GetOrCreateCounter(`payment_event_publisher_messages_total{result="published"}`)
	publisherMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`payment_event_publisher_messages_total{result="max_attempts_reached"}`)
	publisherMessagesRescheduledCounter = metrics.GetOrCreateCounter(`payment_event_publisher_messages_total{result="rescheduled"}`)
)

// Publisher drains the payment event outbox into Kafka. Settlement writes the
// outbox row in its own transaction; this poller publishes it with retry and
// attempt bookkeeping, so an event is never lost between commit and publish.
type Publisher struct {
	repo            *db.EventRepository
	writer          *kafka.Writer
	pollingInterval time.Duration
	fetchSize       int
	retryDelay      time.Duration
	maxAttempts     int
	logger          *slog.Logger
}

func NewPublisher(repo *db.EventRepository, writer *kafka.Writer, cfg config.Outbox, logger *slog.Logger) *Publisher {
	pollingMs := cfg.PollingIntervalMs
	if pollingMs <= 0 {
		pollingMs = defaultPollingIntervalMs
	}
	fetchSize := cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	retryMs := cfg.RetryDelayMs
	if retryMs <= 0 {
		retryMs = defaultRetryDelayMs
	}
	maxAttempts := cfg.MaxPublishAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Publisher{
		repo:            repo,
		writer:          writer,
		pollingInterval: time.Duration(pollingMs) * time.Millisecond,
		fetchSize:       fetchSize,
		retryDelay:      time.Duration(retryMs) * time.Millisecond,
		maxAttempts:     maxAttempts,
		logger:          logger,
	}
}

func (p *Publisher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping event publisher")
				return
			}
		}
	}()
}

func (p *Publisher) process(ctx context.Context) {
	startTime := time.Now()

	// runId correlates all logs of one polling run
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		publisherErrorFetchingCounter.Inc()
		return
	}
	defer tx.Rollback(ctx)

	events, err := p.repo.GetUnpublished(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching unpublished events", "error", err)
		publisherErrorFetchingCounter.Inc()
		return
	}

	if len(events) == 0 {
		publisherSuccessCounter.Inc()
		return
	}

	writeErr := p.writer.WriteMessages(ctx, p.toKafkaMessages(ctx, events)...)
	if writeErr != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", writeErr)
		publisherErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, entity := range events {
		entityCtx := logcontext.AppendCtx(ctx, slog.String("id", entity.ID.String()))

		entity.PublishAttempts++

		if writeErr != nil {
			errMsg := writeErr.Error()
			entity.Error = &errMsg

			if entity.PublishAttempts >= p.maxAttempts {
				p.logger.WarnContext(entityCtx, "Max publish attempts reached for event")
				entity.ScheduledAt = nil
				publisherMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(entity.PublishAttempts) * p.retryDelay)
				entity.ScheduledAt = &scheduledAt
				publisherMessagesRescheduledCounter.Inc()
			}
		} else {
			entity.ScheduledAt = nil
			entity.PublishedAt = &now
			entity.Error = nil
			publisherMessagesPublishedCounter.Inc()
		}

		if err := p.repo.Update(entityCtx, tx, entity); err != nil {
			p.logger.ErrorContext(entityCtx, "Error updating event", "error", err)
			publisherErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		publisherErrorUpdateCounter.Inc()
	} else {
		publisherSuccessCounter.Inc()
	}

	publisherProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}

func (p *Publisher) toKafkaMessages(ctx context.Context, events []*db.PaymentEventEntity) []kafka.Message {
	var kafkaMessages []kafka.Message

	for _, entity := range events {
		p.logger.DebugContext(ctx, "Preparing Kafka message for event", "id", entity.ID)

		var body payload.Payment
		if err := json.Unmarshal([]byte(entity.Payload), &body); err != nil {
			p.logger.ErrorContext(ctx, "Error unmarshalling stored payload", "id", entity.ID, "error", err)
			continue
		}

		messageBytes, _ := json.Marshal(message.PaymentEvent{
			ID:      entity.ID,
			Event:   entity.EventType,
			Payload: body,
		})

		kafkaMessages = append(kafkaMessages, kafka.Message{
			// payment id as key keeps per-payment ordering
			Key:   []byte(entity.PaymentID.String()),
			Value: messageBytes,
		})
	}
	return kafkaMessages
}
