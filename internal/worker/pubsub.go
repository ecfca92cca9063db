package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Job types accepted on the subscription.
const (
	JobTypeSweep       = "expiry_sweep"
	JobTypeHealthCheck = "health_check"
)

// Pinger checks that the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	SweepJob         *SweepJob
	Store            Pinger
	Logger           zerolog.Logger
}

// JobMessage is the payload of a worker job message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Sweeps are serialised anyway; keep few messages in flight.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 5 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       NewDispatcher(cfg.SweepJob, cfg.Store),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if h.dispatcher.Handle(ctx, logger, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// Dispatcher decodes job messages and runs them. It is separate from the
// Pub/Sub plumbing so it can be driven directly.
type Dispatcher struct {
	sweepJob *SweepJob
	store    Pinger
}

// NewDispatcher creates a job dispatcher.
func NewDispatcher(sweepJob *SweepJob, store Pinger) *Dispatcher {
	return &Dispatcher{sweepJob: sweepJob, store: store}
}

// Handle runs the job in data and reports whether the message should be acked.
// Malformed and unknown messages are acked so they are not redelivered.
func (d *Dispatcher) Handle(ctx context.Context, logger zerolog.Logger, data []byte) bool {
	startTime := time.Now()
	logger.Debug().Msg("received job message")

	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return true
	}

	var err error
	switch msg.JobType {
	case JobTypeSweep:
		err = d.handleSweep(ctx)
	case JobTypeHealthCheck:
		err = d.handleHealthCheck(ctx)
	default:
		logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return true
	}

	if err != nil {
		logger.Error().Err(err).Str("job_type", msg.JobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return true
}

func (d *Dispatcher) handleSweep(ctx context.Context) error {
	if d.sweepJob == nil {
		return errors.New("sweep job not configured")
	}

	result := d.sweepJob.Run(ctx)
	if result.Skipped {
		// Another pass is running or the breaker is open; the schedule will catch up.
		return nil
	}
	return result.Err
}

func (d *Dispatcher) handleHealthCheck(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
