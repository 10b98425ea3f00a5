package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/pkg/logger"
	"github.com/vaidashi/marketplace-api/pkg/metrics"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// HandlerFunc adapts a function to MessageHandler
type HandlerFunc func(ctx context.Context, message *models.OutboxMessage) error

// HandleMessage calls f
func (f HandlerFunc) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	return f(ctx, message)
}

// Store is the outbox persistence the processor drives
type Store interface {
	ClaimPending(ctx context.Context, limit int, staleBefore time.Time) ([]*models.OutboxMessage, error)
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
	MoveToDeadLetter(ctx context.Context, id int64, dlq *models.DeadLetterMessage) error
}

// Processor is responsible for processing outbox messages
type Processor struct {
	store           Store
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	messageTimeout  time.Duration
	claimLease      time.Duration
	logger          logger.Logger
	metrics         *metrics.Metrics
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor. ClaimLease is
// how long a claimed message may stay in processing before another poll
// reclaims it; it must outlast MessageTimeout.
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	MessageTimeout  time.Duration
	ClaimLease      time.Duration
}

const (
	defaultMessageTimeout = 30 * time.Second
	defaultClaimLease     = 5 * time.Minute
	bookkeepingTimeout    = 5 * time.Second
)

// NewProcessor creates a new Processor
func NewProcessor(
	store Store,
	config ProcessorConfig,
	logger logger.Logger,
	metrics *metrics.Metrics,
) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.MessageTimeout <= 0 {
		config.MessageTimeout = defaultMessageTimeout
	}
	if config.ClaimLease <= config.MessageTimeout {
		config.ClaimLease = max(defaultClaimLease, 2*config.MessageTimeout)
	}

	return &Processor{
		store:           store,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		messageTimeout:  config.MessageTimeout,
		claimLease:      config.ClaimLease,
		logger:          logger,
		metrics:         metrics,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries,
		"claimLease", p.claimLease)
}

// Stop stops the outbox processor and waits for the current batch
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
		}
	}
}

// processBatch claims and delivers one batch. Failures of single messages are
// logged and left to the retry bookkeeping; only a failed claim is returned.
func (p *Processor) processBatch(ctx context.Context) error {
	messages, err := p.store.ClaimPending(ctx, p.batchSize, time.Now().UTC().Add(-p.claimLease))
	if err != nil {
		return fmt.Errorf("failed to claim pending messages: %w", err)
	}

	if len(messages) == 0 {
		return nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType,
				"attempt", msg.ProcessingAttempts)
		}
	}

	return nil
}

// processMessage delivers one claimed message. ProcessingAttempts already
// counts this attempt. Delivery runs under the message timeout; the status
// write that follows is detached from cancellation so a stop or a slow
// handler never leaves the row in processing.
func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	handler, exists := p.handlers[msg.EventType]
	if !exists {
		err := fmt.Errorf("no handler registered for event type: %s", msg.EventType)
		p.metrics.ObserveDelivery(msg.EventType, "no_handler")
		return p.deadLetter(ctx, msg, err, "No handler registered")
	}

	var err error
	if ctx.Err() != nil {
		err = fmt.Errorf("processor stopped before delivery: %w", ctx.Err())
	} else {
		deliverCtx, cancel := context.WithTimeout(ctx, p.messageTimeout)
		err = handler.HandleMessage(deliverCtx, msg)
		cancel()
	}

	if err != nil {
		// a stop is not the message's fault
		if msg.ProcessingAttempts >= p.maxRetries && ctx.Err() == nil {
			p.metrics.ObserveDelivery(msg.EventType, "dead_lettered")
			return p.deadLetter(ctx, msg, err, fmt.Sprintf("Max retries (%d) reached", p.maxRetries))
		}

		p.metrics.ObserveDelivery(msg.EventType, "retry")
		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", msg.ProcessingAttempts,
			"maxRetries", p.maxRetries)

		markCtx, cancel := detached(ctx)
		defer cancel()

		if markErr := p.store.MarkForRetry(markCtx, msg.ID, err.Error()); markErr != nil {
			return fmt.Errorf("failed to mark message for retry: %w", markErr)
		}
		return err
	}

	markCtx, cancel := detached(ctx)
	defer cancel()

	if err := p.store.MarkAsCompleted(markCtx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}

	p.metrics.ObserveDelivery(msg.EventType, "ok")
	p.logger.Info("Successfully processed message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}

func (p *Processor) deadLetter(ctx context.Context, msg *models.OutboxMessage, cause error, reason string) error {
	dlq := models.NewDeadLetterMessage(msg, cause.Error(), reason)

	markCtx, cancel := detached(ctx)
	defer cancel()

	if err := p.store.MoveToDeadLetter(markCtx, msg.ID, dlq); err != nil {
		return fmt.Errorf("failed to move message to dead letter queue: %w", err)
	}

	p.logger.Error("Message moved to dead letter queue",
		"error", cause,
		"messageID", msg.ID,
		"eventType", msg.EventType,
		"reason", reason)

	return cause
}

// detached keeps ctx values but not its cancellation, bounded by the
// bookkeeping timeout
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}
