package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/internal/emissions"
	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// Consumer consumes backfill commands from RabbitMQ. Operators and upstream
// schedulers enqueue model.BackfillCommand messages; each one triggers a
// chunked historical fetch through the emissions service.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	service BackfillService
	queue   string
	logger  *zap.Logger
	done    chan struct{}
}

// BackfillService defines the backfill entry point the consumer drives.
type BackfillService interface {
	RunBackfill(ctx context.Context, cmd model.BackfillCommand) (model.BackfillResult, error)
}

// NewConsumer creates a new RabbitMQ consumer bound to the backfill queue.
func NewConsumer(url, queue string, service BackfillService, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		service: service,
		queue:   queue,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start starts consuming backfill commands.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.channel.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}

	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", c.queue, err)
	}

	c.logger.Info("Started consuming from RabbitMQ",
		zap.String("queue", c.queue),
	)

	go c.consumeBackfills(ctx, msgs)

	return nil
}

func (c *Consumer) consumeBackfills(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Backfill channel closed")
				return
			}

			c.logger.Debug("Received backfill command", zap.String("body", string(msg.Body)))

			var cmd model.BackfillCommand
			if err := json.Unmarshal(msg.Body, &cmd); err != nil {
				c.logger.Error("Failed to unmarshal BackfillCommand", zap.Error(err))
				msg.Nack(false, false)
				continue
			}

			// Malformed commands are poison: drop, never requeue
			if err := emissions.ValidateCommand(cmd); err != nil {
				c.logger.Error("Rejected backfill command",
					zap.String("command_id", cmd.CommandID),
					zap.Error(err))
				msg.Nack(false, false)
				continue
			}

			if cmd.CommandID == "" {
				cmd.CommandID = uuid.NewString()
			}

			if _, err := c.service.RunBackfill(ctx, cmd); err != nil {
				c.logger.Error("Failed to run backfill",
					zap.String("command_id", cmd.CommandID),
					zap.String("region", cmd.Region),
					zap.Error(err))
				msg.Nack(false, true) // Requeue on failure; the archive insert is idempotent
				continue
			}

			msg.Ack(false)
		}
	}
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	close(c.done)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
