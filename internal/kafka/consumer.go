package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/tournament-engine/internal/config"
	"github.com/tournament-engine/internal/domain"
)

// ResultReporter records a decided match
type ResultReporter interface {
	ReportMatchResult(ctx context.Context, matchID, winnerUserID string) (*domain.Match, error)
}

// ResultConsumer feeds match results published by game servers into the engine
type ResultConsumer struct {
	config        *config.KafkaConfig
	reporter      ResultReporter
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewResultConsumer creates a consumer group member for the results topic
func NewResultConsumer(cfg *config.KafkaConfig, reporter ResultReporter, logger *slog.Logger) (*ResultConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return newResultConsumer(cfg, reporter, logger, consumerGroup), nil
}

func newResultConsumer(cfg *config.KafkaConfig, reporter ResultReporter, logger *slog.Logger, group sarama.ConsumerGroup) *ResultConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &ResultConsumer{
		config:        cfg,
		reporter:      reporter,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start joins the group and blocks until the first session is set up
func (c *ResultConsumer) Start() error {
	c.logger.Info("starting result consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.ResultsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.ResultsTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("result consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *ResultConsumer) Stop() error {
	c.logger.Info("stopping result consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// ResultMessage is the wire format of the results topic
type ResultMessage struct {
	MatchID      string `json:"match_id"`
	WinnerUserID string `json:"winner_user_id"`
}

func decodeResult(value []byte) (ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return msg, fmt.Errorf("decoding result: %w", err)
	}
	msg.MatchID = strings.TrimSpace(msg.MatchID)
	msg.WinnerUserID = strings.TrimSpace(msg.WinnerUserID)
	if msg.MatchID == "" || msg.WinnerUserID == "" {
		return msg, fmt.Errorf("%w: match_id and winner_user_id are required", domain.ErrInvalidRequest)
	}
	return msg, nil
}

// handle reports one message. Results the engine rejects are logged and skipped;
// reporting is idempotent so redelivery is harmless.
func (c *ResultConsumer) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	result, err := decodeResult(message.Value)
	if err != nil {
		c.logger.Warn("skipping malformed result",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HandleTimeout)
	defer cancel()

	match, err := c.reporter.ReportMatchResult(ctx, result.MatchID, result.WinnerUserID)
	switch {
	case err == nil:
		c.logger.Debug("result applied",
			"match_id", match.ID,
			"winner_user_id", match.WinnerUserID,
			"status", match.Status,
		)
	case domain.IsNotFoundError(err), domain.IsConflictError(err), domain.IsValidationError(err):
		c.logger.Warn("result rejected",
			"match_id", result.MatchID,
			"winner_user_id", result.WinnerUserID,
			"error", err,
		)
	default:
		c.logger.Error("failed to apply result",
			"match_id", result.MatchID,
			"offset", message.Offset,
			"partition", message.Partition,
			"error", err,
		)
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *ResultConsumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim applies results one at a time in partition order
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.handle(session.Context(), message)
			session.MarkMessage(message, "")
		}
	}
}
