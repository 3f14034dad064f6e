package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/config"
	"github.com/Xushengqwer/risk_gate/internal/constants"
	"github.com/Xushengqwer/risk_gate/internal/models"
	"github.com/Xushengqwer/risk_gate/internal/platform"
)

// EventProducer 定义了把决策结果与死信消息写回 Kafka 的接口。
type EventProducer interface {
	// SendModerationResult 发送一条内容审核结果。
	SendModerationResult(ctx context.Context, event *models.ModerationResultEvent) error

	// SendPlanDecision 发送一条行动计划评估结论。
	SendPlanDecision(ctx context.Context, event *models.PlanDecisionEvent) error

	// SendToDLQ 将处理失败的原始消息发送到死信队列。
	SendToDLQ(ctx context.Context, originalMessage *sarama.ConsumerMessage, failureReason string) error

	Close() error
}

// Producer 基于 Sarama 同步生产者实现 EventProducer，
// 同时充当 platform.SecurityEventLogger 与 platform.PlanApprover：
// 审计事件写入 security_events 主题，待确认计划写入 plan_approvals 主题。
type Producer struct {
	producer   sarama.SyncProducer
	topics     config.KafkaTopics
	logger     *zap.Logger
	maxRetries uint64
	retryDelay time.Duration
}

// NewProducer 创建同步生产者。saramaCfg 通常来自 GetSaramaConfig。
func NewProducer(brokers []string, saramaCfg *sarama.Config, topics config.KafkaTopics, logger *zap.Logger) (*Producer, error) {
	// 同步生产者要求 Return.Successes 和 Return.Errors 都为 true
	if !saramaCfg.Producer.Return.Successes || !saramaCfg.Producer.Return.Errors {
		return nil, fmt.Errorf("kafka生产者配置错误: 同步生产者需要 Return.Successes=true 和 Return.Errors=true")
	}

	sp, err := sarama.NewSyncProducer(brokers, saramaCfg)
	if err != nil {
		logger.Error("创建 Kafka 同步生产者失败",
			zap.Strings("brokers", brokers),
			zap.Error(err),
		)
		return nil, fmt.Errorf("创建 Kafka 同步生产者失败: %w", err)
	}
	logger.Info("Kafka 同步生产者创建成功", zap.Strings("brokers", brokers))
	return NewProducerFromSync(sp, topics, logger), nil
}

// NewProducerFromSync 用已有的 SyncProducer 构造 Producer。
func NewProducerFromSync(sp sarama.SyncProducer, topics config.KafkaTopics, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		producer:   sp,
		topics:     topics,
		logger:     logger,
		maxRetries: constants.KafkaProducerMaxSendRetries,
		retryDelay: constants.KafkaProducerSendRetryDelay,
	}
}

func (p *Producer) SendModerationResult(ctx context.Context, event *models.ModerationResultEvent) error {
	if event == nil {
		return fmt.Errorf("审核结果事件不能为空")
	}
	// 按用户分区，同一用户的结果保持顺序
	key := event.Result.UserID
	if key == "" {
		key = event.Result.ContentID
	}
	return p.send(ctx, p.topics.ModerationResults, "moderation_results", key, event)
}

func (p *Producer) SendPlanDecision(ctx context.Context, event *models.PlanDecisionEvent) error {
	if event == nil {
		return fmt.Errorf("计划评估事件不能为空")
	}
	return p.send(ctx, p.topics.PlanDecisions, "plan_decisions", event.Decision.ActorID, event)
}

// LogSecurityEvent 实现 platform.SecurityEventLogger。
func (p *Producer) LogSecurityEvent(ctx context.Context, event platform.SecurityEvent) error {
	return p.send(ctx, p.topics.SecurityEvents, "security_events", event.ActorID, event)
}

// SubmitPlanForApproval 实现 platform.PlanApprover。
func (p *Producer) SubmitPlanForApproval(ctx context.Context, req platform.PlanApprovalRequest) error {
	return p.send(ctx, p.topics.PlanApprovals, "plan_approvals", req.ActorID, req)
}

// SendToDLQ 把原始消息包装成 DeadLetterEvent 写入死信队列。
func (p *Producer) SendToDLQ(ctx context.Context, originalMessage *sarama.ConsumerMessage, failureReason string) error {
	if originalMessage == nil {
		return fmt.Errorf("发送到DLQ的原始消息不能为空")
	}
	dlqEvent := models.DeadLetterEvent{
		DLQEventID:           uuid.NewString(),
		OriginalTopic:        originalMessage.Topic,
		OriginalPartition:    originalMessage.Partition,
		OriginalOffset:       originalMessage.Offset,
		OriginalMessageKey:   string(originalMessage.Key),
		OriginalMessageValue: string(originalMessage.Value),
		FailureReason:        failureReason,
		FailedAt:             time.Now().UnixMilli(),
		ProcessingService:    constants.ServiceName,
	}
	return p.send(ctx, p.topics.DeadLetterQueue, "dead_letter_queue", dlqEvent.DLQEventID, dlqEvent)
}

// send 序列化并发送消息，发送失败时按固定间隔重试。
func (p *Producer) send(ctx context.Context, topic, topicName, key string, payload any) error {
	if topic == "" {
		p.logger.Error("Kafka 主题未在配置中定义", zap.String("主题配置项(topic_key)", topicName))
		return fmt.Errorf("'%s' 主题未配置", topicName)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 %s 消息失败: %w", topicName, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	var (
		partition int32
		offset    int64
		attempt   int
	)
	op := func() error {
		attempt++
		var sendErr error
		partition, offset, sendErr = p.producer.SendMessage(msg)
		if sendErr != nil {
			p.logger.Warn("发送消息到 Kafka 失败，准备重试",
				zap.String("主题(topic)", topic),
				zap.Int("尝试次数(attempt)", attempt),
				zap.Error(sendErr),
			)
		}
		return sendErr
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.retryDelay), p.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		p.logger.Error("多次尝试后发送消息到 Kafka 仍然失败",
			zap.String("主题(topic)", topic),
			zap.String("消息键(key)", key),
			zap.Int("尝试次数(attempt)", attempt),
			zap.Error(err),
		)
		return fmt.Errorf("发送消息到 Kafka '%s' 主题失败: %w", topicName, err)
	}

	p.logger.Debug("成功发送消息到 Kafka",
		zap.String("主题(topic)", topic),
		zap.String("消息键(key)", key),
		zap.Int32("分区(partition)", partition),
		zap.Int64("偏移量(offset)", offset),
	)
	return nil
}

// Close 关闭同步生产者。
func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	p.logger.Info("正在关闭 Kafka 同步生产者...")
	if err := p.producer.Close(); err != nil {
		p.logger.Error("关闭 Kafka 同步生产者失败", zap.Error(err))
		return err
	}
	p.logger.Info("Kafka 同步生产者已成功关闭。")
	return nil
}

var (
	_ EventProducer                = (*Producer)(nil)
	_ platform.SecurityEventLogger = (*Producer)(nil)
	_ platform.PlanApprover        = (*Producer)(nil)
)
