package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/config"
	"github.com/Xushengqwer/risk_gate/internal/constants"
	"github.com/Xushengqwer/risk_gate/internal/models"
)

// GateConsumerGroupHandler 实现 sarama.ConsumerGroupHandler。
// pending_content 上的消息按批扫描，pending_plans 上的消息逐条评估。
type GateConsumerGroupHandler struct {
	logger       *zap.Logger
	processor    *Processor
	producer     EventProducer
	topics       config.KafkaTopics
	batchSize    int
	batchTimeout time.Duration

	ready     chan struct{}
	readyOnce sync.Once
}

func NewGateConsumerGroupHandler(logger *zap.Logger, processor *Processor, producer EventProducer, topics config.KafkaTopics, batchSize int) *GateConsumerGroupHandler {
	if batchSize <= 0 {
		batchSize = constants.KafkaConsumerBatchSize
	}
	return &GateConsumerGroupHandler{
		logger:       logger,
		processor:    processor,
		producer:     producer,
		topics:       topics,
		batchSize:    batchSize,
		batchTimeout: constants.KafkaConsumerBatchTimeout,
		ready:        make(chan struct{}),
	}
}

// Ready 在第一次会话 Setup 完成后关闭。
func (h *GateConsumerGroupHandler) Ready() <-chan struct{} {
	return h.ready
}

// Setup 在每次再均衡后的会话开始时调用。
func (h *GateConsumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka 消费者组: 会话 Setup 已启动",
		zap.Any("声明的分区(claims)", session.Claims()),
		zap.String("成员ID(member_id)", session.MemberID()),
	)
	h.readyOnce.Do(func() { close(h.ready) })
	return nil
}

func (h *GateConsumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka 消费者组: 会话 Cleanup 已启动", zap.String("成员ID(member_id)", session.MemberID()))
	return nil
}

func (h *GateConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	h.logger.Info("Kafka 消费者组: ConsumeClaim 已启动",
		zap.String("主题(topic)", claim.Topic()),
		zap.Int32("分区(partition)", claim.Partition()),
		zap.Int64("初始偏移量(initial_offset)", claim.InitialOffset()),
	)
	if claim.Topic() == h.topics.PendingPlans {
		return h.consumePlans(session, claim)
	}
	return h.consumeContent(session, claim)
}

func (h *GateConsumerGroupHandler) consumePlans(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			req, err := decodePlanRequest(message.Value)
			if err != nil {
				h.deadLetter(ctx, session, message, err.Error())
				continue
			}
			if err := h.processor.ProcessPlan(ctx, req); err != nil {
				h.deadLetter(ctx, session, message, "计划评估结论发送失败: "+err.Error())
				continue
			}
			session.MarkMessage(message, "")
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *GateConsumerGroupHandler) consumeContent(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	messages := make([]*sarama.ConsumerMessage, 0, h.batchSize)
	reqs := make([]models.ContentScanRequest, 0, h.batchSize)
	flush := func() {
		if len(messages) == 0 {
			return
		}
		h.processContentBatch(ctx, session, messages, reqs)
		messages = make([]*sarama.ConsumerMessage, 0, h.batchSize)
		reqs = make([]models.ContentScanRequest, 0, h.batchSize)
	}

	ticker := time.NewTicker(h.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				h.logger.Info("Kafka 消费者组: 消息通道已关闭，处理缓冲区中剩余消息",
					zap.String("主题(topic)", claim.Topic()),
					zap.Int("剩余消息数(remaining)", len(messages)),
				)
				flush()
				return nil
			}
			req, err := decodeContentRequest(message.Value)
			if err != nil {
				h.deadLetter(ctx, session, message, err.Error())
				continue
			}
			messages = append(messages, message)
			reqs = append(reqs, req)
			if len(messages) >= h.batchSize {
				flush()
				ticker.Reset(h.batchTimeout)
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return nil
		}
	}
}

func (h *GateConsumerGroupHandler) processContentBatch(ctx context.Context, session sarama.ConsumerGroupSession, messages []*sarama.ConsumerMessage, reqs []models.ContentScanRequest) {
	h.logger.Info("Kafka 消费者组: 开始处理内容批次", zap.Int("批次大小(batch_size)", len(messages)))
	results := h.processor.ProcessContentBatch(ctx, reqs)
	for i, res := range results {
		if res.Error != nil {
			h.deadLetter(ctx, session, messages[i], "审核结果发送失败: "+res.Error.Error())
			continue
		}
		session.MarkMessage(messages[i], "")
	}
}

// deadLetter 把消息写入死信队列并标记偏移量，避免坏消息被无限重投。
func (h *GateConsumerGroupHandler) deadLetter(ctx context.Context, session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage, reason string) {
	h.logger.Error("Kafka 消费者组: 消息处理失败，发送到DLQ",
		zap.String("主题(topic)", message.Topic),
		zap.Int64("偏移量(offset)", message.Offset),
		zap.String("原因(reason)", reason),
	)
	if err := h.producer.SendToDLQ(ctx, message, reason); err != nil {
		h.logger.Error("Kafka 消费者组: 发送消息到DLQ失败",
			zap.String("主题(topic)", message.Topic),
			zap.Int64("偏移量(offset)", message.Offset),
			zap.Error(err),
		)
	}
	session.MarkMessage(message, "")
}

// StartConsumerGroup 订阅 pending_content 与 pending_plans，阻塞直到 ctx 被取消。
func StartConsumerGroup(ctx context.Context, cfg config.KafkaConfig, logger *zap.Logger, processor *Processor, producer EventProducer) error {
	saramaConfig, err := GetSaramaConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("创建 Sarama 配置失败: %w", err)
	}
	if !saramaConfig.Version.IsAtLeast(sarama.V0_10_2_0) {
		return fmt.Errorf("配置中的 Kafka 版本 %s 不支持消费者组 (需要 >= 0.10.2.0)", saramaConfig.Version)
	}

	var topics []string
	for _, t := range []string{cfg.Topics.PendingContent, cfg.Topics.PendingPlans} {
		if t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return errors.New("未配置任何待消费的主题 (pending_content / pending_plans)")
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroupID, saramaConfig)
	if err != nil {
		return fmt.Errorf("创建消费者组客户端失败: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			logger.Error("关闭 Kafka 消费者组客户端失败", zap.Error(err))
		}
	}()

	handler := NewGateConsumerGroupHandler(logger, processor, producer, cfg.Topics, cfg.Consumer.BatchSize)
	logger.Info("启动 Kafka 消费者组消费...",
		zap.Strings("订阅主题(topics)", topics),
		zap.String("组ID(group_id)", cfg.ConsumerGroupID),
	)

	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Error("Kafka 消费者组 Consume 过程中发生错误", zap.Error(err))
			select {
			case <-time.After(constants.KafkaConsumeRetryInterval):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			logger.Info("上下文已取消，停止消费者组。")
			return nil
		}
	}
}
