// Command kafkatestproducer 向 pending_content 和 pending_plans 写入样例请求，用于本地联调。
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/Xushengqwer/go-common/core"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/config"
	"github.com/Xushengqwer/risk_gate/internal/kafka"
	"github.com/Xushengqwer/risk_gate/internal/models"
	"github.com/Xushengqwer/risk_gate/internal/riskgate"
)

var sampleTexts = []string{
	"今天天气不错，一起去公园散步吧",
	"I will kill you if you post that again",
	"my ssn is 123-45-6789, buy now, limited offer",
	"click here for free money",
}

var samplePlans = []riskgate.Plan{
	{Steps: []riskgate.Step{{Skill: "Device.Control", Arguments: json.RawMessage(`{"target":"lights","state":"on"}`)}}},
	{Steps: []riskgate.Step{{Skill: "Device.Control", Arguments: json.RawMessage(`{"command":"delete all schedules"}`)}}},
	{Steps: []riskgate.Step{
		{Skill: "Calendar.Read"},
		{Skill: "Payments.Transfer", Arguments: json.RawMessage(`{"amount":500,"to":"wire transfer account"}`)},
	}},
}

func main() {
	var configFile string
	var numMessages int

	flag.StringVar(&configFile, "config", "internal/config/config.development.yaml", "指定配置文件的路径")
	flag.IntVar(&numMessages, "n", 20, "要发送的测试消息数量")
	flag.Parse()

	var appCfg config.AppConfig
	if err := core.LoadConfig(configFile, &appCfg); err != nil {
		log.Fatalf("致命错误: 加载配置文件 '%s' 失败: %v", configFile, err)
	}
	zl, err := core.NewZapLogger(appCfg.ZapConfig)
	if err != nil {
		log.Fatalf("致命错误: 初始化 ZapLogger 失败: %v", err)
	}
	logger := zl.Logger()
	defer func() { _ = logger.Sync() }()

	saramaCfg, err := kafka.GetSaramaConfig(appCfg.Kafka, logger)
	if err != nil {
		logger.Fatal("创建 Kafka Sarama 配置失败", zap.Error(err))
	}
	saramaCfg.ClientID += "_test_producer"

	producer, err := sarama.NewSyncProducer(appCfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		logger.Fatal("创建 Kafka 同步生产者失败", zap.Strings("brokers", appCfg.Kafka.Brokers), zap.Error(err))
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("关闭 Kafka 同步生产者失败", zap.Error(err))
		}
	}()

	topics := appCfg.Kafka.Topics
	if topics.PendingContent == "" || topics.PendingPlans == "" {
		logger.Fatal("配置错误: Kafka topics.pending_content / topics.pending_plans 未定义")
	}

	for i := 1; i <= numMessages; i++ {
		actor := fmt.Sprintf("user_%d", (i%5)+1)
		var (
			topic   string
			payload any
		)
		// 每三条消息中有一条是行动计划
		if i%3 == 0 {
			plan := samplePlans[(i/3)%len(samplePlans)]
			plan.ID = uuid.NewString()
			raw, err := json.Marshal(plan)
			if err != nil {
				logger.Error("序列化行动计划失败", zap.Error(err))
				continue
			}
			topic = topics.PendingPlans
			payload = models.PlanEvaluationRequest{
				RequestID:   uuid.NewString(),
				ActorID:     actor,
				Plan:        raw,
				SubmittedAt: time.Now(),
			}
		} else {
			topic = topics.PendingContent
			payload = models.ContentScanRequest{
				RequestID:   uuid.NewString(),
				ContentID:   fmt.Sprintf("post_%d", time.Now().UnixMilli()+int64(i)),
				UserID:      actor,
				ModuleName:  "forum",
				ContentType: "text",
				Text:        sampleTexts[i%len(sampleTexts)],
				SubmittedAt: time.Now(),
			}
		}

		body, err := json.Marshal(payload)
		if err != nil {
			logger.Error("序列化测试消息失败", zap.Error(err))
			continue
		}
		partition, offset, err := producer.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(actor),
			Value: sarama.ByteEncoder(body),
		})
		if err != nil {
			logger.Error("发送消息到 Kafka 失败", zap.String("topic", topic), zap.Error(err))
			continue
		}
		logger.Info("成功发送消息到 Kafka",
			zap.String("topic", topic),
			zap.String("actor_id", actor),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)
		time.Sleep(500 * time.Millisecond) // 避免发送过快触发远程审核限流
	}

	logger.Info("所有测试消息已发送完毕。")
}
