package constants

import "time"

// ServiceName 用作 Kafka ClientID 以及死信消息中的处理服务名
const ServiceName = "risk-gate-service"

const (
	KafkaProducerMaxSendRetries = 3                      // 发送结果到Kafka的最大重试次数
	KafkaProducerSendRetryDelay = 500 * time.Millisecond // 每次重试的间隔
)

const (
	KafkaConsumerBatchSize    = 20              // 内容扫描一次处理的消息数
	KafkaConsumerBatchTimeout = 5 * time.Second // 批次未满时的最长等待时间

	KafkaConsumeRetryInterval = 5 * time.Second // Consume 出错后的重试间隔
)
