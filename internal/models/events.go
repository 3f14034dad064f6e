package models

import (
	"encoding/json"
	"time"

	"github.com/Xushengqwer/risk_gate/internal/moderation"
	"github.com/Xushengqwer/risk_gate/internal/riskgate"
)

// ContentScanRequest 是 pending_content 主题上的一条待扫描内容。
type ContentScanRequest struct {
	RequestID   string    `json:"request_id"`
	ContentID   string    `json:"content_id"`
	UserID      string    `json:"user_id"`
	ModuleName  string    `json:"module_name"`
	ContentType string    `json:"content_type,omitempty"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PlanEvaluationRequest 是 pending_plans 主题上的一条待评估计划。
// Plan 保留原始 JSON，结构不合法的计划由风险闸门直接拦截，而不是进入死信队列。
type PlanEvaluationRequest struct {
	RequestID   string          `json:"request_id"`
	ActorID     string          `json:"actor_id"`
	Plan        json.RawMessage `json:"plan"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// ModerationResultEvent 发布到 moderation_results 主题。
type ModerationResultEvent struct {
	EventID   string            `json:"event_id"`
	RequestID string            `json:"request_id"`
	Timestamp time.Time         `json:"timestamp"`
	Result    moderation.Result `json:"result"`
}

// PlanDecisionEvent 发布到 plan_decisions 主题。
type PlanDecisionEvent struct {
	EventID   string            `json:"event_id"`
	RequestID string            `json:"request_id"`
	Timestamp time.Time         `json:"timestamp"`
	Decision  riskgate.Decision `json:"decision"`
}

// DeadLetterEvent 定义了发送到死信队列的消息结构。
type DeadLetterEvent struct {
	DLQEventID           string `json:"dlq_event_id"`                   // 死信事件自身的唯一ID
	OriginalTopic        string `json:"original_topic"`                 // 原始消息所在的主题
	OriginalPartition    int32  `json:"original_partition"`             // 原始消息所在的分区
	OriginalOffset       int64  `json:"original_offset"`                // 原始消息的偏移量
	OriginalMessageKey   string `json:"original_message_key,omitempty"` // 原始消息的Key
	OriginalMessageValue string `json:"original_message_value"`         // 原始消息体
	FailureReason        string `json:"failure_reason"`                 // 处理失败的原因
	FailedAt             int64  `json:"failed_at"`                      // 失败时间 (Unix 毫秒)
	ProcessingService    string `json:"processing_service"`             // 处理失败的服务名称
}
