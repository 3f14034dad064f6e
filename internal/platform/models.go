package platform

import (
	"encoding/json"
	"time"
)

// User 是身份系统返回的用户视图，核心只关心这几个字段。
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"isActive"`
}

// SecurityEventType 是审计事件类型
type SecurityEventType string

const (
	EventContentFlagged          SecurityEventType = "ContentFlagged"
	EventContentBlocked          SecurityEventType = "ContentBlocked"
	EventContentAutoSuspended    SecurityEventType = "ContentAutoSuspended"
	EventContentReviewed         SecurityEventType = "ContentReviewed"
	EventUserAutoSuspended       SecurityEventType = "UserAutoSuspended"
	EventUserManuallySuspended   SecurityEventType = "UserManuallySuspended"
	EventUserUnsuspended         SecurityEventType = "UserUnsuspended"
	EventPlanBlocked             SecurityEventType = "PlanBlocked"
	EventPlanConfirmationRequest SecurityEventType = "PlanConfirmationRequired"
	EventConsentGranted          SecurityEventType = "ConsentGranted"
	EventConsentRevoked          SecurityEventType = "ConsentRevoked"
)

// SecurityEvent 是发往外部安全日志的一条审计记录。
type SecurityEvent struct {
	EventID     string            `json:"eventId"`
	Type        SecurityEventType `json:"type"`
	ActorID     string            `json:"actorId"`               // 被处置的用户 / 提交计划的主体
	PerformedBy string            `json:"performedBy,omitempty"` // "System" 或审核员 ID
	Severity    float64           `json:"severity"`              // [0,1]
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// PlanStepSummary 是提交给审批人的单步风险明细
type PlanStepSummary struct {
	Skill     string          `json:"skill"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Risk      float64         `json:"risk"`
	Severity  float64         `json:"severity"`
	Harm      string          `json:"harm"`
}

// PlanApprovalRequest 是需要人工确认的行动计划
type PlanApprovalRequest struct {
	DecisionID     string            `json:"decisionId"`
	ActorID        string            `json:"actorId"`
	AggregateRisk  float64           `json:"aggregateRisk"`
	Reason         string            `json:"reason"`
	MissingConsent []string          `json:"missingConsent,omitempty"`
	Steps          []PlanStepSummary `json:"steps"`
	RequestedAt    time.Time         `json:"requestedAt"`
}

// TaskData 代表一个提交给远程审核平台的文本任务。
type TaskData struct {
	// ID 通常对应调用方的内容 ID。
	ID string `json:"id"`

	// Content 是需要审核的文本内容。
	Content string `json:"content"`

	// UserID 是内容发布者 (可选)。
	UserID string `json:"userId,omitempty"`
}

// RejectionDetail 是远程平台给出的单个风险标签。
type RejectionDetail struct {
	// Label 是平台的风险类别，例如 "spam", "porn", "ad", "abuse"。
	Label string `json:"label"`

	// Suggestion 是平台针对该标签的建议: "review" 或 "block"。
	Suggestion string `json:"suggestion,omitempty"`

	// Score 是平台给出的置信度 (0.0 ~ 100.0)。
	Score float64 `json:"score,omitempty"`

	// MatchedContent 是命中的文本片段。
	MatchedContent []string `json:"matchedContent,omitempty"`
}

// ReviewResult 是单个任务的远程审核结果。
type ReviewResult struct {
	OriginalTaskID string `json:"originalTaskId"`
	ProviderTaskID string `json:"providerTaskId,omitempty"`

	// Suggestion 取值 "pass" / "review" / "block"。
	Suggestion string            `json:"suggestion"`
	Details    []RejectionDetail `json:"details,omitempty"`

	Error error `json:"-"`
}
