// Package platform 定义风控核心所依赖的外部协作方契约。
// 核心只通过这些窄接口与身份系统、审计日志、审批流程和远程审核平台交互。
package platform

import (
	"context"
	"errors"
)

// ErrUserNotFound 表示身份系统中不存在该用户。
var ErrUserNotFound = errors.New("user not found")

// UserDirectory 是外部身份系统。
type UserDirectory interface {
	// GetUserByID 查询用户，不存在时返回 ErrUserNotFound。
	GetUserByID(ctx context.Context, userID string) (*User, error)

	// SetUserActive 在封禁/解封时同步切换用户的 IsActive 标记。
	SetUserActive(ctx context.Context, userID string, active bool) error
}

// SecurityEventLogger 接收每一个重要决策的审计事件。
type SecurityEventLogger interface {
	LogSecurityEvent(ctx context.Context, event SecurityEvent) error
}

// PlanApprover 是人工确认流程：需要确认的行动计划会被提交到这里。
type PlanApprover interface {
	SubmitPlanForApproval(ctx context.Context, req PlanApprovalRequest) error
}

// ContentReviewer 是远程内容审核平台 (例如阿里云)。
// 它只作为本地规则扫描的补充信号，失败不会阻断决策。
type ContentReviewer interface {
	// ReviewTextBatch 批量审核文本内容。
	//
	// 返回的切片顺序必须与 tasks 严格对应；单个任务的失败写在 ReviewResult.Error 中，
	// 只有整个请求失败 (网络、认证、限流) 时才返回顶层 error。
	// 限流错误应能被 IsThrottled 识别。
	ReviewTextBatch(ctx context.Context, tasks []TaskData) ([]ReviewResult, error)

	// GetPlatformName 返回审核平台名称，用于日志。
	GetPlatformName() string
}

// ErrReviewThrottled 表示审核请求因为平台限流而被拒绝。
var ErrReviewThrottled = errors.New("content review request was throttled by the platform")

// IsThrottled 判断错误是否属于平台限流。
func IsThrottled(err error) bool {
	return errors.Is(err, ErrReviewThrottled)
}
