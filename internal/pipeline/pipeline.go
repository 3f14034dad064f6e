// Package pipeline 把审核、封禁、风险闸门与授权组装成一个进程内的入口。
// 所有状态都由 New 创建并显式持有，不存在包级全局变量。
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/audit"
	"github.com/Xushengqwer/risk_gate/internal/consent"
	"github.com/Xushengqwer/risk_gate/internal/metrics"
	"github.com/Xushengqwer/risk_gate/internal/moderation"
	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
	"github.com/Xushengqwer/risk_gate/internal/riskgate"
	"github.com/Xushengqwer/risk_gate/internal/suspension"
)

// Dependencies 是可选的外部协作方，均可为 nil。
type Dependencies struct {
	Directory    platform.UserDirectory
	AuditSink    platform.SecurityEventLogger
	Approver     platform.PlanApprover
	Reviewer     platform.ContentReviewer
	LabelMapping map[string]string
	Heuristic    riskgate.Heuristic
	Metrics      *metrics.Recorder
	Clock        func() time.Time
}

// Pipeline 是风控决策的统一入口。
type Pipeline struct {
	moderation  *moderation.Service
	suspensions *suspension.Manager
	gate        *riskgate.Gate
	consent     *consent.Registry
	emitter     *audit.Emitter
	logger      *zap.Logger
}

// New 组装全部组件。
func New(mp *policy.ModerationPolicy, sp *policy.SafetyPolicy, deps Dependencies, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := audit.NewEmitter(deps.AuditSink, logger.Named("audit"))

	suspOpts := []suspension.Option{suspension.WithMetrics(deps.Metrics)}
	modOpts := []moderation.Option{moderation.WithMetrics(deps.Metrics)}
	gateOpts := []riskgate.Option{riskgate.WithMetrics(deps.Metrics)}
	if deps.Clock != nil {
		suspOpts = append(suspOpts, suspension.WithClock(deps.Clock))
		modOpts = append(modOpts, moderation.WithClock(deps.Clock))
		gateOpts = append(gateOpts, riskgate.WithClock(deps.Clock))
	}
	if deps.Reviewer != nil {
		modOpts = append(modOpts, moderation.WithReviewer(deps.Reviewer))
	}
	if len(deps.LabelMapping) > 0 {
		modOpts = append(modOpts, moderation.WithLabelMapping(deps.LabelMapping))
	}
	if deps.Approver != nil {
		gateOpts = append(gateOpts, riskgate.WithApprover(deps.Approver))
	}
	if deps.Heuristic != nil {
		gateOpts = append(gateOpts, riskgate.WithHeuristic(deps.Heuristic))
	}

	susp := suspension.NewManager(deps.Directory, emitter, logger.Named("suspension"), suspOpts...)
	reg := consent.NewRegistry()
	return &Pipeline{
		moderation:  moderation.NewService(mp, susp, emitter, logger.Named("moderation"), modOpts...),
		suspensions: susp,
		gate:        riskgate.NewGate(sp, reg, emitter, logger.Named("riskgate"), gateOpts...),
		consent:     reg,
		emitter:     emitter,
		logger:      logger,
	}
}

// ScanText 扫描一条文本内容。
func (p *Pipeline) ScanText(ctx context.Context, text, actorID, moduleName, contentID string) moderation.Result {
	return p.moderation.ScanText(ctx, moderation.ScanInput{
		Text:       text,
		UserID:     actorID,
		ModuleName: moduleName,
		ContentID:  contentID,
	})
}

// ScanBatch 批量扫描，远程审核平台每批只调用一次。
func (p *Pipeline) ScanBatch(ctx context.Context, inputs []moderation.ScanInput) []moderation.Result {
	return p.moderation.ScanBatch(ctx, inputs)
}

func (p *Pipeline) IsSuspended(actorID string) bool {
	return p.suspensions.IsSuspended(actorID)
}

func (p *Pipeline) GetActiveSuspension(actorID string) (suspension.Record, bool) {
	return p.suspensions.GetActiveSuspension(actorID)
}

// SuspensionHistory 返回全部封禁记录，包括已失效的。
func (p *Pipeline) SuspensionHistory(actorID string) []suspension.Record {
	return p.suspensions.History(actorID)
}

// SuspendUser 手动封禁。duration 为 nil 表示无限期。
func (p *Pipeline) SuspendUser(ctx context.Context, actorID, reason string, duration *time.Duration, by string) bool {
	_, ok := p.suspensions.Suspend(ctx, actorID, reason, duration, by)
	return ok
}

func (p *Pipeline) UnsuspendUser(ctx context.Context, actorID, by string) bool {
	return p.suspensions.Unsuspend(ctx, actorID, by)
}

func (p *Pipeline) GetUserModerationHistory(actorID string, limit int) []moderation.Result {
	return p.moderation.GetUserModerationHistory(actorID, limit)
}

func (p *Pipeline) PendingReviews(limit int) []moderation.Result {
	return p.moderation.PendingReviews(limit)
}

func (p *Pipeline) ReviewContent(ctx context.Context, moderationID string, finalAction moderation.Action, reviewerID, notes string) bool {
	return p.moderation.ReviewContent(ctx, moderationID, finalAction, reviewerID, notes)
}

// EvaluatePlan 评估行动计划。已被封禁的主体提交的计划直接拦截。
func (p *Pipeline) EvaluatePlan(ctx context.Context, actorID string, plan riskgate.Plan) riskgate.Decision {
	if actorID != "" && p.suspensions.IsSuspended(actorID) {
		return p.gate.Reject(ctx, actorID, plan.ID, riskgate.ReasonActorSuspended)
	}
	return p.gate.EvaluatePlan(ctx, actorID, plan)
}

// EvaluatePlanJSON 与 EvaluatePlan 相同，但接收原始 JSON。
func (p *Pipeline) EvaluatePlanJSON(ctx context.Context, actorID string, raw []byte) riskgate.Decision {
	if actorID != "" && p.suspensions.IsSuspended(actorID) {
		return p.gate.Reject(ctx, actorID, "", riskgate.ReasonActorSuspended)
	}
	return p.gate.EvaluatePlanJSON(ctx, actorID, raw)
}

// GrantConsent 写入授权。actorID 可以为空，表示进程级的默认主体。
func (p *Pipeline) GrantConsent(ctx context.Context, actorID, skill, scope string) bool {
	rec, ok := p.consent.Grant(actorID, skill, scope)
	if !ok {
		return false
	}
	p.emitter.Emit(ctx, platform.SecurityEvent{
		Type:        platform.EventConsentGranted,
		ActorID:     actorID,
		PerformedBy: actorID,
		Description: "consent granted for " + rec.Skill,
		Metadata:    map[string]string{"skill": rec.Skill, "scope": rec.Scope},
	})
	return true
}

func (p *Pipeline) RevokeConsent(ctx context.Context, actorID, skill string) bool {
	if !p.consent.Revoke(actorID, skill) {
		return false
	}
	p.emitter.Emit(ctx, platform.SecurityEvent{
		Type:        platform.EventConsentRevoked,
		ActorID:     actorID,
		PerformedBy: actorID,
		Description: "consent revoked for " + skill,
		Metadata:    map[string]string{"skill": skill},
	})
	return true
}

func (p *Pipeline) HasConsent(actorID, skill, scope string) bool {
	return p.consent.HasConsent(actorID, skill, scope)
}

func (p *Pipeline) ListConsent(actorID string) []consent.Record {
	return p.consent.List(actorID)
}
