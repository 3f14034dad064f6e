// Package riskgate 在执行前评估 AI 生成的行动计划：逐步打分，取最大风险，
// 结合用户授权给出 放行 / 需要确认 / 拦截 的结论。
package riskgate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/audit"
	"github.com/Xushengqwer/risk_gate/internal/metrics"
	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
)

// Outcome 是计划评估的结论
type Outcome string

const (
	OutcomeApproved        Outcome = "approved"
	OutcomeConfirmRequired Outcome = "confirm_required"
	OutcomeBlocked         Outcome = "blocked"
)

const (
	ReasonEmptyPlan      = "empty plan"
	ReasonInvalidPlan    = "invalid plan"
	ReasonActorSuspended = "actor suspended"
)

// Step 是计划中的一步：技能名 + JSON 参数。
type Step struct {
	Skill     string          `json:"skill"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Plan 是外部生成的有序步骤列表，提交后不可变。
type Plan struct {
	ID    string `json:"id,omitempty"`
	Steps []Step `json:"steps"`
}

// StepAnalysis 是单步的风险明细
type StepAnalysis struct {
	Index          int             `json:"index"`
	Skill          string          `json:"skill"`
	Arguments      json.RawMessage `json:"arguments,omitempty"`
	Risk           float64         `json:"risk"`
	Probability    float64         `json:"probability"`
	Harm           policy.HarmType `json:"harm"`
	Severity       float64         `json:"severity"`
	KnownSkill     bool            `json:"knownSkill"`
	Signals        []string        `json:"signals,omitempty"`
	MalformedArgs  bool            `json:"malformedArgs,omitempty"`
	ConsentMissing bool            `json:"consentMissing,omitempty"`

	scope string
}

// Decision 是一次计划评估的完整结论。
type Decision struct {
	ID             string         `json:"id"`
	PlanID         string         `json:"planId,omitempty"`
	ActorID        string         `json:"actorId"`
	Outcome        Outcome        `json:"outcome"`
	AggregateRisk  float64        `json:"aggregateRisk"`
	Reason         string         `json:"reason"`
	Steps          []StepAnalysis `json:"steps"`
	MissingConsent []string       `json:"missingConsent,omitempty"`
	EvaluatedAt    time.Time      `json:"evaluatedAt"`
}

// ConsentChecker 回答某主体是否已授权某技能
type ConsentChecker interface {
	HasConsent(actorID, skill, scope string) bool
}

// Gate 是行动计划风险闸门。
type Gate struct {
	policy   *policy.SafetyPolicy
	scorer   *Scorer
	consent  ConsentChecker
	approver platform.PlanApprover
	emitter  *audit.Emitter
	metrics  *metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time

	heuristic Heuristic
}

// Option 调整 Gate 的可选依赖
type Option func(*Gate)

// WithHeuristic 注入额外的概率判断
func WithHeuristic(h Heuristic) Option {
	return func(g *Gate) { g.heuristic = h }
}

// WithApprover 把需要确认的计划提交给人工审批
func WithApprover(a platform.PlanApprover) Option {
	return func(g *Gate) { g.approver = a }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(g *Gate) { g.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate 创建风险闸门。consent 为 nil 时所有需要授权的步骤都视为缺少授权。
func NewGate(p *policy.SafetyPolicy, consent ConsentChecker, emitter *audit.Emitter, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{policy: p, consent: consent, emitter: emitter, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.scorer = NewScorer(g.heuristic, p.FailClosedOnMalformedArgs)
	return g
}

// EvaluatePlanJSON 解析并评估计划。无法解析的计划直接拦截。
func (g *Gate) EvaluatePlanJSON(ctx context.Context, actorID string, raw []byte) Decision {
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		g.logger.Warn("行动计划无法解析，直接拦截", zap.String("主体(actor_id)", actorID), zap.Error(err))
		return g.Reject(ctx, actorID, "", ReasonInvalidPlan)
	}
	return g.EvaluatePlan(ctx, actorID, plan)
}

// EvaluatePlan 评估整个计划。
func (g *Gate) EvaluatePlan(ctx context.Context, actorID string, plan Plan) Decision {
	if len(plan.Steps) == 0 {
		return g.Reject(ctx, actorID, plan.ID, ReasonEmptyPlan)
	}
	for _, st := range plan.Steps {
		if strings.TrimSpace(st.Skill) == "" {
			return g.Reject(ctx, actorID, plan.ID, ReasonInvalidPlan)
		}
	}

	d := Decision{
		ID:          uuid.NewString(),
		PlanID:      plan.ID,
		ActorID:     actorID,
		EvaluatedAt: g.now().UTC(),
		Steps:       make([]StepAnalysis, 0, len(plan.Steps)),
	}
	missing := make(map[string]struct{})
	for i, st := range plan.Steps {
		def, known := g.policy.Lookup(st.Skill)
		a := g.scorer.Score(st.Skill, st.Arguments, def)
		a.Index = i
		a.KnownSkill = known
		if a.Severity >= g.policy.ConsentSeverity && !g.hasConsent(actorID, st.Skill, a.scope) {
			a.ConsentMissing = true
			missing[strings.ToLower(strings.TrimSpace(st.Skill))] = struct{}{}
		}
		if a.Risk > d.AggregateRisk {
			d.AggregateRisk = a.Risk
		}
		d.Steps = append(d.Steps, a)
	}
	for skill := range missing {
		d.MissingConsent = append(d.MissingConsent, skill)
	}
	sort.Strings(d.MissingConsent)

	switch {
	case d.AggregateRisk >= g.policy.BlockThreshold:
		d.Outcome = OutcomeBlocked
		d.Reason = fmt.Sprintf("aggregate risk %.2f reaches block threshold %.2f", d.AggregateRisk, g.policy.BlockThreshold)
	case d.AggregateRisk >= g.policy.ConfirmThreshold:
		d.Outcome = OutcomeConfirmRequired
		d.Reason = fmt.Sprintf("aggregate risk %.2f reaches confirm threshold %.2f", d.AggregateRisk, g.policy.ConfirmThreshold)
	case len(d.MissingConsent) > 0:
		d.Outcome = OutcomeConfirmRequired
		d.Reason = "missing consent for " + strings.Join(d.MissingConsent, ", ")
	default:
		d.Outcome = OutcomeApproved
		d.Reason = "within risk tolerance"
	}

	g.finish(ctx, d)
	return d
}

func (g *Gate) hasConsent(actorID, skill, scope string) bool {
	return g.consent != nil && g.consent.HasConsent(actorID, skill, scope)
}

// Reject 不经评分直接拦截计划，用于调用方已知不可执行的情形 (例如主体已被封禁)。
func (g *Gate) Reject(ctx context.Context, actorID, planID, reason string) Decision {
	d := Decision{
		ID:          uuid.NewString(),
		PlanID:      planID,
		ActorID:     actorID,
		Outcome:     OutcomeBlocked,
		Reason:      reason,
		Steps:       []StepAnalysis{},
		EvaluatedAt: g.now().UTC(),
	}
	g.finish(ctx, d)
	return d
}

func (g *Gate) finish(ctx context.Context, d Decision) {
	g.metrics.PlanDecision(string(d.Outcome))
	fields := []zap.Field{
		zap.String("决策ID(decision_id)", d.ID),
		zap.String("主体(actor_id)", d.ActorID),
		zap.String("结论(outcome)", string(d.Outcome)),
		zap.Float64("聚合风险(aggregate_risk)", d.AggregateRisk),
		zap.Int("步骤数(steps)", len(d.Steps)),
		zap.String("原因(reason)", d.Reason),
	}

	switch d.Outcome {
	case OutcomeBlocked:
		g.logger.Warn("行动计划被拦截", fields...)
		g.emitter.Emit(ctx, g.event(platform.EventPlanBlocked, d))
	case OutcomeConfirmRequired:
		g.logger.Info("行动计划需要人工确认", fields...)
		g.emitter.Emit(ctx, g.event(platform.EventPlanConfirmationRequest, d))
		g.submitForApproval(ctx, d)
	default:
		g.logger.Debug("行动计划已放行", fields...)
	}
}

func (g *Gate) event(t platform.SecurityEventType, d Decision) platform.SecurityEvent {
	meta := map[string]string{
		"decision_id": d.ID,
		"outcome":     string(d.Outcome),
		"steps":       strconv.Itoa(len(d.Steps)),
	}
	if d.PlanID != "" {
		meta["plan_id"] = d.PlanID
	}
	if len(d.MissingConsent) > 0 {
		meta["missing_consent"] = strings.Join(d.MissingConsent, ",")
	}
	return platform.SecurityEvent{
		Type:        t,
		ActorID:     d.ActorID,
		PerformedBy: "System",
		Severity:    d.AggregateRisk,
		Description: d.Reason,
		Metadata:    meta,
	}
}

func (g *Gate) submitForApproval(ctx context.Context, d Decision) {
	if g.approver == nil {
		return
	}
	req := platform.PlanApprovalRequest{
		DecisionID:     d.ID,
		ActorID:        d.ActorID,
		AggregateRisk:  d.AggregateRisk,
		Reason:         d.Reason,
		MissingConsent: d.MissingConsent,
		Steps:          make([]platform.PlanStepSummary, len(d.Steps)),
		RequestedAt:    d.EvaluatedAt,
	}
	for i, a := range d.Steps {
		req.Steps[i] = platform.PlanStepSummary{
			Skill:     a.Skill,
			Arguments: a.Arguments,
			Risk:      a.Risk,
			Severity:  a.Severity,
			Harm:      a.Harm.String(),
		}
	}
	if err := g.approver.SubmitPlanForApproval(ctx, req); err != nil {
		g.logger.Error("提交人工确认失败，结论不受影响",
			zap.String("决策ID(decision_id)", d.ID),
			zap.String("主体(actor_id)", d.ActorID),
			zap.Error(err),
		)
	}
}
