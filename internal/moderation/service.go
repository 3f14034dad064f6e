// Package moderation 实现内容审核：关键词扫描、加权评分、处置决策以及人工复核。
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/audit"
	"github.com/Xushengqwer/risk_gate/internal/constants"
	"github.com/Xushengqwer/risk_gate/internal/metrics"
	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
	"github.com/Xushengqwer/risk_gate/internal/suspension"
)

// Action 是一次扫描的处置结果
type Action string

const (
	ActionApproved      Action = "approved"
	ActionFlagged       Action = "flagged"
	ActionBlocked       Action = "blocked"
	ActionAutoSuspended Action = "auto_suspended"
)

// ErrResultNotFound 表示审核结果不存在。
var ErrResultNotFound = errors.New("moderation result not found")

// Result 是一次扫描的审核结果。除人工复核外创建后不再修改。
type Result struct {
	ID              string             `json:"id"`
	ContentID       string             `json:"contentId"`
	UserID          string             `json:"userId"`
	ModuleName      string             `json:"moduleName"`
	ContentType     string             `json:"contentType"`
	Timestamp       time.Time          `json:"timestamp"`
	ConfidenceScore float64            `json:"confidenceScore"`
	Action          Action             `json:"action"`
	Violations      []ContentViolation `json:"violations"`
	ReviewedBy      string             `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time         `json:"reviewedAt,omitempty"`
	ReviewNotes     string             `json:"reviewNotes,omitempty"`
}

func (r *Result) clone() Result {
	out := *r
	out.Violations = append([]ContentViolation(nil), r.Violations...)
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		out.ReviewedAt = &at
	}
	return out
}

// ScanInput 是一条待扫描的内容。
type ScanInput struct {
	Text        string `json:"text"`
	UserID      string `json:"userId"`
	ModuleName  string `json:"moduleName"`
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType,omitempty"`
}

// Suspender 是决策闸门触发自动封禁时依赖的能力。
// 用户已有生效封禁时 SuspendIfNotActive 返回该记录和 false。
type Suspender interface {
	SuspendIfNotActive(ctx context.Context, userID, reason string, duration *time.Duration, by string) (suspension.Record, bool)
}

// Service 是审核决策闸门，持有每个用户的违规计数与审核历史。
type Service struct {
	scanner   *Scanner
	policy    *policy.ModerationPolicy
	suspender Suspender
	emitter   *audit.Emitter
	reviewer  platform.ContentReviewer
	metrics   *metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time

	remoteMaxRetries uint64
	remoteBaseDelay  time.Duration

	counters sync.Map // userID -> *atomic.Int64

	mu      sync.RWMutex
	results map[string]*Result
	byUser  map[string][]*Result
	ordered []*Result
}

// Option 调整 Service 的可选依赖
type Option func(*Service)

// WithReviewer 叠加远程审核平台的结果
func WithReviewer(r platform.ContentReviewer) Option {
	return func(s *Service) { s.reviewer = r }
}

// WithRemoteRetry 设置远程审核被限流时的重试次数与初始退避。
func WithRemoteRetry(maxRetries uint64, baseDelay time.Duration) Option {
	return func(s *Service) {
		s.remoteMaxRetries = maxRetries
		s.remoteBaseDelay = baseDelay
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLabelMapping 覆盖远程标签到本地类别的映射
func WithLabelMapping(m map[string]string) Option {
	return func(s *Service) { s.scanner = NewScanner(s.policy, m) }
}

// NewService 创建审核服务。suspender 与 emitter 可以为 nil。
func NewService(p *policy.ModerationPolicy, suspender Suspender, emitter *audit.Emitter, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		policy:           p,
		scanner:          NewScanner(p, nil),
		suspender:        suspender,
		emitter:          emitter,
		logger:           logger,
		now:              time.Now,
		remoteMaxRetries: constants.AliyunAPIMaxRetriesForThrottling,
		remoteBaseDelay:  constants.AliyunAPIBaseDelayForThrottling,
		results:          make(map[string]*Result),
		byUser:           make(map[string][]*Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanText 扫描一条内容并给出处置。
func (s *Service) ScanText(ctx context.Context, in ScanInput) Result {
	return s.ScanBatch(ctx, []ScanInput{in})[0]
}

// ScanBatch 批量扫描。配置了远程审核平台时，整个批次只调用一次远程接口；
// 远程失败只记录日志，本地规则的结果照常生效。返回顺序与输入一致。
func (s *Service) ScanBatch(ctx context.Context, inputs []ScanInput) []Result {
	if len(inputs) == 0 {
		return nil
	}
	ids := make([]string, len(inputs))
	found := make([][]ContentViolation, len(inputs))
	for i, in := range inputs {
		ids[i] = uuid.NewString()
		found[i] = s.scanner.Scan(in.Text)
	}

	for i, extra := range s.reviewRemote(ctx, ids, inputs) {
		found[i] = append(found[i], extra...)
	}

	out := make([]Result, len(inputs))
	for i, in := range inputs {
		out[i] = s.decide(ctx, ids[i], in, found[i])
	}
	return out
}

func (s *Service) reviewRemote(ctx context.Context, ids []string, inputs []ScanInput) map[int][]ContentViolation {
	if s.reviewer == nil {
		return nil
	}
	tasks := make([]platform.TaskData, 0, len(inputs))
	index := make(map[string]int, len(inputs))
	for i, in := range inputs {
		if in.Text == "" {
			continue
		}
		tasks = append(tasks, platform.TaskData{ID: ids[i], Content: in.Text, UserID: in.UserID})
		index[ids[i]] = i
	}
	if len(tasks) == 0 {
		return nil
	}

	name := s.reviewer.GetPlatformName()
	var results []platform.ReviewResult
	op := func() error {
		var err error
		results, err = s.reviewer.ReviewTextBatch(ctx, tasks)
		if err != nil && !platform.IsThrottled(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			s.logger.Warn("远程审核被限流，准备重试", zap.String("平台(platform)", name), zap.Error(err))
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.remoteBaseDelay
	eb.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, s.remoteMaxRetries), ctx)); err != nil {
		s.metrics.RemoteReviewCall(name, "error")
		s.logger.Error("远程审核失败，仅使用本地规则结果",
			zap.String("平台(platform)", name),
			zap.Int("任务数(task_count)", len(tasks)),
			zap.Error(err),
		)
		return nil
	}
	s.metrics.RemoteReviewCall(name, "ok")

	out := make(map[int][]ContentViolation, len(results))
	for pos, res := range results {
		i, ok := index[res.OriginalTaskID]
		if !ok {
			if pos >= len(tasks) {
				continue
			}
			i = index[tasks[pos].ID]
		}
		if res.Error != nil {
			s.logger.Warn("远程审核单条任务失败",
				zap.String("平台(platform)", name),
				zap.String("内容ID(content_id)", inputs[i].ContentID),
				zap.Error(res.Error),
			)
			continue
		}
		if v := s.scanner.FromRemote(name, res); len(v) > 0 {
			out[i] = append(out[i], v...)
		}
	}
	return out
}

func (s *Service) decide(ctx context.Context, id string, in ScanInput, violations []ContentViolation) Result {
	res := &Result{
		ID:          id,
		ContentID:   in.ContentID,
		UserID:      in.UserID,
		ModuleName:  in.ModuleName,
		ContentType: in.ContentType,
		Timestamp:   s.now().UTC(),
		Violations:  violations,
		Action:      ActionApproved,
	}
	if res.ContentType == "" {
		res.ContentType = "text"
	}

	if len(violations) > 0 {
		res.ConfidenceScore = Score(violations)
		res.Action = s.selectAction(ctx, res)
	}

	s.store(res)
	s.metrics.ModerationDecision(string(res.Action))
	s.audit(ctx, res)

	fields := []zap.Field{
		zap.String("结果ID(result_id)", res.ID),
		zap.String("内容ID(content_id)", res.ContentID),
		zap.String("用户ID(user_id)", res.UserID),
		zap.String("处置(action)", string(res.Action)),
		zap.Float64("分数(score)", res.ConfidenceScore),
		zap.Int("违规数(violations)", len(violations)),
	}
	if res.Action == ActionApproved {
		s.logger.Debug("内容审核通过", fields...)
	} else {
		s.logger.Info("内容审核命中违规", fields...)
	}
	return res.clone()
}

func (s *Service) selectAction(ctx context.Context, res *Result) Action {
	p := s.policy
	score := res.ConfidenceScore
	if score < p.FlagForReviewThreshold {
		return ActionApproved
	}

	var count int64
	if res.UserID != "" {
		count = s.counter(res.UserID).Add(1)
	}
	escalate := res.UserID != "" && p.MaxViolationsBeforeSuspension > 0 && count >= int64(p.MaxViolationsBeforeSuspension)

	switch {
	case score >= p.AutoSuspendThreshold || escalate:
		s.autoSuspend(ctx, res, count)
		return ActionAutoSuspended
	case score >= p.AutoBlockThreshold:
		return ActionBlocked
	default:
		return ActionFlagged
	}
}

func (s *Service) autoSuspend(ctx context.Context, res *Result, count int64) {
	if res.UserID == "" || s.suspender == nil {
		return
	}
	reason := fmt.Sprintf("automatic suspension: %s (score %.2f, violations %d)", summarize(res.Violations), res.ConfidenceScore, count)
	d := s.policy.DefaultSuspensionDuration
	var duration *time.Duration
	if d > 0 {
		duration = &d
	}
	rec, ok := s.suspender.SuspendIfNotActive(ctx, res.UserID, reason, duration, suspension.SystemActor)
	if ok {
		s.counter(res.UserID).Store(0)
		return
	}
	if rec.ID != "" {
		s.logger.Debug("用户已处于封禁中，不重复创建封禁记录", zap.String("用户ID(user_id)", res.UserID))
		return
	}
	s.logger.Warn("自动封禁未能生效", zap.String("用户ID(user_id)", res.UserID), zap.String("结果ID(result_id)", res.ID))
}

func (s *Service) counter(userID string) *atomic.Int64 {
	if v, ok := s.counters.Load(userID); ok {
		return v.(*atomic.Int64)
	}
	v, _ := s.counters.LoadOrStore(userID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// ViolationCount 返回用户当前累计的违规次数 (自动封禁后清零)。
func (s *Service) ViolationCount(userID string) int64 {
	if v, ok := s.counters.Load(userID); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

func (s *Service) store(res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.ID] = res
	s.byUser[res.UserID] = append(s.byUser[res.UserID], res)
	s.ordered = append(s.ordered, res)
}

func (s *Service) audit(ctx context.Context, res *Result) {
	var t platform.SecurityEventType
	switch res.Action {
	case ActionFlagged:
		t = platform.EventContentFlagged
	case ActionBlocked:
		t = platform.EventContentBlocked
	case ActionAutoSuspended:
		t = platform.EventContentAutoSuspended
	default:
		return
	}
	s.emitter.Emit(ctx, platform.SecurityEvent{
		Type:        t,
		ActorID:     res.UserID,
		PerformedBy: suspension.SystemActor,
		Severity:    res.ConfidenceScore,
		Description: fmt.Sprintf("content %s: %s", res.Action, summarize(res.Violations)),
		Metadata: map[string]string{
			"result_id":  res.ID,
			"content_id": res.ContentID,
			"module":     res.ModuleName,
			"score":      strconv.FormatFloat(res.ConfidenceScore, 'f', 2, 64),
		},
	})
}

// ReviewContent 由人工审核员对待复核 (flagged) 的结果给出最终处置，只能复核一次。
// finalAction 只能是 approved 或 blocked。
func (s *Service) ReviewContent(ctx context.Context, resultID string, finalAction Action, reviewerID, notes string) bool {
	if finalAction != ActionApproved && finalAction != ActionBlocked {
		s.logger.Warn("复核处置非法", zap.String("结果ID(result_id)", resultID), zap.String("处置(action)", string(finalAction)))
		return false
	}
	now := s.now().UTC()

	s.mu.Lock()
	res, ok := s.results[resultID]
	if !ok || res.Action != ActionFlagged || res.ReviewedAt != nil {
		s.mu.Unlock()
		return false
	}
	res.Action = finalAction
	res.ReviewedBy = reviewerID
	res.ReviewedAt = &now
	res.ReviewNotes = notes
	snapshot := res.clone()
	s.mu.Unlock()

	s.emitter.Emit(ctx, platform.SecurityEvent{
		Type:        platform.EventContentReviewed,
		ActorID:     snapshot.UserID,
		PerformedBy: reviewerID,
		Severity:    snapshot.ConfidenceScore,
		Description: notes,
		Metadata: map[string]string{
			"result_id":    snapshot.ID,
			"content_id":   snapshot.ContentID,
			"final_action": string(finalAction),
		},
	})
	s.logger.Info("人工复核完成",
		zap.String("结果ID(result_id)", resultID),
		zap.String("审核员(reviewer)", reviewerID),
		zap.String("最终处置(final_action)", string(finalAction)),
	)
	return true
}

// GetResult 按 ID 查询审核结果。
func (s *Service) GetResult(resultID string) (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[resultID]
	if !ok {
		return Result{}, ErrResultNotFound
	}
	return res.clone(), nil
}

// GetUserModerationHistory 返回用户的审核历史，最新的在前。limit <= 0 表示不限。
func (s *Service) GetUserModerationHistory(userID string, limit int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byUser[userID]
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Result, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i].clone())
	}
	return out
}

// PendingReviews 返回尚未复核的 flagged 结果，最早的在前。
func (s *Service) PendingReviews(limit int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Result
	for _, res := range s.ordered {
		if res.Action != ActionFlagged || res.ReviewedAt != nil {
			continue
		}
		out = append(out, res.clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
