// Package suspension 管理用户封禁记录的生命周期。
//
// 过期是惰性的：不存在后台清理，每次读取都通过 Record.ActiveAt 重新判断是否仍然有效。
package suspension

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/audit"
	"github.com/Xushengqwer/risk_gate/internal/metrics"
	"github.com/Xushengqwer/risk_gate/internal/platform"
)

// SystemActor 是自动封禁时记录的执行者。
const SystemActor = "System"

// Record 是一条封禁记录。ExpiresAt 为 nil 表示无限期。
type Record struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Reason      string     `json:"reason"`
	SuspendedBy string     `json:"suspendedBy"`
	SuspendedAt time.Time  `json:"suspendedAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	IsActive    bool       `json:"isActive"`
}

// ActiveAt 是判断封禁是否生效的唯一入口: IsActive 且 (无期限 或 尚未到期)。
func (r Record) ActiveAt(now time.Time) bool {
	return r.IsActive && (r.ExpiresAt == nil || r.ExpiresAt.After(now))
}

type actorRecords struct {
	mu      sync.Mutex
	records []Record
}

// Manager 持有全部封禁记录。不同用户之间不共享锁。
type Manager struct {
	actors    sync.Map // userID -> *actorRecords
	directory platform.UserDirectory
	emitter   *audit.Emitter
	metrics   *metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// Option 调整 Manager 的可选依赖
type Option func(*Manager)

// WithClock 替换时钟，测试中用于模拟过期。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics 注入指标记录器
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager 创建封禁管理器。directory 与 emitter 都可以为 nil。
func NewManager(directory platform.UserDirectory, emitter *audit.Emitter, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{directory: directory, emitter: emitter, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) entry(userID string, create bool) *actorRecords {
	if v, ok := m.actors.Load(userID); ok {
		return v.(*actorRecords)
	}
	if !create {
		return nil
	}
	v, _ := m.actors.LoadOrStore(userID, &actorRecords{})
	return v.(*actorRecords)
}

// Suspend 新建一条生效中的封禁记录。duration 为 nil 表示无限期；非正数视为非法输入。
// 身份系统明确返回用户不存在时失败。
func (m *Manager) Suspend(ctx context.Context, userID, reason string, duration *time.Duration, by string) (Record, bool) {
	return m.suspend(ctx, userID, reason, duration, by, false)
}

// SuspendIfNotActive 与 Suspend 相同，但在用户已有生效封禁时不新建记录，
// 而是返回那条生效记录和 false。检查与写入在同一个用户锁内完成。
func (m *Manager) SuspendIfNotActive(ctx context.Context, userID, reason string, duration *time.Duration, by string) (Record, bool) {
	return m.suspend(ctx, userID, reason, duration, by, true)
}

func (m *Manager) suspend(ctx context.Context, userID, reason string, duration *time.Duration, by string, onlyIfInactive bool) (Record, bool) {
	if userID == "" {
		return Record{}, false
	}
	if duration != nil && *duration <= 0 {
		m.logger.Warn("封禁时长非法，已拒绝", zap.String("用户ID(user_id)", userID), zap.Duration("时长(duration)", *duration))
		return Record{}, false
	}
	if m.directory != nil {
		if _, err := m.directory.GetUserByID(ctx, userID); err != nil {
			if errors.Is(err, platform.ErrUserNotFound) {
				m.logger.Warn("封禁失败: 用户不存在", zap.String("用户ID(user_id)", userID))
				return Record{}, false
			}
			m.logger.Warn("查询用户失败，继续执行封禁", zap.String("用户ID(user_id)", userID), zap.Error(err))
		}
	}

	now := m.now().UTC()
	rec := Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		Reason:      reason,
		SuspendedBy: by,
		SuspendedAt: now,
		IsActive:    true,
	}
	if duration != nil {
		exp := now.Add(*duration)
		rec.ExpiresAt = &exp
	}

	e := m.entry(userID, true)
	e.mu.Lock()
	if onlyIfInactive {
		if active, ok := latestActive(e.records, m.now()); ok {
			e.mu.Unlock()
			return active, false
		}
	}
	e.records = append(e.records, rec)
	e.mu.Unlock()

	m.setDirectoryActive(ctx, userID, false)

	eventType, kind := platform.EventUserManuallySuspended, "manual"
	if by == SystemActor {
		eventType, kind = platform.EventUserAutoSuspended, "auto"
	}
	m.metrics.SuspensionTransition(kind)
	meta := map[string]string{"record_id": rec.ID, "indefinite": "true"}
	if rec.ExpiresAt != nil {
		meta["indefinite"] = "false"
		meta["expires_at"] = rec.ExpiresAt.Format(time.RFC3339)
	}
	m.emitter.Emit(ctx, platform.SecurityEvent{
		Type:        eventType,
		ActorID:     userID,
		PerformedBy: by,
		Severity:    1,
		Description: reason,
		Metadata:    meta,
	})
	m.logger.Info("用户已被封禁",
		zap.String("用户ID(user_id)", userID),
		zap.String("记录ID(record_id)", rec.ID),
		zap.String("执行者(suspended_by)", by),
		zap.Bool("无限期(indefinite)", rec.ExpiresAt == nil),
	)
	return rec, true
}

// Unsuspend 关闭该用户所有生效中的封禁记录；没有生效记录时返回 false。
func (m *Manager) Unsuspend(ctx context.Context, userID, by string) bool {
	e := m.entry(userID, false)
	if e == nil {
		return false
	}
	now := m.now()
	var closed []string
	e.mu.Lock()
	for i := range e.records {
		if e.records[i].ActiveAt(now) {
			e.records[i].IsActive = false
			closed = append(closed, e.records[i].ID)
		}
	}
	e.mu.Unlock()
	if len(closed) == 0 {
		return false
	}

	m.setDirectoryActive(ctx, userID, true)
	m.metrics.SuspensionTransition("lifted")
	m.emitter.Emit(ctx, platform.SecurityEvent{
		Type:        platform.EventUserUnsuspended,
		ActorID:     userID,
		PerformedBy: by,
		Description: "suspension lifted",
		Metadata:    map[string]string{"record_id": closed[len(closed)-1]},
	})
	m.logger.Info("用户已解除封禁", zap.String("用户ID(user_id)", userID), zap.String("执行者(by)", by), zap.Int("关闭记录数(closed)", len(closed)))
	return true
}

// IsSuspended 判断用户当前是否处于封禁中。
func (m *Manager) IsSuspended(userID string) bool {
	_, ok := m.GetActiveSuspension(userID)
	return ok
}

// GetActiveSuspension 返回最近一条仍然生效的封禁记录。
func (m *Manager) GetActiveSuspension(userID string) (Record, bool) {
	e := m.entry(userID, false)
	if e == nil {
		return Record{}, false
	}
	now := m.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return latestActive(e.records, now)
}

// latestActive 调用方必须持有该用户的锁。
func latestActive(records []Record, now time.Time) (Record, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ActiveAt(now) {
			return copyRecord(records[i]), true
		}
	}
	return Record{}, false
}

// History 按创建顺序返回用户的全部封禁记录 (含已失效的)。
func (m *Manager) History(userID string) []Record {
	e := m.entry(userID, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, len(e.records))
	for i, r := range e.records {
		out[i] = copyRecord(r)
	}
	return out
}

func (m *Manager) setDirectoryActive(ctx context.Context, userID string, active bool) {
	if m.directory == nil {
		return
	}
	if err := m.directory.SetUserActive(ctx, userID, active); err != nil {
		m.logger.Warn("同步身份系统的激活状态失败",
			zap.String("用户ID(user_id)", userID),
			zap.Bool("目标状态(active)", active),
			zap.Error(err),
		)
	}
}

func copyRecord(r Record) Record {
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		r.ExpiresAt = &exp
	}
	return r
}
