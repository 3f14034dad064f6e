// Package audit 把每一个重要决策转发到外部安全日志。
// 外部日志不可用时决策照常返回，只在本地记录一条日志。
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
)

// Emitter 是审计事件的唯一出口。
type Emitter struct {
	sink   platform.SecurityEventLogger
	logger *zap.Logger
	now    func() time.Time
}

// NewEmitter 创建审计出口。sink 可以为 nil，此时事件只写本地日志。
func NewEmitter(sink platform.SecurityEventLogger, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{sink: sink, logger: logger, now: time.Now}
}

// Emit 补全事件 ID / 时间戳后转发。永不返回错误。
func (e *Emitter) Emit(ctx context.Context, ev platform.SecurityEvent) {
	if e == nil {
		return
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	ev.Severity = policy.Clamp01(ev.Severity)

	if e.sink == nil {
		e.logger.Warn("审计接收方未配置，安全事件仅记录在本地日志",
			zap.String("事件类型(event_type)", string(ev.Type)),
			zap.String("事件ID(event_id)", ev.EventID),
			zap.String("主体(actor_id)", ev.ActorID),
			zap.String("描述(description)", ev.Description),
		)
		return
	}
	if err := e.sink.LogSecurityEvent(ctx, ev); err != nil {
		e.logger.Error("发送安全事件失败，决策不受影响",
			zap.String("事件类型(event_type)", string(ev.Type)),
			zap.String("事件ID(event_id)", ev.EventID),
			zap.String("主体(actor_id)", ev.ActorID),
			zap.Error(err),
		)
		return
	}
	e.logger.Debug("安全事件已发送",
		zap.String("事件类型(event_type)", string(ev.Type)),
		zap.String("事件ID(event_id)", ev.EventID),
	)
}

// MultiSink 把同一事件依次写入多个接收方，汇总全部错误。
type MultiSink []platform.SecurityEventLogger

func (m MultiSink) LogSecurityEvent(ctx context.Context, ev platform.SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.LogSecurityEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder 是保存在内存中的接收方，供本地调试与测试断言使用。
type Recorder struct {
	mu     sync.Mutex
	events []platform.SecurityEvent
	Err    error // 非 nil 时每次写入都返回该错误 (事件仍会被记录)
}

func (r *Recorder) LogSecurityEvent(_ context.Context, ev platform.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.Err
}

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []platform.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]platform.SecurityEvent, len(r.events))
	copy(out, r.events)
	return out
}

// OfType 返回指定类型的事件。
func (r *Recorder) OfType(t platform.SecurityEventType) []platform.SecurityEvent {
	var out []platform.SecurityEvent
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

var (
	_ platform.SecurityEventLogger = MultiSink(nil)
	_ platform.SecurityEventLogger = (*Recorder)(nil)
)
