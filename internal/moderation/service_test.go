package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/audit"
	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
	"github.com/Xushengqwer/risk_gate/internal/suspension"
)

type fixture struct {
	svc      *Service
	susp     *suspension.Manager
	recorder *audit.Recorder
	policy   *policy.ModerationPolicy
}

func newFixture(t *testing.T, p *policy.ModerationPolicy, opts ...Option) *fixture {
	t.Helper()
	if p == nil {
		p = policy.DefaultModerationPolicy()
	}
	rec := &audit.Recorder{}
	emitter := audit.NewEmitter(rec, zap.NewNop())
	susp := suspension.NewManager(nil, emitter, zap.NewNop())
	return &fixture{
		svc:      NewService(p, susp, emitter, zap.NewNop(), opts...),
		susp:     susp,
		recorder: rec,
		policy:   p,
	}
}

func scan(f *fixture, user, text string) Result {
	return f.svc.ScanText(context.Background(), ScanInput{Text: text, UserID: user, ModuleName: "chat", ContentID: "c-" + text})
}

func TestCleanTextIsApproved(t *testing.T) {
	f := newFixture(t, nil)
	res := scan(f, "u1", "have a lovely afternoon")
	assert.Equal(t, ActionApproved, res.Action)
	assert.Zero(t, res.ConfidenceScore)
	assert.Empty(t, res.Violations)
	assert.Empty(t, f.recorder.Events())
	assert.Zero(t, f.svc.ViolationCount("u1"))
}

func TestThreatWithPersonalInfoScenario(t *testing.T) {
	f := newFixture(t, nil)
	res := scan(f, "u1", "I will kill you and steal your ssn: 123-45-6789")

	types := make(map[policy.ViolationType]bool)
	for _, v := range res.Violations {
		types[v.Type] = true
	}
	assert.True(t, types[policy.ViolationViolence])
	assert.True(t, types[policy.ViolationPersonalInfo])

	want := f.policy.Weight(policy.ViolationViolence)
	if w := f.policy.Weight(policy.ViolationPersonalInfo); w > want {
		want = w
	}
	assert.InDelta(t, want, res.ConfidenceScore, 1e-9, "分数取最大值而非求和")

	require.GreaterOrEqual(t, res.ConfidenceScore, f.policy.AutoBlockThreshold)
	require.Less(t, res.ConfidenceScore, f.policy.AutoSuspendThreshold)
	assert.Equal(t, ActionBlocked, res.Action)
	assert.Len(t, f.recorder.OfType(platform.EventContentBlocked), 1)
	assert.False(t, f.susp.IsSuspended("u1"))
}

func TestScoreIsMaxNotSum(t *testing.T) {
	f := newFixture(t, nil)
	res := scan(f, "u1", "buy now, click here, free money, act now")
	require.Len(t, res.Violations, 4)
	assert.InDelta(t, f.policy.Weight(policy.ViolationSpam), res.ConfidenceScore, 1e-9)
}

func TestOverlappingPatternsAreNotDeduplicated(t *testing.T) {
	p := policy.DefaultModerationPolicy()
	p.Patterns = map[policy.ViolationType][]string{policy.ViolationSpam: {"abc", "bcd"}}
	f := newFixture(t, p)

	res := scan(f, "u1", "xxABCDxx")
	require.Len(t, res.Violations, 2)
	assert.Equal(t, 2, res.Violations[0].Position)
	assert.Equal(t, 3, res.Violations[1].Position)
}

func TestMissingWeightFallsBackToDefault(t *testing.T) {
	p := policy.DefaultModerationPolicy()
	p.Patterns[policy.ViolationType("gambling")] = []string{"casino"}
	f := newFixture(t, p)

	res := scan(f, "u1", "join our casino")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, policy.DefaultViolationSeverity, res.Violations[0].Severity)
}

func TestAutoSuspendOnSevereContent(t *testing.T) {
	f := newFixture(t, nil)
	res := scan(f, "u1", "thinking about suicide")
	require.GreaterOrEqual(t, res.ConfidenceScore, f.policy.AutoSuspendThreshold)
	assert.Equal(t, ActionAutoSuspended, res.Action)

	rec, ok := f.susp.GetActiveSuspension("u1")
	require.True(t, ok)
	assert.Equal(t, suspension.SystemActor, rec.SuspendedBy)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, f.policy.DefaultSuspensionDuration, rec.ExpiresAt.Sub(rec.SuspendedAt))

	assert.Len(t, f.recorder.OfType(platform.EventContentAutoSuspended), 1)
	assert.Len(t, f.recorder.OfType(platform.EventUserAutoSuspended), 1)

	again := scan(f, "u1", "suicide again")
	assert.Equal(t, ActionAutoSuspended, again.Action)
	assert.Len(t, f.susp.History("u1"), 1, "已封禁的用户不会重复创建记录")
}

func TestConcurrentSevereScansSuspendOnce(t *testing.T) {
	f := newFixture(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := scan(f, "u1", "thinking about suicide")
			assert.Equal(t, ActionAutoSuspended, res.Action)
		}()
	}
	wg.Wait()

	assert.Len(t, f.susp.History("u1"), 1)
	assert.Len(t, f.recorder.OfType(platform.EventUserAutoSuspended), 1)
	assert.Len(t, f.recorder.OfType(platform.EventContentAutoSuspended), 50)
}

func TestRepeatOffenderEscalates(t *testing.T) {
	p := policy.DefaultModerationPolicy()
	p.MaxViolationsBeforeSuspension = 3
	f := newFixture(t, p)

	for i := 0; i < 2; i++ {
		res := scan(f, "u1", "buy now")
		assert.Equal(t, ActionFlagged, res.Action)
	}
	assert.EqualValues(t, 2, f.svc.ViolationCount("u1"))

	res := scan(f, "u1", "buy now")
	assert.Equal(t, ActionAutoSuspended, res.Action)
	assert.True(t, f.susp.IsSuspended("u1"))
	assert.Zero(t, f.svc.ViolationCount("u1"), "自动封禁后计数清零")

	other := scan(f, "u2", "buy now")
	assert.Equal(t, ActionFlagged, other.Action, "计数按用户隔离")
}

func TestAnonymousContentDoesNotEscalate(t *testing.T) {
	p := policy.DefaultModerationPolicy()
	p.MaxViolationsBeforeSuspension = 1
	f := newFixture(t, p)
	res := scan(f, "", "buy now")
	assert.Equal(t, ActionFlagged, res.Action)
}

func TestReviewContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	flagged := scan(f, "u1", "click here")
	require.Equal(t, ActionFlagged, flagged.Action)
	assert.Len(t, f.svc.PendingReviews(0), 1)

	assert.False(t, f.svc.ReviewContent(ctx, flagged.ID, ActionAutoSuspended, "mod", ""), "只允许 approved/blocked")
	assert.False(t, f.svc.ReviewContent(ctx, "missing", ActionApproved, "mod", ""))

	require.True(t, f.svc.ReviewContent(ctx, flagged.ID, ActionBlocked, "mod-7", "confirmed spam"))
	got, err := f.svc.GetResult(flagged.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionBlocked, got.Action)
	assert.Equal(t, "mod-7", got.ReviewedBy)
	assert.Equal(t, "confirmed spam", got.ReviewNotes)
	require.NotNil(t, got.ReviewedAt)

	assert.False(t, f.svc.ReviewContent(ctx, flagged.ID, ActionApproved, "mod", ""), "只能复核一次")
	assert.Empty(t, f.svc.PendingReviews(0))
	assert.Len(t, f.recorder.OfType(platform.EventContentReviewed), 1)

	blocked := scan(f, "u1", "kill you and ssn")
	assert.False(t, f.svc.ReviewContent(ctx, blocked.ID, ActionApproved, "mod", ""), "非 flagged 结果不可复核")
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	f.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for i := 0; i < 5; i++ {
		scan(f, "u1", fmt.Sprintf("message %d", i))
	}
	scan(f, "u2", "other")

	all := f.svc.GetUserModerationHistory("u1", 0)
	require.Len(t, all, 5)
	assert.Equal(t, "c-message 4", all[0].ContentID)
	assert.Equal(t, "c-message 0", all[4].ContentID)

	top := f.svc.GetUserModerationHistory("u1", 2)
	require.Len(t, top, 2)
	assert.Equal(t, "c-message 3", top[1].ContentID)
	assert.Empty(t, f.svc.GetUserModerationHistory("nobody", 3))
}

func TestReturnedResultsAreSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	res := scan(f, "u1", "click here")
	res.Violations[0].Severity = 0
	got, err := f.svc.GetResult(res.ID)
	require.NoError(t, err)
	assert.NotZero(t, got.Violations[0].Severity)
}

type stubReviewer struct {
	mu        sync.Mutex
	calls     int
	throttled int
	err       error
	labels    map[string]string // 内容 -> 标签
}

func (r *stubReviewer) GetPlatformName() string { return "stub" }

func (r *stubReviewer) ReviewTextBatch(_ context.Context, tasks []platform.TaskData) ([]platform.ReviewResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.throttled {
		return nil, fmt.Errorf("qps exceeded: %w", platform.ErrReviewThrottled)
	}
	if r.err != nil {
		return nil, r.err
	}
	out := make([]platform.ReviewResult, len(tasks))
	for i, task := range tasks {
		out[i] = platform.ReviewResult{OriginalTaskID: task.ID, Suggestion: "pass"}
		if label, ok := r.labels[task.Content]; ok {
			out[i].Suggestion = "block"
			out[i].Details = []platform.RejectionDetail{{Label: label, Suggestion: "block", Score: 99, MatchedContent: []string{task.Content}}}
		}
	}
	return out, nil
}

func TestScanBatchMergesRemoteLabels(t *testing.T) {
	reviewer := &stubReviewer{labels: map[string]string{"hidden adult text": "porn", "weird": "brand_new_label"}}
	f := newFixture(t, nil, WithReviewer(reviewer), WithRemoteRetry(2, time.Millisecond))

	results := f.svc.ScanBatch(context.Background(), []ScanInput{
		{Text: "hello", UserID: "u1", ContentID: "a"},
		{Text: "hidden adult text", UserID: "u2", ContentID: "b"},
		{Text: "weird", UserID: "u3", ContentID: "c"},
	})
	require.Len(t, results, 3)
	assert.Equal(t, 1, reviewer.calls, "整个批次只调用一次远程接口")

	assert.Equal(t, ActionApproved, results[0].Action)

	require.Len(t, results[1].Violations, 1)
	assert.Equal(t, policy.ViolationSexual, results[1].Violations[0].Type)
	assert.Equal(t, -1, results[1].Violations[0].Position)
	assert.Equal(t, ActionBlocked, results[1].Action)

	require.Len(t, results[2].Violations, 1)
	assert.Equal(t, policy.ViolationSpam, results[2].Violations[0].Type, "未知标签按 spam 处理")
}

func TestRemoteThrottlingIsRetried(t *testing.T) {
	reviewer := &stubReviewer{throttled: 2, labels: map[string]string{"x": "abuse"}}
	f := newFixture(t, nil, WithReviewer(reviewer), WithRemoteRetry(3, time.Millisecond))

	res := scan(f, "u1", "x")
	assert.Equal(t, 3, reviewer.calls)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, policy.ViolationHarassment, res.Violations[0].Type)
}

func TestRemoteFailureKeepsLocalResult(t *testing.T) {
	reviewer := &stubReviewer{err: errors.New("connection refused")}
	f := newFixture(t, nil, WithReviewer(reviewer), WithRemoteRetry(3, time.Millisecond))

	res := scan(f, "u1", "I will kill you and steal your ssn")
	assert.Equal(t, 1, reviewer.calls, "非限流错误不重试")
	assert.Equal(t, ActionBlocked, res.Action)
}

func TestLabelMappingOverride(t *testing.T) {
	reviewer := &stubReviewer{labels: map[string]string{"x": "ad"}}
	f := newFixture(t, nil, WithReviewer(reviewer), WithLabelMapping(map[string]string{"ad": "phishing"}))
	res := scan(f, "u1", "x")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, policy.ViolationPhishing, res.Violations[0].Type)
}

func TestConcurrentScansKeepCountsConsistent(t *testing.T) {
	p := policy.DefaultModerationPolicy()
	p.MaxViolationsBeforeSuspension = 1000
	f := newFixture(t, p)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scan(f, "shared", "buy now")
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, f.svc.ViolationCount("shared"))
	assert.Len(t, f.svc.GetUserModerationHistory("shared", 0), 50)
}
