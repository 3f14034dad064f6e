package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Xushengqwer/risk_gate/internal/audit"
	"github.com/Xushengqwer/risk_gate/internal/metrics"
	"github.com/Xushengqwer/risk_gate/internal/moderation"
	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
	"github.com/Xushengqwer/risk_gate/internal/riskgate"
)

func newPipeline(t *testing.T, deps Dependencies) *Pipeline {
	t.Helper()
	return New(policy.DefaultModerationPolicy(), policy.DefaultSafetyPolicy(), deps, zap.NewNop())
}

func TestEndToEndContentFlow(t *testing.T) {
	rec := &audit.Recorder{}
	dir := platform.NewMemoryDirectory(true)
	p := newPipeline(t, Dependencies{AuditSink: rec, Directory: dir, Metrics: metrics.New()})
	ctx := context.Background()

	res := p.ScanText(ctx, "I will kill you and steal your ssn: 123-45-6789", "u1", "chat", "msg-1")
	assert.Equal(t, moderation.ActionBlocked, res.Action)
	assert.Equal(t, "msg-1", res.ContentID)

	res = p.ScanText(ctx, "I want to end my life", "u1", "chat", "msg-2")
	assert.Equal(t, moderation.ActionAutoSuspended, res.Action)
	assert.True(t, p.IsSuspended("u1"))
	u, err := dir.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	hist := p.GetUserModerationHistory("u1", 1)
	require.Len(t, hist, 1)
	assert.Equal(t, "msg-2", hist[0].ContentID)

	assert.True(t, p.UnsuspendUser(ctx, "u1", "admin"))
	assert.False(t, p.IsSuspended("u1"))
	assert.Len(t, rec.OfType(platform.EventUserUnsuspended), 1)
}

func TestManualSuspensionExpiresLazily(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	p := newPipeline(t, Dependencies{Clock: func() time.Time { return now }})
	ctx := context.Background()

	d := 2 * time.Hour
	require.True(t, p.SuspendUser(ctx, "u1", "manual", &d, "admin"))
	rec, ok := p.GetActiveSuspension("u1")
	require.True(t, ok)
	assert.Equal(t, "admin", rec.SuspendedBy)

	now = now.Add(3 * time.Hour)
	assert.False(t, p.IsSuspended("u1"))
	assert.False(t, p.UnsuspendUser(ctx, "u1", "admin"))
	assert.Len(t, p.SuspensionHistory("u1"), 1)
}

func TestSuspendedActorPlansAreBlocked(t *testing.T) {
	p := newPipeline(t, Dependencies{})
	ctx := context.Background()
	require.True(t, p.SuspendUser(ctx, "u1", "abuse", nil, "admin"))

	d := p.EvaluatePlan(ctx, "u1", riskgate.Plan{Steps: []riskgate.Step{{Skill: "web.search"}}})
	assert.Equal(t, riskgate.OutcomeBlocked, d.Outcome)
	assert.Equal(t, riskgate.ReasonActorSuspended, d.Reason)

	d = p.EvaluatePlanJSON(ctx, "u2", []byte(`{"steps":[{"skill":"web.search","arguments":{"q":"news"}}]}`))
	assert.Equal(t, riskgate.OutcomeApproved, d.Outcome)
}

func TestConsentOperationsEmitAudit(t *testing.T) {
	rec := &audit.Recorder{}
	p := newPipeline(t, Dependencies{AuditSink: rec})
	ctx := context.Background()

	assert.False(t, p.HasConsent("", "File.Delete", ""))
	require.True(t, p.GrantConsent(ctx, "", "File.Delete", ""))
	assert.True(t, p.HasConsent("", "File.Delete", ""))
	require.True(t, p.RevokeConsent(ctx, "", "File.Delete"))
	assert.False(t, p.HasConsent("", "File.Delete", ""))
	assert.False(t, p.RevokeConsent(ctx, "", "File.Delete"))
	assert.False(t, p.GrantConsent(ctx, "", "", "x"))

	assert.Len(t, rec.OfType(platform.EventConsentGranted), 1)
	assert.Len(t, rec.OfType(platform.EventConsentRevoked), 1)
}

func TestConsentUnlocksPlan(t *testing.T) {
	p := newPipeline(t, Dependencies{})
	ctx := context.Background()
	plan := riskgate.Plan{Steps: []riskgate.Step{{Skill: "Contacts.Read"}}}

	assert.Equal(t, riskgate.OutcomeConfirmRequired, p.EvaluatePlan(ctx, "u1", plan).Outcome)
	p.GrantConsent(ctx, "u1", "contacts.read", "")
	assert.Equal(t, riskgate.OutcomeApproved, p.EvaluatePlan(ctx, "u1", plan).Outcome)
}

func TestMissingAuditSinkStillDecides(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := New(policy.DefaultModerationPolicy(), policy.DefaultSafetyPolicy(), Dependencies{}, zap.New(core))

	res := p.ScanText(context.Background(), "click here", "u1", "chat", "m")
	assert.Equal(t, moderation.ActionFlagged, res.Action)
	assert.NotZero(t, logs.FilterMessage("审计接收方未配置，安全事件仅记录在本地日志").Len())

	require.Len(t, p.PendingReviews(0), 1)
	assert.True(t, p.ReviewContent(context.Background(), res.ID, moderation.ActionApproved, "mod", "ok"))
	assert.Empty(t, p.PendingReviews(0))
}
