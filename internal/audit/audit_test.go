package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Xushengqwer/risk_gate/internal/platform"
)

func TestEmitterFillsIdentityAndClamps(t *testing.T) {
	rec := &Recorder{}
	e := NewEmitter(rec, zap.NewNop())
	e.Emit(context.Background(), platform.SecurityEvent{Type: platform.EventContentBlocked, ActorID: "u1", Severity: 1.4})

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.NotEmpty(t, evs[0].EventID)
	assert.False(t, evs[0].Timestamp.IsZero())
	assert.Equal(t, 1.0, evs[0].Severity)
}

func TestEmitterSwallowsSinkFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec := &Recorder{Err: errors.New("sink offline")}
	e := NewEmitter(rec, zap.New(core))

	e.Emit(context.Background(), platform.SecurityEvent{Type: platform.EventPlanBlocked, ActorID: "u2"})

	assert.Len(t, rec.Events(), 1)
	assert.Equal(t, 1, logs.Len())
}

func TestEmitterWithoutSinkLogsLocally(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := NewEmitter(nil, zap.New(core))
	e.Emit(context.Background(), platform.SecurityEvent{Type: platform.EventUserUnsuspended, ActorID: "u3"})
	assert.Equal(t, 1, logs.Len())

	var nilEmitter *Emitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), platform.SecurityEvent{}) })
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := &Recorder{}
	bad := &Recorder{Err: errors.New("boom")}
	err := MultiSink{ok, nil, bad}.LogSecurityEvent(context.Background(), platform.SecurityEvent{EventID: "e1"})
	assert.ErrorContains(t, err, "boom")
	assert.Len(t, ok.Events(), 1)
	assert.Len(t, bad.Events(), 1)
}

func TestJournalRoundTrip(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.LogSecurityEvent(ctx, platform.SecurityEvent{
		EventID: "e1", Type: platform.EventContentFlagged, ActorID: "u1", Severity: 0.4, Timestamp: base,
	}))
	require.NoError(t, j.LogSecurityEvent(ctx, platform.SecurityEvent{
		EventID: "e2", Type: platform.EventUserAutoSuspended, ActorID: "u1", PerformedBy: "System",
		Severity: 0.95, Metadata: map[string]string{"record_id": "r1"}, Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, j.LogSecurityEvent(ctx, platform.SecurityEvent{
		EventID: "e3", Type: platform.EventPlanBlocked, ActorID: "u2", Timestamp: base,
	}))

	evs, err := j.ListByActor(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "e2", evs[0].EventID)
	assert.Equal(t, platform.EventUserAutoSuspended, evs[0].Type)
	assert.Equal(t, "r1", evs[0].Metadata["record_id"])
	assert.True(t, evs[0].Timestamp.Equal(base.Add(time.Minute)))

	limited, err := j.ListByActor(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// 重复的事件 ID 违反主键
	assert.Error(t, j.LogSecurityEvent(ctx, platform.SecurityEvent{EventID: "e1", Type: platform.EventContentFlagged, ActorID: "u1", Timestamp: base}))
}
